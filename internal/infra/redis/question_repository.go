package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

// QuestionRepository caches question JSON in Redis and falls back to a loader
// on cache miss. Questions are stored as: SET quiz:question:{questionID} {JSON}.
type QuestionRepository struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	key := r.questionKey(questionID)

	raw, err := r.client.Get(ctx, key).Result()
	if err == nil {
		return decodeQuestion(raw)
	}
	if !errors.Is(err, redis.Nil) {
		return domain.Question{}, fmt.Errorf("question cache: %w", err)
	}

	result, err, _ := r.sf.Do(questionID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		raw, err := r.client.Get(ctx, key).Result()
		if err == nil {
			return decodeQuestion(raw)
		}

		question, err := r.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}

		body, err := json.Marshal(question)
		if err != nil {
			return domain.Question{}, fmt.Errorf("marshal question: %w", err)
		}
		_ = r.client.Set(ctx, key, body, r.ttlWithJitter()).Err()
		return question, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (r *QuestionRepository) GetQuestions(ctx context.Context, questionIDs []string) ([]domain.Question, error) {
	out := make([]domain.Question, 0, len(questionIDs))
	for _, id := range questionIDs {
		q, err := r.GetQuestion(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (r *QuestionRepository) questionKey(questionID string) string {
	return "quiz:question:" + questionID
}

func decodeQuestion(raw string) (domain.Question, error) {
	var q domain.Question
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return domain.Question{}, fmt.Errorf("decode question: %w", err)
	}
	return q, nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
