package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

// AnswerStore keeps answers in a Redis hash per (session, question):
//
//	HSETNX quiz:{session}:answers:{question} {participant} {answer JSON}
//
// HSETNX provides the cross-process first-write-wins uniqueness the engine
// relies on: ingestion may run on any instance and still never record two
// answers for one tuple. A per-session set tracks which questions have
// answers so the whole session can be read back.
type AnswerStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAnswerStore(client *redis.Client, ttl time.Duration) *AnswerStore {
	return &AnswerStore{client: client, ttl: ttl}
}

func (s *AnswerStore) Put(ctx context.Context, answer domain.Answer) error {
	body, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	key := s.answersKey(answer.SessionID, answer.QuestionID)
	created, err := s.client.HSetNX(ctx, key, answer.ParticipantID, body).Result()
	if err != nil {
		return fmt.Errorf("store answer: %v: %w", err, domain.ErrUnavailable)
	}
	if !created {
		return domain.ErrDuplicateAnswer
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, s.questionsKey(answer.SessionID), answer.QuestionID)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, s.questionsKey(answer.SessionID), s.ttl)
	}
	_, _ = pipe.Exec(ctx)
	return nil
}

func (s *AnswerStore) ListByQuestion(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	fields, err := s.client.HGetAll(ctx, s.answersKey(sessionID, questionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list answers: %v: %w", err, domain.ErrUnavailable)
	}
	return decodeAnswers(fields)
}

func (s *AnswerStore) ListBySession(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	questionIDs, err := s.client.SMembers(ctx, s.questionsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list answered questions: %v: %w", err, domain.ErrUnavailable)
	}
	sort.Strings(questionIDs)

	var out []domain.Answer
	for _, qid := range questionIDs {
		answers, err := s.ListByQuestion(ctx, sessionID, qid)
		if err != nil {
			return nil, err
		}
		out = append(out, answers...)
	}
	return out, nil
}

func (s *AnswerStore) answersKey(sessionID, questionID string) string {
	return "quiz:" + sessionID + ":answers:" + questionID
}

func (s *AnswerStore) questionsKey(sessionID string) string {
	return "quiz:" + sessionID + ":answered-questions"
}

func decodeAnswers(fields map[string]string) ([]domain.Answer, error) {
	out := make([]domain.Answer, 0, len(fields))
	for participantID, raw := range fields {
		var a domain.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode answer for %s: %w", participantID, err)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QuestionID != out[j].QuestionID {
			return out[i].QuestionID < out[j].QuestionID
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out, nil
}
