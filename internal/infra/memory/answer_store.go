package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-service/internal/domain"
)

type answerKey struct {
	sessionID     string
	questionID    string
	participantID string
}

// AnswerStore is an in-memory implementation of app.AnswerStore with
// first-write-wins semantics on the (session, question, participant) tuple.
type AnswerStore struct {
	mu      sync.RWMutex
	answers map[answerKey]domain.Answer
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{
		answers: make(map[answerKey]domain.Answer),
	}
}

func (s *AnswerStore) Put(_ context.Context, answer domain.Answer) error {
	key := answerKey{answer.SessionID, answer.QuestionID, answer.ParticipantID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.answers[key]; ok {
		return domain.ErrDuplicateAnswer
	}
	s.answers[key] = answer
	return nil
}

func (s *AnswerStore) ListByQuestion(_ context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Answer
	for key, a := range s.answers {
		if key.sessionID == sessionID && key.questionID == questionID {
			out = append(out, a)
		}
	}
	sortAnswers(out)
	return out, nil
}

func (s *AnswerStore) ListBySession(_ context.Context, sessionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Answer
	for key, a := range s.answers {
		if key.sessionID == sessionID {
			out = append(out, a)
		}
	}
	sortAnswers(out)
	return out, nil
}

// sortAnswers gives list results a stable order so callers and tests see
// deterministic output from the unordered map.
func sortAnswers(answers []domain.Answer) {
	sort.Slice(answers, func(i, j int) bool {
		if answers[i].QuestionID != answers[j].QuestionID {
			return answers[i].QuestionID < answers[j].QuestionID
		}
		return answers[i].ParticipantID < answers[j].ParticipantID
	})
}
