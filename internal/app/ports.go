package app

import (
	"context"

	"live-quiz-service/internal/domain"
)

// SessionStore persists session snapshots (in-memory, Redis-backed, etc).
// The session controller is the only writer for any given session.
type SessionStore interface {
	Create(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, sessionID string) (domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
}

// AnswerStore records answers keyed by (session, question, participant).
// Put is first-write-wins: a second write for the same tuple returns
// domain.ErrDuplicateAnswer and leaves the stored answer untouched. The
// store's uniqueness guarantee, not in-process locking, resolves races
// between concurrent submissions and backfill.
type AnswerStore interface {
	Put(ctx context.Context, answer domain.Answer) error
	ListByQuestion(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Answer, error)
}

// QuestionRepository loads question content (from cache/backing store).
type QuestionRepository interface {
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
	GetQuestions(ctx context.Context, questionIDs []string) ([]domain.Question, error)
}

// Broadcaster delivers named events to all subscribers of a channel.
// Delivery is best-effort; a failed publish never rolls back the state
// change that caused it.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, envelope domain.EventEnvelope) error
}
