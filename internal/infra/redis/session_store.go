package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

// SessionStore persists session snapshots as JSON strings in Redis:
//
//	SET quiz:session:{sessionID} {session JSON}
//
// The controller is the only writer for a session, so plain SET on Save is
// race-free; Create uses SETNX to reject duplicate ids. Finished sessions
// keep a TTL so records age out after the quiz ends.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Create(ctx context.Context, session *domain.Session) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.key(session.ID), body, 0).Result()
	if err != nil {
		return fmt.Errorf("create session: %v: %w", err, domain.ErrUnavailable)
	}
	if !created {
		return domain.ErrSessionExists
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %v: %w", err, domain.ErrUnavailable)
	}
	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	expiry := time.Duration(0)
	if session.Status == domain.StatusFinished {
		expiry = s.ttl
	}
	if err := s.client.Set(ctx, s.key(session.ID), body, expiry).Err(); err != nil {
		return fmt.Errorf("save session: %v: %w", err, domain.ErrUnavailable)
	}
	return nil
}

func (s *SessionStore) key(sessionID string) string {
	return "quiz:session:" + sessionID
}
