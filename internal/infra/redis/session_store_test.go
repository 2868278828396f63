package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(newTestClient(t), time.Minute)

	sess := domain.Session{
		ID:           "s1",
		Status:       domain.StatusWaiting,
		CurrentIndex: -1,
		QuestionIDs:  []string{"q1", "q2"},
		Participants: []domain.Participant{{ID: "p1", DisplayName: "Alice"}},
	}
	if err := store.Create(ctx, &sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &sess); !errors.Is(err, domain.ErrSessionExists) {
		t.Fatalf("expected duplicate id rejected, got %v", err)
	}

	loaded, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.CurrentIndex != -1 || len(loaded.QuestionIDs) != 2 || loaded.Participants[0].ID != "p1" {
		t.Fatalf("round trip mangled session: %+v", loaded)
	}

	loaded.Status = domain.StatusActive
	loaded.CurrentIndex = 0
	if err := store.Save(ctx, &loaded); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, _ := store.Get(ctx, "s1")
	if again.Status != domain.StatusActive || again.CurrentIndex != 0 {
		t.Fatalf("save not applied: %+v", again)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
