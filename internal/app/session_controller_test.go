package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(context.Context, string, domain.EventEnvelope) error { return nil }

func testQuestions() map[string]domain.Question {
	out := make(map[string]domain.Question)
	for _, id := range []string{"q1", "q2", "q3", "q4", "q5"} {
		out[id] = domain.Question{
			ID:               id,
			Text:             "pick the first option",
			Options:          []string{"right", "wrong", "also wrong"},
			CorrectOption:    0,
			TimeLimitSeconds: 15,
		}
	}
	return out
}

func newTestController(t *testing.T, questionIDs []string, participants []string) (*controller, *memory.AnswerStore) {
	t.Helper()
	ctx := context.Background()

	answers := memory.NewAnswerStore()
	svc := NewSessionService(
		memory.NewSessionStore(),
		answers,
		memory.NewQuestionRepository(memory.NewStaticQuestionLoader(testQuestions()), time.Minute),
		nopBroadcaster{},
		zap.NewNop(),
		Config{StartDelay: 0, AdvanceGrace: 0, TickInterval: 50 * time.Millisecond},
	)

	if _, err := svc.CreateSession(ctx, "s1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AddQuestions(ctx, "s1", questionIDs); err != nil {
		t.Fatalf("add questions: %v", err)
	}
	for _, p := range participants {
		if _, err := svc.Join(ctx, "s1", p, "name-"+p); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
	}

	ctrl, err := svc.controllerFor(ctx, "s1")
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	return ctrl, answers
}

func TestAdvanceFromCollapsesRacingTriggers(t *testing.T) {
	ctx := context.Background()
	ctrl, _ := newTestController(t, []string{"q1", "q2", "q3"}, []string{"p1", "p2"})

	if _, err := ctrl.start(ctx, domain.Settings{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	sess, err := ctrl.advanceFrom(ctx, 0, domain.ReasonTimerExpired)
	if err != nil {
		t.Fatalf("first advance: %v", err)
	}
	if sess.CurrentIndex != 1 {
		t.Fatalf("expected index 1, got %d", sess.CurrentIndex)
	}

	// A second trigger that captured the same pre-advance index is a no-op.
	sess, err = ctrl.advanceFrom(ctx, 0, domain.ReasonAllAnswered)
	if !errors.Is(err, domain.ErrAlreadyAdvanced) {
		t.Fatalf("expected ErrAlreadyAdvanced, got %v", err)
	}
	if sess.CurrentIndex != 1 {
		t.Fatalf("expected index unchanged at 1, got %d", sess.CurrentIndex)
	}
}

func TestAdvanceRejectedWhenNotActive(t *testing.T) {
	ctx := context.Background()
	ctrl, _ := newTestController(t, []string{"q1"}, []string{"p1"})

	if _, err := ctrl.advanceFrom(ctx, 0, domain.ReasonAdminManual); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before start, got %v", err)
	}
}

func TestBackfillIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ctrl, answers := newTestController(t, []string{"q1"}, []string{"p1", "p2", "p3"})

	if _, err := ctrl.start(ctx, domain.Settings{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := ctrl.submitAnswer(ctx, "p1", "q1", 0, 3000); err != nil {
		t.Fatalf("submit: %v", err)
	}

	sess, err := ctrl.sessions.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	question, err := ctrl.questions.GetQuestion(ctx, "q1")
	if err != nil {
		t.Fatalf("get question: %v", err)
	}

	if err := ctrl.backfillLocked(ctx, &sess, question); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if err := ctrl.backfillLocked(ctx, &sess, question); err != nil {
		t.Fatalf("second backfill: %v", err)
	}

	recorded, err := answers.ListByQuestion(ctx, "s1", "q1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recorded) != 3 {
		t.Fatalf("expected 3 answers, got %d", len(recorded))
	}
	for _, a := range recorded {
		if a.ParticipantID == "p1" {
			if a.Backfilled() {
				t.Fatalf("submitted answer must not be overwritten: %+v", a)
			}
			continue
		}
		if !a.Backfilled() || a.IsCorrect || a.ResponseTimeMs != 15000 {
			t.Fatalf("expected sentinel full-limit answer, got %+v", a)
		}
	}
}

// gatedAnswerStore holds every Put until the gate opens, and signals when a
// writer arrives, so tests can freeze a submission mid-flight.
type gatedAnswerStore struct {
	*memory.AnswerStore
	entered chan struct{}
	gate    chan struct{}
}

func (s *gatedAnswerStore) Put(ctx context.Context, a domain.Answer) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.gate
	return s.AnswerStore.Put(ctx, a)
}

func TestSubmissionRacingStopDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	store := &gatedAnswerStore{
		AnswerStore: memory.NewAnswerStore(),
		entered:     make(chan struct{}, 1),
		gate:        make(chan struct{}),
	}
	svc := NewSessionService(
		memory.NewSessionStore(),
		store,
		memory.NewQuestionRepository(memory.NewStaticQuestionLoader(testQuestions()), time.Minute),
		nopBroadcaster{},
		zap.NewNop(),
		Config{StartDelay: 0, AdvanceGrace: 0, TickInterval: time.Hour},
	)
	if _, err := svc.CreateSession(ctx, "s1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AddQuestions(ctx, "s1", []string{"q1"}); err != nil {
		t.Fatalf("add questions: %v", err)
	}
	if _, err := svc.Join(ctx, "s1", "p1", "name-p1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.StartQuiz(ctx, "s1", domain.Settings{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.SubmitAnswer(ctx, "s1", "p1", "q1", 0, 1000)
		done <- err
	}()

	// The submission is parked inside the store write when stop tears the
	// session down; releasing it afterwards must not crash on the publisher.
	<-store.entered
	if _, err := svc.StopQuiz(ctx, "s1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	close(store.gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("submit racing stop: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("submission never returned")
	}
}

func TestFinishedSessionAllocatesNoController(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService(
		memory.NewSessionStore(),
		memory.NewAnswerStore(),
		memory.NewQuestionRepository(memory.NewStaticQuestionLoader(testQuestions()), time.Minute),
		nopBroadcaster{},
		zap.NewNop(),
		Config{StartDelay: 0, AdvanceGrace: 0, TickInterval: time.Hour},
	)
	if _, err := svc.CreateSession(ctx, "s1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AddQuestions(ctx, "s1", []string{"q1"}); err != nil {
		t.Fatalf("add questions: %v", err)
	}
	if _, err := svc.Join(ctx, "s1", "p1", "name-p1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.StartQuiz(ctx, "s1", domain.Settings{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.StopQuiz(ctx, "s1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	registered := func() int {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.controllers)
	}
	if n := registered(); n != 0 {
		t.Fatalf("expected empty registry after finish, got %d", n)
	}

	// Late commands must fail without resurrecting a controller (and its
	// publisher goroutine, which nothing would ever tear down again).
	if _, err := svc.SetAutoAdvance(ctx, "s1", true); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, "s1", "p1", "q1", 0, 1000); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if n := registered(); n != 0 {
		t.Fatalf("controller recreated for finished session: %d registered", n)
	}
}

func TestAllAnsweredThreshold(t *testing.T) {
	cases := []struct {
		answered, total int
		want            bool
	}{
		{0, 0, false},
		{2, 3, false},
		{3, 3, true},
		{4, 5, false}, // 80% but small session: everyone must answer
		{5, 5, true},
		{9, 10, true}, // 90% of a larger session
		{8, 10, false},
		{18, 20, true},
		{17, 20, false},
	}
	for _, c := range cases {
		if got := allAnswered(c.answered, c.total); got != c.want {
			t.Fatalf("allAnswered(%d, %d) = %v, want %v", c.answered, c.total, got, c.want)
		}
	}
}
