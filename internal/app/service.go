package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
)

// Config holds the engine's timing knobs. Tests compress them to keep runs fast.
type Config struct {
	// StartDelay is the settle window between quiz-started and question 0,
	// giving subscribers time to finish joining.
	StartDelay time.Duration
	// AdvanceGrace delays the all-answered advance to admit last-moment
	// submissions.
	AdvanceGrace time.Duration
	// TickInterval is the wall-clock length of one countdown second.
	TickInterval time.Duration
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		StartDelay:   2 * time.Second,
		AdvanceGrace: 1500 * time.Millisecond,
		TickInterval: time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// SessionService is the orchestration engine's entry point. It owns an
// explicit registry mapping session id to its controller, created on first
// use and torn down when the session finishes. No timer handles or session
// metadata live outside the registry.
type SessionService struct {
	sessions    SessionStore
	answers     AnswerStore
	questions   QuestionRepository
	broadcaster Broadcaster
	log         *zap.Logger
	cfg         Config
	clock       func() time.Time

	mu          sync.Mutex
	controllers map[string]*controller
}

func NewSessionService(sessions SessionStore, answers AnswerStore, questions QuestionRepository, broadcaster Broadcaster, log *zap.Logger, cfg Config) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionService{
		sessions:    sessions,
		answers:     answers,
		questions:   questions,
		broadcaster: broadcaster,
		log:         log,
		cfg:         cfg.withDefaults(),
		clock:       time.Now,
		controllers: make(map[string]*controller),
	}
}

// WithClock swaps the timestamp source for deterministic tests.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.clock = now
	return s
}

// CreateSession creates a session in the waiting state. An empty id gets a
// generated one.
func (s *SessionService) CreateSession(ctx context.Context, sessionID string) (domain.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess := domain.Session{
		ID:           sessionID,
		Status:       domain.StatusWaiting,
		CurrentIndex: -1,
	}
	if err := s.sessions.Create(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	s.log.Info("session created", zap.String("session_id", sessionID))
	return sess.Clone(), nil
}

// AddQuestions appends question ids to a waiting session.
func (s *SessionService) AddQuestions(ctx context.Context, sessionID string, questionIDs []string) (domain.Session, error) {
	ctrl, err := s.controllerFor(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return ctrl.addQuestions(ctx, questionIDs)
}

// Join registers a participant (or refreshes their display name) while the
// session is still waiting.
func (s *SessionService) Join(ctx context.Context, sessionID, participantID, displayName string) (domain.Session, error) {
	ctrl, err := s.controllerFor(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return ctrl.join(ctx, participantID, displayName)
}

// StartQuiz transitions a waiting session to active and schedules question 0.
func (s *SessionService) StartQuiz(ctx context.Context, sessionID string, settings domain.Settings) (domain.Session, error) {
	ctrl, err := s.controllerFor(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return ctrl.start(ctx, settings)
}

// AdvanceNow is the admin's manual advance.
func (s *SessionService) AdvanceNow(ctx context.Context, sessionID string) (domain.Session, error) {
	ctrl, err := s.controllerFor(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return ctrl.adminAdvance(ctx)
}

// StopQuiz force-terminates an active session without backfilling the
// interrupted question.
func (s *SessionService) StopQuiz(ctx context.Context, sessionID string) (domain.Session, error) {
	ctrl, err := s.controllerFor(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return ctrl.stop(ctx)
}

// SetAutoAdvance toggles timer-driven advancement for the session.
func (s *SessionService) SetAutoAdvance(ctx context.Context, sessionID string, enabled bool) (domain.Session, error) {
	ctrl, err := s.controllerFor(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return ctrl.setAutoAdvance(ctx, enabled)
}

// RemoveParticipant drops a participant from a non-finished session.
func (s *SessionService) RemoveParticipant(ctx context.Context, sessionID, participantID string) (domain.Session, error) {
	ctrl, err := s.controllerFor(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return ctrl.removeParticipant(ctx, participantID)
}

// SubmitAnswer records a participant's answer for the current question.
// domain.ErrDuplicateAnswer means their earlier answer already counted.
func (s *SessionService) SubmitAnswer(ctx context.Context, sessionID, participantID, questionID string, selectedOption, responseTimeMs int) (domain.Answer, error) {
	ctrl, err := s.controllerFor(ctx, sessionID)
	if err != nil {
		return domain.Answer{}, err
	}
	return ctrl.submitAnswer(ctx, participantID, questionID, selectedOption, responseTimeMs)
}

// Leaderboard recomputes the full scoreboard from the current answer set.
func (s *SessionService) Leaderboard(ctx context.Context, sessionID string) ([]domain.LeaderboardEntry, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	qs, err := s.questions.GetQuestions(ctx, sess.QuestionIDs)
	if err != nil {
		return nil, err
	}
	answers, err := s.answers.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return ComputeLeaderboard(sess, qs, answers), nil
}

// Snapshot returns the session's current persisted state.
func (s *SessionService) Snapshot(ctx context.Context, sessionID string) (domain.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return sess.Clone(), nil
}

// controllerFor returns the session's controller, creating it on first use.
// The session must already exist; unknown ids never allocate controllers, and
// neither do finished sessions — their controller (and its publisher
// goroutine) was torn down on finish and no operation routed through here is
// valid anymore.
func (s *SessionService) controllerFor(ctx context.Context, sessionID string) (*controller, error) {
	s.mu.Lock()
	if ctrl, ok := s.controllers[sessionID]; ok {
		s.mu.Unlock()
		return ctrl, nil
	}
	s.mu.Unlock()

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.StatusFinished {
		return nil, fmt.Errorf("session %s is finished: %w", sessionID, domain.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctrl, ok := s.controllers[sessionID]; ok {
		return ctrl, nil
	}
	ctrl := &controller{
		sessionID:  sessionID,
		sessions:   s.sessions,
		answers:    s.answers,
		questions:  s.questions,
		pub:        newPublisher(sessionID, s.broadcaster, s.log),
		log:        s.log,
		clock:      s.clock,
		cfg:        s.cfg,
		graceIndex: -1,
	}
	ctrl.onFinished = func() { s.removeController(sessionID) }
	s.controllers[sessionID] = ctrl
	return ctrl, nil
}

func (s *SessionService) removeController(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.controllers, sessionID)
}
