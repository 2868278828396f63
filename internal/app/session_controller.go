package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
)

// controller is the serial actor for one session. All advancement triggers
// (admin command, timer expiry, all-answered) funnel through its mutex, so
// Advance never runs twice concurrently for the same session; the
// AlreadyAdvanced check is the safety net for triggers that raced before
// reaching the lock. The controller is the sole writer of the session's
// status and question index.
type controller struct {
	sessionID  string
	sessions   SessionStore
	answers    AnswerStore
	questions  QuestionRepository
	pub        *publisher
	log        *zap.Logger
	clock      func() time.Time
	cfg        Config
	onFinished func()

	mu         sync.Mutex
	timer      *countdown
	timerIndex int
	graceIndex int // highest question index with an armed grace advance
}

func (c *controller) addQuestions(ctx context.Context, questionIDs []string) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.Status != domain.StatusWaiting {
		return domain.Session{}, fmt.Errorf("add questions: session is %s: %w", sess.Status, domain.ErrInvalidState)
	}
	// The question list must reference real content before it freezes on start.
	if _, err := c.questions.GetQuestions(ctx, questionIDs); err != nil {
		return domain.Session{}, fmt.Errorf("add questions: %w", err)
	}

	sess.QuestionIDs = append(sess.QuestionIDs, questionIDs...)
	if err := c.sessions.Save(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	return sess.Clone(), nil
}

func (c *controller) join(ctx context.Context, participantID, displayName string) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	// The participant set closes once the quiz is running.
	if sess.Status != domain.StatusWaiting {
		return domain.Session{}, fmt.Errorf("join: session is %s: %w", sess.Status, domain.ErrInvalidState)
	}

	refreshed := false
	for i := range sess.Participants {
		if sess.Participants[i].ID == participantID {
			sess.Participants[i].DisplayName = displayName
			refreshed = true
			break
		}
	}
	if !refreshed {
		sess.Participants = append(sess.Participants, domain.Participant{
			ID:          participantID,
			DisplayName: displayName,
			JoinedAt:    c.clock(),
		})
	}
	if err := c.sessions.Save(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	return sess.Clone(), nil
}

func (c *controller) start(ctx context.Context, settings domain.Settings) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.Status != domain.StatusWaiting {
		return domain.Session{}, fmt.Errorf("start: session is %s: %w", sess.Status, domain.ErrInvalidState)
	}
	if len(sess.QuestionIDs) == 0 {
		return domain.Session{}, fmt.Errorf("start: question list is empty: %w", domain.ErrPrecondition)
	}
	if len(sess.Participants) == 0 {
		return domain.Session{}, fmt.Errorf("start: no participants joined: %w", domain.ErrPrecondition)
	}

	now := c.clock()
	sess.Status = domain.StatusActive
	sess.Settings = settings
	sess.CurrentIndex = 0
	sess.StartedAt = &now
	if err := c.sessions.Save(ctx, &sess); err != nil {
		return domain.Session{}, err
	}

	c.pub.toSession(domain.EventQuizStarted, domain.StatusPayload{Status: sess.Status})
	c.log.Info("quiz started",
		zap.String("session_id", c.sessionID),
		zap.Int("questions", len(sess.QuestionIDs)),
		zap.Int("participants", len(sess.Participants)))

	// Question 0 goes out after a settle delay so subscribers finish joining
	// their channels before the first payload.
	time.AfterFunc(c.cfg.StartDelay, func() {
		c.presentQuestion(0)
	})
	return sess.Clone(), nil
}

// presentQuestion publishes the countdown reset and question payload for the
// given index and starts its timer. No-op when the session has moved on.
func (c *controller) presentQuestion(index int) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil || sess.Status != domain.StatusActive || sess.CurrentIndex != index {
		return
	}
	question, err := c.questions.GetQuestion(ctx, sess.QuestionIDs[index])
	if err != nil {
		c.log.Error("presenting question failed, awaiting manual advance",
			zap.String("session_id", c.sessionID),
			zap.Int("question_index", index),
			zap.Error(err))
		return
	}

	sess.QuestionStartedAt = c.clock()
	if err := c.sessions.Save(ctx, &sess); err != nil {
		c.log.Error("persisting question start failed",
			zap.String("session_id", c.sessionID), zap.Error(err))
		return
	}
	c.presentLocked(&sess, question)
}

// presentLocked emits timer-reset then question-sent and swaps in a fresh
// countdown. The previous timer is always cancelled first, never left to
// expire on its own.
func (c *controller) presentLocked(sess *domain.Session, question domain.Question) {
	c.cancelTimerLocked()

	c.pub.toSession(domain.EventTimerReset, domain.TimerResetPayload{TimeLimit: question.TimeLimitSeconds})
	c.pub.toSession(domain.EventQuestionSent, questionPayload(question, sess.CurrentIndex, len(sess.QuestionIDs)))

	c.timerIndex = sess.CurrentIndex
	c.timer = startCountdown(question.TimeLimitSeconds, c.cfg.TickInterval, c.handleTick, c.handleExpiry)
}

func (c *controller) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Cancel()
		c.timer = nil
	}
}

func (c *controller) handleTick(cd *countdown, secondsLeft int) {
	// Enqueued under the lock so a tick can never slip between the
	// timer-reset/question-sent pair of a racing advance.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != cd {
		return
	}
	c.pub.toSession(domain.EventTimerTick, domain.TimerTickPayload{SecondsLeft: secondsLeft})
}

func (c *controller) handleExpiry(cd *countdown) {
	c.mu.Lock()
	if c.timer != cd {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	index := c.timerIndex
	c.mu.Unlock()

	c.pub.toAdmin(domain.EventQuestionTimeUp, domain.TimeUpPayload{QuestionIndex: index})

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	sess, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil {
		c.log.Warn("expiry: loading session failed", zap.String("session_id", c.sessionID), zap.Error(err))
		return
	}
	if !sess.Settings.TimeBasedAutoAdvance {
		// Time is up but advancement stays manual; the admin was notified above.
		return
	}
	if _, err := c.advanceFrom(ctx, index, domain.ReasonTimerExpired); err != nil && !isBenignAdvanceError(err) {
		c.log.Warn("timer-driven advance failed", zap.String("session_id", c.sessionID), zap.Error(err))
	}
}

// advanceFrom moves the session off fromIndex. Racing triggers that captured
// the same index collapse into one real transition; the losers get
// ErrAlreadyAdvanced, which callers treat as success.
func (c *controller) advanceFrom(ctx context.Context, fromIndex int, reason domain.AdvanceReason) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.Status != domain.StatusActive {
		return domain.Session{}, fmt.Errorf("advance: session is %s: %w", sess.Status, domain.ErrInvalidState)
	}
	if sess.CurrentIndex != fromIndex {
		return sess.Clone(), fmt.Errorf("advance from %d, current %d: %w", fromIndex, sess.CurrentIndex, domain.ErrAlreadyAdvanced)
	}
	return c.advanceLocked(ctx, sess, reason)
}

// adminAdvance moves the session off whatever question is current.
func (c *controller) adminAdvance(ctx context.Context) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.Status != domain.StatusActive {
		return domain.Session{}, fmt.Errorf("advance: session is %s: %w", sess.Status, domain.ErrInvalidState)
	}
	return c.advanceLocked(ctx, sess, domain.ReasonAdminManual)
}

func (c *controller) advanceLocked(ctx context.Context, sess domain.Session, reason domain.AdvanceReason) (domain.Session, error) {
	finished := sess.QuestionIDs[sess.CurrentIndex]
	question, err := c.questions.GetQuestion(ctx, finished)
	if err != nil {
		return domain.Session{}, fmt.Errorf("advance: %w", err)
	}
	if err := c.backfillLocked(ctx, &sess, question); err != nil {
		return domain.Session{}, err
	}

	c.log.Info("advancing session",
		zap.String("session_id", c.sessionID),
		zap.Int("from_index", sess.CurrentIndex),
		zap.String("reason", string(reason)))

	if sess.CurrentIndex+1 >= len(sess.QuestionIDs) {
		return c.finishLocked(ctx, sess, domain.EventQuizEnded)
	}

	sess.CurrentIndex++
	sess.QuestionStartedAt = c.clock()
	next, err := c.questions.GetQuestion(ctx, sess.QuestionIDs[sess.CurrentIndex])
	if err != nil {
		return domain.Session{}, fmt.Errorf("advance: %w", err)
	}
	if err := c.sessions.Save(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	c.presentLocked(&sess, next)
	return sess.Clone(), nil
}

// stop force-terminates an active session. The interrupted question gets no
// synthetic answers; only completed questions count.
func (c *controller) stop(ctx context.Context) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.Status != domain.StatusActive {
		return domain.Session{}, fmt.Errorf("stop: session is %s: %w", sess.Status, domain.ErrInvalidState)
	}
	return c.finishLocked(ctx, sess, domain.EventQuizStopped)
}

func (c *controller) finishLocked(ctx context.Context, sess domain.Session, event string) (domain.Session, error) {
	now := c.clock()
	sess.Status = domain.StatusFinished
	sess.EndedAt = &now
	if err := c.sessions.Save(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	c.cancelTimerLocked()

	c.pub.toSession(event, domain.StatusPayload{Status: sess.Status})
	if entries, err := c.leaderboard(ctx, sess); err != nil {
		c.log.Error("final leaderboard computation failed",
			zap.String("session_id", c.sessionID), zap.Error(err))
	} else {
		c.pub.toSession(domain.EventLeaderboardReady, domain.LeaderboardPayload{Entries: entries})
	}
	c.log.Info("session finished",
		zap.String("session_id", c.sessionID),
		zap.String("event", event))

	c.onFinished()
	c.pub.close()
	return sess.Clone(), nil
}

func (c *controller) removeParticipant(ctx context.Context, participantID string) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.Status == domain.StatusFinished {
		return domain.Session{}, fmt.Errorf("remove participant: session is finished: %w", domain.ErrInvalidState)
	}

	kept := sess.Participants[:0]
	found := false
	for _, p := range sess.Participants {
		if p.ID == participantID {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return domain.Session{}, domain.ErrParticipantNotFound
	}
	sess.Participants = kept
	if err := c.sessions.Save(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	c.pub.toSession(domain.EventParticipantRemoved, domain.ParticipantRemovedPayload{ParticipantID: participantID})
	return sess.Clone(), nil
}

func (c *controller) setAutoAdvance(ctx context.Context, enabled bool) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.Status == domain.StatusFinished {
		return domain.Session{}, fmt.Errorf("set auto-advance: session is finished: %w", domain.ErrInvalidState)
	}
	sess.Settings.TimeBasedAutoAdvance = enabled
	if err := c.sessions.Save(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	return sess.Clone(), nil
}

// submitAnswer runs outside the controller mutex: ingestion is concurrent
// across participants, and the answer store's first-write-wins uniqueness on
// (session, question, participant) resolves races, including against backfill.
func (c *controller) submitAnswer(ctx context.Context, participantID, questionID string, selectedOption, responseTimeMs int) (domain.Answer, error) {
	sess, err := c.sessions.Get(ctx, c.sessionID)
	if err != nil {
		return domain.Answer{}, err
	}
	if sess.Status != domain.StatusActive {
		return domain.Answer{}, fmt.Errorf("submit: session is %s: %w", sess.Status, domain.ErrInvalidState)
	}
	if questionID != sess.CurrentQuestionID() {
		return domain.Answer{}, fmt.Errorf("submit: question %s is not current: %w", questionID, domain.ErrInvalidState)
	}
	if _, ok := sess.Participant(participantID); !ok {
		return domain.Answer{}, domain.ErrParticipantNotFound
	}

	question, err := c.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.Answer{}, err
	}
	if selectedOption < 0 || selectedOption >= len(question.Options) {
		return domain.Answer{}, fmt.Errorf("submit: option %d: %w", selectedOption, domain.ErrOptionNotFound)
	}

	limitMs := question.TimeLimitMs()
	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	if responseTimeMs > limitMs {
		responseTimeMs = limitMs
	}

	answer := domain.Answer{
		SessionID:      c.sessionID,
		QuestionID:     questionID,
		ParticipantID:  participantID,
		SelectedOption: selectedOption,
		IsCorrect:      selectedOption == question.CorrectOption,
		ResponseTimeMs: responseTimeMs,
	}
	if err := c.answers.Put(ctx, answer); err != nil {
		return domain.Answer{}, err
	}

	recorded, err := c.answers.ListByQuestion(ctx, c.sessionID, questionID)
	if err != nil {
		c.log.Warn("answer progress unavailable", zap.String("session_id", c.sessionID), zap.Error(err))
		return answer, nil
	}
	// Answers from since-removed participants stay recorded but do not count
	// toward completion: the check is over the current participant set.
	answered := 0
	for _, a := range recorded {
		if _, ok := sess.Participant(a.ParticipantID); ok {
			answered++
		}
	}
	total := len(sess.Participants)
	all := allAnswered(answered, total)
	c.pub.toSession(domain.EventParticipantAnswer, domain.AnswerProgressPayload{
		AnsweredCount:     answered,
		TotalParticipants: total,
		AllAnswered:       all,
	})

	if all && sess.Settings.ParticipantBasedAutoAdvance {
		c.armGraceAdvance(sess.CurrentIndex)
	}
	return answer, nil
}

// allAnswered applies the completion heuristic: everyone answered, or the
// session is larger than five participants and at least 90% answered.
func allAnswered(answered, total int) bool {
	if total == 0 {
		return false
	}
	if answered >= total {
		return true
	}
	return total > 5 && float64(answered) >= 0.9*float64(total)
}

// armGraceAdvance schedules one all-answered advance per question index,
// delayed by the grace window so last-moment submissions still land.
func (c *controller) armGraceAdvance(index int) {
	c.mu.Lock()
	if c.graceIndex >= index {
		c.mu.Unlock()
		return
	}
	c.graceIndex = index
	c.mu.Unlock()

	time.AfterFunc(c.cfg.AdvanceGrace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if _, err := c.advanceFrom(ctx, index, domain.ReasonAllAnswered); err != nil && !isBenignAdvanceError(err) {
			c.log.Warn("all-answered advance failed", zap.String("session_id", c.sessionID), zap.Error(err))
		}
	})
}

// backfillLocked synthesizes a sentinel answer for every participant without
// one for the question. First-write-wins at the store makes it idempotent and
// safe against submissions racing the advance.
func (c *controller) backfillLocked(ctx context.Context, sess *domain.Session, question domain.Question) error {
	recorded, err := c.answers.ListByQuestion(ctx, sess.ID, question.ID)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	have := make(map[string]struct{}, len(recorded))
	for _, a := range recorded {
		have[a.ParticipantID] = struct{}{}
	}

	for _, p := range sess.Participants {
		if _, ok := have[p.ID]; ok {
			continue
		}
		missing := domain.Answer{
			SessionID:      sess.ID,
			QuestionID:     question.ID,
			ParticipantID:  p.ID,
			SelectedOption: domain.NoAnswerOption,
			IsCorrect:      false,
			ResponseTimeMs: question.TimeLimitMs(),
		}
		if err := c.answers.Put(ctx, missing); err != nil && !errors.Is(err, domain.ErrDuplicateAnswer) {
			return fmt.Errorf("backfill: %w", err)
		}
	}
	return nil
}

func (c *controller) leaderboard(ctx context.Context, sess domain.Session) ([]domain.LeaderboardEntry, error) {
	qs, err := c.questions.GetQuestions(ctx, sess.QuestionIDs)
	if err != nil {
		return nil, err
	}
	answers, err := c.answers.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return ComputeLeaderboard(sess, qs, answers), nil
}

func isBenignAdvanceError(err error) bool {
	return errors.Is(err, domain.ErrAlreadyAdvanced) || errors.Is(err, domain.ErrInvalidState)
}
