package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
)

// SessionChannel names the channel every participant of a session subscribes to.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// AdminChannel names the administrator-only channel of a session.
func AdminChannel(sessionID string) string {
	return "admin:" + sessionID
}

const publishTimeout = 5 * time.Second

// publisher serializes a session's outbound events through one queue so
// ordered pairs (timer-reset before question-sent) arrive in order, while
// state transitions never wait on delivery. Every envelope carries a
// monotonic per-session sequence number.
//
// Producers outlive the session: answer ingestion runs outside the controller
// mutex and the expiry notify runs after releasing it, so both can race the
// finish path. The closed flag below makes enqueue a no-op once the session
// is done instead of sending on a closed channel.
type publisher struct {
	sessionID string
	b         Broadcaster
	log       *zap.Logger

	seq  atomic.Uint64
	done chan struct{}

	mu     sync.Mutex
	closed bool
	queue  chan queuedEvent
}

type queuedEvent struct {
	channel  string
	envelope domain.EventEnvelope
}

func newPublisher(sessionID string, b Broadcaster, log *zap.Logger) *publisher {
	p := &publisher{
		sessionID: sessionID,
		b:         b,
		log:       log,
		queue:     make(chan queuedEvent, 64),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := p.b.Publish(ctx, ev.channel, ev.envelope)
		cancel()
		if err != nil {
			p.log.Warn("event publish failed",
				zap.String("session_id", p.sessionID),
				zap.String("channel", ev.channel),
				zap.String("event", ev.envelope.Event),
				zap.Error(err))
		}
	}
}

func (p *publisher) toSession(event string, payload any) {
	p.enqueue(SessionChannel(p.sessionID), event, payload)
}

func (p *publisher) toAdmin(event string, payload any) {
	p.enqueue(AdminChannel(p.sessionID), event, payload)
}

func (p *publisher) enqueue(channel, event string, payload any) {
	ev := queuedEvent{
		channel: channel,
		envelope: domain.EventEnvelope{
			Seq:     p.seq.Add(1),
			Event:   event,
			Payload: payload,
		},
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.log.Warn("event queue full, dropping event",
			zap.String("session_id", p.sessionID),
			zap.String("event", event))
	}
}

// close drains and stops the queue goroutine. Safe to call twice; enqueues
// arriving afterwards are dropped.
func (p *publisher) close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}

// questionPayload strips the correct option before anything leaves the engine.
func questionPayload(q domain.Question, index, total int) domain.QuestionPayload {
	return domain.QuestionPayload{
		ID:             q.ID,
		Text:           q.Text,
		Options:        append([]string(nil), q.Options...),
		TimeLimit:      q.TimeLimitSeconds,
		QuestionNumber: index + 1,
		TotalQuestions: total,
	}
}
