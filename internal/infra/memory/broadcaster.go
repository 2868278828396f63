package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// Broadcaster is an in-process implementation of app.Broadcaster that also
// feeds the websocket transport through Subscribe. Publishing never blocks:
// when a subscriber's buffer is full the oldest pending event is dropped so
// slow clients cannot stall the engine.
type Broadcaster struct {
	mu       sync.RWMutex
	channels map[string]map[chan domain.EventEnvelope]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		channels: make(map[string]map[chan domain.EventEnvelope]struct{}),
	}
}

func (b *Broadcaster) Publish(_ context.Context, channel string, envelope domain.EventEnvelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.channels[channel] {
		select {
		case ch <- envelope:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- envelope:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel of events for the named channel. The caller
// must invoke the returned cancel function to avoid leaks.
func (b *Broadcaster) Subscribe(channel string) (<-chan domain.EventEnvelope, func(), error) {
	ch := make(chan domain.EventEnvelope, 32)

	b.mu.Lock()
	if b.channels[channel] == nil {
		b.channels[channel] = make(map[chan domain.EventEnvelope]struct{})
	}
	b.channels[channel][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.channels[channel]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.channels, channel)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel, nil
}
