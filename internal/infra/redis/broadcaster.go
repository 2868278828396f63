package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
)

// Broadcaster publishes event envelopes on Redis pub/sub channels, so every
// instance of the service sees session and admin events regardless of where
// the controller runs. Channel names are used verbatim ("session:<id>",
// "admin:<id>").
type Broadcaster struct {
	client *redis.Client
	log    *zap.Logger
}

func NewBroadcaster(client *redis.Client, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{client: client, log: log}
}

func (b *Broadcaster) Publish(ctx context.Context, channel string, envelope domain.EventEnvelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.client.Publish(ctx, channel, body).Err()
}

// Subscribe mirrors the in-memory broadcaster's contract for the websocket
// transport: a stream of envelopes plus a cancel function.
func (b *Broadcaster) Subscribe(channel string) (<-chan domain.EventEnvelope, func(), error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan domain.EventEnvelope, 32)
	in := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var env domain.EventEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Warn("dropping malformed event", zap.String("channel", channel), zap.Error(err))
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, func() { cancelCtx() }, nil
}
