// Package realtime delivers signaling messages and participant changes over
// Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/domain"
	redisclient "github.com/dkeye/voicemesh/internal/redis"
)

const subscriberBuffer = 64

// Publisher fans stored changes out to subscribers.
type Publisher interface {
	PublishSignal(ctx context.Context, msg domain.SignalMessage) error
	PublishParticipant(ctx context.Context, ev domain.ParticipantEvent) error
}

type Broker struct {
	redis *redisclient.Client
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	return &Broker{redis: redisClient}
}

func (b *Broker) PublishSignal(ctx context.Context, msg domain.SignalMessage) error {
	return b.publish(ctx, redisclient.SignalChannel(string(msg.To)), msg)
}

func (b *Broker) PublishParticipant(ctx context.Context, ev domain.ParticipantEvent) error {
	return b.publish(ctx, redisclient.ParticipantChannel(string(ev.SessionID)), ev)
}

func (b *Broker) publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, channel, data).Err()
}

// SubscribeSignals streams messages addressed to user until ctx ends.
func (b *Broker) SubscribeSignals(ctx context.Context, user domain.UserID) (<-chan domain.SignalMessage, error) {
	return subscribe[domain.SignalMessage](ctx, b, redisclient.SignalChannel(string(user)))
}

// SubscribeParticipants streams participant changes of session until ctx ends.
func (b *Broker) SubscribeParticipants(ctx context.Context, session domain.SessionID) (<-chan domain.ParticipantEvent, error) {
	return subscribe[domain.ParticipantEvent](ctx, b, redisclient.ParticipantChannel(string(session)))
}

// subscribe returns once Redis has confirmed the subscription, so nothing
// published afterwards is missed. Delivery keeps publish order.
func subscribe[T any](ctx context.Context, b *Broker, channel string) (<-chan T, error) {
	pubsub := b.redis.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	log.Debug().Str("module", "realtime").Str("channel", channel).Msg("redis pubsub subscribed")

	out := make(chan T, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var v T
				if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
					log.Error().Str("module", "realtime").Str("channel", channel).Err(err).Msg("failed to unmarshal event")
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
