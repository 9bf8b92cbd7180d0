// Package redisbus carries events between instances over Redis pub/sub.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"officehub/internal/events"
)

const DefaultChannel = "officehub:events"

// Publisher publishes encoded events to a channel. It implements
// events.Publisher and can back either a PublishingEmitter or the outbox
// Worker.
type Publisher struct {
	client  redis.UniversalClient
	channel string
}

func NewPublisher(client redis.UniversalClient, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, _ string, payload []byte) error {
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscriber re-emits events received on a channel into a local target.
type Subscriber struct {
	client  redis.UniversalClient
	channel string
	target  events.Emitter
	logger  *slog.Logger
}

func NewSubscriber(client redis.UniversalClient, channel string, target events.Emitter, logger *slog.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{client: client, channel: channel, target: target, logger: logger}
}

// Run blocks until ctx is cancelled. Malformed messages are logged and
// skipped.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", s.channel, err)
	}

	forward := events.Forward(s.target)
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := forward(ctx, nil, []byte(msg.Payload)); err != nil {
				s.logger.WarnContext(ctx, "dropping redis event", "channel", s.channel, "error", err)
			}
		}
	}
}
