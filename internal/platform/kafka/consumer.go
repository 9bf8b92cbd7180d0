package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Handler processes one record. Returning an error logs it; the offset is
// committed regardless so a poison record cannot stall the group.
type Handler func(ctx context.Context, key, value []byte) error

// Consumer reads a topic as part of a consumer group.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
}

func NewConsumer(brokers []string, topic, group string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})
		fetches.EachRecord(func(r *kgo.Record) {
			if err := c.handler(ctx, r.Key, r.Value); err != nil {
				c.logger.WarnContext(ctx, "kafka record handler failed",
					"topic", r.Topic,
					"offset", r.Offset,
					"error", err,
				)
			}
		})
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "kafka commit failed", "error", err)
		}
	}
}

func (c *Consumer) Close() {
	c.client.Close()
}
