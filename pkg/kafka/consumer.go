package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
)

// MessageHandler is invoked for each message. A returned error leaves the
// message uncommitted.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads one topic as part of the configured consumer group.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	backoff time.Duration
	logger  *slog.Logger
}

// NewConsumer creates a Consumer for topic.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{
		reader:  r,
		handler: handler,
		backoff: time.Second,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-time.After(c.backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			c.logger.Error("failed to process message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message", "offset", msg.Offset, "error", err)
		}
	}
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}

// HandleJSON adapts a typed handler to a MessageHandler. Messages that do
// not decode are logged and skipped so they do not block the partition.
func HandleJSON[T any](fn func(ctx context.Context, v T) error) MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		v, err := DecodeJSON[T](value)
		if err != nil {
			slog.Default().Warn("skipping undecodable message", "key", string(key), "error", err)
			return nil
		}
		return fn(ctx, v)
	}
}
