package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageHandler processes one message. A returned error is logged and the
// message is still committed; handlers must be idempotent.
type MessageHandler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
	return &Consumer{
		reader: reader,
		logger: logger.With("component", "kafka_consumer", "topic", topic, "group_id", groupID),
	}
}

const (
	minFetchBackoff = 100 * time.Millisecond
	maxFetchBackoff = 5 * time.Second
)

// Consume blocks until ctx is cancelled or the reader is closed. Consecutive
// fetch failures back off exponentially up to maxFetchBackoff.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	failures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return err
			}
			failures++
			delay := fetchBackoff(failures)
			c.logger.WarnContext(ctx, "fetch message failed", "error", err, "retry_in", delay)
			if err := wait(ctx, delay); err != nil {
				return err
			}
			continue
		}
		failures = 0

		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			c.logger.ErrorContext(ctx, "handle message failed",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "commit offset failed", "offset", msg.Offset, "error", err)
		}
	}
}

func fetchBackoff(failures int) time.Duration {
	d := minFetchBackoff
	for i := 1; i < failures && d < maxFetchBackoff; i++ {
		d *= 2
	}
	return min(d, maxFetchBackoff)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
