package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/segmentio/kafka-go"
)

// Producer publishes committed order events. Messages are keyed by order id
// and hashed to a partition, so one order's events stay in order.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish implements store.Publisher. Store events also carry their type and
// version as headers so consumers can filter without decoding the body.
func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: encode message %s: %w", key, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if e, ok := event.(store.Event); ok {
		msg.Headers = eventHeaders(e)
		msg.Time = e.Timestamp
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s to %s: %w", key, p.writer.Topic, err)
	}
	return nil
}

func eventHeaders(e store.Event) []kafka.Header {
	return []kafka.Header{
		{Key: "event_type", Value: []byte(e.EventType)},
		{Key: "aggregate_type", Value: []byte(e.AggregateType)},
		{Key: "version", Value: []byte(strconv.Itoa(e.Version))},
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
