package kafka

import (
	"testing"
	"time"

	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestEventHeaders(t *testing.T) {
	headers := eventHeaders(store.Event{
		AggregateID:   "order-1",
		AggregateType: "Order",
		EventType:     "ShipmentConfirmed",
		Version:       3,
		Timestamp:     time.Now(),
	})

	got := make(map[string]string, len(headers))
	for _, h := range headers {
		got[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{
		"event_type":     "ShipmentConfirmed",
		"aggregate_type": "Order",
		"version":        "3",
	}, got)
}

func TestNewProducer_KeyedByOrder(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "order-events")
	defer p.Close()

	assert.Equal(t, "order-events", p.writer.Topic)
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
}
