// Package chat stores the per-order message thread between buyer and seller.
// Delivery to clients is handled elsewhere; this package only persists and
// lists messages.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrChannelUnavailable = errors.New("chat channel unavailable")

type Message struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Channel is the message backend. Messages come back in append order.
type Channel interface {
	AppendMessage(ctx context.Context, msg Message) error
	ListMessages(ctx context.Context, orderID string) ([]Message, error)
}

// MemoryChannel keeps threads in process memory.
type MemoryChannel struct {
	mu      sync.RWMutex
	threads map[string][]Message
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{threads: make(map[string][]Message)}
}

func (c *MemoryChannel) AppendMessage(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[msg.OrderID] = append(c.threads[msg.OrderID], msg)
	return nil
}

func (c *MemoryChannel) ListMessages(_ context.Context, orderID string) ([]Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	thread := c.threads[orderID]
	out := make([]Message, len(thread))
	copy(out, thread)
	return out, nil
}
