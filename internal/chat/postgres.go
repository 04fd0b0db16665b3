package chat

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresChannel stores messages in the chat_messages table. Ordering uses
// the serial seq column so equal timestamps keep insertion order.
type PostgresChannel struct {
	db *sql.DB
}

func NewPostgresChannel(db *sql.DB) *PostgresChannel {
	return &PostgresChannel{db: db}
}

func (c *PostgresChannel) AppendMessage(ctx context.Context, msg Message) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, order_id, sender_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.OrderID, msg.SenderID, msg.Body, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: append message to order %s: %v", ErrChannelUnavailable, msg.OrderID, err)
	}
	return nil
}

func (c *PostgresChannel) ListMessages(ctx context.Context, orderID string) ([]Message, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, order_id, sender_id, body, created_at FROM chat_messages WHERE order_id = $1 ORDER BY seq`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages for order %s: %v", ErrChannelUnavailable, orderID, err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.OrderID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
