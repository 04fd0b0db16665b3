package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/auction-fulfillment/internal/domain/order"
	"github.com/google/uuid"
)

const MaxMessageLength = 2000

// OrderLookup resolves the participants of an order.
type OrderLookup interface {
	Get(ctx context.Context, orderID string) (*order.Order, error)
}

// Service restricts a thread to the order's buyer and seller.
type Service struct {
	channel Channel
	orders  OrderLookup
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(channel Channel, orders OrderLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		channel: channel,
		orders:  orders,
		logger:  logger.With("component", "chat"),
		now:     time.Now,
	}
}

func (s *Service) participant(ctx context.Context, orderID, userID string) error {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.ActorOf(userID) == order.ActorNone {
		return fmt.Errorf("%w: only the buyer or the seller can use this order's chat", order.ErrForbidden)
	}
	return nil
}

func (s *Service) AppendMessage(ctx context.Context, orderID, senderID, text string) (Message, error) {
	if err := s.participant(ctx, orderID, senderID); err != nil {
		return Message{}, err
	}

	body := strings.TrimSpace(text)
	if body == "" {
		return Message{}, fmt.Errorf("%w: message text is required", order.ErrValidationFailed)
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return Message{}, fmt.Errorf("%w: message exceeds %d characters", order.ErrValidationFailed, MaxMessageLength)
	}

	msg := Message{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	if err := s.channel.AppendMessage(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "append message failed", "order_id", orderID, "error", err)
		return Message{}, err
	}
	return msg, nil
}

func (s *Service) ListMessages(ctx context.Context, orderID, userID string) ([]Message, error) {
	if err := s.participant(ctx, orderID, userID); err != nil {
		return nil, err
	}
	return s.channel.ListMessages(ctx, orderID)
}
