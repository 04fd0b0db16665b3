// Package auction turns auction-close notifications into fulfillment orders.
package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/auction-fulfillment/internal/command"
	"github.com/example/auction-fulfillment/internal/domain/order"
	"github.com/shopspring/decimal"
)

// Closed is the message the auction service publishes when an auction ends
// with a winner.
type Closed struct {
	AuctionID  string          `json:"auction_id"`
	ProductID  string          `json:"product_id"`
	SellerID   string          `json:"seller_id"`
	BuyerID    string          `json:"buyer_id"`
	FinalPrice decimal.Decimal `json:"final_price"`
	ClosedAt   time.Time       `json:"closed_at"`
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, cmd command.CreateOrder) (*order.Order, error)
}

type OrderLookup interface {
	Get(ctx context.Context, orderID string) (*order.Order, error)
}

// Intake opens one order per closed auction. The auction id doubles as the
// order id, so a redelivered message finds its order already there.
type Intake struct {
	orders OrderCreator
	lookup OrderLookup
	logger *slog.Logger
}

func NewIntake(orders OrderCreator, lookup OrderLookup, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		orders: orders,
		lookup: lookup,
		logger: logger.With("component", "auction-intake"),
	}
}

// HandleMessage is the Kafka message handler for the auction-closed topic.
func (in *Intake) HandleMessage(ctx context.Context, key, value []byte) error {
	var msg Closed
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("decode auction-closed %s: %w", string(key), err)
	}
	return in.Handle(ctx, msg)
}

func (in *Intake) Handle(ctx context.Context, msg Closed) error {
	if msg.AuctionID == "" {
		return fmt.Errorf("%w: auction id is required", order.ErrValidationFailed)
	}

	o, err := in.orders.CreateOrder(ctx, command.CreateOrder{
		OrderID:    msg.AuctionID,
		ProductID:  msg.ProductID,
		SellerID:   msg.SellerID,
		BuyerID:    msg.BuyerID,
		FinalPrice: msg.FinalPrice.String(),
	})
	if err == nil {
		in.logger.InfoContext(ctx, "order opened for closed auction",
			"auction_id", msg.AuctionID,
			"order_id", o.ID,
			"product_id", o.ProductID,
		)
		return nil
	}

	if errors.Is(err, order.ErrOrderExists) || errors.Is(err, order.ErrConcurrencyConflict) {
		existing, lookupErr := in.lookup.Get(ctx, msg.AuctionID)
		if lookupErr == nil && existing.ProductID == msg.ProductID {
			in.logger.InfoContext(ctx, "auction already handed off",
				"auction_id", msg.AuctionID,
				"status", existing.Status,
			)
			return nil
		}
	}

	in.logger.ErrorContext(ctx, "auction handoff failed",
		"auction_id", msg.AuctionID,
		"product_id", msg.ProductID,
		"error", err,
	)
	return err
}
