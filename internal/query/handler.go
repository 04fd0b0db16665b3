package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/auction-fulfillment/internal/domain/order"
	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Viewer is the caller of a read that is restricted to participants.
type Viewer struct {
	UserID string
	Admin  bool
}

type Handler struct {
	orderSvc  *order.Service
	ledger    *reputation.Ledger
	readStore store.ReadStoreInterface
	logger    *slog.Logger
}

func NewHandler(orderSvc *order.Service, ledger *reputation.Ledger, readStore store.ReadStoreInterface, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orderSvc:  orderSvc,
		ledger:    ledger,
		readStore: readStore,
		logger:    logger.With("component", "query"),
	}
}

// Orders

// GetOrder reads the committed order straight from the event log.
func (h *Handler) GetOrder(ctx context.Context, orderID string, viewer Viewer) (*order.Order, error) {
	o, err := h.orderSvc.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return authorize(o, viewer)
}

func (h *Handler) GetOrderByProduct(ctx context.Context, productID string, viewer Viewer) (*order.Order, error) {
	o, err := h.orderSvc.GetByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return authorize(o, viewer)
}

func authorize(o *order.Order, viewer Viewer) (*order.Order, error) {
	if viewer.Admin || o.ActorOf(viewer.UserID) != order.ActorNone {
		return o, nil
	}
	return nil, fmt.Errorf("%w: only the buyer or the seller can view this order", order.ErrForbidden)
}

// ListOrdersForUser returns the projected summaries of the user's orders.
// The projection may lag the event log by a few events.
func (h *Handler) ListOrdersForUser(ctx context.Context, userID string) ([]*OrderReadModel, error) {
	orders, err := h.readStore.ListOrdersByUser(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "list orders failed", "user_id", userID, "error", err)
		return nil, err
	}
	if orders == nil {
		orders = []*OrderReadModel{}
	}
	return orders, nil
}

// Reputation

func (h *Handler) GetReputation(ctx context.Context, userID string) (reputation.Aggregate, error) {
	return h.ledger.GetAggregate(ctx, userID)
}

func (h *Handler) ListRatingsReceived(ctx context.Context, userID string, limit int) ([]reputation.Rating, error) {
	return reputation.Collect(h.ledger.RatingsReceived(ctx, userID), clampLimit(limit))
}

func (h *Handler) ListRatingsGiven(ctx context.Context, userID string, limit int) ([]reputation.Rating, error) {
	return reputation.Collect(h.ledger.RatingsGiven(ctx, userID), clampLimit(limit))
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
