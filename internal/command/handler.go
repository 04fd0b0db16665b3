package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/auction-fulfillment/internal/domain/order"
	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/example/auction-fulfillment/internal/metrics"
	"github.com/shopspring/decimal"
)

type Handler struct {
	orderSvc *order.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewHandler(orderSvc *order.Service, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orderSvc: orderSvc,
		metrics:  m,
		logger:   logger.With("component", "command"),
	}
}

// CreateOrder opens an order from an auction handoff
func (h *Handler) CreateOrder(ctx context.Context, cmd CreateOrder) (*order.Order, error) {
	price := decimal.Zero
	if s := strings.TrimSpace(cmd.FinalPrice); s != "" {
		p, err := decimal.NewFromString(s)
		if err != nil {
			err = fmt.Errorf("%w: final price %q is not a decimal", order.ErrValidationFailed, cmd.FinalPrice)
			h.record("create_order", err)
			return nil, err
		}
		price = p
	}

	o, err := h.orderSvc.Create(ctx, order.Handoff{
		OrderID:    cmd.OrderID,
		ProductID:  cmd.ProductID,
		SellerID:   cmd.SellerID,
		BuyerID:    cmd.BuyerID,
		FinalPrice: price,
	})
	h.record("create_order", err)
	if err != nil {
		return nil, err
	}
	h.metrics.OrdersCreated.Inc()
	return o, nil
}

// SubmitPaymentEvidence stores the buyer's proof of payment and address
func (h *Handler) SubmitPaymentEvidence(ctx context.Context, cmd SubmitPaymentEvidence) (*order.Order, error) {
	return h.execute(ctx, cmd.OrderID, cmd.CallerID, order.SubmitPaymentEvidence{
		ProofRef:        cmd.ProofRef,
		DeliveryAddress: cmd.DeliveryAddress,
	})
}

// ConfirmShipment records the seller's tracking reference
func (h *Handler) ConfirmShipment(ctx context.Context, cmd ConfirmShipment) (*order.Order, error) {
	return h.execute(ctx, cmd.OrderID, cmd.CallerID, order.ConfirmShipment{
		TrackingReference: cmd.TrackingReference,
	})
}

// ConfirmDelivery completes the order
func (h *Handler) ConfirmDelivery(ctx context.Context, cmd ConfirmDelivery) (*order.Order, error) {
	return h.execute(ctx, cmd.OrderID, cmd.CallerID, order.ConfirmDelivery{})
}

// CancelOrder cancels the order and records the buyer penalty
func (h *Handler) CancelOrder(ctx context.Context, cmd CancelOrder) (*order.Order, error) {
	o, err := h.execute(ctx, cmd.OrderID, cmd.CallerID, order.Cancel{Reason: cmd.Reason})
	if err == nil {
		h.metrics.RatingsRecorded.WithLabelValues(string(reputation.Negative), "true").Inc()
	}
	return o, err
}

// SubmitRating rates the counterparty of a completed order
func (h *Handler) SubmitRating(ctx context.Context, cmd SubmitRating) (*order.Order, error) {
	value, err := reputation.ParseValue(cmd.Value)
	if err != nil {
		err = fmt.Errorf("%w: %v", order.ErrValidationFailed, err)
		h.record("submit_rating", err)
		return nil, err
	}
	o, err := h.execute(ctx, cmd.OrderID, cmd.CallerID, order.SubmitRating{
		Value:   value,
		Comment: cmd.Comment,
	})
	if err == nil {
		h.metrics.RatingsRecorded.WithLabelValues(string(value), "false").Inc()
	}
	return o, err
}

func (h *Handler) execute(ctx context.Context, orderID, callerID string, cmd order.Command) (*order.Order, error) {
	o, err := h.orderSvc.Execute(ctx, orderID, callerID, cmd)
	h.record(cmd.Name(), err)
	if err != nil && !order.IsDomainError(err) {
		h.logger.ErrorContext(ctx, "order command failed",
			"order_id", orderID,
			"command", cmd.Name(),
			"error", err,
		)
	}
	return o, err
}

func (h *Handler) record(command string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case order.IsDomainError(err):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	h.metrics.Commands.WithLabelValues(command, outcome).Inc()
}
