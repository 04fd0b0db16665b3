package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/auction-fulfillment/internal/domain/order"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/example/auction-fulfillment/internal/metrics"
	"github.com/example/auction-fulfillment/internal/readmodel"
)

// Projector keeps the per-participant order summaries in the read store.
// Events at or below a summary's version are ignored, so redelivery and
// replay are harmless.
type Projector struct {
	readStore store.ReadStoreInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewProjector(readStore store.ReadStoreInterface, m *metrics.Metrics, logger *slog.Logger) *Projector {
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		readStore: readStore,
		metrics:   m,
		logger:    logger.With("component", "projector"),
	}
}

// HandleEvent is the Kafka message handler.
func (p *Projector) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		p.metrics.EventsProjected.WithLabelValues("unknown", "error").Inc()
		return fmt.Errorf("decode event %s: %w", string(key), err)
	}
	return p.Project(ctx, event)
}

// Publish lets the projector stand in for a broker in single-process
// deployments.
func (p *Projector) Publish(ctx context.Context, _ string, event any) error {
	switch e := event.(type) {
	case store.Event:
		return p.Project(ctx, e)
	case *store.Event:
		return p.Project(ctx, *e)
	}
	return fmt.Errorf("projector cannot publish %T", event)
}

func (p *Projector) Project(ctx context.Context, event store.Event) error {
	if event.AggregateType != order.AggregateType {
		return nil
	}

	outcome := "ok"
	err := p.handleOrderEvent(ctx, event)
	if err != nil {
		outcome = "error"
		p.logger.ErrorContext(ctx, "projection failed",
			"order_id", event.AggregateID,
			"event_type", event.EventType,
			"version", event.Version,
			"error", err,
		)
	}
	p.metrics.EventsProjected.WithLabelValues(event.EventType, outcome).Inc()
	return err
}

func (p *Projector) handleOrderEvent(ctx context.Context, event store.Event) error {
	switch event.EventType {
	case order.EventOrderCreated:
		var e order.OrderCreated
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		_, exists, err := p.readStore.GetOrder(ctx, event.AggregateID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		return p.readStore.UpsertOrder(ctx, &readmodel.OrderReadModel{
			ID:         e.OrderID,
			ProductID:  e.ProductID,
			SellerID:   e.SellerID,
			BuyerID:    e.BuyerID,
			FinalPrice: e.FinalPrice.String(),
			Status:     string(order.StatusAwaitingPaymentEvidence),
			Version:    event.Version,
			CreatedAt:  e.CreatedAt,
			UpdatedAt:  e.CreatedAt,
		})

	case order.EventPaymentEvidenceSubmitted:
		var e order.PaymentEvidenceSubmitted
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return p.update(ctx, event, e.SubmittedAt, func(o *readmodel.OrderReadModel) {
			o.Status = string(order.StatusAwaitingShipmentConfirmation)
		})

	case order.EventShipmentConfirmed:
		var e order.ShipmentConfirmed
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return p.update(ctx, event, e.ShippedAt, func(o *readmodel.OrderReadModel) {
			o.Status = string(order.StatusAwaitingDeliveryConfirmation)
			o.TrackingReference = e.TrackingReference
		})

	case order.EventDeliveryConfirmed:
		var e order.DeliveryConfirmed
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return p.update(ctx, event, e.DeliveredAt, func(o *readmodel.OrderReadModel) {
			o.Status = string(order.StatusCompleted)
		})

	case order.EventOrderCancelled:
		var e order.OrderCancelled
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return p.update(ctx, event, e.CancelledAt, func(o *readmodel.OrderReadModel) {
			o.Status = string(order.StatusCancelled)
			o.CancellationReason = e.Reason
		})

	case order.EventRatingSubmitted:
		var e order.RatingSubmitted
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return p.update(ctx, event, e.SubmittedAt, func(o *readmodel.OrderReadModel) {
			switch e.RatedUserID {
			case o.SellerID:
				o.SellerRating = string(e.Value)
			case o.BuyerID:
				o.BuyerRating = string(e.Value)
			}
		})
	}

	p.logger.DebugContext(ctx, "ignoring event", "event_type", event.EventType)
	return nil
}

func (p *Projector) update(ctx context.Context, event store.Event, at time.Time, apply func(o *readmodel.OrderReadModel)) error {
	found, err := p.readStore.UpdateOrder(ctx, event.AggregateID, func(o *readmodel.OrderReadModel) {
		if event.Version <= o.Version {
			return
		}
		apply(o)
		o.Version = event.Version
		o.UpdatedAt = at
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("order %s has no summary yet for %s v%d", event.AggregateID, event.EventType, event.Version)
	}
	return nil
}
