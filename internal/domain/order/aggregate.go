package order

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

type Status string

const (
	StatusAwaitingPaymentEvidence      Status = "awaiting_payment_evidence"
	StatusAwaitingShipmentConfirmation Status = "awaiting_shipment_confirmation"
	StatusAwaitingDeliveryConfirmation Status = "awaiting_delivery_confirmation"
	StatusCompleted                    Status = "completed"
	StatusCancelled                    Status = "cancelled"
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusAwaitingPaymentEvidence:      {StatusAwaitingShipmentConfirmation, StatusCancelled},
	StatusAwaitingShipmentConfirmation: {StatusAwaitingDeliveryConfirmation, StatusCancelled},
	StatusAwaitingDeliveryConfirmation: {StatusCompleted, StatusCancelled},
	StatusCompleted:                    {}, // terminal state
	StatusCancelled:                    {}, // terminal state
}

// Terminal reports whether no further status change is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Actor is the role a caller plays on one order.
type Actor string

const (
	ActorNone   Actor = ""
	ActorBuyer  Actor = "buyer"
	ActorSeller Actor = "seller"
)

type Order struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	SellerID   string          `json:"seller_id"`
	BuyerID    string          `json:"buyer_id"`
	FinalPrice decimal.Decimal `json:"final_price"`
	Status     Status          `json:"status"`

	PaymentProofRef   string `json:"payment_proof_ref,omitempty"`
	DeliveryAddress   string `json:"delivery_address,omitempty"`
	TrackingReference string `json:"tracking_reference,omitempty"`

	// SellerRating is the rating the seller received from the buyer.
	SellerRating  reputation.Value `json:"seller_rating,omitempty"`
	SellerComment string           `json:"seller_comment,omitempty"`
	// BuyerRating is the rating the buyer received, from the seller or from
	// the cancellation penalty.
	BuyerRating  reputation.Value `json:"buyer_rating,omitempty"`
	BuyerComment string           `json:"buyer_comment,omitempty"`

	CancellationReason string `json:"cancellation_reason,omitempty"`

	PaymentSubmittedAt *time.Time `json:"payment_submitted_at,omitempty"`
	ShippedAt          *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Version            int        `json:"version"` // Current event version
}

// Aggregate interface implementation
func (o *Order) GetID() string    { return o.ID }
func (o *Order) GetVersion() int  { return o.Version }
func (o *Order) SetVersion(v int) { o.Version = v }

// ActorOf returns the role userID plays on this order.
func (o *Order) ActorOf(userID string) Actor {
	switch {
	case userID == "":
		return ActorNone
	case userID == o.BuyerID:
		return ActorBuyer
	case userID == o.SellerID:
		return ActorSeller
	}
	return ActorNone
}

// Counterparty returns the other participant of the order.
func (o *Order) Counterparty(userID string) string {
	if userID == o.BuyerID {
		return o.SellerID
	}
	return o.BuyerID
}

// ratingFieldFor returns the rating the caller writes: the counterparty's
// received-rating field.
func (o *Order) ratingFieldFor(actor Actor) reputation.Value {
	if actor == ActorBuyer {
		return o.SellerRating
	}
	return o.BuyerRating
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[o.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// transitionError returns an appropriate error for an invalid transition
func (o *Order) transitionError(target Status) error {
	switch o.Status {
	case StatusCancelled:
		return ErrOrderCancelled
	case StatusCompleted:
		return ErrOrderCompleted
	}
	return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidTransition, o.Status, target)
}

func (o *Order) clone() *Order {
	cp := *o
	return &cp
}

// ApplyEvent applies a single event to the order state (implements aggregate.Aggregate)
func (o *Order) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventOrderCreated:
		var data OrderCreated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.ID = data.OrderID
		o.ProductID = data.ProductID
		o.SellerID = data.SellerID
		o.BuyerID = data.BuyerID
		o.FinalPrice = data.FinalPrice
		o.Status = StatusAwaitingPaymentEvidence
		o.CreatedAt = data.CreatedAt
		o.UpdatedAt = data.CreatedAt
	case EventPaymentEvidenceSubmitted:
		var data PaymentEvidenceSubmitted
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.PaymentProofRef = data.ProofRef
		o.DeliveryAddress = data.DeliveryAddress
		o.Status = StatusAwaitingShipmentConfirmation
		o.PaymentSubmittedAt = &data.SubmittedAt
		o.UpdatedAt = data.SubmittedAt
	case EventShipmentConfirmed:
		var data ShipmentConfirmed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.TrackingReference = data.TrackingReference
		o.Status = StatusAwaitingDeliveryConfirmation
		o.ShippedAt = &data.ShippedAt
		o.UpdatedAt = data.ShippedAt
	case EventDeliveryConfirmed:
		var data DeliveryConfirmed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusCompleted
		o.DeliveredAt = &data.DeliveredAt
		o.UpdatedAt = data.DeliveredAt
	case EventOrderCancelled:
		var data OrderCancelled
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusCancelled
		o.CancellationReason = data.Reason
		o.CancelledAt = &data.CancelledAt
		o.UpdatedAt = data.CancelledAt
	case EventRatingSubmitted:
		var data RatingSubmitted
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		if data.RatedUserID == o.BuyerID {
			o.BuyerRating = data.Value
			o.BuyerComment = data.Comment
		} else {
			o.SellerRating = data.Value
			o.SellerComment = data.Comment
		}
		o.UpdatedAt = data.SubmittedAt
	default:
		return fmt.Errorf("unknown order event type %q", event.EventType)
	}
	o.Version = event.Version
	return nil
}
