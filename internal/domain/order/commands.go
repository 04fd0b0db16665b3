package order

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/google/uuid"
)

const (
	MaxReferenceLength = 500
	MaxReasonLength    = 1000
)

// Command is one transition request. Each variant names exactly one
// transition of the order state machine.
type Command interface {
	Name() string
	isCommand()
}

type SubmitPaymentEvidence struct {
	ProofRef        string
	DeliveryAddress string
}

type ConfirmShipment struct {
	TrackingReference string
}

type ConfirmDelivery struct{}

type Cancel struct {
	Reason string
}

type SubmitRating struct {
	Value   reputation.Value
	Comment string
}

func (SubmitPaymentEvidence) Name() string { return "submit_payment_evidence" }
func (ConfirmShipment) Name() string       { return "confirm_shipment" }
func (ConfirmDelivery) Name() string       { return "confirm_delivery" }
func (Cancel) Name() string                { return "cancel" }
func (SubmitRating) Name() string          { return "submit_rating" }

func (SubmitPaymentEvidence) isCommand() {}
func (ConfirmShipment) isCommand()       {}
func (ConfirmDelivery) isCommand()       {}
func (Cancel) isCommand()                {}
func (SubmitRating) isCommand()          {}

// Decision is everything one accepted command writes, committed as one unit.
type Decision struct {
	Events  []store.PendingEvent
	Ratings []reputation.RatingInput
	// Release frees the product for a new order.
	Release bool
}

// Decide checks a command against the order and returns its effects without
// mutating anything. Guards run in a fixed order: actor, write-once fields,
// state, then field validation.
func (o *Order) Decide(cmd Command, callerID string, now time.Time) (Decision, error) {
	actor := o.ActorOf(callerID)

	switch c := cmd.(type) {
	case SubmitPaymentEvidence:
		return o.decidePaymentEvidence(c, actor, now)
	case ConfirmShipment:
		return o.decideShipment(c, actor, now)
	case ConfirmDelivery:
		return o.decideDelivery(actor, now)
	case Cancel:
		return o.decideCancel(c, actor, now)
	case SubmitRating:
		return o.decideRating(c, actor, callerID, now)
	}
	return Decision{}, fmt.Errorf("%w: unsupported command %T", ErrValidationFailed, cmd)
}

func (o *Order) decidePaymentEvidence(c SubmitPaymentEvidence, actor Actor, now time.Time) (Decision, error) {
	if actor != ActorBuyer {
		return Decision{}, fmt.Errorf("%w: only the buyer can submit payment evidence", ErrForbidden)
	}
	if o.PaymentProofRef != "" || o.DeliveryAddress != "" {
		return Decision{}, fmt.Errorf("%w: payment evidence was already submitted", ErrAlreadySet)
	}
	if !o.CanTransitionTo(StatusAwaitingShipmentConfirmation) {
		return Decision{}, o.transitionError(StatusAwaitingShipmentConfirmation)
	}
	proof, err := requireText("payment proof reference", c.ProofRef, MaxReferenceLength)
	if err != nil {
		return Decision{}, err
	}
	address, err := requireText("delivery address", c.DeliveryAddress, MaxReferenceLength)
	if err != nil {
		return Decision{}, err
	}

	return Decision{Events: []store.PendingEvent{{
		EventType: EventPaymentEvidenceSubmitted,
		Data: PaymentEvidenceSubmitted{
			OrderID:         o.ID,
			BuyerID:         o.BuyerID,
			ProofRef:        proof,
			DeliveryAddress: address,
			SubmittedAt:     now,
		},
	}}}, nil
}

func (o *Order) decideShipment(c ConfirmShipment, actor Actor, now time.Time) (Decision, error) {
	if actor != ActorSeller {
		return Decision{}, fmt.Errorf("%w: only the seller can confirm shipment", ErrForbidden)
	}
	if o.TrackingReference != "" {
		return Decision{}, fmt.Errorf("%w: tracking reference was already provided", ErrAlreadySet)
	}
	if !o.CanTransitionTo(StatusAwaitingDeliveryConfirmation) {
		return Decision{}, o.transitionError(StatusAwaitingDeliveryConfirmation)
	}
	tracking, err := requireText("tracking reference", c.TrackingReference, MaxReferenceLength)
	if err != nil {
		return Decision{}, err
	}

	return Decision{Events: []store.PendingEvent{{
		EventType: EventShipmentConfirmed,
		Data: ShipmentConfirmed{
			OrderID:           o.ID,
			SellerID:          o.SellerID,
			TrackingReference: tracking,
			ShippedAt:         now,
		},
	}}}, nil
}

func (o *Order) decideDelivery(actor Actor, now time.Time) (Decision, error) {
	if actor != ActorBuyer {
		return Decision{}, fmt.Errorf("%w: only the buyer can confirm delivery", ErrForbidden)
	}
	if !o.CanTransitionTo(StatusCompleted) {
		return Decision{}, o.transitionError(StatusCompleted)
	}

	return Decision{Events: []store.PendingEvent{{
		EventType: EventDeliveryConfirmed,
		Data: DeliveryConfirmed{
			OrderID:     o.ID,
			BuyerID:     o.BuyerID,
			DeliveredAt: now,
		},
	}}}, nil
}

// decideCancel penalizes the buyer in the same unit as the status change.
func (o *Order) decideCancel(c Cancel, actor Actor, now time.Time) (Decision, error) {
	if actor != ActorSeller {
		return Decision{}, fmt.Errorf("%w: only the seller can cancel an order", ErrForbidden)
	}
	if !o.CanTransitionTo(StatusCancelled) {
		return Decision{}, o.transitionError(StatusCancelled)
	}
	reason, err := requireText("cancellation reason", c.Reason, MaxReasonLength)
	if err != nil {
		return Decision{}, err
	}

	penalty := reputation.RatingInput{
		ID:          uuid.New().String(),
		RaterID:     o.SellerID,
		RatedUserID: o.BuyerID,
		OrderID:     o.ID,
		ProductID:   o.ProductID,
		Value:       reputation.Negative,
		Comment:     reason,
		System:      true,
		CreatedAt:   now,
	}

	return Decision{
		Events: []store.PendingEvent{
			{
				EventType: EventOrderCancelled,
				Data: OrderCancelled{
					OrderID:     o.ID,
					SellerID:    o.SellerID,
					ProductID:   o.ProductID,
					Reason:      reason,
					CancelledAt: now,
				},
			},
			ratingEvent(penalty),
		},
		Ratings: []reputation.RatingInput{penalty},
		Release: true,
	}, nil
}

func (o *Order) decideRating(c SubmitRating, actor Actor, callerID string, now time.Time) (Decision, error) {
	if actor == ActorNone {
		return Decision{}, fmt.Errorf("%w: only the buyer or the seller can rate this order", ErrForbidden)
	}
	if o.ratingFieldFor(actor) != "" {
		return Decision{}, ErrAlreadyRated
	}
	switch o.Status {
	case StatusCompleted:
	case StatusCancelled:
		return Decision{}, ErrOrderCancelled
	default:
		return Decision{}, ErrRatingNotOpen
	}
	if !c.Value.Valid() {
		return Decision{}, fmt.Errorf("%w: rating must be %q or %q", ErrValidationFailed, reputation.Positive, reputation.Negative)
	}
	comment := strings.TrimSpace(c.Comment)
	if utf8.RuneCountInString(comment) > MaxReasonLength {
		return Decision{}, fmt.Errorf("%w: comment exceeds %d characters", ErrValidationFailed, MaxReasonLength)
	}

	in := reputation.RatingInput{
		ID:          uuid.New().String(),
		RaterID:     callerID,
		RatedUserID: o.Counterparty(callerID),
		OrderID:     o.ID,
		ProductID:   o.ProductID,
		Value:       c.Value,
		Comment:     comment,
		CreatedAt:   now,
	}
	return Decision{
		Events:  []store.PendingEvent{ratingEvent(in)},
		Ratings: []reputation.RatingInput{in},
	}, nil
}

func ratingEvent(in reputation.RatingInput) store.PendingEvent {
	return store.PendingEvent{
		EventType: EventRatingSubmitted,
		Data: RatingSubmitted{
			OrderID:     in.OrderID,
			RatingID:    in.ID,
			RaterID:     in.RaterID,
			RatedUserID: in.RatedUserID,
			Value:       in.Value,
			Comment:     in.Comment,
			System:      in.System,
			SubmittedAt: in.CreatedAt,
		},
	}
}

func requireText(field, value string, max int) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrValidationFailed, field)
	}
	if utf8.RuneCountInString(v) > max {
		return "", fmt.Errorf("%w: %s exceeds %d characters", ErrValidationFailed, field, max)
	}
	return v, nil
}
