package order

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func orderIn(status Status) *Order {
	o := &Order{
		ID:        "order-1",
		ProductID: "P1",
		SellerID:  "S",
		BuyerID:   "B",
		Status:    status,
		Version:   1,
	}
	if status != StatusAwaitingPaymentEvidence {
		o.PaymentProofRef = "proof-1"
		o.DeliveryAddress = "123 Main St"
	}
	if status == StatusAwaitingDeliveryConfirmation || status == StatusCompleted {
		o.TrackingReference = "TRACK-1"
	}
	return o
}

// applyDecision replays a decision's events the way the service does.
func applyDecision(t *testing.T, o *Order, d Decision) *Order {
	t.Helper()
	out := o.clone()
	for i, pe := range d.Events {
		data, err := json.Marshal(pe.Data)
		require.NoError(t, err)
		require.NoError(t, out.ApplyEvent(store.Event{
			EventType: pe.EventType,
			Data:      data,
			Version:   o.Version + i + 1,
		}))
	}
	return out
}

// ============================================
// Transition Table Tests
// ============================================

func TestOrder_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from   Status
		to     Status
		expect bool
	}{
		{StatusAwaitingPaymentEvidence, StatusAwaitingShipmentConfirmation, true},
		{StatusAwaitingPaymentEvidence, StatusCancelled, true},
		{StatusAwaitingPaymentEvidence, StatusCompleted, false},
		{StatusAwaitingShipmentConfirmation, StatusAwaitingDeliveryConfirmation, true},
		{StatusAwaitingShipmentConfirmation, StatusCancelled, true},
		{StatusAwaitingDeliveryConfirmation, StatusCompleted, true},
		{StatusAwaitingDeliveryConfirmation, StatusCancelled, true},
		{StatusAwaitingDeliveryConfirmation, StatusAwaitingShipmentConfirmation, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusAwaitingPaymentEvidence, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			o := &Order{Status: tt.from}
			assert.Equal(t, tt.expect, o.CanTransitionTo(tt.to))
		})
	}
}

// ============================================
// Decide Tests
// ============================================

func TestDecide_HappyPath(t *testing.T) {
	o := orderIn(StatusAwaitingPaymentEvidence)

	d, err := o.Decide(SubmitPaymentEvidence{ProofRef: " proof-1 ", DeliveryAddress: "123 Main St"}, "B", testNow)
	require.NoError(t, err)
	o = applyDecision(t, o, d)
	assert.Equal(t, StatusAwaitingShipmentConfirmation, o.Status)
	assert.Equal(t, "proof-1", o.PaymentProofRef)
	assert.Equal(t, "123 Main St", o.DeliveryAddress)

	d, err = o.Decide(ConfirmShipment{TrackingReference: "TRACK-1"}, "S", testNow)
	require.NoError(t, err)
	o = applyDecision(t, o, d)
	assert.Equal(t, StatusAwaitingDeliveryConfirmation, o.Status)
	assert.Equal(t, "TRACK-1", o.TrackingReference)

	d, err = o.Decide(ConfirmDelivery{}, "B", testNow)
	require.NoError(t, err)
	o = applyDecision(t, o, d)
	assert.Equal(t, StatusCompleted, o.Status)
	require.NotNil(t, o.DeliveredAt)
	assert.Empty(t, d.Ratings)
}

func TestDecide_Guards(t *testing.T) {
	completedRated := orderIn(StatusCompleted)
	completedRated.SellerRating = reputation.Positive

	cancelled := orderIn(StatusAwaitingShipmentConfirmation)
	cancelled.Status = StatusCancelled
	cancelled.BuyerRating = reputation.Negative

	tests := []struct {
		name   string
		order  *Order
		cmd    Command
		caller string
		want   error
	}{
		{"stranger submits evidence", orderIn(StatusAwaitingPaymentEvidence), SubmitPaymentEvidence{ProofRef: "p", DeliveryAddress: "a"}, "X", ErrForbidden},
		{"seller submits evidence", orderIn(StatusAwaitingPaymentEvidence), SubmitPaymentEvidence{ProofRef: "p", DeliveryAddress: "a"}, "S", ErrForbidden},
		{"evidence twice", orderIn(StatusAwaitingShipmentConfirmation), SubmitPaymentEvidence{ProofRef: "p", DeliveryAddress: "a"}, "B", ErrAlreadySet},
		{"evidence missing address", orderIn(StatusAwaitingPaymentEvidence), SubmitPaymentEvidence{ProofRef: "p", DeliveryAddress: "  "}, "B", ErrValidationFailed},
		{"evidence too long", orderIn(StatusAwaitingPaymentEvidence), SubmitPaymentEvidence{ProofRef: strings.Repeat("p", MaxReferenceLength+1), DeliveryAddress: "a"}, "B", ErrValidationFailed},
		{"buyer confirms shipment", orderIn(StatusAwaitingShipmentConfirmation), ConfirmShipment{TrackingReference: "t"}, "B", ErrForbidden},
		{"shipment before payment", orderIn(StatusAwaitingPaymentEvidence), ConfirmShipment{TrackingReference: "t"}, "S", ErrInvalidTransition},
		{"shipment twice", orderIn(StatusAwaitingDeliveryConfirmation), ConfirmShipment{TrackingReference: "t"}, "S", ErrAlreadySet},
		{"shipment empty tracking", orderIn(StatusAwaitingShipmentConfirmation), ConfirmShipment{TrackingReference: ""}, "S", ErrValidationFailed},
		{"seller confirms delivery", orderIn(StatusAwaitingDeliveryConfirmation), ConfirmDelivery{}, "S", ErrForbidden},
		{"delivery before shipment", orderIn(StatusAwaitingShipmentConfirmation), ConfirmDelivery{}, "B", ErrInvalidTransition},
		{"delivery after completion", orderIn(StatusCompleted), ConfirmDelivery{}, "B", ErrOrderCompleted},
		{"buyer cancels", orderIn(StatusAwaitingPaymentEvidence), Cancel{Reason: "r"}, "B", ErrForbidden},
		{"cancel completed", orderIn(StatusCompleted), Cancel{Reason: "r"}, "S", ErrOrderCompleted},
		{"cancel twice", cancelled, Cancel{Reason: "r"}, "S", ErrOrderCancelled},
		{"cancel blank reason", orderIn(StatusAwaitingPaymentEvidence), Cancel{Reason: " "}, "S", ErrValidationFailed},
		{"stranger rates", orderIn(StatusCompleted), SubmitRating{Value: reputation.Positive}, "X", ErrForbidden},
		{"rate before completion", orderIn(StatusAwaitingDeliveryConfirmation), SubmitRating{Value: reputation.Positive}, "B", ErrRatingNotOpen},
		{"buyer rates twice", completedRated, SubmitRating{Value: reputation.Negative}, "B", ErrAlreadyRated},
		{"seller rates cancelled", cancelled, SubmitRating{Value: reputation.Positive}, "S", ErrAlreadyRated},
		{"buyer rates cancelled", cancelled, SubmitRating{Value: reputation.Positive}, "B", ErrOrderCancelled},
		{"bad rating value", orderIn(StatusCompleted), SubmitRating{Value: "meh"}, "B", ErrValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := *tt.order
			_, err := tt.order.Decide(tt.cmd, tt.caller, testNow)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, *tt.order)
		})
	}
}

func TestDecide_ActorCheckedBeforeState(t *testing.T) {
	// Wrong actor on a terminal order still reports Forbidden.
	o := orderIn(StatusCompleted)
	_, err := o.Decide(ConfirmShipment{TrackingReference: "t"}, "B", testNow)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrInvalidTransition)
}

func TestDecide_CancelPenalizesBuyer(t *testing.T) {
	for _, status := range []Status{
		StatusAwaitingPaymentEvidence,
		StatusAwaitingShipmentConfirmation,
		StatusAwaitingDeliveryConfirmation,
	} {
		t.Run(string(status), func(t *testing.T) {
			o := orderIn(status)

			d, err := o.Decide(Cancel{Reason: "non-payment"}, "S", testNow)
			require.NoError(t, err)

			require.Len(t, d.Ratings, 1)
			penalty := d.Ratings[0]
			assert.Equal(t, "S", penalty.RaterID)
			assert.Equal(t, "B", penalty.RatedUserID)
			assert.Equal(t, reputation.Negative, penalty.Value)
			assert.Equal(t, "non-payment", penalty.Comment)
			assert.True(t, penalty.System)
			assert.True(t, d.Release)

			require.Len(t, d.Events, 2)
			assert.Equal(t, EventOrderCancelled, d.Events[0].EventType)
			assert.Equal(t, EventRatingSubmitted, d.Events[1].EventType)

			cancelled := applyDecision(t, o, d)
			assert.Equal(t, StatusCancelled, cancelled.Status)
			assert.Equal(t, "non-payment", cancelled.CancellationReason)
			assert.Equal(t, reputation.Negative, cancelled.BuyerRating)
			assert.Equal(t, "non-payment", cancelled.BuyerComment)
			assert.Empty(t, cancelled.SellerRating)
		})
	}
}

func TestDecide_RatingFieldOwnership(t *testing.T) {
	o := orderIn(StatusCompleted)

	d, err := o.Decide(SubmitRating{Value: reputation.Positive, Comment: "great buyer"}, "S", testNow)
	require.NoError(t, err)
	require.Len(t, d.Ratings, 1)
	assert.Equal(t, "B", d.Ratings[0].RatedUserID)

	o = applyDecision(t, o, d)
	assert.Equal(t, reputation.Positive, o.BuyerRating)
	assert.Equal(t, "great buyer", o.BuyerComment)
	assert.Empty(t, o.SellerRating)
	assert.Equal(t, StatusCompleted, o.Status)

	d, err = o.Decide(SubmitRating{Value: reputation.Negative, Comment: "slow shipping"}, "B", testNow)
	require.NoError(t, err)
	o = applyDecision(t, o, d)
	assert.Equal(t, reputation.Negative, o.SellerRating)
	assert.Equal(t, "slow shipping", o.SellerComment)
	assert.Equal(t, reputation.Positive, o.BuyerRating)
}

// ============================================
// ApplyEvent Tests
// ============================================

func TestOrder_ApplyEventUnknownType(t *testing.T) {
	o := &Order{}
	err := o.ApplyEvent(store.Event{EventType: "Bogus", Data: []byte(`{}`)})
	assert.Error(t, err)
}

func TestOrder_ApplyEventTracksVersionAndUpdatedAt(t *testing.T) {
	o := orderIn(StatusAwaitingShipmentConfirmation)
	data, err := json.Marshal(ShipmentConfirmed{OrderID: o.ID, TrackingReference: "T", ShippedAt: testNow})
	require.NoError(t, err)

	require.NoError(t, o.ApplyEvent(store.Event{EventType: EventShipmentConfirmed, Data: data, Version: 7}))
	assert.Equal(t, 7, o.Version)
	assert.True(t, o.UpdatedAt.Equal(testNow))
}
