package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/example/auction-fulfillment/internal/infrastructure/lock"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/example/auction-fulfillment/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrderService() (*Service, *mocks.MockEventStore, *reputation.Ledger) {
	eventStore := mocks.NewMockEventStore()
	ledger := reputation.NewLedger(eventStore, 10)
	service := NewService(eventStore, ledger, lock.NewMemoryManager(), nil, 0)
	return service, eventStore, ledger
}

func createTestOrder(t *testing.T, s *Service) *Order {
	t.Helper()
	o, err := s.Create(context.Background(), Handoff{
		ProductID:  "P1",
		SellerID:   "S",
		BuyerID:    "B",
		FinalPrice: decimal.RequireFromString("125.50"),
	})
	require.NoError(t, err)
	return o
}

func completeTestOrder(t *testing.T, s *Service) *Order {
	t.Helper()
	ctx := context.Background()
	o := createTestOrder(t, s)

	_, err := s.Execute(ctx, o.ID, "B", SubmitPaymentEvidence{ProofRef: "proof-1", DeliveryAddress: "123 Main St"})
	require.NoError(t, err)
	_, err = s.Execute(ctx, o.ID, "S", ConfirmShipment{TrackingReference: "TRACK-1"})
	require.NoError(t, err)
	o, err = s.Execute(ctx, o.ID, "B", ConfirmDelivery{})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, o.Status)
	return o
}

// ============================================
// Create Tests
// ============================================

func TestService_Create_Success(t *testing.T) {
	service, eventStore, _ := newTestOrderService()

	o := createTestOrder(t, service)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusAwaitingPaymentEvidence, o.Status)
	assert.Equal(t, "P1", o.ProductID)
	assert.True(t, decimal.RequireFromString("125.5").Equal(o.FinalPrice))
	assert.Equal(t, 1, o.Version)

	commits := eventStore.Commits()
	require.Len(t, commits, 1)
	assert.Equal(t, "P1", commits[0].ClaimProduct)
	assert.Equal(t, EventOrderCreated, commits[0].Events[0].EventType)
}

func TestService_Create_Validation(t *testing.T) {
	service, eventStore, _ := newTestOrderService()
	ctx := context.Background()

	tests := []struct {
		name    string
		handoff Handoff
	}{
		{"missing product", Handoff{SellerID: "S", BuyerID: "B"}},
		{"missing buyer", Handoff{ProductID: "P1", SellerID: "S"}},
		{"same party", Handoff{ProductID: "P1", SellerID: "S", BuyerID: "S"}},
		{"negative price", Handoff{ProductID: "P1", SellerID: "S", BuyerID: "B", FinalPrice: decimal.NewFromInt(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(ctx, tt.handoff)
			assert.ErrorIs(t, err, ErrValidationFailed)
		})
	}
	assert.Empty(t, eventStore.Commits())
}

func TestService_Create_OneActiveOrderPerProduct(t *testing.T) {
	service, _, _ := newTestOrderService()
	ctx := context.Background()
	first := createTestOrder(t, service)

	_, err := service.Create(ctx, Handoff{ProductID: "P1", SellerID: "S", BuyerID: "B2"})
	assert.ErrorIs(t, err, ErrOrderExists)

	_, err = service.Execute(ctx, first.ID, "S", Cancel{Reason: "non-payment"})
	require.NoError(t, err)

	second, err := service.Create(ctx, Handoff{ProductID: "P1", SellerID: "S", BuyerID: "B2"})
	require.NoError(t, err)

	byProduct, err := service.GetByProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, byProduct.ID)
}

// ============================================
// Lifecycle Tests
// ============================================

func TestService_PaymentEvidenceAdvancesOrder(t *testing.T) {
	service, _, _ := newTestOrderService()
	o := createTestOrder(t, service)

	updated, err := service.Execute(context.Background(), o.ID, "B", SubmitPaymentEvidence{ProofRef: "proof-1", DeliveryAddress: "123 Main St"})
	require.NoError(t, err)

	assert.Equal(t, StatusAwaitingShipmentConfirmation, updated.Status)
	assert.Equal(t, "proof-1", updated.PaymentProofRef)
	assert.Equal(t, "123 Main St", updated.DeliveryAddress)
	assert.True(t, !updated.UpdatedAt.Before(o.UpdatedAt))
}

func TestService_WrongActorForbidden(t *testing.T) {
	service, eventStore, _ := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)
	_, err := service.Execute(ctx, o.ID, "B", SubmitPaymentEvidence{ProofRef: "proof-1", DeliveryAddress: "123 Main St"})
	require.NoError(t, err)
	commitsBefore := len(eventStore.Commits())

	_, err = service.Execute(ctx, o.ID, "B", ConfirmShipment{TrackingReference: "TRACK-1"})
	assert.ErrorIs(t, err, ErrForbidden)

	current, err := service.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingShipmentConfirmation, current.Status)
	assert.Len(t, eventStore.Commits(), commitsBefore)
}

func TestService_CancelPenalizesBuyer(t *testing.T) {
	service, eventStore, ledger := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)
	_, err := service.Execute(ctx, o.ID, "B", SubmitPaymentEvidence{ProofRef: "proof-1", DeliveryAddress: "123 Main St"})
	require.NoError(t, err)

	before, err := ledger.GetAggregate(ctx, "B")
	require.NoError(t, err)

	cancelled, err := service.Execute(ctx, o.ID, "S", Cancel{Reason: "non-payment"})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "non-payment", cancelled.CancellationReason)
	assert.Equal(t, reputation.Negative, cancelled.BuyerRating)

	after, err := ledger.GetAggregate(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, before.NegativeCount+1, after.NegativeCount)

	received, err := reputation.Collect(ledger.RatingsReceived(ctx, "B"), 0)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "S", received[0].RaterID)
	assert.True(t, received[0].System)

	// The status change, the penalty and the claim release went out as one commit.
	commits := eventStore.Commits()
	last := commits[len(commits)-1]
	assert.Len(t, last.Events, 2)
	assert.Len(t, last.Ratings, 1)
	assert.Equal(t, "P1", last.ReleaseProduct)
}

func TestService_MutualRatingsFillReceivedFields(t *testing.T) {
	service, _, ledger := newTestOrderService()
	ctx := context.Background()
	o := completeTestOrder(t, service)

	afterSeller, err := service.Execute(ctx, o.ID, "S", SubmitRating{Value: reputation.Positive, Comment: "great buyer"})
	require.NoError(t, err)
	assert.Empty(t, afterSeller.SellerRating)
	assert.Equal(t, reputation.Positive, afterSeller.BuyerRating)

	afterBuyer, err := service.Execute(ctx, o.ID, "B", SubmitRating{Value: reputation.Negative, Comment: "slow shipping"})
	require.NoError(t, err)
	assert.Equal(t, reputation.Negative, afterBuyer.SellerRating)
	assert.Equal(t, StatusCompleted, afterBuyer.Status)

	sellerAgg, err := ledger.GetAggregate(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, reputation.Aggregate{UserID: "S", NegativeCount: 1, Total: 1}, sellerAgg)

	buyerAgg, err := ledger.GetAggregate(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, reputation.Aggregate{UserID: "B", PositiveCount: 1, Total: 1, PercentPositive: 1}, buyerAgg)

	_, err = service.Execute(ctx, o.ID, "B", SubmitRating{Value: reputation.Positive})
	assert.ErrorIs(t, err, ErrAlreadyRated)
	assert.ErrorIs(t, err, ErrAlreadySet)
}

func TestService_ConcurrentRatingsOneWins(t *testing.T) {
	service, _, ledger := newTestOrderService()
	ctx := context.Background()
	o := completeTestOrder(t, service)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Execute(ctx, o.ID, "B", SubmitRating{Value: reputation.Positive})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadySet), errors.Is(err, reputation.ErrDuplicateRating):
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, rejected)

	given, err := reputation.Collect(ledger.RatingsGiven(ctx, "B"), 0)
	require.NoError(t, err)
	assert.Len(t, given, 1)
}

// ============================================
// Failure Mapping Tests
// ============================================

func TestService_Execute_NotFound(t *testing.T) {
	service, _, _ := newTestOrderService()

	_, err := service.Execute(context.Background(), "missing", "B", ConfirmDelivery{})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = service.GetByProduct(context.Background(), "nothing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestService_Execute_VersionConflictMapped(t *testing.T) {
	service, eventStore, _ := newTestOrderService()
	o := createTestOrder(t, service)
	eventStore.CommitErr = store.ErrVersionConflict

	_, err := service.Execute(context.Background(), o.ID, "B", SubmitPaymentEvidence{ProofRef: "p", DeliveryAddress: "a"})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestService_Execute_StoreFailureLeavesOrderUntouched(t *testing.T) {
	service, eventStore, ledger := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)
	eventStore.CommitErr = store.ErrUnavailable

	_, err := service.Execute(ctx, o.ID, "S", Cancel{Reason: "non-payment"})
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.False(t, IsDomainError(err))

	current, err := service.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPaymentEvidence, current.Status)
	agg, err := ledger.GetAggregate(ctx, "B")
	require.NoError(t, err)
	assert.Zero(t, agg.Total)
}

func TestService_Execute_LockTimeout(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	locks := lock.NewMemoryManager()
	service := NewService(eventStore, reputation.NewLedger(eventStore, 10), locks, nil, 10*time.Millisecond)
	o := createTestOrder(t, service)

	unlock, err := locks.Acquire(context.Background(), "order:"+o.ID)
	require.NoError(t, err)
	defer unlock()

	_, err = service.Execute(context.Background(), o.ID, "B", SubmitPaymentEvidence{ProofRef: "p", DeliveryAddress: "a"})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

// ============================================
// Read / Snapshot Tests
// ============================================

func TestService_GetIsIdempotent(t *testing.T) {
	service, _, _ := newTestOrderService()
	o := completeTestOrder(t, service)

	first, err := service.Get(context.Background(), o.ID)
	require.NoError(t, err)
	second, err := service.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestService_SnapshotRoundTrip(t *testing.T) {
	service, eventStore, _ := newTestOrderService()
	ctx := context.Background()
	o := completeTestOrder(t, service) // version 4

	rated, err := service.Execute(ctx, o.ID, "B", SubmitRating{Value: reputation.Positive, Comment: "ok"})
	require.NoError(t, err)
	require.Equal(t, 5, rated.Version)
	assert.Equal(t, 1, eventStore.SnapshotSaves)

	loaded, err := service.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, rated.Status, loaded.Status)
	assert.Equal(t, rated.SellerRating, loaded.SellerRating)
	assert.Equal(t, rated.Version, loaded.Version)
	assert.Equal(t, rated.TrackingReference, loaded.TrackingReference)
}
