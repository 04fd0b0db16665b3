package auction

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/example/auction-fulfillment/internal/command"
	"github.com/example/auction-fulfillment/internal/domain/order"
	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/example/auction-fulfillment/internal/infrastructure/lock"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/example/auction-fulfillment/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIntake() (*Intake, *order.Service, *mocks.MockEventStore) {
	eventStore := mocks.NewMockEventStore()
	ledger := reputation.NewLedger(eventStore, 10)
	orderSvc := order.NewService(eventStore, ledger, lock.NewMemoryManager(), nil, 0)
	return NewIntake(command.NewHandler(orderSvc, nil, nil), orderSvc, nil), orderSvc, eventStore
}

func closedMessage(t *testing.T, auctionID, productID string) []byte {
	t.Helper()
	raw, err := json.Marshal(Closed{
		AuctionID:  auctionID,
		ProductID:  productID,
		SellerID:   "S",
		BuyerID:    "B",
		FinalPrice: decimal.RequireFromString("250.50"),
		ClosedAt:   time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return raw
}

// ============================================
// Handoff Tests
// ============================================

func TestIntake_OpensOrder(t *testing.T) {
	intake, orderSvc, _ := newTestIntake()
	ctx := context.Background()

	require.NoError(t, intake.HandleMessage(ctx, []byte("A1"), closedMessage(t, "A1", "P1")))

	o, err := orderSvc.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "P1", o.ProductID)
	assert.Equal(t, "S", o.SellerID)
	assert.Equal(t, "B", o.BuyerID)
	assert.Equal(t, "250.5", o.FinalPrice.String())
	assert.Equal(t, order.StatusAwaitingPaymentEvidence, o.Status)
}

func TestIntake_RedeliveryIsIdempotent(t *testing.T) {
	intake, _, eventStore := newTestIntake()
	ctx := context.Background()
	msg := closedMessage(t, "A1", "P1")

	require.NoError(t, intake.HandleMessage(ctx, []byte("A1"), msg))
	require.NoError(t, intake.HandleMessage(ctx, []byte("A1"), msg))

	events, err := eventStore.GetEvents(ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestIntake_ProductWithAnotherActiveOrder(t *testing.T) {
	intake, _, _ := newTestIntake()
	ctx := context.Background()

	require.NoError(t, intake.HandleMessage(ctx, nil, closedMessage(t, "A1", "P1")))

	err := intake.HandleMessage(ctx, nil, closedMessage(t, "A2", "P1"))
	assert.ErrorIs(t, err, order.ErrOrderExists)
}

func TestIntake_RejectsBadMessages(t *testing.T) {
	intake, _, eventStore := newTestIntake()
	ctx := context.Background()

	assert.Error(t, intake.HandleMessage(ctx, nil, []byte("not json")))
	assert.ErrorIs(t, intake.Handle(ctx, Closed{ProductID: "P1", SellerID: "S", BuyerID: "B"}), order.ErrValidationFailed)
	assert.ErrorIs(t, intake.Handle(ctx, Closed{AuctionID: "A3", ProductID: "P1", SellerID: "S", BuyerID: "S"}), order.ErrValidationFailed)
	assert.Empty(t, eventStore.Commits())
}

func TestIntake_StoreFailure(t *testing.T) {
	intake, _, eventStore := newTestIntake()
	eventStore.CommitErr = store.ErrUnavailable

	err := intake.HandleMessage(context.Background(), nil, closedMessage(t, "A1", "P1"))
	assert.ErrorIs(t, err, store.ErrUnavailable)
}
