package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/auction-fulfillment/internal/domain/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrders struct {
	orders map[string]*order.Order
}

func (s stubOrders) Get(_ context.Context, orderID string) (*order.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return o, nil
}

type failingChannel struct{}

func (failingChannel) AppendMessage(context.Context, Message) error {
	return ErrChannelUnavailable
}

func (failingChannel) ListMessages(context.Context, string) ([]Message, error) {
	return nil, ErrChannelUnavailable
}

func newTestService(channel Channel) *Service {
	orders := stubOrders{orders: map[string]*order.Order{
		"o1": {ID: "o1", SellerID: "S", BuyerID: "B"},
	}}
	svc := NewService(channel, orders, nil)
	tick := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return svc
}

// ============================================
// Participant Gating Tests
// ============================================

func TestService_AppendAndList(t *testing.T) {
	svc := newTestService(NewMemoryChannel())
	ctx := context.Background()

	first, err := svc.AppendMessage(ctx, "o1", "B", "  when will it ship? ")
	require.NoError(t, err)
	assert.Equal(t, "when will it ship?", first.Body)
	assert.NotEmpty(t, first.ID)

	_, err = svc.AppendMessage(ctx, "o1", "S", "tomorrow")
	require.NoError(t, err)

	messages, err := svc.ListMessages(ctx, "o1", "S")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "B", messages[0].SenderID)
	assert.Equal(t, "S", messages[1].SenderID)
}

func TestService_StrangerRejected(t *testing.T) {
	svc := newTestService(NewMemoryChannel())
	ctx := context.Background()

	_, err := svc.AppendMessage(ctx, "o1", "X", "hello")
	assert.ErrorIs(t, err, order.ErrForbidden)

	_, err = svc.ListMessages(ctx, "o1", "X")
	assert.ErrorIs(t, err, order.ErrForbidden)
}

func TestService_UnknownOrder(t *testing.T) {
	svc := newTestService(NewMemoryChannel())

	_, err := svc.AppendMessage(context.Background(), "missing", "B", "hello")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestService_MessageValidation(t *testing.T) {
	svc := newTestService(NewMemoryChannel())
	ctx := context.Background()

	_, err := svc.AppendMessage(ctx, "o1", "B", "   ")
	assert.ErrorIs(t, err, order.ErrValidationFailed)

	_, err = svc.AppendMessage(ctx, "o1", "B", strings.Repeat("x", MaxMessageLength+1))
	assert.ErrorIs(t, err, order.ErrValidationFailed)
}

func TestService_ChannelFailure(t *testing.T) {
	svc := newTestService(failingChannel{})

	_, err := svc.AppendMessage(context.Background(), "o1", "B", "hello")
	assert.True(t, errors.Is(err, ErrChannelUnavailable))
}

// ============================================
// Memory Channel Tests
// ============================================

func TestMemoryChannel_ThreadsAreIsolated(t *testing.T) {
	ch := NewMemoryChannel()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, ch.AppendMessage(ctx, Message{ID: "1", OrderID: "a", Body: "x", CreatedAt: now}))
	require.NoError(t, ch.AppendMessage(ctx, Message{ID: "2", OrderID: "b", Body: "y", CreatedAt: now}))

	messages, err := ch.ListMessages(ctx, "a")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "1", messages[0].ID)

	empty, err := ch.ListMessages(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryChannel_ListKeepsAppendOrder(t *testing.T) {
	ctx := context.Background()
	ch := NewMemoryChannel()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ch.AppendMessage(ctx, Message{ID: "m1", OrderID: "o1", Body: "first", CreatedAt: base}))
	require.NoError(t, ch.AppendMessage(ctx, Message{ID: "m2", OrderID: "o1", Body: "second", CreatedAt: base.Add(-time.Minute)}))
	require.NoError(t, ch.AppendMessage(ctx, Message{ID: "m3", OrderID: "o1", Body: "third", CreatedAt: base.Add(-time.Hour)}))

	msgs, err := ch.ListMessages(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "m3", msgs[2].ID)
}
