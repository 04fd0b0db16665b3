package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/auction-fulfillment/internal/domain/aggregate"
	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/example/auction-fulfillment/internal/infrastructure/lock"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultLockWait bounds how long a command waits for the order lock.
const DefaultLockWait = 5 * time.Second

// Handoff is what the auction-close process passes in for a won auction.
type Handoff struct {
	// OrderID is optional; a new id is generated when empty.
	OrderID    string
	ProductID  string
	SellerID   string
	BuyerID    string
	FinalPrice decimal.Decimal
}

type Service struct {
	eventStore store.EventStoreInterface
	ledger     *reputation.Ledger
	locks      lock.Manager
	logger     *slog.Logger
	lockWait   time.Duration
	now        func() time.Time
}

func NewService(es store.EventStoreInterface, ledger *reputation.Ledger, locks lock.Manager, logger *slog.Logger, lockWait time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &Service{
		eventStore: es,
		ledger:     ledger,
		locks:      locks,
		logger:     logger.With("component", "order"),
		lockWait:   lockWait,
		now:        time.Now,
	}
}

// loadOrder loads an order by replaying events, using snapshot if available
func (s *Service) loadOrder(ctx context.Context, orderID string) (*Order, error) {
	order, found, err := aggregate.Load(ctx, s.eventStore, orderID, func() *Order {
		return &Order{}
	})
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if !found {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// Create opens the order for a closed auction. The product claim in the same
// commit rejects a second active order for the product.
func (s *Service) Create(ctx context.Context, h Handoff) (*Order, error) {
	productID := strings.TrimSpace(h.ProductID)
	sellerID := strings.TrimSpace(h.SellerID)
	buyerID := strings.TrimSpace(h.BuyerID)

	switch {
	case productID == "" || sellerID == "" || buyerID == "":
		return nil, fmt.Errorf("%w: product, seller and buyer ids are required", ErrValidationFailed)
	case sellerID == buyerID:
		return nil, fmt.Errorf("%w: seller and buyer must differ", ErrValidationFailed)
	case h.FinalPrice.IsNegative():
		return nil, fmt.Errorf("%w: final price cannot be negative", ErrValidationFailed)
	}

	orderID := strings.TrimSpace(h.OrderID)
	if orderID == "" {
		orderID = uuid.New().String()
	}
	now := s.now()

	event := OrderCreated{
		OrderID:    orderID,
		ProductID:  productID,
		SellerID:   sellerID,
		BuyerID:    buyerID,
		FinalPrice: h.FinalPrice,
		CreatedAt:  now,
	}

	stored, err := s.eventStore.Commit(ctx, store.Commit{
		AggregateID:     orderID,
		AggregateType:   AggregateType,
		ExpectedVersion: 0,
		Events:          []store.PendingEvent{{EventType: EventOrderCreated, Data: event}},
		ClaimProduct:    productID,
	})
	if err != nil {
		return nil, translateStoreError(err)
	}

	order := &Order{}
	for _, e := range stored {
		if err := order.ApplyEvent(e); err != nil {
			return nil, fmt.Errorf("apply created event: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"product_id", order.ProductID,
		"seller_id", order.SellerID,
		"buyer_id", order.BuyerID,
	)
	return order, nil
}

// Execute runs one command under the order's lock and commits its events and
// ledger rows together. The returned order reflects the commit.
func (s *Service) Execute(ctx context.Context, orderID, callerID string, cmd Command) (*Order, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	unlock, err := s.locks.Acquire(lockCtx, "order:"+orderID)
	cancel()
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			return nil, fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer unlock()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	decision, err := order.Decide(cmd, callerID, s.now())
	if err != nil {
		s.logger.DebugContext(ctx, "order command rejected",
			"order_id", orderID,
			"command", cmd.Name(),
			"error", err,
		)
		return nil, err
	}

	commit := store.Commit{
		AggregateID:     order.ID,
		AggregateType:   AggregateType,
		ExpectedVersion: order.Version,
		Events:          decision.Events,
	}
	for _, in := range decision.Ratings {
		row, err := s.ledger.Prepare(in)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		commit.Ratings = append(commit.Ratings, row)
	}
	if decision.Release {
		commit.ReleaseProduct = order.ProductID
	}

	stored, err := s.eventStore.Commit(ctx, commit)
	if err != nil {
		return nil, translateStoreError(err)
	}

	previousVersion := order.Version
	updated := order.clone()
	for _, e := range stored {
		if err := updated.ApplyEvent(e); err != nil {
			return nil, fmt.Errorf("apply %s: %w", e.EventType, err)
		}
	}

	if saved, err := aggregate.SnapshotIfDue(ctx, s.eventStore, updated, AggregateType, previousVersion); err != nil {
		s.logger.WarnContext(ctx, "snapshot failed", "order_id", updated.ID, "error", err)
	} else if saved {
		s.logger.DebugContext(ctx, "snapshot saved", "order_id", updated.ID, "version", updated.Version)
	}

	s.logger.InfoContext(ctx, "order command applied",
		"order_id", updated.ID,
		"command", cmd.Name(),
		"status", updated.Status,
		"version", updated.Version,
	)
	return updated, nil
}

// Get returns the committed state of an order. It takes no lock.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.loadOrder(ctx, orderID)
}

// GetByProduct returns the product's active order, or its most recently
// cancelled one.
func (s *Service) GetByProduct(ctx context.Context, productID string) (*Order, error) {
	orderID, found, err := s.eventStore.FindByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("find order for product %s: %w", productID, err)
	}
	if !found {
		return nil, ErrOrderNotFound
	}
	return s.loadOrder(ctx, orderID)
}
