package store

import (
	"context"
	"errors"
)

var (
	// ErrVersionConflict is returned when a commit's expected version no longer
	// matches the stored stream (another writer got there first).
	ErrVersionConflict = errors.New("aggregate version conflict")
	// ErrDuplicateRating is returned when a rating for the same (order, rater)
	// pair already exists.
	ErrDuplicateRating = errors.New("rating already recorded for this order and rater")
	// ErrProductClaimed is returned when a product already has an active order.
	ErrProductClaimed = errors.New("product already has an active order")
	// ErrUnavailable marks storage failures that callers may retry.
	ErrUnavailable = errors.New("storage unavailable")
)

// Publisher receives every committed event after the commit succeeds.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// EventStoreInterface defines the interface for event stores
type EventStoreInterface interface {
	// Commit appends the pending events, rating rows and product claim changes
	// as one atomic unit. Nothing is written when any part fails.
	Commit(ctx context.Context, c Commit) ([]Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error)
	GetAllEvents(ctx context.Context) ([]Event, error)
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	// FindByProduct returns the active order for a product, falling back to the
	// most recently created one.
	FindByProduct(ctx context.Context, productID string) (string, bool, error)
}

// RatingStoreInterface is the persistence contract of the reputation ledger.
type RatingStoreInterface interface {
	// InsertRating appends one rating; the (order, rater) duplicate check and
	// the insert happen atomically.
	InsertRating(ctx context.Context, r Rating) error
	ListRatings(ctx context.Context, q RatingQuery) ([]Rating, error)
	TallyRatings(ctx context.Context, userID string) (RatingTally, error)
}

// Store is implemented by every backend: one event log plus the rating ledger
// sharing its transactions.
type Store interface {
	EventStoreInterface
	RatingStoreInterface
}
