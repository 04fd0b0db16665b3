package store

import (
	"context"

	"github.com/example/auction-fulfillment/internal/readmodel"
)

// ReadStoreInterface defines the interface for read model storage
type ReadStoreInterface interface {
	// UpsertOrder stores an order summary, replacing any previous one
	UpsertOrder(ctx context.Context, o *readmodel.OrderReadModel) error

	// GetOrder retrieves an order summary by id
	GetOrder(ctx context.Context, id string) (*readmodel.OrderReadModel, bool, error)

	// UpdateOrder modifies an order summary in place; false when it does not exist
	UpdateOrder(ctx context.Context, id string, updateFn func(o *readmodel.OrderReadModel)) (bool, error)

	// ListOrdersByUser returns the orders the user takes part in, newest first
	ListOrdersByUser(ctx context.Context, userID string) ([]*readmodel.OrderReadModel, error)
}
