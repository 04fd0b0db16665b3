package store

import (
	"context"
	"sort"
	"sync"

	"github.com/example/auction-fulfillment/internal/readmodel"
)

// ReadStore is an in-memory read model store
type ReadStore struct {
	mu     sync.RWMutex
	orders map[string]*readmodel.OrderReadModel
}

func NewReadStore() *ReadStore {
	return &ReadStore{
		orders: make(map[string]*readmodel.OrderReadModel),
	}
}

// UpsertOrder stores a copy of the order summary
func (rs *ReadStore) UpsertOrder(_ context.Context, o *readmodel.OrderReadModel) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	cp := *o
	rs.orders[o.ID] = &cp
	return nil
}

// GetOrder retrieves a copy of an order summary by id
func (rs *ReadStore) GetOrder(_ context.Context, id string) (*readmodel.OrderReadModel, bool, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	o, ok := rs.orders[id]
	if !ok {
		return nil, false, nil
	}
	cp := *o
	return &cp, true, nil
}

// UpdateOrder modifies an order summary using an update function
func (rs *ReadStore) UpdateOrder(_ context.Context, id string, updateFn func(o *readmodel.OrderReadModel)) (bool, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	o, ok := rs.orders[id]
	if !ok {
		return false, nil
	}
	updateFn(o)
	return true, nil
}

func (rs *ReadStore) ListOrdersByUser(_ context.Context, userID string) ([]*readmodel.OrderReadModel, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var orders []*readmodel.OrderReadModel
	for _, o := range rs.orders {
		if o.Involves(userID) {
			cp := *o
			orders = append(orders, &cp)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

var _ ReadStoreInterface = (*ReadStore)(nil)
