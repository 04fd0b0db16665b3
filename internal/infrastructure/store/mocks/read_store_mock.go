package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/example/auction-fulfillment/internal/readmodel"
)

// MockReadStore is a mock implementation of ReadStoreInterface for testing
type MockReadStore struct {
	mu     sync.RWMutex
	orders map[string]*readmodel.OrderReadModel

	// For tracking calls in tests
	UpsertCalls []string
	UpdateCalls []string
	Err         error
}

// NewMockReadStore creates a new MockReadStore
func NewMockReadStore() *MockReadStore {
	return &MockReadStore{
		orders: make(map[string]*readmodel.OrderReadModel),
	}
}

func (m *MockReadStore) UpsertOrder(_ context.Context, o *readmodel.OrderReadModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpsertCalls = append(m.UpsertCalls, o.ID)
	if m.Err != nil {
		return m.Err
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MockReadStore) GetOrder(_ context.Context, id string) (*readmodel.OrderReadModel, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, false, m.Err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, false, nil
	}
	cp := *o
	return &cp, true, nil
}

func (m *MockReadStore) UpdateOrder(_ context.Context, id string, updateFn func(o *readmodel.OrderReadModel)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateCalls = append(m.UpdateCalls, id)
	if m.Err != nil {
		return false, m.Err
	}
	o, ok := m.orders[id]
	if !ok {
		return false, nil
	}
	updateFn(o)
	return true, nil
}

func (m *MockReadStore) ListOrdersByUser(_ context.Context, userID string) ([]*readmodel.OrderReadModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	var orders []*readmodel.OrderReadModel
	for _, o := range m.orders {
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

// SetData sets an order summary directly for testing
func (m *MockReadStore) SetData(o *readmodel.OrderReadModel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
}

var _ store.ReadStoreInterface = (*MockReadStore)(nil)
