package mocks

import (
	"context"
	"sync"

	"github.com/example/auction-fulfillment/internal/infrastructure/store"
)

// MockEventStore is a mock implementation of store.Store for testing. Reads
// and successful commits are served by an in-memory store.
type MockEventStore struct {
	mu    sync.Mutex
	inner *store.EventStore

	// For tracking calls in tests
	CommitCalls    []store.Commit
	CommitErr      error
	CommitCallback func(ctx context.Context, c store.Commit) ([]store.Event, error)
	GetEventsErr   error
	SnapshotSaves  int
}

// NewMockEventStore creates a new MockEventStore
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		inner:       store.NewEventStore(nil, nil),
		CommitCalls: make([]store.Commit, 0),
	}
}

// Commit records the call, then applies the callback, the injected error or
// the in-memory store, in that order.
func (m *MockEventStore) Commit(ctx context.Context, c store.Commit) ([]store.Event, error) {
	m.mu.Lock()
	m.CommitCalls = append(m.CommitCalls, c)
	callback, commitErr := m.CommitCallback, m.CommitErr
	m.mu.Unlock()

	if callback != nil {
		return callback(ctx, c)
	}
	if commitErr != nil {
		return nil, commitErr
	}
	return m.inner.Commit(ctx, c)
}

func (m *MockEventStore) GetEvents(ctx context.Context, aggregateID string) ([]store.Event, error) {
	if err := m.getEventsErr(); err != nil {
		return nil, err
	}
	return m.inner.GetEvents(ctx, aggregateID)
}

func (m *MockEventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]store.Event, error) {
	if err := m.getEventsErr(); err != nil {
		return nil, err
	}
	return m.inner.GetEventsFromVersion(ctx, aggregateID, fromVersion)
}

func (m *MockEventStore) GetAllEvents(ctx context.Context) ([]store.Event, error) {
	if err := m.getEventsErr(); err != nil {
		return nil, err
	}
	return m.inner.GetAllEvents(ctx)
}

func (m *MockEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*store.Snapshot, error) {
	return m.inner.GetSnapshot(ctx, aggregateID)
}

func (m *MockEventStore) SaveSnapshot(ctx context.Context, snapshot *store.Snapshot) error {
	m.mu.Lock()
	m.SnapshotSaves++
	m.mu.Unlock()
	return m.inner.SaveSnapshot(ctx, snapshot)
}

func (m *MockEventStore) FindByProduct(ctx context.Context, productID string) (string, bool, error) {
	return m.inner.FindByProduct(ctx, productID)
}

func (m *MockEventStore) InsertRating(ctx context.Context, r store.Rating) error {
	return m.inner.InsertRating(ctx, r)
}

func (m *MockEventStore) ListRatings(ctx context.Context, q store.RatingQuery) ([]store.Rating, error) {
	return m.inner.ListRatings(ctx, q)
}

func (m *MockEventStore) TallyRatings(ctx context.Context, userID string) (store.RatingTally, error) {
	return m.inner.TallyRatings(ctx, userID)
}

// Commits returns a copy of the recorded commits
func (m *MockEventStore) Commits() []store.Commit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Commit(nil), m.CommitCalls...)
}

// Reset clears all events and recorded calls
func (m *MockEventStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inner = store.NewEventStore(nil, nil)
	m.CommitCalls = make([]store.Commit, 0)
	m.CommitErr = nil
	m.CommitCallback = nil
	m.GetEventsErr = nil
	m.SnapshotSaves = 0
}

// AddEvent commits a single event directly for testing
func (m *MockEventStore) AddEvent(aggregateID, aggregateType, eventType string, data any) error {
	ctx := context.Background()
	events, err := m.inner.GetEvents(ctx, aggregateID)
	if err != nil {
		return err
	}
	_, err = m.inner.Commit(ctx, store.Commit{
		AggregateID:     aggregateID,
		AggregateType:   aggregateType,
		ExpectedVersion: len(events),
		Events:          []store.PendingEvent{{EventType: eventType, Data: data}},
	})
	return err
}

func (m *MockEventStore) getEventsErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GetEventsErr
}

var _ store.Store = (*MockEventStore)(nil)
