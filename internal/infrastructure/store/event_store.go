package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
}

// MarshalJSON returns the JSON encoding of the event
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct{ Alias }{Alias: Alias(e)})
}

type productOrder struct {
	orderID   string
	createdAt time.Time
}

// EventStore is the in-memory backend. A single mutex makes every commit
// atomic with respect to every read.
type EventStore struct {
	mu        sync.RWMutex
	events    map[string][]Event // aggregateID -> events
	snapshots map[string]*Snapshot
	ratings   []Rating
	rated     map[string]struct{} // order/rater pairs already rated
	claims    map[string]string   // productID -> active orderID
	products  map[string][]productOrder

	publisher Publisher
	logger    *slog.Logger
}

func NewEventStore(publisher Publisher, logger *slog.Logger) *EventStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStore{
		events:    make(map[string][]Event),
		snapshots: make(map[string]*Snapshot),
		rated:     make(map[string]struct{}),
		claims:    make(map[string]string),
		products:  make(map[string][]productOrder),
		publisher: publisher,
		logger:    logger,
	}
}

// Commit validates the whole unit under the lock before mutating anything.
func (es *EventStore) Commit(ctx context.Context, c Commit) ([]Event, error) {
	now := time.Now()
	events, err := c.buildEvents(now)
	if err != nil {
		return nil, err
	}

	es.mu.Lock()
	if current := len(es.events[c.AggregateID]); current != c.ExpectedVersion {
		es.mu.Unlock()
		return nil, fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, c.AggregateID, current, c.ExpectedVersion)
	}
	seen := make(map[string]struct{}, len(c.Ratings))
	for _, r := range c.Ratings {
		key := ratingKey(r.OrderID, r.RaterID)
		_, exists := es.rated[key]
		_, dup := seen[key]
		if exists || dup {
			es.mu.Unlock()
			return nil, fmt.Errorf("%w: order %s rater %s", ErrDuplicateRating, r.OrderID, r.RaterID)
		}
		seen[key] = struct{}{}
	}
	if c.ClaimProduct != "" {
		if owner, ok := es.claims[c.ClaimProduct]; ok && owner != c.AggregateID {
			es.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrProductClaimed, c.ClaimProduct)
		}
	}

	es.events[c.AggregateID] = append(es.events[c.AggregateID], events...)
	for _, r := range c.Ratings {
		es.rated[ratingKey(r.OrderID, r.RaterID)] = struct{}{}
		es.ratings = append(es.ratings, r)
	}
	if c.ClaimProduct != "" {
		es.claims[c.ClaimProduct] = c.AggregateID
		es.products[c.ClaimProduct] = append(es.products[c.ClaimProduct], productOrder{orderID: c.AggregateID, createdAt: now})
	}
	if c.ReleaseProduct != "" && es.claims[c.ReleaseProduct] == c.AggregateID {
		delete(es.claims, c.ReleaseProduct)
	}
	es.mu.Unlock()

	publishCommitted(ctx, es.publisher, es.logger, events)
	return events, nil
}

// publishCommitted forwards committed events. The commit is already durable,
// so publish failures are logged rather than returned.
func publishCommitted(ctx context.Context, publisher Publisher, logger *slog.Logger, events []Event) {
	if publisher == nil {
		return
	}
	for _, event := range events {
		if err := publisher.Publish(ctx, event.AggregateID, event); err != nil {
			logger.ErrorContext(ctx, "publish committed event failed",
				"component", "store",
				"event_id", event.ID,
				"event_type", event.EventType,
				"aggregate_id", event.AggregateID,
				"error", err,
			)
		}
	}
}

// GetEvents returns all events for an aggregate
func (es *EventStore) GetEvents(_ context.Context, aggregateID string) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return append([]Event(nil), es.events[aggregateID]...), nil
}

// GetEventsFromVersion returns events with a version greater than fromVersion
func (es *EventStore) GetEventsFromVersion(_ context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var out []Event
	for _, e := range es.events[aggregateID] {
		if e.Version > fromVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetAllEvents returns all events ordered by timestamp
func (es *EventStore) GetAllEvents(_ context.Context) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var all []Event
	for _, events := range es.events {
		all = append(all, events...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Version < all[j].Version
		}
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

func (es *EventStore) GetSnapshot(_ context.Context, aggregateID string) (*Snapshot, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	snap, ok := es.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (es *EventStore) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	if cur, ok := es.snapshots[snapshot.AggregateID]; ok && cur.Version >= snapshot.Version {
		return nil
	}
	cp := *snapshot
	es.snapshots[snapshot.AggregateID] = &cp
	return nil
}

func (es *EventStore) FindByProduct(_ context.Context, productID string) (string, bool, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	if orderID, ok := es.claims[productID]; ok {
		return orderID, true, nil
	}
	history := es.products[productID]
	if len(history) == 0 {
		return "", false, nil
	}
	return history[len(history)-1].orderID, true, nil
}

// InsertRating appends a standalone rating.
func (es *EventStore) InsertRating(_ context.Context, r Rating) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	key := ratingKey(r.OrderID, r.RaterID)
	if _, exists := es.rated[key]; exists {
		return fmt.Errorf("%w: order %s rater %s", ErrDuplicateRating, r.OrderID, r.RaterID)
	}
	es.rated[key] = struct{}{}
	es.ratings = append(es.ratings, r)
	return nil
}

func (es *EventStore) ListRatings(_ context.Context, q RatingQuery) ([]Rating, error) {
	es.mu.RLock()
	matched := make([]Rating, 0)
	for _, r := range es.ratings {
		if ratingMatches(r, q) {
			matched = append(matched, r)
		}
	}
	es.mu.RUnlock()

	sortRatingsDesc(matched)
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (es *EventStore) TallyRatings(_ context.Context, userID string) (RatingTally, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var tally RatingTally
	for _, r := range es.ratings {
		if r.RatedUserID != userID {
			continue
		}
		switch r.Value {
		case RatingPositive:
			tally.Positive++
		case RatingNegative:
			tally.Negative++
		}
	}
	return tally, nil
}

func ratingMatches(r Rating, q RatingQuery) bool {
	switch q.Direction {
	case RatingsGiven:
		if r.RaterID != q.UserID {
			return false
		}
	default:
		if r.RatedUserID != q.UserID {
			return false
		}
	}
	return q.After == nil || q.After.before(r)
}

var _ Store = (*EventStore)(nil)
