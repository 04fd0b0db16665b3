// Package aggregate rebuilds event-sourced aggregates from a snapshot plus
// the events committed after it.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/auction-fulfillment/internal/infrastructure/store"
)

type Aggregate interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
	ApplyEvent(store.Event) error
}

// Load restores the aggregate with the given id. found is false when the
// store holds neither a snapshot nor events for it.
func Load[T Aggregate](ctx context.Context, es store.EventStoreInterface, id string, fresh func() T) (agg T, found bool, err error) {
	agg = fresh()

	snap, err := es.GetSnapshot(ctx, id)
	if err != nil {
		return agg, false, fmt.Errorf("read snapshot: %w", err)
	}

	from := 0
	if snap != nil {
		if err := json.Unmarshal(snap.State, agg); err != nil {
			return agg, false, fmt.Errorf("decode snapshot v%d: %w", snap.Version, err)
		}
		agg.SetVersion(snap.Version)
		from = snap.Version
	}

	var events []store.Event
	if from > 0 {
		events, err = es.GetEventsFromVersion(ctx, id, from)
	} else {
		events, err = es.GetEvents(ctx, id)
	}
	if err != nil {
		return agg, false, fmt.Errorf("read events after v%d: %w", from, err)
	}

	for _, e := range events {
		if err := agg.ApplyEvent(e); err != nil {
			return agg, false, fmt.Errorf("replay %s v%d: %w", e.EventType, e.Version, err)
		}
	}
	return agg, snap != nil || len(events) > 0, nil
}

// SnapshotIfDue stores a snapshot when the commit that took agg past
// fromVersion crossed a snapshot boundary. It reports whether one was saved.
func SnapshotIfDue(ctx context.Context, es store.EventStoreInterface, agg Aggregate, aggregateType string, fromVersion int) (bool, error) {
	if !store.SnapshotDue(fromVersion, agg.GetVersion()) {
		return false, nil
	}
	snap, err := store.NewSnapshot(agg.GetID(), aggregateType, agg.GetVersion(), agg, time.Now())
	if err != nil {
		return false, err
	}
	if err := es.SaveSnapshot(ctx, snap); err != nil {
		return false, fmt.Errorf("save snapshot v%d: %w", snap.Version, err)
	}
	return true, nil
}
