package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotThreshold is the snapshot interval in events. A fully completed
// and rated order carries six events, so most orders get one snapshot.
const SnapshotThreshold = 5

// Snapshot is an aggregate's serialized state as of Version.
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SnapshotDue reports whether a commit that moved an aggregate from version
// from to version to crossed a SnapshotThreshold boundary. Multi-event
// commits can skip over an exact multiple.
func SnapshotDue(from, to int) bool {
	return to > from && to/SnapshotThreshold > from/SnapshotThreshold
}

// NewSnapshot serializes state for the aggregate at version.
func NewSnapshot(aggregateID, aggregateType string, version int, state any, at time.Time) (*Snapshot, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s state: %w", aggregateType, aggregateID, err)
	}
	return &Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		State:         raw,
		CreatedAt:     at.UTC(),
	}, nil
}
