package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PendingEvent is an event that has not been assigned a version yet.
type PendingEvent struct {
	EventType string
	Data      any
}

// Commit is the unit of work written by Commit.
type Commit struct {
	AggregateID     string
	AggregateType   string
	ExpectedVersion int
	Events          []PendingEvent
	Ratings         []Rating

	// ClaimProduct marks the aggregate as the active order for a product.
	ClaimProduct string
	// ReleaseProduct removes the aggregate's active claim on a product.
	ReleaseProduct string
}

// buildEvents assigns ids, versions and timestamps to the pending events.
func (c Commit) buildEvents(now time.Time) ([]Event, error) {
	events := make([]Event, 0, len(c.Events))
	for i, pe := range c.Events {
		data, err := json.Marshal(pe.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", pe.EventType, err)
		}
		events = append(events, Event{
			ID:            uuid.New().String(),
			AggregateID:   c.AggregateID,
			AggregateType: c.AggregateType,
			EventType:     pe.EventType,
			Data:          data,
			Timestamp:     now,
			Version:       c.ExpectedVersion + i + 1,
		})
	}
	return events, nil
}

// Rating values as stored.
const (
	RatingPositive = "positive"
	RatingNegative = "negative"
)

// Rating is one row of the append-only rating ledger.
type Rating struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	ProductID   string    `json:"product_id"`
	RaterID     string    `json:"rater_id"`
	RatedUserID string    `json:"rated_user_id"`
	Value       string    `json:"value"`
	Comment     string    `json:"comment"`
	System      bool      `json:"system"`
	CreatedAt   time.Time `json:"created_at"`
}

// Cursor returns the keyset position of the rating.
func (r Rating) Cursor() RatingCursor {
	return RatingCursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

// RatingDirection selects which side of a rating a query matches.
type RatingDirection int

const (
	RatingsReceived RatingDirection = iota
	RatingsGiven
)

// RatingCursor is a keyset position; pages continue strictly after it in
// (created_at desc, id desc) order.
type RatingCursor struct {
	CreatedAt time.Time
	ID        string
}

// before reports whether r sorts after the cursor in descending order.
func (c RatingCursor) before(r Rating) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		return r.ID < c.ID
	}
	return r.CreatedAt.Before(c.CreatedAt)
}

// RatingQuery selects one page of ratings for a user.
type RatingQuery struct {
	UserID    string
	Direction RatingDirection
	After     *RatingCursor
	Limit     int
}

// RatingTally holds the counts the reputation aggregate is derived from.
type RatingTally struct {
	Positive int
	Negative int
}

// sortRatingsDesc orders ratings newest first, ties broken by id.
func sortRatingsDesc(ratings []Rating) {
	sort.Slice(ratings, func(i, j int) bool {
		if ratings[i].CreatedAt.Equal(ratings[j].CreatedAt) {
			return ratings[i].ID > ratings[j].ID
		}
		return ratings[i].CreatedAt.After(ratings[j].CreatedAt)
	})
}

func ratingKey(orderID, raterID string) string {
	return orderID + "/" + raterID
}
