package reputation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/auction-fulfillment/internal/infrastructure/store"
)

// MaxCommentLength bounds rating comments, in runes.
const MaxCommentLength = 1000

var (
	// ErrDuplicateRating is returned when the rater already rated the order.
	ErrDuplicateRating = store.ErrDuplicateRating
	// ErrInvalidRating is returned for malformed ledger entries.
	ErrInvalidRating = errors.New("invalid rating")
)

// Value is the judgment carried by a rating.
type Value string

const (
	Positive Value = store.RatingPositive
	Negative Value = store.RatingNegative
)

// ParseValue accepts "positive" or "negative" in any case.
func ParseValue(s string) (Value, error) {
	switch Value(strings.ToLower(strings.TrimSpace(s))) {
	case Positive:
		return Positive, nil
	case Negative:
		return Negative, nil
	}
	return "", fmt.Errorf("%w: value must be %q or %q, got %q", ErrInvalidRating, Positive, Negative, s)
}

func (v Value) Valid() bool {
	return v == Positive || v == Negative
}

// Rating is an immutable ledger entry.
type Rating struct {
	ID          string    `json:"id"`
	RaterID     string    `json:"rater_id"`
	RatedUserID string    `json:"rated_user_id"`
	OrderID     string    `json:"order_id"`
	ProductID   string    `json:"product_id,omitempty"`
	Value       Value     `json:"value"`
	Comment     string    `json:"comment,omitempty"`
	System      bool      `json:"system"`
	CreatedAt   time.Time `json:"created_at"`
}

// RatingInput describes a rating to append. ID and CreatedAt are filled in
// when empty.
type RatingInput struct {
	ID          string
	RaterID     string
	RatedUserID string
	OrderID     string
	ProductID   string
	Value       Value
	Comment     string
	System      bool
	CreatedAt   time.Time
}

func fromRow(r store.Rating) Rating {
	return Rating{
		ID:          r.ID,
		RaterID:     r.RaterID,
		RatedUserID: r.RatedUserID,
		OrderID:     r.OrderID,
		ProductID:   r.ProductID,
		Value:       Value(r.Value),
		Comment:     r.Comment,
		System:      r.System,
		CreatedAt:   r.CreatedAt,
	}
}

// Aggregate is a user's reputation, derived from every rating naming them.
type Aggregate struct {
	UserID          string  `json:"user_id"`
	PositiveCount   int     `json:"positive_count"`
	NegativeCount   int     `json:"negative_count"`
	Total           int     `json:"total"`
	PercentPositive float64 `json:"percent_positive"`
}

func newAggregate(userID string, t store.RatingTally) Aggregate {
	agg := Aggregate{
		UserID:        userID,
		PositiveCount: t.Positive,
		NegativeCount: t.Negative,
		Total:         t.Positive + t.Negative,
	}
	// 0 when the user has no ratings yet.
	if agg.Total > 0 {
		agg.PercentPositive = float64(agg.PositiveCount) / float64(agg.Total)
	}
	return agg
}
