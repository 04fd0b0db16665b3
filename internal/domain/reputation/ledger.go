package reputation

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/google/uuid"
)

// DefaultPageSize is how many ratings a sequence fetches per store call.
const DefaultPageSize = 50

// Ledger is the append-only rating log. Aggregates are always recomputed from
// the stored rows.
type Ledger struct {
	ratings  store.RatingStoreInterface
	pageSize int
	now      func() time.Time
}

func NewLedger(ratings store.RatingStoreInterface, pageSize int) *Ledger {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Ledger{
		ratings:  ratings,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// Prepare validates an entry and returns the row to persist. The order state
// machine includes the row in its own commit.
func (l *Ledger) Prepare(in RatingInput) (store.Rating, error) {
	rater := strings.TrimSpace(in.RaterID)
	rated := strings.TrimSpace(in.RatedUserID)
	orderID := strings.TrimSpace(in.OrderID)

	switch {
	case rater == "" || rated == "":
		return store.Rating{}, fmt.Errorf("%w: rater and rated user are required", ErrInvalidRating)
	case rater == rated:
		return store.Rating{}, fmt.Errorf("%w: users cannot rate themselves", ErrInvalidRating)
	case orderID == "":
		return store.Rating{}, fmt.Errorf("%w: order id is required", ErrInvalidRating)
	case !in.Value.Valid():
		return store.Rating{}, fmt.Errorf("%w: unknown value %q", ErrInvalidRating, in.Value)
	case utf8.RuneCountInString(in.Comment) > MaxCommentLength:
		return store.Rating{}, fmt.Errorf("%w: comment exceeds %d characters", ErrInvalidRating, MaxCommentLength)
	}

	row := store.Rating{
		ID:          in.ID,
		OrderID:     orderID,
		ProductID:   in.ProductID,
		RaterID:     rater,
		RatedUserID: rated,
		Value:       string(in.Value),
		Comment:     strings.TrimSpace(in.Comment),
		System:      in.System,
		CreatedAt:   in.CreatedAt,
	}
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = l.now()
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return row, nil
}

// RecordRating appends a standalone rating. The store checks (order, rater)
// uniqueness in the same operation as the insert.
func (l *Ledger) RecordRating(ctx context.Context, in RatingInput) (Rating, error) {
	row, err := l.Prepare(in)
	if err != nil {
		return Rating{}, err
	}
	if err := l.ratings.InsertRating(ctx, row); err != nil {
		return Rating{}, fmt.Errorf("record rating: %w", err)
	}
	return fromRow(row), nil
}

// GetAggregate counts every rating naming userID. Unknown users get the zero
// aggregate.
func (l *Ledger) GetAggregate(ctx context.Context, userID string) (Aggregate, error) {
	tally, err := l.ratings.TallyRatings(ctx, userID)
	if err != nil {
		return Aggregate{}, fmt.Errorf("tally ratings for %s: %w", userID, err)
	}
	return newAggregate(userID, tally), nil
}

// RatingsReceived yields ratings naming userID, newest first.
func (l *Ledger) RatingsReceived(ctx context.Context, userID string) iter.Seq2[Rating, error] {
	return l.sequence(ctx, userID, store.RatingsReceived)
}

// RatingsGiven yields ratings written by userID, newest first.
func (l *Ledger) RatingsGiven(ctx context.Context, userID string) iter.Seq2[Rating, error] {
	return l.sequence(ctx, userID, store.RatingsGiven)
}

// sequence pages through the store with a keyset cursor. Nothing is fetched
// until the caller ranges, and every range starts again from the newest row.
func (l *Ledger) sequence(ctx context.Context, userID string, dir store.RatingDirection) iter.Seq2[Rating, error] {
	return func(yield func(Rating, error) bool) {
		var after *store.RatingCursor
		for {
			page, err := l.ratings.ListRatings(ctx, store.RatingQuery{
				UserID:    userID,
				Direction: dir,
				After:     after,
				Limit:     l.pageSize,
			})
			if err != nil {
				yield(Rating{}, fmt.Errorf("list ratings for %s: %w", userID, err))
				return
			}
			for _, row := range page {
				if !yield(fromRow(row), nil) {
					return
				}
			}
			if len(page) < l.pageSize {
				return
			}
			cursor := page[len(page)-1].Cursor()
			after = &cursor
		}
	}
}

// Collect drains up to limit ratings from seq; limit <= 0 drains everything.
func Collect(seq iter.Seq2[Rating, error], limit int) ([]Rating, error) {
	out := make([]Rating, 0)
	for r, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
