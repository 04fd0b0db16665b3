package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	uniqueViolation = "23505"

	constraintEventVersion  = "events_aggregate_version_key"
	constraintRatingPair    = "ratings_order_rater_key"
	constraintActiveProduct = "order_products_active_product_key"
)

// PostgresEventStore stores events and ratings in PostgreSQL
type PostgresEventStore struct {
	db        *sql.DB
	publisher Publisher
	logger    *slog.Logger
}

func NewPostgresEventStore(db *sql.DB, publisher Publisher, logger *slog.Logger) *PostgresEventStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresEventStore{
		db:        db,
		publisher: publisher,
		logger:    logger,
	}
}

// Commit writes events, ratings and product claim changes in one transaction.
func (es *PostgresEventStore) Commit(ctx context.Context, c Commit) ([]Event, error) {
	events, err := c.buildEvents(time.Now())
	if err != nil {
		return nil, err
	}

	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(fmt.Errorf("postgres: begin commit %s: %w", c.AggregateID, err))
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1",
		c.AggregateID,
	).Scan(&currentVersion)
	if err != nil {
		return nil, classify(fmt.Errorf("postgres: read version %s: %w", c.AggregateID, err))
	}
	if currentVersion != c.ExpectedVersion {
		return nil, fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, c.AggregateID, currentVersion, c.ExpectedVersion)
	}

	for _, event := range events {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			event.ID,
			event.AggregateID,
			event.AggregateType,
			event.EventType,
			[]byte(event.Data),
			event.Version,
			event.Timestamp,
		)
		if err != nil {
			return nil, translateWriteError(fmt.Errorf("postgres: insert event %s: %w", event.EventType, err))
		}
	}

	for _, r := range c.Ratings {
		if err := insertRating(ctx, tx, r); err != nil {
			return nil, err
		}
	}

	if c.ClaimProduct != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_products (order_id, product_id, active, created_at) VALUES ($1, $2, TRUE, $3)`,
			c.AggregateID, c.ClaimProduct, time.Now(),
		)
		if err != nil {
			return nil, translateWriteError(fmt.Errorf("postgres: claim product %s: %w", c.ClaimProduct, err))
		}
	}
	if c.ReleaseProduct != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE order_products SET active = FALSE WHERE order_id = $1 AND product_id = $2`,
			c.AggregateID, c.ReleaseProduct,
		)
		if err != nil {
			return nil, classify(fmt.Errorf("postgres: release product %s: %w", c.ReleaseProduct, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, translateWriteError(fmt.Errorf("postgres: commit %s: %w", c.AggregateID, err))
	}

	publishCommitted(ctx, es.publisher, es.logger, events)
	return events, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRating(ctx context.Context, db execer, r Rating) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO ratings (id, order_id, product_id, rater_id, rated_user_id, value, comment, is_system, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.OrderID, r.ProductID, r.RaterID, r.RatedUserID, r.Value, r.Comment, r.System, r.CreatedAt,
	)
	if err != nil {
		return translateWriteError(fmt.Errorf("postgres: insert rating %s/%s: %w", r.OrderID, r.RaterID, err))
	}
	return nil
}

// translateWriteError maps unique violations onto the store's sentinel errors.
func translateWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		switch pqErr.Constraint {
		case constraintEventVersion:
			return fmt.Errorf("%w: %v", ErrVersionConflict, err)
		case constraintRatingPair:
			return fmt.Errorf("%w: %v", ErrDuplicateRating, err)
		case constraintActiveProduct:
			return fmt.Errorf("%w: %v", ErrProductClaimed, err)
		}
	}
	return classify(err)
}

// classify tags connection-level failures as ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

const eventColumns = `id, aggregate_id, aggregate_type, event_type, data, version, created_at`

func (es *PostgresEventStore) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("postgres: query events: %w", err))
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &data, &e.Version, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Data = data
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetEvents returns all events for an aggregate from PostgreSQL
func (es *PostgresEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_id = $1 ORDER BY version ASC`,
		aggregateID,
	)
}

// GetEventsFromVersion returns events after a snapshot version
func (es *PostgresEventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	return es.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_id = $1 AND version > $2 ORDER BY version ASC`,
		aggregateID, fromVersion,
	)
}

// GetAllEvents returns all events from PostgreSQL
func (es *PostgresEventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	return es.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY created_at ASC, version ASC`,
	)
}

func (es *PostgresEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var s Snapshot
	var state []byte
	err := es.db.QueryRowContext(ctx,
		`SELECT aggregate_id, aggregate_type, version, state, created_at FROM snapshots WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&s.AggregateID, &s.AggregateType, &s.Version, &state, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("postgres: get snapshot %s: %w", aggregateID, err))
	}
	s.State = state
	return &s, nil
}

func (es *PostgresEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	_, err := es.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (aggregate_id) DO UPDATE SET
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			created_at = EXCLUDED.created_at
		 WHERE snapshots.version < EXCLUDED.version`,
		snapshot.AggregateID, snapshot.AggregateType, snapshot.Version, []byte(snapshot.State), snapshot.CreatedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("postgres: save snapshot %s: %w", snapshot.AggregateID, err))
	}
	return nil
}

func (es *PostgresEventStore) FindByProduct(ctx context.Context, productID string) (string, bool, error) {
	var orderID string
	err := es.db.QueryRowContext(ctx,
		`SELECT order_id FROM order_products WHERE product_id = $1 ORDER BY active DESC, created_at DESC LIMIT 1`,
		productID,
	).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(fmt.Errorf("postgres: find order by product %s: %w", productID, err))
	}
	return orderID, true, nil
}

// InsertRating relies on ratings_order_rater_key for the duplicate check.
func (es *PostgresEventStore) InsertRating(ctx context.Context, r Rating) error {
	return insertRating(ctx, es.db, r)
}

func (es *PostgresEventStore) ListRatings(ctx context.Context, q RatingQuery) ([]Rating, error) {
	column := "rated_user_id"
	if q.Direction == RatingsGiven {
		column = "rater_id"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, order_id, product_id, rater_id, rated_user_id, value, comment, is_system, created_at FROM ratings WHERE `)
	sb.WriteString(column)
	sb.WriteString(` = $1`)
	args := []any{q.UserID}
	if q.After != nil {
		sb.WriteString(` AND (created_at, id) < ($2, $3)`)
		args = append(args, q.After.CreatedAt, q.After.ID)
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, ` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := es.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, classify(fmt.Errorf("postgres: list ratings %s: %w", q.UserID, err))
	}
	defer rows.Close()

	ratings := make([]Rating, 0, limit)
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.RaterID, &r.RatedUserID, &r.Value, &r.Comment, &r.System, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan rating: %w", err)
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Database timestamps are microsecond precision; keep the in-memory order rule.
	sortRatingsDesc(ratings)
	return ratings, nil
}

// TallyRatings counts straight from the ratings table.
func (es *PostgresEventStore) TallyRatings(ctx context.Context, userID string) (RatingTally, error) {
	var tally RatingTally
	err := es.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE value = 'positive'),
			COUNT(*) FILTER (WHERE value = 'negative')
		 FROM ratings WHERE rated_user_id = $1`,
		userID,
	).Scan(&tally.Positive, &tally.Negative)
	if err != nil {
		return RatingTally{}, classify(fmt.Errorf("postgres: tally ratings %s: %w", userID, err))
	}
	return tally, nil
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(ctx context.Context, connStr string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// RunMigrations applies the embedded schema files in name order.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

var _ Store = (*PostgresEventStore)(nil)
