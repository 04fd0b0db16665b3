package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/auction-fulfillment/internal/readmodel"
)

// PostgresReadStore implements ReadStoreInterface using PostgreSQL
type PostgresReadStore struct {
	db *sql.DB
}

// NewPostgresReadStore creates a new PostgreSQL-based read store
func NewPostgresReadStore(db *sql.DB) *PostgresReadStore {
	return &PostgresReadStore{db: db}
}

const readOrderColumns = `id, product_id, seller_id, buyer_id, final_price, status, tracking_reference,
	seller_rating, buyer_rating, cancellation_reason, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReadOrder(row rowScanner) (*readmodel.OrderReadModel, error) {
	var o readmodel.OrderReadModel
	err := row.Scan(
		&o.ID, &o.ProductID, &o.SellerID, &o.BuyerID, &o.FinalPrice, &o.Status, &o.TrackingReference,
		&o.SellerRating, &o.BuyerRating, &o.CancellationReason, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpsertOrder stores an order summary. Older versions never overwrite newer ones.
func (rs *PostgresReadStore) UpsertOrder(ctx context.Context, o *readmodel.OrderReadModel) error {
	return upsertReadOrder(ctx, rs.db, o)
}

func upsertReadOrder(ctx context.Context, db execer, o *readmodel.OrderReadModel) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO read_orders (`+readOrderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			tracking_reference = EXCLUDED.tracking_reference,
			seller_rating = EXCLUDED.seller_rating,
			buyer_rating = EXCLUDED.buyer_rating,
			cancellation_reason = EXCLUDED.cancellation_reason,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE read_orders.version <= EXCLUDED.version
	`, o.ID, o.ProductID, o.SellerID, o.BuyerID, o.FinalPrice, o.Status, o.TrackingReference,
		o.SellerRating, o.BuyerRating, o.CancellationReason, o.Version, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return classify(fmt.Errorf("postgres: upsert read order %s: %w", o.ID, err))
	}
	return nil
}

func (rs *PostgresReadStore) GetOrder(ctx context.Context, id string) (*readmodel.OrderReadModel, bool, error) {
	o, err := scanReadOrder(rs.db.QueryRowContext(ctx,
		`SELECT `+readOrderColumns+` FROM read_orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(fmt.Errorf("postgres: get read order %s: %w", id, err))
	}
	return o, true, nil
}

// UpdateOrder locks the row for the duration of updateFn.
func (rs *PostgresReadStore) UpdateOrder(ctx context.Context, id string, updateFn func(o *readmodel.OrderReadModel)) (bool, error) {
	tx, err := rs.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify(fmt.Errorf("postgres: begin read order update: %w", err))
	}
	defer tx.Rollback()

	o, err := scanReadOrder(tx.QueryRowContext(ctx,
		`SELECT `+readOrderColumns+` FROM read_orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(fmt.Errorf("postgres: lock read order %s: %w", id, err))
	}

	updateFn(o)
	if err := upsertReadOrder(ctx, tx, o); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, classify(fmt.Errorf("postgres: commit read order %s: %w", id, err))
	}
	return true, nil
}

func (rs *PostgresReadStore) ListOrdersByUser(ctx context.Context, userID string) ([]*readmodel.OrderReadModel, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT `+readOrderColumns+` FROM read_orders
		WHERE seller_id = $1 OR buyer_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, classify(fmt.Errorf("postgres: list read orders %s: %w", userID, err))
	}
	defer rows.Close()

	var orders []*readmodel.OrderReadModel
	for rows.Next() {
		o, err := scanReadOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan read order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

var _ ReadStoreInterface = (*PostgresReadStore)(nil)
