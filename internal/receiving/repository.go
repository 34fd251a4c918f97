package receiving

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository applies receive batch increments on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	IncrementReceived(ctx context.Context, itemID uuid.UUID, delta int) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IncrementReceived applies an atomic delta to a line's received quantity.
// The WHERE clause enforces the ordered-quantity ceiling, so concurrent
// batches cannot overshoot regardless of what either of them read earlier.
func (t *txRepo) IncrementReceived(ctx context.Context, itemID uuid.UUID, delta int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_order_items
		    SET received_quantity = received_quantity + $2
		  WHERE id = $1
		    AND received_quantity + $2 <= quantity
		    AND received_quantity + $2 >= 0`,
		itemID, delta)
	if err != nil {
		return fmt.Errorf("increment received: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %s delta %d", ErrExceedsOrdered, itemID, delta)
	}
	return nil
}
