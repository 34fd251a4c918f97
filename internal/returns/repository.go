package returns

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists return orders on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	IncrementReturned(ctx context.Context, itemID uuid.UUID, quantity int) error
	InsertReturn(ctx context.Context, ret ReturnOrder) error
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

// IncrementReturned raises the returned counter for a line. The WHERE
// clause caps returns at the received quantity, so concurrent returns
// cannot overshoot.
func (t *txRepo) IncrementReturned(ctx context.Context, itemID uuid.UUID, quantity int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_order_items
		    SET returned_quantity = returned_quantity + $2
		  WHERE id = $1
		    AND returned_quantity + $2 <= received_quantity`,
		itemID, quantity)
	if err != nil {
		return fmt.Errorf("increment returned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %s quantity %d", ErrExceedsReceived, itemID, quantity)
	}
	return nil
}

func (t *txRepo) InsertReturn(ctx context.Context, ret ReturnOrder) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO return_orders
		   (id, purchase_order_id, order_item_id, variant_id, return_type, quantity, reason, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ret.ID, ret.PurchaseOrderID, ret.OrderItemID, ret.VariantID,
		ret.Type, ret.Quantity, ret.Reason, ret.Actor, ret.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert return order: %w", err)
	}
	return nil
}

func (r *Repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]ReturnOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, purchase_order_id, order_item_id, variant_id, return_type, quantity, reason, actor, created_at
		   FROM return_orders
		  WHERE purchase_order_id = $1
		  ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list returns: %w", err)
	}
	defer rows.Close()

	var out []ReturnOrder
	for rows.Next() {
		var ret ReturnOrder
		if err := rows.Scan(&ret.ID, &ret.PurchaseOrderID, &ret.OrderItemID, &ret.VariantID,
			&ret.Type, &ret.Quantity, &ret.Reason, &ret.Actor, &ret.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan return order: %w", err)
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}
