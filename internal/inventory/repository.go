package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InsertItem(ctx context.Context, item Item) error
	InsertAdjustment(ctx context.Context, adj Adjustment) error
	AdjustVariantStock(ctx context.Context, variantID uuid.UUID, delta int) error
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

func (t *txRepo) InsertItem(ctx context.Context, item Item) error {
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal item metadata: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO inventory_items
		   (id, product_id, variant_id, purchase_order_id, serial_number, imei, mac_address,
		    barcode, status, cost_price, selling_price, location, shelf, bin,
		    warranty_start, warranty_end, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
		         $9, $10, $11, $12, $13, $14, NULLIF($15, '0001-01-01'::timestamptz),
		         NULLIF($16, '0001-01-01'::timestamptz), $17, $18)`,
		item.ID, item.ProductID, item.VariantID, item.PurchaseOrderID,
		item.Serial, item.IMEI, item.MAC, item.Barcode,
		item.Status, item.CostPrice, item.SellingPrice,
		item.Location, item.Shelf, item.Bin,
		item.WarrantyStart, item.WarrantyEnd, meta, item.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateSerial, item.Serial)
	}
	if err != nil {
		return fmt.Errorf("insert inventory item: %w", err)
	}
	return nil
}

func (t *txRepo) InsertAdjustment(ctx context.Context, adj Adjustment) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO inventory_adjustments
		   (id, purchase_order_id, order_item_id, variant_id, adjustment_type, quantity, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		adj.ID, adj.PurchaseOrderID, adj.OrderItemID, adj.VariantID,
		adj.Type, adj.Quantity, adj.Reason, adj.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}

// AdjustVariantStock applies an atomic delta to the variant quantity. A
// negative delta is rejected in SQL when it would drive stock below zero.
func (t *txRepo) AdjustVariantStock(ctx context.Context, variantID uuid.UUID, delta int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE product_variants
		    SET quantity = quantity + $2
		  WHERE id = $1 AND quantity + $2 >= 0`,
		variantID, delta)
	if err != nil {
		return fmt.Errorf("adjust variant stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if delta < 0 {
			return ErrInsufficientStock
		}
		return ErrNotFound
	}
	return nil
}

// InsertMovement appends a stock movement outside any caller transaction.
func (r *Repository) InsertMovement(ctx context.Context, mv Movement) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO stock_movements
		   (id, variant_id, item_id, movement_type, quantity, from_status, to_status, reference_id, notes, occurred_at)
		 VALUES ($1, $2, NULLIF($3, '00000000-0000-0000-0000-000000000000'::uuid), $4, $5,
		         NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10)`,
		mv.ID, mv.VariantID, mv.ItemID, mv.Type, mv.Quantity,
		string(mv.FromStatus), string(mv.ToStatus), mv.Reference, mv.Notes, mv.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (r *Repository) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	row := r.pool.QueryRow(ctx, itemSelect+` WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get inventory item: %w", err)
	}
	return item, nil
}

func (r *Repository) ListItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	rows, err := r.pool.Query(ctx, itemSelect+` WHERE purchase_order_id = $1 ORDER BY created_at, serial_number`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list items by order: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *Repository) ListAdjustmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Adjustment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, purchase_order_id, order_item_id, variant_id, adjustment_type, quantity,
		        COALESCE(reason, ''), created_at
		   FROM inventory_adjustments
		  WHERE purchase_order_id = $1
		  ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list adjustments by order: %w", err)
	}
	defer rows.Close()

	var out []Adjustment
	for rows.Next() {
		var adj Adjustment
		if err := rows.Scan(&adj.ID, &adj.PurchaseOrderID, &adj.OrderItemID, &adj.VariantID,
			&adj.Type, &adj.Quantity, &adj.Reason, &adj.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		out = append(out, adj)
	}
	return out, rows.Err()
}

func (r *Repository) ListMovements(ctx context.Context, variantID uuid.UUID, limit int) ([]Movement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, variant_id,
		        COALESCE(item_id, '00000000-0000-0000-0000-000000000000'::uuid),
		        movement_type, quantity,
		        COALESCE(from_status, ''), COALESCE(to_status, ''),
		        reference_id, COALESCE(notes, ''), occurred_at
		   FROM stock_movements
		  WHERE variant_id = $1
		  ORDER BY occurred_at DESC
		  LIMIT $2`, variantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var mv Movement
		if err := rows.Scan(&mv.ID, &mv.VariantID, &mv.ItemID, &mv.Type, &mv.Quantity,
			&mv.FromStatus, &mv.ToStatus, &mv.Reference, &mv.Notes, &mv.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

// StockOnHand reads the current variant quantity.
func (r *Repository) StockOnHand(ctx context.Context, variantID uuid.UUID) (int, error) {
	var qty int
	err := r.pool.QueryRow(ctx,
		`SELECT quantity FROM product_variants WHERE id = $1`, variantID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("stock on hand: %w", err)
	}
	return qty, nil
}

// UpdateItemStatus moves a serialized unit into a new status.
func (r *Repository) UpdateItemStatus(ctx context.Context, id uuid.UUID, status ItemStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE inventory_items SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update item status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const itemSelect = `SELECT id, product_id, variant_id, purchase_order_id, serial_number,
	COALESCE(imei, ''), COALESCE(mac_address, ''), COALESCE(barcode, ''),
	status, cost_price, selling_price, COALESCE(location, ''), COALESCE(shelf, ''),
	COALESCE(bin, ''), warranty_start, warranty_end, metadata, created_at
	FROM inventory_items`

func scanItem(row pgx.Row) (Item, error) {
	var (
		item          Item
		warrantyStart *time.Time
		warrantyEnd   *time.Time
		meta          []byte
	)
	err := row.Scan(&item.ID, &item.ProductID, &item.VariantID, &item.PurchaseOrderID,
		&item.Serial, &item.IMEI, &item.MAC, &item.Barcode,
		&item.Status, &item.CostPrice, &item.SellingPrice,
		&item.Location, &item.Shelf, &item.Bin,
		&warrantyStart, &warrantyEnd, &meta, &item.CreatedAt)
	if err != nil {
		return Item{}, err
	}
	if warrantyStart != nil {
		item.WarrantyStart = *warrantyStart
	}
	if warrantyEnd != nil {
		item.WarrantyEnd = *warrantyEnd
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &item.Metadata); err != nil {
			return Item{}, fmt.Errorf("unmarshal item metadata: %w", err)
		}
	}
	return item, nil
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
