package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lats-pos/receiving/internal/platform/db"
)

// Repository persists purchase orders on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const orderColumns = `id, po_number, supplier_id, status, currency, base_currency,
	exchange_rate, total_paid, expected_date, shipped_at, received_at, notes, created_at`

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var (
		po           PurchaseOrder
		expectedDate *time.Time
		shippedAt    *time.Time
		receivedAt   *time.Time
		notes        *string
	)
	err := row.Scan(
		&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.Currency,
		&po.BaseCurrency, &po.ExchangeRate, &po.TotalPaid,
		&expectedDate, &shippedAt, &receivedAt, &notes, &po.CreatedAt,
	)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if expectedDate != nil {
		po.ExpectedDate = *expectedDate
	}
	if shippedAt != nil {
		po.ShippedAt = *shippedAt
	}
	if receivedAt != nil {
		po.ReceivedAt = *receivedAt
	}
	if notes != nil {
		po.Notes = *notes
	}
	return po, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id)
	po, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("get purchase order: %w", err)
	}
	return po, nil
}

func (r *Repository) List(ctx context.Context, status Status, limit, offset int) ([]PurchaseOrder, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + orderColumns + ` FROM purchase_orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", err)
	}
	defer rows.Close()

	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase order: %w", err)
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

// UpdateStatus moves the order from one status to another. The WHERE clause
// pins the expected current status so concurrent transitions lose cleanly.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	set := `status = $3`
	switch to {
	case StatusShipped:
		set += `, shipped_at = now()`
	case StatusReceived:
		set += `, received_at = now()`
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE purchase_orders SET `+set+` WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *Repository) ListItems(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, purchase_order_id, product_id, variant_id, quantity,
		        received_quantity, returned_quantity, cost_price, COALESCE(notes, '')
		   FROM purchase_order_items
		  WHERE purchase_order_id = $1
		  ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.PurchaseOrderID, &it.ProductID, &it.VariantID,
			&it.Quantity, &it.ReceivedQuantity, &it.ReturnedQuantity,
			&it.CostPrice, &it.Notes); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) GetItem(ctx context.Context, itemID uuid.UUID) (Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx,
		`SELECT id, purchase_order_id, product_id, variant_id, quantity,
		        received_quantity, returned_quantity, cost_price, COALESCE(notes, '')
		   FROM purchase_order_items WHERE id = $1`, itemID).
		Scan(&it.ID, &it.PurchaseOrderID, &it.ProductID, &it.VariantID,
			&it.Quantity, &it.ReceivedQuantity, &it.ReturnedQuantity,
			&it.CostPrice, &it.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get order item: %w", err)
	}
	return it, nil
}

func (r *Repository) CreateShipment(ctx context.Context, sh Shipment) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO shipments (id, purchase_order_id, carrier, tracking_number, status, assigned_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sh.ID, sh.PurchaseOrderID, sh.Carrier, sh.TrackingNumber, sh.Status, sh.AssignedAt)
	if err != nil {
		return fmt.Errorf("create shipment: %w", err)
	}
	return nil
}

func (r *Repository) GetShipmentByOrder(ctx context.Context, orderID uuid.UUID) (Shipment, error) {
	var sh Shipment
	err := r.pool.QueryRow(ctx,
		`SELECT id, purchase_order_id, COALESCE(carrier, ''), COALESCE(tracking_number, ''),
		        status, assigned_at
		   FROM shipments WHERE purchase_order_id = $1
		  ORDER BY assigned_at DESC LIMIT 1`, orderID).
		Scan(&sh.ID, &sh.PurchaseOrderID, &sh.Carrier, &sh.TrackingNumber,
			&sh.Status, &sh.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Shipment{}, ErrNotFound
	}
	if err != nil {
		return Shipment{}, fmt.Errorf("get shipment: %w", err)
	}
	return sh, nil
}
