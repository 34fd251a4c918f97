package draft

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lats-pos/receiving/internal/platform/db"
)

// Repository persists draft products on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// InsertProduct creates a draft row unless one already exists for the same
// order item and shipment, which keeps the fan-out idempotent.
func (r *Repository) InsertProduct(ctx context.Context, p Product) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO draft_products
		   (id, shipment_id, purchase_order_id, order_item_id, product_id, variant_id,
		    name, quantity, cost_price, suggested_price, currency, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (shipment_id, order_item_id) DO NOTHING`,
		p.ID, p.ShipmentID, p.PurchaseOrderID, p.OrderItemID, p.ProductID, p.VariantID,
		p.Name, p.Quantity, p.CostPrice, p.SuggestedPrice, p.Currency, p.Status, p.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert draft product: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const productColumns = `id, shipment_id, purchase_order_id, order_item_id, product_id, variant_id,
	name, quantity, cost_price, suggested_price, currency, status, created_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.ShipmentID, &p.PurchaseOrderID, &p.OrderItemID,
		&p.ProductID, &p.VariantID, &p.Name, &p.Quantity, &p.CostPrice,
		&p.SuggestedPrice, &p.Currency, &p.Status, &p.CreatedAt)
	return p, err
}

func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM draft_products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("get draft product: %w", err)
	}
	return p, nil
}

func (r *Repository) ListByShipment(ctx context.Context, shipmentID uuid.UUID) ([]Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM draft_products WHERE shipment_id = $1 ORDER BY created_at, id`,
		shipmentID)
	if err != nil {
		return nil, fmt.Errorf("list drafts by shipment: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateProductStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE draft_products SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update draft status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertValidation records a verdict, replacing any earlier verdict for the
// same draft.
func (r *Repository) UpsertValidation(ctx context.Context, v Validation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO product_validations
		   (id, draft_id, shipment_id, product_id, status, errors, name_override,
		    description_override, category_override, supplier_override,
		    price_override, notes, validated_by, validated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''),
		         NULLIF($10, ''), $11, NULLIF($12, ''), $13, $14)
		 ON CONFLICT (draft_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   errors = EXCLUDED.errors,
		   name_override = EXCLUDED.name_override,
		   description_override = EXCLUDED.description_override,
		   category_override = EXCLUDED.category_override,
		   supplier_override = EXCLUDED.supplier_override,
		   price_override = EXCLUDED.price_override,
		   notes = EXCLUDED.notes,
		   validated_by = EXCLUDED.validated_by,
		   validated_at = EXCLUDED.validated_at`,
		v.ID, v.DraftID, v.ShipmentID, v.ProductID, v.Status, v.Errors, v.NameOverride,
		v.DescriptionOverride, v.CategoryOverride, v.SupplierOverride,
		v.PriceOverride, v.Notes, v.ValidatedBy, v.ValidatedAt)
	if err != nil {
		return fmt.Errorf("upsert validation: %w", err)
	}
	return nil
}

func (r *Repository) GetValidation(ctx context.Context, draftID uuid.UUID) (Validation, error) {
	var v Validation
	err := r.pool.QueryRow(ctx,
		`SELECT id, draft_id, shipment_id, product_id, status, COALESCE(errors, '{}'),
		        COALESCE(name_override, ''), COALESCE(description_override, ''),
		        COALESCE(category_override, ''), COALESCE(supplier_override, ''),
		        price_override, COALESCE(notes, ''), validated_by, validated_at
		   FROM product_validations WHERE draft_id = $1`, draftID).
		Scan(&v.ID, &v.DraftID, &v.ShipmentID, &v.ProductID, &v.Status, &v.Errors,
			&v.NameOverride, &v.DescriptionOverride, &v.CategoryOverride,
			&v.SupplierOverride, &v.PriceOverride, &v.Notes,
			&v.ValidatedBy, &v.ValidatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Validation{}, ErrNotFound
	}
	if err != nil {
		return Validation{}, fmt.Errorf("get validation: %w", err)
	}
	return v, nil
}

// CountByShipment returns total drafts, approved and rejected verdict counts.
func (r *Repository) CountByShipment(ctx context.Context, shipmentID uuid.UUID) (total, approved, rejected int, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT count(dp.id),
		        count(pv.id) FILTER (WHERE pv.status = 'approved'),
		        count(pv.id) FILTER (WHERE pv.status = 'rejected')
		   FROM draft_products dp
		   LEFT JOIN product_validations pv ON pv.draft_id = dp.id
		  WHERE dp.shipment_id = $1`, shipmentID).
		Scan(&total, &approved, &rejected)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count drafts by shipment: %w", err)
	}
	return total, approved, rejected, nil
}

// ListIncompleteShipments finds shipped orders whose draft fan-out covers
// fewer lines than the order has, for the repair job.
func (r *Repository) ListIncompleteShipments(ctx context.Context) ([]ShipmentRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.purchase_order_id, s.id
		   FROM shipments s
		   JOIN purchase_order_items poi ON poi.purchase_order_id = s.purchase_order_id
		   LEFT JOIN draft_products dp ON dp.shipment_id = s.id AND dp.order_item_id = poi.id
		  GROUP BY s.purchase_order_id, s.id
		 HAVING count(poi.id) > count(dp.id)`)
	if err != nil {
		return nil, fmt.Errorf("list incomplete shipments: %w", err)
	}
	defer rows.Close()

	var out []ShipmentRef
	for rows.Next() {
		var ref ShipmentRef
		if err := rows.Scan(&ref.OrderID, &ref.ShipmentID); err != nil {
			return nil, fmt.Errorf("scan shipment ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// Promote applies staged overrides to the catalog and flips the draft to
// promoted, in one transaction.
func (r *Repository) Promote(ctx context.Context, p Product, v Validation) error {
	name := p.Name
	if v.NameOverride != "" {
		name = v.NameOverride
	}
	price := p.SuggestedPrice
	if v.PriceOverride > 0 {
		price = v.PriceOverride
	}
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE products
			    SET name = $2,
			        description = COALESCE(NULLIF($3, ''), description),
			        category = COALESCE(NULLIF($4, ''), category),
			        supplier = COALESCE(NULLIF($5, ''), supplier),
			        updated_at = now()
			  WHERE id = $1`, p.ProductID, name,
			v.DescriptionOverride, v.CategoryOverride, v.SupplierOverride); err != nil {
			return fmt.Errorf("promote product: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE product_variants
			    SET cost_price = $2, selling_price = $3
			  WHERE id = $1`, p.VariantID, p.CostPrice, price); err != nil {
			return fmt.Errorf("promote variant pricing: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE draft_products SET status = $2 WHERE id = $1`, p.ID, StatusPromoted); err != nil {
			return fmt.Errorf("mark draft promoted: %w", err)
		}
		return nil
	})
}
