package quality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lats-pos/receiving/internal/platform/db"
)

// Repository persists quality checks on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetTemplate(ctx context.Context, id uuid.UUID) (Template, error) {
	var tpl Template
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(description, '') FROM quality_check_templates WHERE id = $1`, id).
		Scan(&tpl.ID, &tpl.Name, &tpl.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, ErrNotFound
	}
	if err != nil {
		return Template{}, fmt.Errorf("get template: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, name, required FROM quality_check_criteria
		  WHERE template_id = $1 ORDER BY position, id`, id)
	if err != nil {
		return Template{}, fmt.Errorf("list criteria: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Criterion
		if err := rows.Scan(&c.ID, &c.Name, &c.Required); err != nil {
			return Template{}, fmt.Errorf("scan criterion: %w", err)
		}
		tpl.Criteria = append(tpl.Criteria, c)
	}
	return tpl, rows.Err()
}

// CreateCheckWithItems inserts the check and its full item fan-out in one
// transaction.
func (r *Repository) CreateCheckWithItems(ctx context.Context, check Check, items []CheckItem) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertCheck(ctx, tx, check); err != nil {
			return err
		}
		for _, it := range items {
			if err := insertItem(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateCheck inserts only the check header; used by the sequential
// fallback path.
func (r *Repository) CreateCheck(ctx context.Context, check Check) error {
	return insertCheck(ctx, r.pool, check)
}

// InsertItem appends one check item outside a transaction.
func (r *Repository) InsertItem(ctx context.Context, item CheckItem) error {
	return insertItem(ctx, r.pool, item)
}

// pgxExecer matches both *pgxpool.Pool and pgx.Tx.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertCheck(ctx context.Context, ex pgxExecer, check Check) error {
	_, err := ex.Exec(ctx,
		`INSERT INTO quality_checks
		   (id, purchase_order_id, template_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		check.ID, check.PurchaseOrderID, check.TemplateID, check.Status, check.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quality check: %w", err)
	}
	return nil
}

func insertItem(ctx context.Context, ex pgxExecer, item CheckItem) error {
	_, err := ex.Exec(ctx,
		`INSERT INTO quality_check_items
		   (id, check_id, order_item_id, criterion_id, criterion_name, required,
		    line_quantity, quantity_checked, quantity_passed, quantity_failed,
		    result, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (check_id, order_item_id, criterion_id) DO NOTHING`,
		item.ID, item.CheckID, item.OrderItemID, item.CriterionID, item.CriterionName,
		item.Required, item.LineQuantity, item.QuantityChecked, item.QuantityPassed,
		item.QuantityFailed, item.Result, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert check item: %w", err)
	}
	return nil
}

func (r *Repository) GetCheck(ctx context.Context, id uuid.UUID) (Check, error) {
	var (
		check       Check
		signature   *string
		completedBy *string
		completedAt *time.Time
		overall     *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, purchase_order_id, template_id, status, overall_result,
		        signature, completed_by, completed_at, created_at
		   FROM quality_checks WHERE id = $1`, id).
		Scan(&check.ID, &check.PurchaseOrderID, &check.TemplateID, &check.Status,
			&overall, &signature, &completedBy, &completedAt, &check.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Check{}, ErrNotFound
	}
	if err != nil {
		return Check{}, fmt.Errorf("get quality check: %w", err)
	}
	if overall != nil {
		check.OverallResult = OverallResult(*overall)
	}
	if signature != nil {
		check.Signature = *signature
	}
	if completedBy != nil {
		check.CompletedBy = *completedBy
	}
	if completedAt != nil {
		check.CompletedAt = *completedAt
	}
	return check, nil
}

func (r *Repository) GetCheckByOrder(ctx context.Context, orderID uuid.UUID) (Check, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM quality_checks WHERE purchase_order_id = $1
		  ORDER BY created_at DESC LIMIT 1`, orderID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Check{}, ErrNotFound
	}
	if err != nil {
		return Check{}, fmt.Errorf("get check by order: %w", err)
	}
	return r.GetCheck(ctx, id)
}

func (r *Repository) ListItems(ctx context.Context, checkID uuid.UUID) ([]CheckItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, check_id, order_item_id, criterion_id, criterion_name, required,
		        line_quantity, quantity_checked, quantity_passed, quantity_failed, result,
		        COALESCE(notes, ''), COALESCE(failure_reason, ''),
		        COALESCE(defect_type, ''), COALESCE(action_taken, ''), updated_at
		   FROM quality_check_items
		  WHERE check_id = $1
		  ORDER BY order_item_id, criterion_name`, checkID)
	if err != nil {
		return nil, fmt.Errorf("list check items: %w", err)
	}
	defer rows.Close()

	var out []CheckItem
	for rows.Next() {
		var it CheckItem
		if err := rows.Scan(&it.ID, &it.CheckID, &it.OrderItemID, &it.CriterionID,
			&it.CriterionName, &it.Required, &it.LineQuantity,
			&it.QuantityChecked, &it.QuantityPassed, &it.QuantityFailed, &it.Result,
			&it.Notes, &it.FailureReason, &it.DefectType, &it.ActionTaken,
			&it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan check item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repository) GetItem(ctx context.Context, itemID uuid.UUID) (CheckItem, error) {
	var it CheckItem
	err := r.pool.QueryRow(ctx,
		`SELECT id, check_id, order_item_id, criterion_id, criterion_name, required,
		        line_quantity, quantity_checked, quantity_passed, quantity_failed, result,
		        COALESCE(notes, ''), COALESCE(failure_reason, ''),
		        COALESCE(defect_type, ''), COALESCE(action_taken, ''), updated_at
		   FROM quality_check_items WHERE id = $1`, itemID).
		Scan(&it.ID, &it.CheckID, &it.OrderItemID, &it.CriterionID,
			&it.CriterionName, &it.Required, &it.LineQuantity,
			&it.QuantityChecked, &it.QuantityPassed, &it.QuantityFailed, &it.Result,
			&it.Notes, &it.FailureReason, &it.DefectType, &it.ActionTaken,
			&it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CheckItem{}, ErrNotFound
	}
	if err != nil {
		return CheckItem{}, fmt.Errorf("get check item: %w", err)
	}
	return it, nil
}

// UpdateItem writes an inspection verdict. The join guard refuses writes
// once the parent check is completed, mirroring the service-level check.
func (r *Repository) UpdateItem(ctx context.Context, item CheckItem) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quality_check_items qci
		    SET quantity_checked = $2,
		        quantity_passed = $3,
		        quantity_failed = $4,
		        result = $5,
		        notes = NULLIF($6, ''),
		        failure_reason = NULLIF($7, ''),
		        defect_type = NULLIF($8, ''),
		        action_taken = NULLIF($9, ''),
		        updated_at = $10
		   FROM quality_checks qc
		  WHERE qci.id = $1
		    AND qc.id = qci.check_id
		    AND qc.status <> 'completed'`,
		item.ID, item.QuantityChecked, item.QuantityPassed, item.QuantityFailed, item.Result,
		item.Notes, item.FailureReason, item.DefectType, item.ActionTaken, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update check item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCheckCompleted
	}
	return nil
}

// CompleteCheck signs the check off. The status guard makes completion
// single-shot.
func (r *Repository) CompleteCheck(ctx context.Context, checkID uuid.UUID, result OverallResult, signature, completedBy string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quality_checks
		    SET status = 'completed', overall_result = $2, signature = $3,
		        completed_by = $4, completed_at = $5
		  WHERE id = $1 AND status <> 'completed'`,
		checkID, result, signature, completedBy, at)
	if err != nil {
		return fmt.Errorf("complete check: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCheckCompleted
	}
	return nil
}

// ListIncompleteFanOuts finds in-progress checks whose item fan-out covers
// fewer cells than criteria x order lines, for the repair job. A check that
// lost part of its fan-out is found the same way as one that lost all of it.
func (r *Repository) ListIncompleteFanOuts(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT qc.id
		   FROM quality_checks qc
		   JOIN quality_check_criteria c ON c.template_id = qc.template_id
		   JOIN purchase_order_items poi ON poi.purchase_order_id = qc.purchase_order_id
		   LEFT JOIN quality_check_items qci
		          ON qci.check_id = qc.id
		         AND qci.order_item_id = poi.id
		         AND qci.criterion_id = c.id
		  WHERE qc.status = 'in_progress'
		  GROUP BY qc.id
		 HAVING count(qci.id) < count(*)`)
	if err != nil {
		return nil, fmt.Errorf("list incomplete fan-outs: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan check id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
