package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry is an immutable record of a state-changing pipeline action.
type AuditEntry struct {
	ID              uuid.UUID
	PurchaseOrderID uuid.UUID
	Action          string
	Actor           string
	Details         map[string]any
	OccurredAt      time.Time
}

// AuditTrail writes and reads the append-only purchase order audit log.
// Entries are never updated or deleted.
type AuditTrail struct {
	pool *pgxpool.Pool
}

// NewAuditTrail returns a new AuditTrail.
func NewAuditTrail(pool *pgxpool.Pool) *AuditTrail {
	return &AuditTrail{pool: pool}
}

// Record persists the entry.
func (t *AuditTrail) Record(ctx context.Context, entry AuditEntry) error {
	if t == nil {
		return errors.New("audit trail not initialised")
	}
	if entry.PurchaseOrderID == uuid.Nil || entry.Action == "" || entry.Actor == "" {
		return errors.New("audit entry requires purchase order/action/actor")
	}
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	_, err = t.pool.Exec(ctx, `INSERT INTO purchase_order_audit (id, purchase_order_id, action, actor, details, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, '0001-01-01 00:00:00+00'::timestamptz), NOW()))`,
		uuid.New(), entry.PurchaseOrderID, entry.Action, entry.Actor, detailsJSON, entry.OccurredAt)
	return err
}

// ListByOrder returns entries for one purchase order, newest first.
func (t *AuditTrail) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]AuditEntry, error) {
	if t == nil {
		return nil, errors.New("audit trail not initialised")
	}
	rows, err := t.pool.Query(ctx, `SELECT id, purchase_order_id, action, actor, details, occurred_at
FROM purchase_order_audit WHERE purchase_order_id=$1 ORDER BY occurred_at DESC, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var detailsJSON []byte
		if err := rows.Scan(&entry.ID, &entry.PurchaseOrderID, &entry.Action, &entry.Actor, &detailsJSON, &entry.OccurredAt); err != nil {
			return nil, err
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
