package returns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lats-pos/receiving/internal/inventory"
	"github.com/lats-pos/receiving/internal/observability"
	"github.com/lats-pos/receiving/internal/order"
	"github.com/lats-pos/receiving/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]ReturnOrder, error)
}

// OrderPort reads order lines.
type OrderPort interface {
	GetItem(ctx context.Context, itemID uuid.UUID) (order.Item, error)
}

// InventoryPort lowers stock for returned goods.
type InventoryPort interface {
	ApplyReturn(ctx context.Context, adj inventory.Adjustment) (inventory.Adjustment, error)
}

// AuditPort records return actions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// Service processes supplier returns.
type Service struct {
	repo    RepositoryPort
	orders  OrderPort
	inv     InventoryPort
	audit   AuditPort
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService builds Service.
func NewService(repo RepositoryPort, orders OrderPort, inv InventoryPort, audit AuditPort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, orders: orders, inv: inv, audit: audit, logger: logger, metrics: metrics}
}

// ProcessReturn sends goods back to the supplier. The returned counter is
// capped at the received quantity inside the transaction, so the check holds
// under concurrency regardless of what this call read beforehand.
func (s *Service) ProcessReturn(ctx context.Context, orderItemID uuid.UUID, returnType ReturnType, quantity int, reason, actor string) (ReturnOrder, error) {
	if quantity <= 0 {
		return ReturnOrder{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if !ValidReturnType(returnType) {
		return ReturnOrder{}, fmt.Errorf("%w: unknown return type %q", ErrValidation, returnType)
	}
	if reason == "" {
		return ReturnOrder{}, fmt.Errorf("%w: reason required", ErrValidation)
	}
	if actor == "" {
		return ReturnOrder{}, fmt.Errorf("%w: actor required", ErrValidation)
	}
	line, err := s.orders.GetItem(ctx, orderItemID)
	if err != nil {
		return ReturnOrder{}, err
	}

	ret := ReturnOrder{
		ID:              uuid.New(),
		PurchaseOrderID: line.PurchaseOrderID,
		OrderItemID:     orderItemID,
		VariantID:       line.VariantID,
		Type:            returnType,
		Quantity:        quantity,
		Reason:          reason,
		Actor:           actor,
		CreatedAt:       time.Now().UTC(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.IncrementReturned(ctx, orderItemID, quantity); err != nil {
			return err
		}
		return tx.InsertReturn(ctx, ret)
	})
	if err != nil {
		return ReturnOrder{}, err
	}

	// Stock decrement is repairable; the return record is the source of
	// truth for what left the building.
	if _, err := s.inv.ApplyReturn(ctx, inventory.Adjustment{
		PurchaseOrderID: ret.PurchaseOrderID,
		OrderItemID:     orderItemID,
		VariantID:       line.VariantID,
		Quantity:        quantity,
		Reason:          reason,
	}); err != nil {
		s.logger.Warn("return stock decrement failed",
			"order_id", ret.PurchaseOrderID, "item_id", orderItemID, "error", err)
	}

	if s.audit != nil {
		entry := shared.AuditEntry{
			ID:              uuid.New(),
			PurchaseOrderID: ret.PurchaseOrderID,
			Action:          "return_processed",
			Actor:           actor,
			Details: map[string]any{
				"item_id":     orderItemID.String(),
				"return_type": string(returnType),
				"quantity":    quantity,
				"reason":      reason,
			},
			OccurredAt: ret.CreatedAt,
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("audit record failed", "order_id", ret.PurchaseOrderID, "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.ReturnsTotal.Inc()
	}
	return ret, nil
}

// ListReturns lists return orders for a purchase order, newest first.
func (s *Service) ListReturns(ctx context.Context, orderID uuid.UUID) ([]ReturnOrder, error) {
	return s.repo.ListByOrder(ctx, orderID)
}
