package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lats-pos/receiving/internal/observability"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertMovement(ctx context.Context, mv Movement) error
	GetItem(ctx context.Context, id uuid.UUID) (Item, error)
	ListItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]Item, error)
	ListAdjustmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Adjustment, error)
	ListMovements(ctx context.Context, variantID uuid.UUID, limit int) ([]Movement, error)
	StockOnHand(ctx context.Context, variantID uuid.UUID) (int, error)
	UpdateItemStatus(ctx context.Context, id uuid.UUID, status ItemStatus) error
}

// Service coordinates stock mutations for both receive paths.
type Service struct {
	repo    RepositoryPort
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, logger: logger, metrics: metrics}
}

// CreateSerializedUnits registers individually tracked units and raises the
// variant stock level by the unit count, all in one transaction. Serial
// numbers must be unique within the batch and across the system.
func (s *Service) CreateSerializedUnits(ctx context.Context, orderID uuid.UUID, units []Item) ([]Item, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: no units supplied", ErrValidation)
	}
	seen := make(map[string]struct{}, len(units))
	now := time.Now().UTC()
	perVariant := map[uuid.UUID]int{}
	for i := range units {
		u := &units[i]
		if u.Serial == "" {
			return nil, fmt.Errorf("%w: serial number required", ErrValidation)
		}
		if _, dup := seen[u.Serial]; dup {
			return nil, fmt.Errorf("%w: %s repeated in batch", ErrDuplicateSerial, u.Serial)
		}
		seen[u.Serial] = struct{}{}
		if u.VariantID == uuid.Nil {
			return nil, fmt.Errorf("%w: variant required for serial %s", ErrValidation, u.Serial)
		}
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		if u.Status == "" {
			u.Status = ItemAvailable
		}
		if !ValidItemStatus(u.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, u.Status)
		}
		u.PurchaseOrderID = orderID
		u.CreatedAt = now
		perVariant[u.VariantID]++
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, u := range units {
			if err := tx.InsertItem(ctx, u); err != nil {
				return err
			}
		}
		for variantID, count := range perVariant {
			if err := tx.AdjustVariantStock(ctx, variantID, count); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Movements are an audit trail, not the source of truth; a failed insert
	// is logged and left for the repair job. One movement per unit, so each
	// physical item has its own received record.
	for _, u := range units {
		s.recordMovement(ctx, Movement{
			ID:         uuid.New(),
			VariantID:  u.VariantID,
			ItemID:     u.ID,
			Type:       MovementReceive,
			Quantity:   1,
			ToStatus:   u.Status,
			Reference:  orderID,
			OccurredAt: now,
		})
	}
	if s.metrics != nil {
		s.metrics.UnitsSerialized.Add(float64(len(units)))
	}
	return units, nil
}

// ApplyBulkReceive raises the variant stock level for non-serialized goods
// and records the adjustment row in the same transaction.
func (s *Service) ApplyBulkReceive(ctx context.Context, adj Adjustment) (Adjustment, error) {
	if adj.Quantity <= 0 {
		return Adjustment{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if adj.VariantID == uuid.Nil {
		return Adjustment{}, fmt.Errorf("%w: variant required", ErrValidation)
	}
	adj.ID = uuid.New()
	adj.Type = AdjustReceive
	adj.CreatedAt = time.Now().UTC()

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertAdjustment(ctx, adj); err != nil {
			return err
		}
		return tx.AdjustVariantStock(ctx, adj.VariantID, adj.Quantity)
	})
	if err != nil {
		return Adjustment{}, err
	}

	s.recordMovement(ctx, Movement{
		ID:         uuid.New(),
		VariantID:  adj.VariantID,
		Type:       MovementReceive,
		Quantity:   adj.Quantity,
		Reference:  adj.PurchaseOrderID,
		Notes:      adj.Reason,
		OccurredAt: adj.CreatedAt,
	})
	return adj, nil
}

// ApplyReturn lowers the variant stock level when goods go back to the
// supplier. The decrement fails when on-hand stock is too low.
func (s *Service) ApplyReturn(ctx context.Context, adj Adjustment) (Adjustment, error) {
	if adj.Quantity <= 0 {
		return Adjustment{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if adj.VariantID == uuid.Nil {
		return Adjustment{}, fmt.Errorf("%w: variant required", ErrValidation)
	}
	adj.ID = uuid.New()
	adj.Type = AdjustReturn
	adj.CreatedAt = time.Now().UTC()

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertAdjustment(ctx, adj); err != nil {
			return err
		}
		return tx.AdjustVariantStock(ctx, adj.VariantID, -adj.Quantity)
	})
	if err != nil {
		return Adjustment{}, err
	}

	s.recordMovement(ctx, Movement{
		ID:         uuid.New(),
		VariantID:  adj.VariantID,
		Type:       MovementReturn,
		Quantity:   -adj.Quantity,
		Reference:  adj.PurchaseOrderID,
		Notes:      adj.Reason,
		OccurredAt: adj.CreatedAt,
	})
	return adj, nil
}

// UpdateItemStatus moves a serialized unit to a new lifecycle status and
// records the transition as a zero-quantity movement.
func (s *Service) UpdateItemStatus(ctx context.Context, itemID uuid.UUID, status ItemStatus) (Item, error) {
	if !ValidItemStatus(status) {
		return Item{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	before, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	if err := s.repo.UpdateItemStatus(ctx, itemID, status); err != nil {
		return Item{}, err
	}
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	s.recordMovement(ctx, Movement{
		ID:         uuid.New(),
		VariantID:  item.VariantID,
		ItemID:     item.ID,
		Type:       MovementAdjust,
		Quantity:   0,
		FromStatus: before.Status,
		ToStatus:   item.Status,
		OccurredAt: time.Now().UTC(),
	})
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

func (s *Service) ListUnitsByOrder(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	return s.repo.ListItemsByOrder(ctx, orderID)
}

func (s *Service) ListAdjustmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Adjustment, error) {
	return s.repo.ListAdjustmentsByOrder(ctx, orderID)
}

func (s *Service) ListMovements(ctx context.Context, variantID uuid.UUID, limit int) ([]Movement, error) {
	return s.repo.ListMovements(ctx, variantID, limit)
}

func (s *Service) StockOnHand(ctx context.Context, variantID uuid.UUID) (int, error) {
	return s.repo.StockOnHand(ctx, variantID)
}

func (s *Service) recordMovement(ctx context.Context, mv Movement) {
	if err := s.repo.InsertMovement(ctx, mv); err != nil {
		s.logger.Warn("stock movement not recorded",
			"variant_id", mv.VariantID, "type", mv.Type, "quantity", mv.Quantity, "error", err)
	}
}
