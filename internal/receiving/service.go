package receiving

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lats-pos/receiving/internal/inventory"
	"github.com/lats-pos/receiving/internal/observability"
	"github.com/lats-pos/receiving/internal/order"
	"github.com/lats-pos/receiving/internal/shared"
)

// RepositoryPort abstracts the receive batch persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// OrderPort reads order state and drives the terminal transition.
type OrderPort interface {
	GetOrder(ctx context.Context, id uuid.UUID) (order.PurchaseOrder, error)
	ListItems(ctx context.Context, orderID uuid.UUID) ([]order.Item, error)
	MarkReceived(ctx context.Context, id uuid.UUID, actor string) error
}

// InventoryPort applies stock effects of a receive batch.
type InventoryPort interface {
	CreateSerializedUnits(ctx context.Context, orderID uuid.UUID, units []inventory.Item) ([]inventory.Item, error)
	ApplyBulkReceive(ctx context.Context, adj inventory.Adjustment) (inventory.Adjustment, error)
	ListUnitsByOrder(ctx context.Context, orderID uuid.UUID) ([]inventory.Item, error)
	ListAdjustmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]inventory.Adjustment, error)
}

// GuardPort fences duplicate serialized submissions.
type GuardPort interface {
	Acquire(ctx context.Context, key string) (*shared.Submission, error)
}

// AuditPort records receiving actions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// IdempotencyPort makes completion single-shot.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, stage string) error
}

// Service is the receiving reconciler: it turns validated batch input into
// atomic line increments plus their inventory side effects.
type Service struct {
	repo     RepositoryPort
	orders   OrderPort
	inv      InventoryPort
	guard    GuardPort
	audit    AuditPort
	idem     IdempotencyPort
	cache    redis.UniversalClient
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	sf       singleflight.Group
}

// ServiceDeps groups the service collaborators.
type ServiceDeps struct {
	Repo        RepositoryPort
	Orders      OrderPort
	Inventory   InventoryPort
	Guard       GuardPort
	Audit       AuditPort
	Idempotency IdempotencyPort
	Cache       redis.UniversalClient
	CacheTTL    time.Duration
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// NewService builds Service.
func NewService(deps ServiceDeps) *Service {
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = time.Minute
	}
	return &Service{
		repo:     deps.Repo,
		orders:   deps.Orders,
		inv:      deps.Inventory,
		guard:    deps.Guard,
		audit:    deps.Audit,
		idem:     deps.Idempotency,
		cache:    deps.Cache,
		cacheTTL: deps.CacheTTL,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
}

var receivableStatuses = map[order.Status]struct{}{
	order.StatusShipped:        {},
	order.StatusQualityChecked: {},
}

// UpdateReceivedQuantities applies one receive batch. All lines are
// validated before anything persists; a single invalid line rejects the
// whole batch with every problem listed. Line increments run in one
// transaction with the ordered-quantity ceiling enforced in SQL. Inventory
// side effects run after commit and are repairable, never fatal.
func (s *Service) UpdateReceivedQuantities(ctx context.Context, orderID uuid.UUID, updates []ItemUpdate, actor string) (BatchResult, error) {
	if len(updates) == 0 {
		return BatchResult{}, fmt.Errorf("%w: empty batch", ErrValidation)
	}
	po, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return BatchResult{}, err
	}
	if _, ok := receivableStatuses[po.Status]; !ok {
		return BatchResult{}, fmt.Errorf("%w: status %s", ErrOrderState, po.Status)
	}
	lines, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		return BatchResult{}, err
	}
	byID := make(map[uuid.UUID]order.Item, len(lines))
	for _, line := range lines {
		byID[line.ID] = line
	}

	var problems []string
	seen := map[uuid.UUID]struct{}{}
	for _, u := range updates {
		line, ok := byID[u.ItemID]
		if !ok {
			problems = append(problems, fmt.Sprintf("item %s not on order", u.ItemID))
			continue
		}
		if _, dup := seen[u.ItemID]; dup {
			problems = append(problems, fmt.Sprintf("item %s listed twice", u.ItemID))
			continue
		}
		seen[u.ItemID] = struct{}{}
		if u.ReceivedQuantity <= 0 {
			problems = append(problems, fmt.Sprintf("item %s: quantity must be positive", u.ItemID))
			continue
		}
		if len(u.Units) > u.ReceivedQuantity {
			problems = append(problems, fmt.Sprintf("item %s: %d serials exceed quantity %d",
				u.ItemID, len(u.Units), u.ReceivedQuantity))
		}
		if line.ReceivedQuantity+u.ReceivedQuantity > line.Quantity {
			problems = append(problems, fmt.Sprintf("item %s: %d received + %d exceeds ordered %d",
				u.ItemID, line.ReceivedQuantity, u.ReceivedQuantity, line.Quantity))
		}
		serialSeen := map[string]struct{}{}
		for _, unit := range u.Units {
			if unit.Serial == "" {
				problems = append(problems, fmt.Sprintf("item %s: blank serial", u.ItemID))
				continue
			}
			if _, dup := serialSeen[unit.Serial]; dup {
				problems = append(problems, fmt.Sprintf("item %s: serial %s repeated", u.ItemID, unit.Serial))
			}
			serialSeen[unit.Serial] = struct{}{}
		}
	}
	if len(problems) > 0 {
		s.countBatch("rejected")
		return BatchResult{}, fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}

	// The serialized path is not idempotent, so each serialized line is
	// fenced before anything persists. Guards stay held on success and are
	// released only when the batch fails.
	var guards []*shared.Submission
	releaseGuards := func() {
		for _, g := range guards {
			g.ReleaseOnFailure(ctx)
		}
	}
	for _, u := range updates {
		if len(u.Units) == 0 {
			continue
		}
		payload, err := json.Marshal(u.Units)
		if err != nil {
			releaseGuards()
			return BatchResult{}, fmt.Errorf("marshal units: %w", err)
		}
		sub, err := s.guard.Acquire(ctx, shared.SubmissionKey(orderID.String(), u.ItemID.String(), payload))
		if err != nil {
			releaseGuards()
			s.countBatch("duplicate")
			return BatchResult{}, err
		}
		guards = append(guards, sub)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, u := range updates {
			if err := tx.IncrementReceived(ctx, u.ItemID, u.ReceivedQuantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		releaseGuards()
		s.countBatch("rejected")
		return BatchResult{}, err
	}

	// Quantities are committed; everything below is best-effort and left to
	// the repair job when it fails.
	result := BatchResult{PurchaseOrderID: orderID, ItemsUpdated: len(updates)}
	for _, u := range updates {
		line := byID[u.ItemID]
		if len(u.Units) > 0 {
			units := make([]inventory.Item, 0, len(u.Units))
			for _, in := range u.Units {
				units = append(units, inventory.Item{
					ProductID: line.ProductID,
					VariantID: line.VariantID,
					Serial:    in.Serial,
					IMEI:      in.IMEI,
					MAC:       in.MAC,
					Barcode:   in.Barcode,
					Location:  in.Location,
					Shelf:     in.Shelf,
					Bin:       in.Bin,
					CostPrice: line.CostPrice,
				})
			}
			created, err := s.inv.CreateSerializedUnits(ctx, orderID, units)
			if err != nil {
				s.logger.Warn("serialized units not created after quantity commit",
					"order_id", orderID, "item_id", u.ItemID, "error", err)
				continue
			}
			result.UnitsCreated += len(created)
		} else {
			_, err := s.inv.ApplyBulkReceive(ctx, inventory.Adjustment{
				PurchaseOrderID: orderID,
				OrderItemID:     u.ItemID,
				VariantID:       line.VariantID,
				Quantity:        u.ReceivedQuantity,
			})
			if err != nil {
				s.logger.Warn("bulk adjustment not applied after quantity commit",
					"order_id", orderID, "item_id", u.ItemID, "error", err)
				continue
			}
			result.BulkAdjusted++
		}
	}

	full, err := s.AreAllItemsFullyReceived(ctx, orderID)
	if err != nil {
		s.logger.Warn("full-receipt lookup failed", "order_id", orderID, "error", err)
	}
	result.FullyReceived = full

	s.recordAudit(ctx, orderID, "receive_batch", actor, map[string]any{
		"items":         result.ItemsUpdated,
		"units_created": result.UnitsCreated,
		"bulk_adjusted": result.BulkAdjusted,
	})
	s.countBatch("accepted")
	s.invalidateSummary(ctx, orderID)
	return result, nil
}

// ReceivePassed adapts quality-check output to a receive batch: bulk-only
// quantities, one line each.
func (s *Service) ReceivePassed(ctx context.Context, orderID uuid.UUID, quantities map[uuid.UUID]int, actor string) error {
	updates := make([]ItemUpdate, 0, len(quantities))
	for itemID, q := range quantities {
		updates = append(updates, ItemUpdate{ItemID: itemID, ReceivedQuantity: q})
	}
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].ItemID.String() < updates[j].ItemID.String()
	})
	_, err := s.UpdateReceivedQuantities(ctx, orderID, updates, actor)
	return err
}

// CompleteReceive tops every line up to its ordered quantity and moves the
// order to received. The idempotency key makes the completion single-shot.
// Notes, when given, land on the audit record.
func (s *Service) CompleteReceive(ctx context.Context, orderID uuid.UUID, actor, notes string) (BatchResult, error) {
	po, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return BatchResult{}, err
	}
	if _, ok := receivableStatuses[po.Status]; !ok {
		return BatchResult{}, fmt.Errorf("%w: status %s", ErrOrderState, po.Status)
	}
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, "receive-complete:"+orderID.String(), "receiving"); err != nil {
			return BatchResult{}, err
		}
	}
	lines, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{PurchaseOrderID: orderID}
	var remainder []order.Item
	for _, line := range lines {
		if line.ReceivedQuantity < line.Quantity {
			remainder = append(remainder, line)
		}
	}
	if len(remainder) > 0 {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			for _, line := range remainder {
				if err := tx.IncrementReceived(ctx, line.ID, line.Quantity-line.ReceivedQuantity); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return BatchResult{}, err
		}
		for _, line := range remainder {
			delta := line.Quantity - line.ReceivedQuantity
			_, err := s.inv.ApplyBulkReceive(ctx, inventory.Adjustment{
				PurchaseOrderID: orderID,
				OrderItemID:     line.ID,
				VariantID:       line.VariantID,
				Quantity:        delta,
				Reason:          "receive completion top-up",
			})
			if err != nil {
				s.logger.Warn("top-up adjustment not applied",
					"order_id", orderID, "item_id", line.ID, "error", err)
				continue
			}
			result.BulkAdjusted++
		}
		result.ItemsUpdated = len(remainder)
	}

	if err := s.orders.MarkReceived(ctx, orderID, actor); err != nil {
		return BatchResult{}, err
	}
	result.FullyReceived = true

	details := map[string]any{
		"topped_up_items": result.ItemsUpdated,
	}
	if notes != "" {
		details["notes"] = notes
	}
	s.recordAudit(ctx, orderID, "receive_completed", actor, details)
	s.invalidateSummary(ctx, orderID)
	return result, nil
}

// AreAllItemsFullyReceived reports whether every line reached its ordered
// quantity.
func (s *Service) AreAllItemsFullyReceived(ctx context.Context, orderID uuid.UUID) (bool, error) {
	lines, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		return false, err
	}
	if len(lines) == 0 {
		return false, nil
	}
	for _, line := range lines {
		if line.ReceivedQuantity < line.Quantity {
			return false, nil
		}
	}
	return true, nil
}

// GetSummary builds the receiving read model, collapsed through
// singleflight and cached in Redis.
func (s *Service) GetSummary(ctx context.Context, orderID uuid.UUID) (Summary, error) {
	key := summaryKey(orderID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var cached Summary
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}
	v, err, _ := s.sf.Do(key, func() (any, error) {
		sum, err := s.buildSummary(ctx, orderID)
		if err != nil {
			return Summary{}, err
		}
		if s.cache != nil {
			if raw, err := json.Marshal(sum); err == nil {
				if err := s.cache.Set(ctx, key, raw, s.cacheTTL).Err(); err != nil {
					s.logger.Warn("summary cache write failed", "order_id", orderID, "error", err)
				}
			}
		}
		return sum, nil
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

func (s *Service) buildSummary(ctx context.Context, orderID uuid.UUID) (Summary, error) {
	var (
		lines []order.Item
		units []inventory.Item
		adjs  []inventory.Adjustment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lines, err = s.orders.ListItems(gctx, orderID)
		return err
	})
	g.Go(func() error {
		var err error
		units, err = s.inv.ListUnitsByOrder(gctx, orderID)
		return err
	})
	g.Go(func() error {
		var err error
		adjs, err = s.inv.ListAdjustmentsByOrder(gctx, orderID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	sum := Summary{
		PurchaseOrderID: orderID,
		SerializedUnits: len(units),
		GeneratedAt:     time.Now().UTC(),
	}
	for _, line := range lines {
		sum.OrderedTotal += line.Quantity
		sum.ReceivedTotal += line.ReceivedQuantity
		sum.ReturnedTotal += line.ReturnedQuantity
	}
	for _, adj := range adjs {
		if adj.Type == inventory.AdjustReceive {
			sum.BulkAdjustments++
		}
	}
	sum.FullyReceived = len(lines) > 0 && sum.ReceivedTotal >= sum.OrderedTotal
	return sum, nil
}

// ListReceivedItems merges serialized units and bulk adjustments into one
// chronological view.
func (s *Service) ListReceivedItems(ctx context.Context, orderID uuid.UUID) ([]ReceivedItem, error) {
	var (
		units []inventory.Item
		adjs  []inventory.Adjustment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		units, err = s.inv.ListUnitsByOrder(gctx, orderID)
		return err
	})
	g.Go(func() error {
		var err error
		adjs, err = s.inv.ListAdjustmentsByOrder(gctx, orderID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]ReceivedItem, 0, len(units)+len(adjs))
	for _, u := range units {
		out = append(out, ReceivedItem{
			Kind:       "unit",
			ID:         u.ID,
			VariantID:  u.VariantID,
			Serial:     u.Serial,
			Quantity:   1,
			ReceivedAt: u.CreatedAt,
		})
	}
	for _, adj := range adjs {
		if adj.Type != inventory.AdjustReceive {
			continue
		}
		out = append(out, ReceivedItem{
			Kind:       "adjustment",
			ID:         adj.ID,
			VariantID:  adj.VariantID,
			Quantity:   adj.Quantity,
			ReceivedAt: adj.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (s *Service) recordAudit(ctx context.Context, orderID uuid.UUID, action, actor string, details map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditEntry{
		ID:              uuid.New(),
		PurchaseOrderID: orderID,
		Action:          action,
		Actor:           actor,
		Details:         details,
		OccurredAt:      time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", "order_id", orderID, "action", action, "error", err)
	}
}

func (s *Service) countBatch(outcome string) {
	if s.metrics != nil {
		s.metrics.ReceiveBatches.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) invalidateSummary(ctx context.Context, orderID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, summaryKey(orderID)).Err(); err != nil {
		s.logger.Warn("summary cache invalidation failed", "order_id", orderID, "error", err)
	}
}

func summaryKey(orderID uuid.UUID) string {
	return "receiving:summary:" + orderID.String()
}
