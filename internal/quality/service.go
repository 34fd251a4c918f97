package quality

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lats-pos/receiving/internal/observability"
	"github.com/lats-pos/receiving/internal/order"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (Template, error)
	CreateCheckWithItems(ctx context.Context, check Check, items []CheckItem) error
	CreateCheck(ctx context.Context, check Check) error
	InsertItem(ctx context.Context, item CheckItem) error
	GetCheck(ctx context.Context, id uuid.UUID) (Check, error)
	GetCheckByOrder(ctx context.Context, orderID uuid.UUID) (Check, error)
	ListItems(ctx context.Context, checkID uuid.UUID) ([]CheckItem, error)
	GetItem(ctx context.Context, itemID uuid.UUID) (CheckItem, error)
	UpdateItem(ctx context.Context, item CheckItem) error
	CompleteCheck(ctx context.Context, checkID uuid.UUID, result OverallResult, signature, completedBy string, at time.Time) error
	ListIncompleteFanOuts(ctx context.Context) ([]uuid.UUID, error)
}

// OrderPort reads order lines and drives the status workflow.
type OrderPort interface {
	ListItems(ctx context.Context, orderID uuid.UUID) ([]order.Item, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to order.Status, actor string) (order.PurchaseOrder, error)
}

// ReceivePort hands passed quantities over to the receiving pipeline.
type ReceivePort interface {
	ReceivePassed(ctx context.Context, orderID uuid.UUID, quantities map[uuid.UUID]int, actor string) error
}

// Service runs quality inspections between shipment arrival and receiving.
type Service struct {
	repo      RepositoryPort
	orders    OrderPort
	receiving ReceivePort
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewService builds Service.
func NewService(repo RepositoryPort, orders OrderPort, receiving ReceivePort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, orders: orders, receiving: receiving, logger: logger, metrics: metrics}
}

// CreateCheckFromTemplate fans a check out as template criteria x order
// lines. The compound insert is atomic; when it fails the service falls back
// to sequential inserts, leaving any gaps to the repair job.
func (s *Service) CreateCheckFromTemplate(ctx context.Context, orderID, templateID uuid.UUID) (Check, []CheckItem, error) {
	tpl, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return Check{}, nil, err
	}
	if len(tpl.Criteria) == 0 {
		return Check{}, nil, fmt.Errorf("%w: template %q has no criteria", ErrValidation, tpl.Name)
	}
	lines, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		return Check{}, nil, err
	}
	if len(lines) == 0 {
		return Check{}, nil, fmt.Errorf("%w: order has no items", ErrValidation)
	}

	now := time.Now().UTC()
	check := Check{
		ID:              uuid.New(),
		PurchaseOrderID: orderID,
		TemplateID:      templateID,
		Status:          CheckInProgress,
		CreatedAt:       now,
	}
	items := make([]CheckItem, 0, len(tpl.Criteria)*len(lines))
	for _, line := range lines {
		for _, c := range tpl.Criteria {
			items = append(items, CheckItem{
				ID:            uuid.New(),
				CheckID:       check.ID,
				OrderItemID:   line.ID,
				CriterionID:   c.ID,
				CriterionName: c.Name,
				Required:      c.Required,
				LineQuantity:  line.Quantity,
				Result:        ItemPending,
				UpdatedAt:     now,
			})
		}
	}

	if err := s.repo.CreateCheckWithItems(ctx, check, items); err != nil {
		s.logger.Warn("compound check insert failed, falling back to sequential",
			"order_id", orderID, "check_id", check.ID, "error", err)
		if err := s.repo.CreateCheck(ctx, check); err != nil {
			return Check{}, nil, err
		}
		for _, it := range items {
			if err := s.repo.InsertItem(ctx, it); err != nil {
				s.logger.Warn("check item insert failed, repair job will retry",
					"check_id", check.ID, "order_item_id", it.OrderItemID, "error", err)
			}
		}
	}
	return check, items, nil
}

// UpdateItemInput carries an inspection verdict for one check item.
type UpdateItemInput struct {
	QuantityChecked int
	QuantityPassed  int
	QuantityFailed  int
	Result          ItemResult
	Notes           string
	FailureReason   string
	DefectType      string
	ActionTaken     string
}

// UpdateCheckItem records a verdict. Edits are refused once the parent
// check has been completed, both here and in the persistence guard.
func (s *Service) UpdateCheckItem(ctx context.Context, itemID uuid.UUID, input UpdateItemInput) (CheckItem, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return CheckItem{}, err
	}
	check, err := s.repo.GetCheck(ctx, item.CheckID)
	if err != nil {
		return CheckItem{}, err
	}
	if check.Status == CheckCompleted {
		return CheckItem{}, ErrCheckCompleted
	}
	if input.Result != ItemPass && input.Result != ItemFail && input.Result != ItemMixed {
		return CheckItem{}, fmt.Errorf("%w: result must be pass, fail or mixed", ErrValidation)
	}
	if input.QuantityChecked < 0 || input.QuantityPassed < 0 || input.QuantityFailed < 0 {
		return CheckItem{}, fmt.Errorf("%w: quantities cannot be negative", ErrValidation)
	}
	if input.QuantityChecked > item.LineQuantity {
		return CheckItem{}, fmt.Errorf("%w: checked %d exceeds line quantity %d",
			ErrValidation, input.QuantityChecked, item.LineQuantity)
	}
	if input.QuantityPassed+input.QuantityFailed > input.QuantityChecked {
		return CheckItem{}, fmt.Errorf("%w: passed %d + failed %d exceeds checked quantity %d",
			ErrValidation, input.QuantityPassed, input.QuantityFailed, input.QuantityChecked)
	}
	if input.Result != ItemPass && input.FailureReason == "" {
		return CheckItem{}, fmt.Errorf("%w: failure reason required for %s verdict", ErrValidation, input.Result)
	}

	item.QuantityChecked = input.QuantityChecked
	item.QuantityPassed = input.QuantityPassed
	item.QuantityFailed = input.QuantityFailed
	item.Result = input.Result
	item.Notes = input.Notes
	item.FailureReason = input.FailureReason
	item.DefectType = input.DefectType
	item.ActionTaken = input.ActionTaken
	item.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateItem(ctx, item); err != nil {
		return CheckItem{}, err
	}
	return item, nil
}

// CompleteCheck signs the inspection off and computes the overall result.
// The order moves to quality_checked as a side effect.
func (s *Service) CompleteCheck(ctx context.Context, checkID uuid.UUID, signature, completedBy string) (Check, error) {
	if signature == "" {
		return Check{}, ErrSignatureRequired
	}
	if completedBy == "" {
		return Check{}, fmt.Errorf("%w: inspector identity required", ErrValidation)
	}
	check, err := s.repo.GetCheck(ctx, checkID)
	if err != nil {
		return Check{}, err
	}
	if check.Status == CheckCompleted {
		return Check{}, ErrCheckCompleted
	}
	items, err := s.repo.ListItems(ctx, checkID)
	if err != nil {
		return Check{}, err
	}
	if len(items) == 0 {
		return Check{}, fmt.Errorf("%w: check has no items", ErrValidation)
	}
	for _, it := range items {
		if it.Result == ItemPending {
			return Check{}, fmt.Errorf("%w: %s on line %s", ErrItemsPending, it.CriterionName, it.OrderItemID)
		}
	}
	result := AggregateResult(items)
	now := time.Now().UTC()
	if err := s.repo.CompleteCheck(ctx, checkID, result, signature, completedBy, now); err != nil {
		return Check{}, err
	}
	if s.metrics != nil {
		s.metrics.ChecksCompleted.WithLabelValues(string(result)).Inc()
	}
	if _, err := s.orders.UpdateStatus(ctx, check.PurchaseOrderID, order.StatusQualityChecked, completedBy); err != nil {
		// The check itself is signed off; a stale order status is repairable.
		s.logger.Warn("order not moved to quality_checked",
			"order_id", check.PurchaseOrderID, "check_id", checkID, "error", err)
	}
	check.Status = CheckCompleted
	check.OverallResult = result
	check.Signature = signature
	check.CompletedBy = completedBy
	check.CompletedAt = now
	return check, nil
}

// GetSummary aggregates check progress.
func (s *Service) GetSummary(ctx context.Context, checkID uuid.UUID) (Summary, error) {
	check, err := s.repo.GetCheck(ctx, checkID)
	if err != nil {
		return Summary{}, err
	}
	items, err := s.repo.ListItems(ctx, checkID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{CheckID: checkID, Status: check.Status, OverallResult: check.OverallResult, TotalItems: len(items)}
	for _, it := range items {
		switch it.Result {
		case ItemPass:
			sum.Passed++
		case ItemFail, ItemMixed:
			sum.Failed++
		default:
			sum.Pending++
		}
	}
	return sum, nil
}

func (s *Service) GetCheck(ctx context.Context, id uuid.UUID) (Check, error) {
	return s.repo.GetCheck(ctx, id)
}

func (s *Service) GetCheckByOrder(ctx context.Context, orderID uuid.UUID) (Check, error) {
	return s.repo.GetCheckByOrder(ctx, orderID)
}

func (s *Service) ListItems(ctx context.Context, checkID uuid.UUID) ([]CheckItem, error) {
	return s.repo.ListItems(ctx, checkID)
}

// ReceiveCheckedItems forwards passed quantities to the receiving pipeline.
// A line's receivable quantity is the smallest passed count across its
// criteria; lines where any criterion passed nothing are excluded.
func (s *Service) ReceiveCheckedItems(ctx context.Context, checkID uuid.UUID, actor string) (map[uuid.UUID]int, error) {
	check, err := s.repo.GetCheck(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if check.Status != CheckCompleted {
		return nil, fmt.Errorf("%w: check must be completed before receiving", ErrValidation)
	}
	items, err := s.repo.ListItems(ctx, checkID)
	if err != nil {
		return nil, err
	}
	quantities := map[uuid.UUID]int{}
	for _, it := range items {
		if current, seen := quantities[it.OrderItemID]; !seen || it.QuantityPassed < current {
			quantities[it.OrderItemID] = it.QuantityPassed
		}
	}
	for id, q := range quantities {
		if q <= 0 {
			delete(quantities, id)
		}
	}
	if len(quantities) == 0 {
		return nil, fmt.Errorf("%w: no passed quantities to receive", ErrValidation)
	}
	if s.receiving == nil {
		return nil, fmt.Errorf("%w: receiving pipeline not configured", ErrValidation)
	}
	if err := s.receiving.ReceivePassed(ctx, check.PurchaseOrderID, quantities, actor); err != nil {
		return nil, err
	}
	return quantities, nil
}

// RepairIncompleteChecks re-runs the item fan-out for open checks that lost
// theirs. Safe to run repeatedly.
func (s *Service) RepairIncompleteChecks(ctx context.Context) (int, error) {
	ids, err := s.repo.ListIncompleteFanOuts(ctx)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, id := range ids {
		check, err := s.repo.GetCheck(ctx, id)
		if err != nil {
			s.logger.Warn("repair: check load failed", "check_id", id, "error", err)
			continue
		}
		tpl, err := s.repo.GetTemplate(ctx, check.TemplateID)
		if err != nil {
			s.logger.Warn("repair: template load failed", "check_id", id, "error", err)
			continue
		}
		lines, err := s.orders.ListItems(ctx, check.PurchaseOrderID)
		if err != nil {
			s.logger.Warn("repair: order lines load failed", "check_id", id, "error", err)
			continue
		}
		now := time.Now().UTC()
		ok := true
		for _, line := range lines {
			for _, c := range tpl.Criteria {
				err := s.repo.InsertItem(ctx, CheckItem{
					ID:            uuid.New(),
					CheckID:       check.ID,
					OrderItemID:   line.ID,
					CriterionID:   c.ID,
					CriterionName: c.Name,
					Required:      c.Required,
					LineQuantity:  line.Quantity,
					Result:        ItemPending,
					UpdatedAt:     now,
				})
				if err != nil {
					s.logger.Warn("repair: item insert failed", "check_id", id, "error", err)
					ok = false
				}
			}
		}
		if ok {
			repaired++
		}
	}
	return repaired, nil
}
