package quality

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lats-pos/receiving/internal/order"
)

type memRepo struct {
	templates    map[uuid.UUID]Template
	checks       map[uuid.UUID]Check
	items        map[uuid.UUID]CheckItem
	orderLines   map[uuid.UUID]int
	failCompound bool
	failItems    int
}

func newQCRepo() *memRepo {
	return &memRepo{
		templates:  map[uuid.UUID]Template{},
		checks:     map[uuid.UUID]Check{},
		items:      map[uuid.UUID]CheckItem{},
		orderLines: map[uuid.UUID]int{},
	}
}

func (m *memRepo) GetTemplate(_ context.Context, id uuid.UUID) (Template, error) {
	tpl, ok := m.templates[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	return tpl, nil
}

func (m *memRepo) CreateCheckWithItems(_ context.Context, check Check, items []CheckItem) error {
	if m.failCompound {
		return errors.New("compound insert unavailable")
	}
	m.checks[check.ID] = check
	for _, it := range items {
		m.items[it.ID] = it
	}
	return nil
}

func (m *memRepo) CreateCheck(_ context.Context, check Check) error {
	m.checks[check.ID] = check
	return nil
}

func (m *memRepo) InsertItem(_ context.Context, item CheckItem) error {
	if m.failItems > 0 {
		m.failItems--
		return errors.New("insert failed")
	}
	for _, existing := range m.items {
		if existing.CheckID == item.CheckID &&
			existing.OrderItemID == item.OrderItemID &&
			existing.CriterionID == item.CriterionID {
			return nil
		}
	}
	m.items[item.ID] = item
	return nil
}

func (m *memRepo) GetCheck(_ context.Context, id uuid.UUID) (Check, error) {
	check, ok := m.checks[id]
	if !ok {
		return Check{}, ErrNotFound
	}
	return check, nil
}

func (m *memRepo) GetCheckByOrder(_ context.Context, orderID uuid.UUID) (Check, error) {
	for _, c := range m.checks {
		if c.PurchaseOrderID == orderID {
			return c, nil
		}
	}
	return Check{}, ErrNotFound
}

func (m *memRepo) ListItems(_ context.Context, checkID uuid.UUID) ([]CheckItem, error) {
	var out []CheckItem
	for _, it := range m.items {
		if it.CheckID == checkID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memRepo) GetItem(_ context.Context, itemID uuid.UUID) (CheckItem, error) {
	it, ok := m.items[itemID]
	if !ok {
		return CheckItem{}, ErrNotFound
	}
	return it, nil
}

func (m *memRepo) UpdateItem(_ context.Context, item CheckItem) error {
	existing, ok := m.items[item.ID]
	if !ok {
		return ErrNotFound
	}
	if m.checks[existing.CheckID].Status == CheckCompleted {
		return ErrCheckCompleted
	}
	m.items[item.ID] = item
	return nil
}

func (m *memRepo) CompleteCheck(_ context.Context, checkID uuid.UUID, result OverallResult, signature, completedBy string, at time.Time) error {
	check, ok := m.checks[checkID]
	if !ok {
		return ErrNotFound
	}
	if check.Status == CheckCompleted {
		return ErrCheckCompleted
	}
	check.Status = CheckCompleted
	check.OverallResult = result
	check.Signature = signature
	check.CompletedBy = completedBy
	check.CompletedAt = at
	m.checks[checkID] = check
	return nil
}

func (m *memRepo) ListIncompleteFanOuts(_ context.Context) ([]uuid.UUID, error) {
	counts := map[uuid.UUID]int{}
	for _, it := range m.items {
		counts[it.CheckID]++
	}
	var out []uuid.UUID
	for id, c := range m.checks {
		if c.Status != CheckInProgress {
			continue
		}
		expected := len(m.templates[c.TemplateID].Criteria) * m.orderLines[c.PurchaseOrderID]
		if counts[id] < expected {
			out = append(out, id)
		}
	}
	return out, nil
}

type memOrders struct {
	items       []order.Item
	transitions []order.Status
	statusErr   error
}

func (m *memOrders) ListItems(_ context.Context, _ uuid.UUID) ([]order.Item, error) {
	return m.items, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, _ uuid.UUID, to order.Status, _ string) (order.PurchaseOrder, error) {
	if m.statusErr != nil {
		return order.PurchaseOrder{}, m.statusErr
	}
	m.transitions = append(m.transitions, to)
	return order.PurchaseOrder{Status: to}, nil
}

type memReceiver struct {
	orderID    uuid.UUID
	quantities map[uuid.UUID]int
}

func (m *memReceiver) ReceivePassed(_ context.Context, orderID uuid.UUID, quantities map[uuid.UUID]int, _ string) error {
	m.orderID = orderID
	m.quantities = quantities
	return nil
}

func threeCriteriaTemplate() Template {
	return Template{
		ID:   uuid.New(),
		Name: "Phone intake",
		Criteria: []Criterion{
			{ID: uuid.New(), Name: "Screen intact", Required: true},
			{ID: uuid.New(), Name: "Battery holds charge", Required: true},
			{ID: uuid.New(), Name: "Box included", Required: false},
		},
	}
}

func qcFixture(t *testing.T) (*Service, *memRepo, *memOrders, Check, []CheckItem) {
	t.Helper()
	repo := newQCRepo()
	tpl := threeCriteriaTemplate()
	repo.templates[tpl.ID] = tpl
	orders := &memOrders{items: []order.Item{
		{ID: uuid.New(), Quantity: 4},
		{ID: uuid.New(), Quantity: 2},
	}}
	svc := NewService(repo, orders, &memReceiver{}, slog.Default(), nil)

	check, items, err := svc.CreateCheckFromTemplate(context.Background(), uuid.New(), tpl.ID)
	require.NoError(t, err)
	return svc, repo, orders, check, items
}

func resolveAll(t *testing.T, svc *Service, items []CheckItem, passed func(CheckItem) int) {
	t.Helper()
	for _, it := range items {
		failed := it.LineQuantity - passed(it)
		input := UpdateItemInput{
			QuantityChecked: it.LineQuantity,
			QuantityPassed:  passed(it),
			QuantityFailed:  failed,
			Result:          ItemPass,
		}
		if failed > 0 {
			input.Result = ItemFail
			input.FailureReason = "cosmetic damage"
		}
		_, err := svc.UpdateCheckItem(context.Background(), it.ID, input)
		require.NoError(t, err)
	}
}

func TestCreateCheckFansOutCriteriaTimesLines(t *testing.T) {
	_, repo, _, check, items := qcFixture(t)
	require.Len(t, items, 6)
	require.Equal(t, CheckInProgress, check.Status)

	stored, err := repo.ListItems(context.Background(), check.ID)
	require.NoError(t, err)
	require.Len(t, stored, 6)
	for _, it := range stored {
		require.Equal(t, ItemPending, it.Result)
		require.NotZero(t, it.LineQuantity)
	}
}

func TestCreateCheckFallsBackToSequentialInserts(t *testing.T) {
	repo := newQCRepo()
	repo.failCompound = true
	tpl := threeCriteriaTemplate()
	repo.templates[tpl.ID] = tpl
	orders := &memOrders{items: []order.Item{{ID: uuid.New(), Quantity: 4}}}
	svc := NewService(repo, orders, &memReceiver{}, slog.Default(), nil)

	check, _, err := svc.CreateCheckFromTemplate(context.Background(), uuid.New(), tpl.ID)
	require.NoError(t, err)

	stored, err := repo.ListItems(context.Background(), check.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
}

func TestUpdateCheckItemEnforcesQuantityBounds(t *testing.T) {
	svc, _, _, _, items := qcFixture(t)

	// Checked cannot exceed the line quantity.
	_, err := svc.UpdateCheckItem(context.Background(), items[0].ID, UpdateItemInput{
		QuantityChecked: items[0].LineQuantity + 1,
		QuantityPassed:  items[0].LineQuantity + 1,
		Result:          ItemPass,
	})
	require.ErrorIs(t, err, ErrValidation)

	// Verdict quantities cannot exceed what was checked.
	_, err = svc.UpdateCheckItem(context.Background(), items[0].ID, UpdateItemInput{
		QuantityChecked: 3,
		QuantityPassed:  3,
		QuantityFailed:  1,
		Result:          ItemFail,
		FailureReason:   "scratched",
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateCheckItemMixedVerdict(t *testing.T) {
	svc, _, _, _, items := qcFixture(t)

	it, err := svc.UpdateCheckItem(context.Background(), items[0].ID, UpdateItemInput{
		QuantityChecked: items[0].LineQuantity,
		QuantityPassed:  items[0].LineQuantity - 1,
		QuantityFailed:  1,
		Result:          ItemMixed,
		FailureReason:   "one unit dented",
		DefectType:      "cosmetic",
		ActionTaken:     "set aside for supplier return",
	})
	require.NoError(t, err)
	require.Equal(t, ItemMixed, it.Result)
	require.Equal(t, items[0].LineQuantity, it.QuantityChecked)
	require.Equal(t, "cosmetic", it.DefectType)
	require.Equal(t, "set aside for supplier return", it.ActionTaken)
}

func TestUpdateCheckItemRequiresFailureReason(t *testing.T) {
	svc, _, _, _, items := qcFixture(t)

	_, err := svc.UpdateCheckItem(context.Background(), items[0].ID, UpdateItemInput{
		QuantityChecked: 4,
		QuantityPassed:  3,
		QuantityFailed:  1,
		Result:          ItemFail,
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateCheckItemRejectedAfterCompletion(t *testing.T) {
	svc, _, _, check, items := qcFixture(t)
	resolveAll(t, svc, items, func(it CheckItem) int { return it.LineQuantity })

	_, err := svc.CompleteCheck(context.Background(), check.ID, "sig-abc", "inspector")
	require.NoError(t, err)

	_, err = svc.UpdateCheckItem(context.Background(), items[0].ID, UpdateItemInput{
		QuantityChecked: 1,
		QuantityPassed:  1,
		Result:          ItemPass,
	})
	require.ErrorIs(t, err, ErrCheckCompleted)
}

func TestCompleteCheckRequiresSignature(t *testing.T) {
	svc, _, _, check, items := qcFixture(t)
	resolveAll(t, svc, items, func(it CheckItem) int { return it.LineQuantity })

	_, err := svc.CompleteCheck(context.Background(), check.ID, "", "inspector")
	require.ErrorIs(t, err, ErrSignatureRequired)
}

func TestCompleteCheckRejectsPendingItems(t *testing.T) {
	svc, _, _, check, _ := qcFixture(t)

	_, err := svc.CompleteCheck(context.Background(), check.ID, "sig-abc", "inspector")
	require.ErrorIs(t, err, ErrItemsPending)
}

func TestCompleteCheckAllPass(t *testing.T) {
	svc, _, orders, check, items := qcFixture(t)
	resolveAll(t, svc, items, func(it CheckItem) int { return it.LineQuantity })

	completed, err := svc.CompleteCheck(context.Background(), check.ID, "sig-abc", "inspector")
	require.NoError(t, err)
	require.Equal(t, ResultPass, completed.OverallResult)
	require.Equal(t, []order.Status{order.StatusQualityChecked}, orders.transitions)
}

func TestCompleteCheckRequiredFailureFails(t *testing.T) {
	svc, _, _, check, items := qcFixture(t)
	for _, it := range items {
		input := UpdateItemInput{QuantityChecked: it.LineQuantity, QuantityPassed: it.LineQuantity, Result: ItemPass}
		if it.Required && it.CriterionName == "Screen intact" {
			input = UpdateItemInput{
				QuantityChecked: it.LineQuantity,
				QuantityPassed:  it.LineQuantity - 1,
				QuantityFailed:  1,
				Result:          ItemMixed,
				FailureReason:   "cracked glass",
			}
		}
		_, err := svc.UpdateCheckItem(context.Background(), it.ID, input)
		require.NoError(t, err)
	}

	completed, err := svc.CompleteCheck(context.Background(), check.ID, "sig-abc", "inspector")
	require.NoError(t, err)
	require.Equal(t, ResultFail, completed.OverallResult)
}

func TestCompleteCheckOptionalFailureIsMixed(t *testing.T) {
	svc, _, _, check, items := qcFixture(t)
	for _, it := range items {
		input := UpdateItemInput{QuantityChecked: it.LineQuantity, QuantityPassed: it.LineQuantity, Result: ItemPass}
		if !it.Required {
			input = UpdateItemInput{
				QuantityChecked: it.LineQuantity,
				QuantityPassed:  it.LineQuantity - 1,
				QuantityFailed:  1,
				Result:          ItemFail,
				FailureReason:   "missing box",
			}
		}
		_, err := svc.UpdateCheckItem(context.Background(), it.ID, input)
		require.NoError(t, err)
	}

	completed, err := svc.CompleteCheck(context.Background(), check.ID, "sig-abc", "inspector")
	require.NoError(t, err)
	require.Equal(t, ResultMixed, completed.OverallResult)
}

func TestCompleteCheckIsSingleShot(t *testing.T) {
	svc, _, _, check, items := qcFixture(t)
	resolveAll(t, svc, items, func(it CheckItem) int { return it.LineQuantity })

	_, err := svc.CompleteCheck(context.Background(), check.ID, "sig-abc", "inspector")
	require.NoError(t, err)
	_, err = svc.CompleteCheck(context.Background(), check.ID, "sig-abc", "inspector")
	require.ErrorIs(t, err, ErrCheckCompleted)
}

func TestReceiveCheckedItemsUsesMinimumPassedAcrossCriteria(t *testing.T) {
	repo := newQCRepo()
	tpl := threeCriteriaTemplate()
	repo.templates[tpl.ID] = tpl
	lineA := order.Item{ID: uuid.New(), Quantity: 4}
	lineB := order.Item{ID: uuid.New(), Quantity: 2}
	orders := &memOrders{items: []order.Item{lineA, lineB}}
	receiver := &memReceiver{}
	svc := NewService(repo, orders, receiver, slog.Default(), nil)

	check, items, err := svc.CreateCheckFromTemplate(context.Background(), uuid.New(), tpl.ID)
	require.NoError(t, err)

	// Line A: criteria pass 4, 3, 4 -> receivable 3. Line B: one criterion
	// passes nothing -> excluded.
	for _, it := range items {
		var input UpdateItemInput
		switch {
		case it.OrderItemID == lineA.ID && it.CriterionName == "Battery holds charge":
			input = UpdateItemInput{QuantityChecked: 4, QuantityPassed: 3, QuantityFailed: 1, Result: ItemMixed, FailureReason: "weak cell"}
		case it.OrderItemID == lineA.ID:
			input = UpdateItemInput{QuantityChecked: 4, QuantityPassed: 4, Result: ItemPass}
		case it.CriterionName == "Screen intact":
			input = UpdateItemInput{QuantityChecked: 2, QuantityPassed: 0, QuantityFailed: 2, Result: ItemFail, FailureReason: "shattered"}
		default:
			input = UpdateItemInput{QuantityChecked: 2, QuantityPassed: 2, Result: ItemPass}
		}
		_, err := svc.UpdateCheckItem(context.Background(), it.ID, input)
		require.NoError(t, err)
	}

	_, err = svc.CompleteCheck(context.Background(), check.ID, "sig-abc", "inspector")
	require.NoError(t, err)

	quantities, err := svc.ReceiveCheckedItems(context.Background(), check.ID, "inspector")
	require.NoError(t, err)
	require.Equal(t, map[uuid.UUID]int{lineA.ID: 3}, quantities)
	require.Equal(t, check.PurchaseOrderID, receiver.orderID)
}

func TestReceiveCheckedItemsRequiresCompletedCheck(t *testing.T) {
	svc, _, _, check, _ := qcFixture(t)

	_, err := svc.ReceiveCheckedItems(context.Background(), check.ID, "inspector")
	require.ErrorIs(t, err, ErrValidation)
}

func TestRepairIncompleteChecks(t *testing.T) {
	repo := newQCRepo()
	repo.failCompound = true
	repo.failItems = 3
	tpl := threeCriteriaTemplate()
	repo.templates[tpl.ID] = tpl
	orders := &memOrders{items: []order.Item{{ID: uuid.New(), Quantity: 4}}}
	svc := NewService(repo, orders, &memReceiver{}, slog.Default(), nil)

	orderID := uuid.New()
	repo.orderLines[orderID] = 1
	check, _, err := svc.CreateCheckFromTemplate(context.Background(), orderID, tpl.ID)
	require.NoError(t, err)
	stored, _ := repo.ListItems(context.Background(), check.ID)
	require.Empty(t, stored)

	repaired, err := svc.RepairIncompleteChecks(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, repaired)

	stored, _ = repo.ListItems(context.Background(), check.ID)
	require.Len(t, stored, 3)
}

func TestRepairIncompleteChecksTopsUpPartialFanOut(t *testing.T) {
	repo := newQCRepo()
	repo.failCompound = true
	repo.failItems = 1
	tpl := threeCriteriaTemplate()
	repo.templates[tpl.ID] = tpl
	orders := &memOrders{items: []order.Item{{ID: uuid.New(), Quantity: 4}}}
	svc := NewService(repo, orders, &memReceiver{}, slog.Default(), nil)

	orderID := uuid.New()
	repo.orderLines[orderID] = 1
	check, _, err := svc.CreateCheckFromTemplate(context.Background(), orderID, tpl.ID)
	require.NoError(t, err)

	// One cell of the fan-out was lost; the check still counts as
	// incomplete.
	stored, _ := repo.ListItems(context.Background(), check.ID)
	require.Len(t, stored, 2)

	repaired, err := svc.RepairIncompleteChecks(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, repaired)

	stored, _ = repo.ListItems(context.Background(), check.ID)
	require.Len(t, stored, 3)
}

func TestGetSummaryCountsVerdicts(t *testing.T) {
	svc, _, _, check, items := qcFixture(t)

	_, err := svc.UpdateCheckItem(context.Background(), items[0].ID, UpdateItemInput{
		QuantityChecked: items[0].LineQuantity, QuantityPassed: items[0].LineQuantity, Result: ItemPass,
	})
	require.NoError(t, err)
	_, err = svc.UpdateCheckItem(context.Background(), items[1].ID, UpdateItemInput{
		QuantityChecked: 1, QuantityFailed: 1, Result: ItemFail, FailureReason: "dent",
	})
	require.NoError(t, err)

	sum, err := svc.GetSummary(context.Background(), check.ID)
	require.NoError(t, err)
	require.Equal(t, 6, sum.TotalItems)
	require.Equal(t, 1, sum.Passed)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 4, sum.Pending)
}
