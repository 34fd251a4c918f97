package inventory

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	items       map[uuid.UUID]Item
	serials     map[string]struct{}
	adjustments []Adjustment
	movements   []Movement
	stock       map[uuid.UUID]int
}

func newMemRepo() *memRepo {
	return &memRepo{
		items:   map[uuid.UUID]Item{},
		serials: map[string]struct{}{},
		stock:   map[uuid.UUID]int{},
	}
}

type memTx struct {
	repo        *memRepo
	items       []Item
	adjustments []Adjustment
	stockDeltas map[uuid.UUID]int
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memTx{repo: m, stockDeltas: map[uuid.UUID]int{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, it := range tx.items {
		m.items[it.ID] = it
		m.serials[it.Serial] = struct{}{}
	}
	m.adjustments = append(m.adjustments, tx.adjustments...)
	for id, delta := range tx.stockDeltas {
		m.stock[id] += delta
	}
	return nil
}

func (t *memTx) InsertItem(_ context.Context, item Item) error {
	if _, dup := t.repo.serials[item.Serial]; dup {
		return ErrDuplicateSerial
	}
	t.items = append(t.items, item)
	return nil
}

func (t *memTx) InsertAdjustment(_ context.Context, adj Adjustment) error {
	t.adjustments = append(t.adjustments, adj)
	return nil
}

func (t *memTx) AdjustVariantStock(_ context.Context, variantID uuid.UUID, delta int) error {
	if t.repo.stock[variantID]+t.stockDeltas[variantID]+delta < 0 {
		return ErrInsufficientStock
	}
	t.stockDeltas[variantID] += delta
	return nil
}

func (m *memRepo) InsertMovement(_ context.Context, mv Movement) error {
	m.movements = append(m.movements, mv)
	return nil
}

func (m *memRepo) GetItem(_ context.Context, id uuid.UUID) (Item, error) {
	item, ok := m.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (m *memRepo) ListItemsByOrder(_ context.Context, orderID uuid.UUID) ([]Item, error) {
	var out []Item
	for _, it := range m.items {
		if it.PurchaseOrderID == orderID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memRepo) ListAdjustmentsByOrder(_ context.Context, orderID uuid.UUID) ([]Adjustment, error) {
	var out []Adjustment
	for _, adj := range m.adjustments {
		if adj.PurchaseOrderID == orderID {
			out = append(out, adj)
		}
	}
	return out, nil
}

func (m *memRepo) ListMovements(_ context.Context, variantID uuid.UUID, _ int) ([]Movement, error) {
	var out []Movement
	for _, mv := range m.movements {
		if mv.VariantID == variantID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *memRepo) StockOnHand(_ context.Context, variantID uuid.UUID) (int, error) {
	qty, ok := m.stock[variantID]
	if !ok {
		return 0, ErrNotFound
	}
	return qty, nil
}

func (m *memRepo) UpdateItemStatus(_ context.Context, id uuid.UUID, status ItemStatus) error {
	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	item.Status = status
	m.items[id] = item
	return nil
}

func TestCreateSerializedUnitsRaisesStock(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, slog.Default(), nil)
	orderID := uuid.New()
	variantID := uuid.New()
	repo.stock[variantID] = 3

	units, err := svc.CreateSerializedUnits(context.Background(), orderID, []Item{
		{VariantID: variantID, Serial: "SN-001", CostPrice: 120},
		{VariantID: variantID, Serial: "SN-002", CostPrice: 120},
		{VariantID: variantID, Serial: "SN-003", CostPrice: 120},
	})
	require.NoError(t, err)
	require.Len(t, units, 3)
	require.Equal(t, ItemAvailable, units[0].Status)
	require.Equal(t, orderID, units[0].PurchaseOrderID)

	qty, err := svc.StockOnHand(context.Background(), variantID)
	require.NoError(t, err)
	require.Equal(t, 6, qty)

	// Each unit leaves its own movement record, not one aggregate per
	// variant.
	movements, err := svc.ListMovements(context.Background(), variantID, 10)
	require.NoError(t, err)
	require.Len(t, movements, 3)
	seen := map[uuid.UUID]bool{}
	for _, mv := range movements {
		require.Equal(t, MovementReceive, mv.Type)
		require.Equal(t, 1, mv.Quantity)
		require.Equal(t, ItemAvailable, mv.ToStatus)
		require.Equal(t, orderID, mv.Reference)
		seen[mv.ItemID] = true
	}
	for _, u := range units {
		require.True(t, seen[u.ID])
	}
}

func TestCreateSerializedUnitsRejectsBatchDuplicate(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, slog.Default(), nil)
	variantID := uuid.New()
	repo.stock[variantID] = 0

	_, err := svc.CreateSerializedUnits(context.Background(), uuid.New(), []Item{
		{VariantID: variantID, Serial: "SN-001"},
		{VariantID: variantID, Serial: "SN-001"},
	})
	require.ErrorIs(t, err, ErrDuplicateSerial)
	require.Empty(t, repo.items)
	require.Equal(t, 0, repo.stock[variantID])
}

func TestCreateSerializedUnitsRejectsKnownSerial(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, slog.Default(), nil)
	variantID := uuid.New()
	repo.serials["SN-001"] = struct{}{}

	_, err := svc.CreateSerializedUnits(context.Background(), uuid.New(), []Item{
		{VariantID: variantID, Serial: "SN-001"},
	})
	require.ErrorIs(t, err, ErrDuplicateSerial)
}

func TestCreateSerializedUnitsRequiresSerial(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, slog.Default(), nil)

	_, err := svc.CreateSerializedUnits(context.Background(), uuid.New(), []Item{
		{VariantID: uuid.New()},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestApplyBulkReceiveIncrementsStock(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, slog.Default(), nil)
	orderID := uuid.New()
	variantID := uuid.New()
	repo.stock[variantID] = 10

	adj, err := svc.ApplyBulkReceive(context.Background(), Adjustment{
		PurchaseOrderID: orderID,
		OrderItemID:     uuid.New(),
		VariantID:       variantID,
		Quantity:        4,
	})
	require.NoError(t, err)
	require.Equal(t, AdjustReceive, adj.Type)

	qty, err := svc.StockOnHand(context.Background(), variantID)
	require.NoError(t, err)
	require.Equal(t, 14, qty)

	adjs, err := svc.ListAdjustmentsByOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, adjs, 1)
}

func TestApplyReturnRejectsOverdraw(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, slog.Default(), nil)
	variantID := uuid.New()
	repo.stock[variantID] = 2

	_, err := svc.ApplyReturn(context.Background(), Adjustment{
		PurchaseOrderID: uuid.New(),
		VariantID:       variantID,
		Quantity:        3,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Empty(t, repo.adjustments)
	require.Equal(t, 2, repo.stock[variantID])
}

func TestApplyReturnDecrementsStock(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, slog.Default(), nil)
	variantID := uuid.New()
	repo.stock[variantID] = 5

	adj, err := svc.ApplyReturn(context.Background(), Adjustment{
		PurchaseOrderID: uuid.New(),
		VariantID:       variantID,
		Quantity:        2,
		Reason:          "damaged in transit",
	})
	require.NoError(t, err)
	require.Equal(t, AdjustReturn, adj.Type)

	qty, err := svc.StockOnHand(context.Background(), variantID)
	require.NoError(t, err)
	require.Equal(t, 3, qty)

	movements, err := svc.ListMovements(context.Background(), variantID, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, MovementReturn, movements[0].Type)
	require.Equal(t, -2, movements[0].Quantity)
}

func TestUpdateItemStatusValidatesStatus(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, slog.Default(), nil)
	id := uuid.New()
	repo.items[id] = Item{ID: id, Serial: "SN-1", Status: ItemAvailable}

	_, err := svc.UpdateItemStatus(context.Background(), id, "melted")
	require.ErrorIs(t, err, ErrValidation)

	item, err := svc.UpdateItemStatus(context.Background(), id, ItemRepair)
	require.NoError(t, err)
	require.Equal(t, ItemRepair, item.Status)
}

func TestUpdateItemStatusRecordsTransition(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, slog.Default(), nil)
	id := uuid.New()
	variantID := uuid.New()
	repo.items[id] = Item{ID: id, VariantID: variantID, Serial: "SN-1", Status: ItemAvailable}

	_, err := svc.UpdateItemStatus(context.Background(), id, ItemDamaged)
	require.NoError(t, err)

	movements, err := svc.ListMovements(context.Background(), variantID, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, MovementAdjust, movements[0].Type)
	require.Equal(t, 0, movements[0].Quantity)
	require.Equal(t, id, movements[0].ItemID)
	require.Equal(t, ItemAvailable, movements[0].FromStatus)
	require.Equal(t, ItemDamaged, movements[0].ToStatus)
}
