package returns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lats-pos/receiving/internal/inventory"
	"github.com/lats-pos/receiving/internal/order"
	"github.com/lats-pos/receiving/internal/shared"
)

type memLine struct {
	item order.Item
}

type memOrders struct {
	lines map[uuid.UUID]*memLine
}

func (m *memOrders) GetItem(_ context.Context, itemID uuid.UUID) (order.Item, error) {
	line, ok := m.lines[itemID]
	if !ok {
		return order.Item{}, order.ErrNotFound
	}
	return line.item, nil
}

type memRepo struct {
	orders  *memOrders
	returns []ReturnOrder
}

type memTx struct {
	repo    *memRepo
	staged  []ReturnOrder
	applied map[uuid.UUID]int
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memTx{repo: m, applied: map[uuid.UUID]int{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for itemID, qty := range tx.applied {
		m.orders.lines[itemID].item.ReturnedQuantity += qty
	}
	m.returns = append(m.returns, tx.staged...)
	return nil
}

func (m *memRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]ReturnOrder, error) {
	var out []ReturnOrder
	for _, ret := range m.returns {
		if ret.PurchaseOrderID == orderID {
			out = append(out, ret)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) IncrementReturned(_ context.Context, itemID uuid.UUID, quantity int) error {
	line, ok := t.repo.orders.lines[itemID]
	if !ok {
		return ErrNotFound
	}
	pending := t.applied[itemID] + quantity
	if line.item.ReturnedQuantity+pending > line.item.ReceivedQuantity {
		return fmt.Errorf("%w: item %s quantity %d", ErrExceedsReceived, itemID, quantity)
	}
	t.applied[itemID] = pending
	return nil
}

func (t *memTx) InsertReturn(_ context.Context, ret ReturnOrder) error {
	t.staged = append(t.staged, ret)
	return nil
}

type memInventory struct {
	applied []inventory.Adjustment
	failErr error
}

func (m *memInventory) ApplyReturn(_ context.Context, adj inventory.Adjustment) (inventory.Adjustment, error) {
	if m.failErr != nil {
		return inventory.Adjustment{}, m.failErr
	}
	adj.ID = uuid.New()
	m.applied = append(m.applied, adj)
	return adj, nil
}

type memAudit struct {
	entries []shared.AuditEntry
}

func (m *memAudit) Record(_ context.Context, entry shared.AuditEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

type fixture struct {
	service *Service
	repo    *memRepo
	orders  *memOrders
	inv     *memInventory
	audit   *memAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orders := &memOrders{lines: map[uuid.UUID]*memLine{}}
	repo := &memRepo{orders: orders}
	inv := &memInventory{}
	audit := &memAudit{}
	service := NewService(repo, orders, inv, audit, slog.Default(), nil)
	return &fixture{service: service, repo: repo, orders: orders, inv: inv, audit: audit}
}

func (f *fixture) addLine(orderID uuid.UUID, received, returned int) uuid.UUID {
	itemID := uuid.New()
	f.orders.lines[itemID] = &memLine{item: order.Item{
		ID:               itemID,
		PurchaseOrderID:  orderID,
		ProductID:        uuid.New(),
		VariantID:        uuid.New(),
		Quantity:         received,
		ReceivedQuantity: received,
		ReturnedQuantity: returned,
	}}
	return itemID
}

func TestProcessReturnValidatesInput(t *testing.T) {
	f := newFixture(t)
	itemID := f.addLine(uuid.New(), 5, 0)

	_, err := f.service.ProcessReturn(context.Background(), itemID, ReturnDamage, 0, "damaged", "user-1")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.service.ProcessReturn(context.Background(), itemID, ReturnDamage, 1, "", "user-1")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.service.ProcessReturn(context.Background(), itemID, ReturnDamage, 1, "damaged", "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.service.ProcessReturn(context.Background(), itemID, "lost", 1, "damaged", "user-1")
	require.ErrorIs(t, err, ErrValidation)
}

func TestProcessReturnUnknownLine(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.ProcessReturn(context.Background(), uuid.New(), ReturnDamage, 1, "damaged", "user-1")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestProcessReturnDecrementsStockAndRecordsAudit(t *testing.T) {
	f := newFixture(t)
	orderID := uuid.New()
	itemID := f.addLine(orderID, 5, 0)

	ret, err := f.service.ProcessReturn(context.Background(), itemID, ReturnDamage, 3, "water damage", "user-1")
	require.NoError(t, err)
	require.Equal(t, orderID, ret.PurchaseOrderID)
	require.Equal(t, ReturnDamage, ret.Type)
	require.Equal(t, 3, ret.Quantity)

	require.Equal(t, 3, f.orders.lines[itemID].item.ReturnedQuantity)
	require.Len(t, f.repo.returns, 1)

	require.Len(t, f.inv.applied, 1)
	require.Equal(t, 3, f.inv.applied[0].Quantity)
	require.Equal(t, f.orders.lines[itemID].item.VariantID, f.inv.applied[0].VariantID)

	require.Len(t, f.audit.entries, 1)
	require.Equal(t, "return_processed", f.audit.entries[0].Action)
	require.Equal(t, "damage", f.audit.entries[0].Details["return_type"])
}

func TestProcessReturnCappedAtReceived(t *testing.T) {
	f := newFixture(t)
	itemID := f.addLine(uuid.New(), 5, 4)

	_, err := f.service.ProcessReturn(context.Background(), itemID, ReturnDamage, 2, "damaged", "user-1")
	require.ErrorIs(t, err, ErrExceedsReceived)

	require.Equal(t, 4, f.orders.lines[itemID].item.ReturnedQuantity)
	require.Empty(t, f.repo.returns)
	require.Empty(t, f.inv.applied)
}

func TestProcessReturnStockFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	itemID := f.addLine(uuid.New(), 5, 0)
	f.inv.failErr = errors.New("variant gone")

	ret, err := f.service.ProcessReturn(context.Background(), itemID, ReturnDamage, 2, "damaged", "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, ret.Quantity)

	require.Equal(t, 2, f.orders.lines[itemID].item.ReturnedQuantity)
	require.Len(t, f.repo.returns, 1)
}

func TestListReturnsFiltersByOrder(t *testing.T) {
	f := newFixture(t)
	orderID := uuid.New()
	itemA := f.addLine(orderID, 5, 0)
	itemB := f.addLine(uuid.New(), 5, 0)

	_, err := f.service.ProcessReturn(context.Background(), itemA, ReturnExcess, 1, "over-shipped", "user-1")
	require.NoError(t, err)
	_, err = f.service.ProcessReturn(context.Background(), itemB, ReturnDamage, 1, "damaged", "user-1")
	require.NoError(t, err)

	list, err := f.service.ListReturns(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, itemA, list[0].OrderItemID)
	require.Equal(t, ReturnExcess, list[0].Type)
}
