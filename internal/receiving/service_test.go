package receiving

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lats-pos/receiving/internal/inventory"
	"github.com/lats-pos/receiving/internal/order"
	"github.com/lats-pos/receiving/internal/shared"
)

type memOrders struct {
	status   order.Status
	items    map[uuid.UUID]*order.Item
	ordering []uuid.UUID
	received bool
}

func newMemOrders(status order.Status) *memOrders {
	return &memOrders{status: status, items: map[uuid.UUID]*order.Item{}}
}

func (m *memOrders) addItem(quantity int) uuid.UUID {
	id := uuid.New()
	m.items[id] = &order.Item{ID: id, ProductID: uuid.New(), VariantID: uuid.New(), Quantity: quantity, CostPrice: 100}
	m.ordering = append(m.ordering, id)
	return id
}

func (m *memOrders) GetOrder(_ context.Context, id uuid.UUID) (order.PurchaseOrder, error) {
	return order.PurchaseOrder{ID: id, Status: m.status}, nil
}

func (m *memOrders) ListItems(_ context.Context, _ uuid.UUID) ([]order.Item, error) {
	out := make([]order.Item, 0, len(m.items))
	for _, id := range m.ordering {
		out = append(out, *m.items[id])
	}
	return out, nil
}

func (m *memOrders) MarkReceived(_ context.Context, _ uuid.UUID, _ string) error {
	m.received = true
	m.status = order.StatusReceived
	return nil
}

// memBatchRepo mirrors the SQL ceiling guard, staging increments so a failed
// batch leaves nothing behind.
type memBatchRepo struct {
	orders *memOrders
}

type memBatchTx struct {
	orders *memOrders
	staged map[uuid.UUID]int
}

func (m *memBatchRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memBatchTx{orders: m.orders, staged: map[uuid.UUID]int{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, delta := range tx.staged {
		m.orders.items[id].ReceivedQuantity += delta
	}
	return nil
}

func (t *memBatchTx) IncrementReceived(_ context.Context, itemID uuid.UUID, delta int) error {
	item, ok := t.orders.items[itemID]
	if !ok {
		return ErrExceedsOrdered
	}
	next := item.ReceivedQuantity + t.staged[itemID] + delta
	if next > item.Quantity || next < 0 {
		return ErrExceedsOrdered
	}
	t.staged[itemID] += delta
	return nil
}

type memInventory struct {
	units       []inventory.Item
	adjustments []inventory.Adjustment
	unitsErr    error
}

func (m *memInventory) CreateSerializedUnits(_ context.Context, orderID uuid.UUID, units []inventory.Item) ([]inventory.Item, error) {
	if m.unitsErr != nil {
		return nil, m.unitsErr
	}
	for i := range units {
		units[i].ID = uuid.New()
		units[i].PurchaseOrderID = orderID
		units[i].CreatedAt = time.Now().UTC()
	}
	m.units = append(m.units, units...)
	return units, nil
}

func (m *memInventory) ApplyBulkReceive(_ context.Context, adj inventory.Adjustment) (inventory.Adjustment, error) {
	adj.ID = uuid.New()
	adj.Type = inventory.AdjustReceive
	adj.CreatedAt = time.Now().UTC()
	m.adjustments = append(m.adjustments, adj)
	return adj, nil
}

func (m *memInventory) ListUnitsByOrder(_ context.Context, orderID uuid.UUID) ([]inventory.Item, error) {
	var out []inventory.Item
	for _, u := range m.units {
		if u.PurchaseOrderID == orderID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memInventory) ListAdjustmentsByOrder(_ context.Context, orderID uuid.UUID) ([]inventory.Adjustment, error) {
	var out []inventory.Adjustment
	for _, adj := range m.adjustments {
		if adj.PurchaseOrderID == orderID {
			out = append(out, adj)
		}
	}
	return out, nil
}

type memAudit struct {
	entries []shared.AuditEntry
}

func (m *memAudit) Record(_ context.Context, entry shared.AuditEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

type memIdem struct {
	keys map[string]struct{}
}

func (m *memIdem) CheckAndInsert(_ context.Context, key, _ string) error {
	if m.keys == nil {
		m.keys = map[string]struct{}{}
	}
	if _, dup := m.keys[key]; dup {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = struct{}{}
	return nil
}

type fixture struct {
	svc    *Service
	orders *memOrders
	inv    *memInventory
	audit  *memAudit
	idem   *memIdem
	mr     *miniredis.Miniredis
}

func newFixture(t *testing.T, status order.Status) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	orders := newMemOrders(status)
	inv := &memInventory{}
	audit := &memAudit{}
	idem := &memIdem{}
	svc := NewService(ServiceDeps{
		Repo:        &memBatchRepo{orders: orders},
		Orders:      orders,
		Inventory:   inv,
		Guard:       shared.NewReceiveGuard(client, 30*time.Second),
		Audit:       audit,
		Idempotency: idem,
		Cache:       client,
		CacheTTL:    time.Minute,
		Logger:      slog.Default(),
	})
	return &fixture{svc: svc, orders: orders, inv: inv, audit: audit, idem: idem, mr: mr}
}

func TestReceiveBatchSplitsSerializedAndBulk(t *testing.T) {
	f := newFixture(t, order.StatusQualityChecked)
	orderID := uuid.New()
	itemID := f.orders.addItem(10)

	result, err := f.svc.UpdateReceivedQuantities(context.Background(), orderID, []ItemUpdate{
		{
			ItemID:           itemID,
			ReceivedQuantity: 6,
			Units: []UnitInput{
				{Serial: "SN-A", IMEI: "356938035643809"},
				{Serial: "SN-B"},
			},
		},
	}, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, result.ItemsUpdated)
	require.Equal(t, 2, result.UnitsCreated)
	require.Equal(t, 0, result.BulkAdjusted)
	require.False(t, result.FullyReceived)

	// Line quantity advanced by the full batch delta.
	require.Equal(t, 6, f.orders.items[itemID].ReceivedQuantity)
	// Serials present routed the line fully serialized: no bulk adjustment.
	require.Empty(t, f.inv.adjustments)
	require.Len(t, f.inv.units, 2)
	require.Len(t, f.audit.entries, 1)
	require.Equal(t, "receive_batch", f.audit.entries[0].Action)
}

func TestReceiveBatchBulkPath(t *testing.T) {
	f := newFixture(t, order.StatusShipped)
	orderID := uuid.New()
	itemID := f.orders.addItem(5)

	result, err := f.svc.UpdateReceivedQuantities(context.Background(), orderID, []ItemUpdate{
		{ItemID: itemID, ReceivedQuantity: 5},
	}, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, result.BulkAdjusted)
	require.True(t, result.FullyReceived)
	require.Len(t, f.inv.adjustments, 1)
	require.Equal(t, 5, f.inv.adjustments[0].Quantity)
}

func TestReceiveBatchAggregatesValidationProblems(t *testing.T) {
	f := newFixture(t, order.StatusShipped)
	orderID := uuid.New()
	itemID := f.orders.addItem(4)
	f.orders.items[itemID].ReceivedQuantity = 3

	_, err := f.svc.UpdateReceivedQuantities(context.Background(), orderID, []ItemUpdate{
		{ItemID: itemID, ReceivedQuantity: 2},
		{ItemID: uuid.New(), ReceivedQuantity: 1},
		{ItemID: itemID, ReceivedQuantity: -1},
	}, "alice")
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "exceeds ordered")
	require.Contains(t, err.Error(), "not on order")
	require.Contains(t, err.Error(), "listed twice")

	// Nothing persisted.
	require.Equal(t, 3, f.orders.items[itemID].ReceivedQuantity)
	require.Empty(t, f.inv.adjustments)
}

func TestReceiveBatchOneBadLineRejectsWholeBatch(t *testing.T) {
	f := newFixture(t, order.StatusShipped)
	orderID := uuid.New()
	okItem := f.orders.addItem(10)
	tightItem := f.orders.addItem(2)

	_, err := f.svc.UpdateReceivedQuantities(context.Background(), orderID, []ItemUpdate{
		{ItemID: okItem, ReceivedQuantity: 4},
		{ItemID: tightItem, ReceivedQuantity: 3},
	}, "alice")
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, 0, f.orders.items[okItem].ReceivedQuantity)
}

func TestReceiveBatchCeilingEnforcedInTransaction(t *testing.T) {
	f := newFixture(t, order.StatusShipped)
	orderID := uuid.New()
	okItem := f.orders.addItem(10)
	racedItem := f.orders.addItem(5)

	// Simulate a concurrent batch landing between the validation read and
	// the transaction.
	raced := f.orders.items[racedItem]
	svc := f.svc
	repo := &racingRepo{inner: &memBatchRepo{orders: f.orders}, once: func() {
		raced.ReceivedQuantity = 4
	}}
	svc.repo = repo

	_, err := svc.UpdateReceivedQuantities(context.Background(), orderID, []ItemUpdate{
		{ItemID: okItem, ReceivedQuantity: 2},
		{ItemID: racedItem, ReceivedQuantity: 3},
	}, "alice")
	require.ErrorIs(t, err, ErrExceedsOrdered)
	require.Equal(t, 0, f.orders.items[okItem].ReceivedQuantity)
	require.Equal(t, 4, raced.ReceivedQuantity)
}

type racingRepo struct {
	inner *memBatchRepo
	once  func()
}

func (r *racingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.once != nil {
		r.once()
		r.once = nil
	}
	return r.inner.WithTx(ctx, fn)
}

func TestReceiveBatchDuplicateSerializedSubmissionRejected(t *testing.T) {
	f := newFixture(t, order.StatusShipped)
	orderID := uuid.New()
	itemID := f.orders.addItem(10)

	updates := []ItemUpdate{{
		ItemID:           itemID,
		ReceivedQuantity: 2,
		Units:            []UnitInput{{Serial: "SN-A"}, {Serial: "SN-B"}},
	}}
	_, err := f.svc.UpdateReceivedQuantities(context.Background(), orderID, updates, "alice")
	require.NoError(t, err)

	_, err = f.svc.UpdateReceivedQuantities(context.Background(), orderID, updates, "alice")
	require.ErrorIs(t, err, shared.ErrAlreadySubmitted)
	require.Equal(t, 2, f.orders.items[itemID].ReceivedQuantity)
}

func TestReceiveBatchGuardReleasedWhenTransactionFails(t *testing.T) {
	f := newFixture(t, order.StatusShipped)
	orderID := uuid.New()
	itemID := f.orders.addItem(3)

	updates := []ItemUpdate{{
		ItemID:           itemID,
		ReceivedQuantity: 2,
		Units:            []UnitInput{{Serial: "SN-A"}, {Serial: "SN-B"}},
	}}

	// A concurrent write lands after validation and after the guard is
	// acquired, so the transaction itself fails.
	item := f.orders.items[itemID]
	f.svc.repo = &racingRepo{inner: &memBatchRepo{orders: f.orders}, once: func() {
		item.ReceivedQuantity = 2
	}}
	_, err := f.svc.UpdateReceivedQuantities(context.Background(), orderID, updates, "alice")
	require.ErrorIs(t, err, ErrExceedsOrdered)

	// Retry succeeds once the conflict is gone: the guard was released.
	item.ReceivedQuantity = 0
	_, err = f.svc.UpdateReceivedQuantities(context.Background(), orderID, updates, "alice")
	require.NoError(t, err)
}

func TestReceiveBatchUnitCreationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, order.StatusShipped)
	f.inv.unitsErr = errors.New("inventory offline")
	orderID := uuid.New()
	itemID := f.orders.addItem(4)

	result, err := f.svc.UpdateReceivedQuantities(context.Background(), orderID, []ItemUpdate{
		{ItemID: itemID, ReceivedQuantity: 1, Units: []UnitInput{{Serial: "SN-A"}}},
	}, "alice")
	require.NoError(t, err)
	require.Equal(t, 0, result.UnitsCreated)
	require.Equal(t, 1, f.orders.items[itemID].ReceivedQuantity)
}

func TestReceiveBatchRejectsWrongOrderState(t *testing.T) {
	f := newFixture(t, order.StatusConfirmed)
	itemID := f.orders.addItem(4)

	_, err := f.svc.UpdateReceivedQuantities(context.Background(), uuid.New(), []ItemUpdate{
		{ItemID: itemID, ReceivedQuantity: 1},
	}, "alice")
	require.ErrorIs(t, err, ErrOrderState)
}

func TestCompleteReceiveTopsUpAndMarksReceived(t *testing.T) {
	f := newFixture(t, order.StatusQualityChecked)
	orderID := uuid.New()
	itemA := f.orders.addItem(10)
	itemB := f.orders.addItem(5)
	f.orders.items[itemA].ReceivedQuantity = 7
	f.orders.items[itemB].ReceivedQuantity = 5

	result, err := f.svc.CompleteReceive(context.Background(), orderID, "alice", "three units short-shipped")
	require.NoError(t, err)
	require.Equal(t, 1, result.ItemsUpdated)
	require.Equal(t, 1, result.BulkAdjusted)
	require.True(t, result.FullyReceived)
	require.True(t, f.orders.received)
	require.Equal(t, 10, f.orders.items[itemA].ReceivedQuantity)

	last := f.audit.entries[len(f.audit.entries)-1]
	require.Equal(t, "receive_completed", last.Action)
	require.Equal(t, "three units short-shipped", last.Details["notes"])

	full, err := f.svc.AreAllItemsFullyReceived(context.Background(), orderID)
	require.NoError(t, err)
	require.True(t, full)
}

func TestCompleteReceiveIsSingleShot(t *testing.T) {
	f := newFixture(t, order.StatusQualityChecked)
	orderID := uuid.New()
	f.orders.addItem(2)

	_, err := f.svc.CompleteReceive(context.Background(), orderID, "alice", "")
	require.NoError(t, err)

	f.orders.status = order.StatusQualityChecked
	_, err = f.svc.CompleteReceive(context.Background(), orderID, "alice", "")
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestReceivePassedAdaptsQuantities(t *testing.T) {
	f := newFixture(t, order.StatusQualityChecked)
	orderID := uuid.New()
	itemID := f.orders.addItem(6)

	err := f.svc.ReceivePassed(context.Background(), orderID, map[uuid.UUID]int{itemID: 4}, "inspector")
	require.NoError(t, err)
	require.Equal(t, 4, f.orders.items[itemID].ReceivedQuantity)
	require.Len(t, f.inv.adjustments, 1)
}

func TestGetSummaryCountsAndCaches(t *testing.T) {
	f := newFixture(t, order.StatusShipped)
	orderID := uuid.New()
	itemID := f.orders.addItem(10)

	_, err := f.svc.UpdateReceivedQuantities(context.Background(), orderID, []ItemUpdate{
		{ItemID: itemID, ReceivedQuantity: 6, Units: []UnitInput{{Serial: "SN-A"}, {Serial: "SN-B"}}},
	}, "alice")
	require.NoError(t, err)

	sum, err := f.svc.GetSummary(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, 10, sum.OrderedTotal)
	require.Equal(t, 6, sum.ReceivedTotal)
	require.Equal(t, 2, sum.SerializedUnits)
	require.Equal(t, 0, sum.BulkAdjustments)
	require.False(t, sum.FullyReceived)

	// Cached copy served while the underlying data changes.
	f.orders.items[itemID].ReceivedQuantity = 10
	cached, err := f.svc.GetSummary(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, 6, cached.ReceivedTotal)

	// Invalidation on the next batch refreshes the read model.
	f.mr.FastForward(2 * time.Minute)
	fresh, err := f.svc.GetSummary(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, 10, fresh.ReceivedTotal)
}

func TestListReceivedItemsMergesBothPaths(t *testing.T) {
	f := newFixture(t, order.StatusShipped)
	orderID := uuid.New()
	serialized := f.orders.addItem(10)
	bulk := f.orders.addItem(5)

	_, err := f.svc.UpdateReceivedQuantities(context.Background(), orderID, []ItemUpdate{
		{ItemID: serialized, ReceivedQuantity: 2, Units: []UnitInput{{Serial: "SN-A"}, {Serial: "SN-B"}}},
		{ItemID: bulk, ReceivedQuantity: 3},
	}, "alice")
	require.NoError(t, err)

	items, err := f.svc.ListReceivedItems(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, items, 3)

	var units, adjustments int
	for _, it := range items {
		switch it.Kind {
		case "unit":
			units++
			require.Equal(t, 1, it.Quantity)
			require.NotEmpty(t, it.Serial)
		case "adjustment":
			adjustments++
			require.Equal(t, 3, it.Quantity)
		}
	}
	require.Equal(t, 2, units)
	require.Equal(t, 1, adjustments)
}
