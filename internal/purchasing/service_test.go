package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline/internal/ledger"
	"github.com/stockline/stockline/internal/shared"
)

type memoryRepo struct {
	orders map[int64]PurchaseOrder
	items  map[int64][]Item
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[int64]PurchaseOrder), items: make(map[int64][]Item)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []Item, error) {
	order, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, nil, fmt.Errorf("purchase order %d: %w", id, shared.ErrNotFound)
	}
	return order, append([]Item(nil), r.items[id]...), nil
}

func (r *memoryRepo) ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	var orders []PurchaseOrder
	for _, order := range r.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.SupplierID != 0 && order.SupplierID != filter.SupplierID {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (tx *memoryTx) CreateOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	tx.repo.nextID++
	order.ID = tx.repo.nextID
	tx.repo.orders[order.ID] = order
	return order.ID, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	tx.repo.items[item.OrderID] = append(tx.repo.items[item.OrderID], item)
	return item.ID, nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, orderID int64, status Status) error {
	order, ok := tx.repo.orders[orderID]
	if !ok {
		return shared.ErrNotFound
	}
	order.Status = status
	tx.repo.orders[orderID] = order
	return nil
}

func (tx *memoryTx) AddReceived(ctx context.Context, itemID int64, delta float64) error {
	for orderID, items := range tx.repo.items {
		for i, item := range items {
			if item.ID == itemID {
				item.ReceivedQuantity += delta
				item.OverReceipt = item.ReceivedQuantity > item.Quantity
				tx.repo.items[orderID][i] = item
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

type stubLedger struct {
	movements []ledger.RecordInput
	err       error
}

func (l *stubLedger) RecordMovement(ctx context.Context, input ledger.RecordInput) (ledger.Movement, error) {
	if l.err != nil {
		return ledger.Movement{}, l.err
	}
	l.movements = append(l.movements, input)
	return ledger.Movement{ID: int64(len(l.movements)), Key: input.Key, Type: input.Type, Quantity: input.Quantity}, nil
}

func newTestService(repo *memoryRepo, lp *stubLedger) *Service {
	return NewService(repo, lp, nil, slog.New(slog.DiscardHandler))
}

func seedOrder(t *testing.T, svc *Service, qty float64) (PurchaseOrder, Item) {
	t.Helper()
	order, err := svc.Create(context.Background(), CreateInput{
		SupplierID:  4,
		WarehouseID: 1,
		ActorID:     9,
		Items:       []ItemInput{{ProductID: 42, Quantity: qty, UnitPrice: 2.5}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.MarkOrdered(context.Background(), order.ID, 9))
	_, items, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	return order, items[0]
}

func TestCreateValidatesInput(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubLedger{})

	_, err := svc.Create(context.Background(), CreateInput{SupplierID: 1, WarehouseID: 1})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(context.Background(), CreateInput{
		SupplierID:  1,
		WarehouseID: 1,
		Items:       []ItemInput{{ProductID: 42, Quantity: -1}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestReceiveAccumulatesAndFlagsOverReceipt(t *testing.T) {
	repo := newMemoryRepo()
	lp := &stubLedger{}
	svc := newTestService(repo, lp)
	order, item := seedOrder(t, svc, 100)

	_, items, err := svc.Receive(context.Background(), ReceiveInput{
		OrderID: order.ID,
		ActorID: 9,
		Lines:   []ReceiveLine{{ItemID: item.ID, Quantity: 60}},
	})
	require.NoError(t, err)
	require.Equal(t, 60.0, items[0].ReceivedQuantity)
	require.False(t, items[0].OverReceipt)

	updated, items, err := svc.Receive(context.Background(), ReceiveInput{
		OrderID: order.ID,
		ActorID: 9,
		Lines:   []ReceiveLine{{ItemID: item.ID, Quantity: 50}},
	})
	require.NoError(t, err)
	require.Equal(t, 110.0, items[0].ReceivedQuantity)
	require.True(t, items[0].OverReceipt)
	require.Equal(t, StatusReceived, updated.Status)

	require.Len(t, lp.movements, 2)
	for _, m := range lp.movements {
		require.Equal(t, ledger.TypeGoodsReceipt, m.Type)
		require.Equal(t, ledger.RefPurchaseOrder, m.RefType)
		require.Equal(t, order.ID, m.RefID)
		require.Equal(t, int64(42), m.Key.ProductID)
		require.Equal(t, int64(1), m.Key.WarehouseID)
	}
}

func TestReceiveSkipsUnknownItems(t *testing.T) {
	repo := newMemoryRepo()
	lp := &stubLedger{}
	svc := newTestService(repo, lp)
	order, item := seedOrder(t, svc, 10)

	updated, items, err := svc.Receive(context.Background(), ReceiveInput{
		OrderID: order.ID,
		ActorID: 9,
		Lines: []ReceiveLine{
			{ItemID: 999999, Quantity: 5},
			{ItemID: item.ID, Quantity: 10},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, updated.Status)
	require.Equal(t, 10.0, items[0].ReceivedQuantity)
	require.Len(t, lp.movements, 1)
}

func TestReceiveWithBadQuantityPostsNothing(t *testing.T) {
	repo := newMemoryRepo()
	lp := &stubLedger{}
	svc := newTestService(repo, lp)
	order, item := seedOrder(t, svc, 10)

	// A zero-quantity line anywhere in the batch rejects the whole request
	// before the first receipt is booked.
	_, _, err := svc.Receive(context.Background(), ReceiveInput{
		OrderID: order.ID,
		ActorID: 9,
		Lines: []ReceiveLine{
			{ItemID: item.ID, Quantity: 6},
			{ItemID: item.ID, Quantity: 0},
		},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, lp.movements)

	updated, items, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOrdered, updated.Status)
	require.Equal(t, 0.0, items[0].ReceivedQuantity)
}

func TestReceiveRequiresOrderedStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubLedger{})
	order, err := svc.Create(context.Background(), CreateInput{
		SupplierID:  4,
		WarehouseID: 1,
		Items:       []ItemInput{{ProductID: 42, Quantity: 5}},
	})
	require.NoError(t, err)

	_, _, err = svc.Receive(context.Background(), ReceiveInput{
		OrderID: order.ID,
		Lines:   []ReceiveLine{{ItemID: 1, Quantity: 5}},
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelOnlyBeforeReceipt(t *testing.T) {
	repo := newMemoryRepo()
	lp := &stubLedger{}
	svc := newTestService(repo, lp)
	order, item := seedOrder(t, svc, 5)

	_, _, err := svc.Receive(context.Background(), ReceiveInput{
		OrderID: order.ID,
		ActorID: 9,
		Lines:   []ReceiveLine{{ItemID: item.ID, Quantity: 5}},
	})
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), order.ID, 9)
	require.ErrorIs(t, err, ErrInvalidState)
}
