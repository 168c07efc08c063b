package sales

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline/internal/ledger"
	"github.com/stockline/stockline/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	orders map[int64]SalesOrder
	items  map[int64][]Item
	notes  map[int64]CreditNote
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[int64]SalesOrder), items: make(map[int64][]Item), notes: make(map[int64]CreditNote)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (SalesOrder, []Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return SalesOrder{}, nil, fmt.Errorf("sales order %d: %w", id, shared.ErrNotFound)
	}
	return order, append([]Item(nil), r.items[id]...), nil
}

func (r *memoryRepo) ListOrders(ctx context.Context, filter ListFilter) ([]SalesOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var orders []SalesOrder
	for _, order := range r.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.CustomerID != 0 && order.CustomerID != filter.CustomerID {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *memoryRepo) MarkItemsPicked(ctx context.Context, orderID int64, itemIDs []int64) error {
	return r.flag(orderID, itemIDs, func(item *Item) { item.Picked = true })
}

func (r *memoryRepo) MarkItemsPacked(ctx context.Context, orderID int64, itemIDs []int64) error {
	return r.flag(orderID, itemIDs, func(item *Item) { item.Packed = true })
}

func (r *memoryRepo) flag(orderID int64, itemIDs []int64, set func(*Item)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[int64]bool, len(itemIDs))
	for _, id := range itemIDs {
		wanted[id] = true
	}
	for i := range r.items[orderID] {
		if len(itemIDs) == 0 || wanted[r.items[orderID][i].ID] {
			set(&r.items[orderID][i])
		}
	}
	return nil
}

func (r *memoryRepo) MarkItemShipped(ctx context.Context, itemID int64) error {
	return r.updateItem(itemID, func(item *Item) { item.Shipped = true })
}

func (r *memoryRepo) MarkItemReturned(ctx context.Context, itemID, creditNoteID int64) error {
	return r.updateItem(itemID, func(item *Item) {
		item.Returned = true
		item.CreditNoteID = creditNoteID
	})
}

func (r *memoryRepo) updateItem(itemID int64, update func(*Item)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for orderID := range r.items {
		for i := range r.items[orderID] {
			if r.items[orderID][i].ID == itemID {
				update(&r.items[orderID][i])
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func (r *memoryRepo) CreateCreditNote(ctx context.Context, note CreditNote) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	note.ID = r.nextID
	r.notes[note.ID] = note
	return note.ID, nil
}

func (tx *memoryTx) CreateOrder(ctx context.Context, order SalesOrder) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	order.ID = tx.repo.nextID
	tx.repo.orders[order.ID] = order
	return order.ID, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	tx.repo.items[item.OrderID] = append(tx.repo.items[item.OrderID], item)
	return item.ID, nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, orderID int64, status Status) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	order, ok := tx.repo.orders[orderID]
	if !ok {
		return shared.ErrNotFound
	}
	order.Status = status
	tx.repo.orders[orderID] = order
	return nil
}

// stubLedger rejects movements for products in the short set with
// insufficient stock, mimicking the negative-stock guard.
type stubLedger struct {
	mu        sync.Mutex
	movements []ledger.RecordInput
	short     map[int64]bool
}

func (l *stubLedger) RecordMovement(ctx context.Context, input ledger.RecordInput) (ledger.Movement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if input.Type.Outbound() && l.short[input.Key.ProductID] {
		return ledger.Movement{}, fmt.Errorf("product %d: %w", input.Key.ProductID, shared.ErrInsufficientStock)
	}
	l.movements = append(l.movements, input)
	return ledger.Movement{ID: int64(len(l.movements)), Key: input.Key, Type: input.Type, Quantity: input.Quantity}, nil
}

func (l *stubLedger) recorded() []ledger.RecordInput {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.RecordInput(nil), l.movements...)
}

func newTestService(repo *memoryRepo, lp *stubLedger) *Service {
	return NewService(repo, lp, nil, slog.New(slog.DiscardHandler))
}

func seedOrder(t *testing.T, svc *Service, products ...int64) (SalesOrder, []Item) {
	t.Helper()
	input := CreateInput{CustomerID: 3, WarehouseID: 1, ActorID: 9}
	for _, p := range products {
		input.Items = append(input.Items, ItemInput{ProductID: p, Quantity: 2, UnitPrice: 5})
	}
	order, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(context.Background(), order.ID, 9))
	_, items, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	return order, items
}

func TestCreateValidatesInput(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubLedger{})

	_, err := svc.Create(context.Background(), CreateInput{CustomerID: 1, WarehouseID: 1})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(context.Background(), CreateInput{
		CustomerID:  1,
		WarehouseID: 1,
		Items:       []ItemInput{{ProductID: 42, Quantity: 0}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestShipPostsSaleMovements(t *testing.T) {
	repo := newMemoryRepo()
	lp := &stubLedger{}
	svc := newTestService(repo, lp)
	order, _ := seedOrder(t, svc, 41, 42)

	result, err := svc.Ship(context.Background(), ShipInput{OrderID: order.ID, ActorID: 9})
	require.NoError(t, err)
	require.Empty(t, result.Skipped)
	require.Equal(t, StatusShipped, result.Order.Status)
	for _, item := range result.Items {
		require.True(t, item.Shipped)
	}

	movements := lp.recorded()
	require.Len(t, movements, 2)
	for _, m := range movements {
		require.Equal(t, ledger.TypeSale, m.Type)
		require.Equal(t, ledger.RefSalesOrder, m.RefType)
		require.Equal(t, order.ID, m.RefID)
		require.Equal(t, 2.0, m.Quantity)
	}
}

func TestShipSkipsInsufficientStockLines(t *testing.T) {
	repo := newMemoryRepo()
	lp := &stubLedger{short: map[int64]bool{42: true}}
	svc := newTestService(repo, lp)
	order, items := seedOrder(t, svc, 41, 42)

	result, err := svc.Ship(context.Background(), ShipInput{OrderID: order.ID, ActorID: 9})
	require.NoError(t, err)
	require.Len(t, result.Skipped, 1)
	require.Equal(t, "insufficient stock", result.Skipped[0].Reason)

	var shortItem Item
	for _, item := range items {
		if item.ProductID == 42 {
			shortItem = item
		}
	}
	require.Equal(t, shortItem.ID, result.Skipped[0].ItemID)
	for _, item := range result.Items {
		require.Equal(t, item.ProductID != 42, item.Shipped)
	}
	require.Len(t, lp.recorded(), 1)
}

func TestShipRequiresConfirmedOrder(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubLedger{})
	order, err := svc.Create(context.Background(), CreateInput{
		CustomerID:  3,
		WarehouseID: 1,
		Items:       []ItemInput{{ProductID: 42, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = svc.Ship(context.Background(), ShipInput{OrderID: order.ID})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPickPackAdvanceStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubLedger{})
	order, items := seedOrder(t, svc, 41, 42)

	require.NoError(t, svc.Pick(context.Background(), order.ID, 9, []int64{items[0].ID}))
	current, _, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, current.Status)

	require.NoError(t, svc.Pick(context.Background(), order.ID, 9, nil))
	current, _, err = svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPicked, current.Status)

	require.NoError(t, svc.Pack(context.Background(), order.ID, 9, nil))
	current, _, err = svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPacked, current.Status)
}

func TestReturnIssuesCreditNotes(t *testing.T) {
	repo := newMemoryRepo()
	lp := &stubLedger{}
	svc := newTestService(repo, lp)
	order, _ := seedOrder(t, svc, 41)

	result, err := svc.Ship(context.Background(), ShipInput{OrderID: order.ID, ActorID: 9})
	require.NoError(t, err)

	retResult, err := svc.Return(context.Background(), ReturnInput{
		OrderID: order.ID,
		ActorID: 9,
		Lines:   []ReturnLine{{ItemID: result.Items[0].ID}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReturned, retResult.Order.Status)
	require.True(t, retResult.Items[0].Returned)
	require.NotZero(t, retResult.Items[0].CreditNoteID)

	note := repo.notes[retResult.Items[0].CreditNoteID]
	require.Equal(t, order.ID, note.OrderID)
	require.Equal(t, 10.0, note.Amount)

	movements := lp.recorded()
	require.Equal(t, ledger.TypeCustomerReturn, movements[len(movements)-1].Type)
}

func TestReturnRejectsUnshippedItem(t *testing.T) {
	repo := newMemoryRepo()
	lp := &stubLedger{short: map[int64]bool{42: true}}
	svc := newTestService(repo, lp)
	order, _ := seedOrder(t, svc, 41, 42)

	result, err := svc.Ship(context.Background(), ShipInput{OrderID: order.ID, ActorID: 9})
	require.NoError(t, err)
	require.Len(t, result.Skipped, 1)

	_, err = svc.Return(context.Background(), ReturnInput{
		OrderID: order.ID,
		ActorID: 9,
		Lines:   []ReturnLine{{ItemID: result.Skipped[0].ItemID}},
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReturnWithBadLinePostsNothing(t *testing.T) {
	repo := newMemoryRepo()
	lp := &stubLedger{short: map[int64]bool{42: true}}
	svc := newTestService(repo, lp)
	order, items := seedOrder(t, svc, 41, 42)

	result, err := svc.Ship(context.Background(), ShipInput{OrderID: order.ID, ActorID: 9})
	require.NoError(t, err)
	require.Len(t, result.Skipped, 1)
	posted := len(lp.recorded())

	// A shipped line ahead of an unreturnable one must not slip through: the
	// whole request is rejected before any movement is booked.
	var shippedID int64
	for _, item := range items {
		if item.ProductID == 41 {
			shippedID = item.ID
		}
	}
	_, err = svc.Return(context.Background(), ReturnInput{
		OrderID: order.ID,
		ActorID: 9,
		Lines: []ReturnLine{
			{ItemID: shippedID},
			{ItemID: result.Skipped[0].ItemID},
		},
	})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Len(t, lp.recorded(), posted)

	_, after, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	for _, item := range after {
		require.False(t, item.Returned)
		require.Zero(t, item.CreditNoteID)
	}
}
