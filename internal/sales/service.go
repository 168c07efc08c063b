package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stockline/stockline/internal/ledger"
	"github.com/stockline/stockline/internal/shared"
)

// shipConcurrency bounds the per-line fan-out for ship and return calls.
// Per-key ordering is the ledger's job; lines of one order usually touch
// distinct keys, so a small pool is enough.
const shipConcurrency = 4

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (SalesOrder, []Item, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]SalesOrder, error)
	MarkItemsPicked(ctx context.Context, orderID int64, itemIDs []int64) error
	MarkItemsPacked(ctx context.Context, orderID int64, itemIDs []int64) error
	MarkItemShipped(ctx context.Context, itemID int64) error
	MarkItemReturned(ctx context.Context, itemID, creditNoteID int64) error
	CreateCreditNote(ctx context.Context, note CreditNote) (int64, error)
}

// LedgerPort posts stock movements for shipped and returned goods.
type LedgerPort interface {
	RecordMovement(ctx context.Context, input ledger.RecordInput) (ledger.Movement, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the sales order lifecycle. Fulfilment only moves
// stock through the ledger, which also enforces the negative-stock guard.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs the sales service.
func NewService(repo RepositoryPort, ledgerPort LedgerPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledgerPort, audit: audit, logger: logger}
}

// CreateInput describes a new sales order.
type CreateInput struct {
	Number      string
	CustomerID  int64
	WarehouseID int64
	Notes       string
	ActorID     int64
	Items       []ItemInput
}

// ItemInput describes an ordered line.
type ItemInput struct {
	ProductID int64
	Quantity  float64
	UnitPrice float64
	Notes     string
}

// ShipInput ships order lines. Empty Lines means every unshipped line.
type ShipInput struct {
	OrderID        int64
	ActorID        int64
	IdempotencyKey string
	Lines          []ShipLine
}

// ShipLine selects one item to ship. BinID, BatchID and SerialNumber refine
// the stock key the goods leave from.
type ShipLine struct {
	ItemID       int64
	BinID        int64
	BatchID      int64
	SerialNumber string
}

// SkippedLine reports a line that could not be fulfilled.
type SkippedLine struct {
	ItemID int64  `json:"item_id"`
	Reason string `json:"reason"`
}

// ShipResult is the outcome of a ship or return call.
type ShipResult struct {
	Order   SalesOrder    `json:"order"`
	Items   []Item        `json:"items"`
	Skipped []SkippedLine `json:"skipped,omitempty"`
}

// ReturnInput books customer returns against shipped lines.
type ReturnInput struct {
	OrderID        int64
	ActorID        int64
	Notes          string
	IdempotencyKey string
	Lines          []ReturnLine
}

// ReturnLine selects one shipped item coming back.
type ReturnLine struct {
	ItemID       int64
	BinID        int64
	BatchID      int64
	SerialNumber string
}

// Create persists the order header and items in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (SalesOrder, error) {
	if input.CustomerID == 0 || input.WarehouseID == 0 || len(input.Items) == 0 {
		return SalesOrder{}, ErrValidation
	}
	if input.Number == "" {
		input.Number = generateNumber("SO")
	}
	order := SalesOrder{
		Number:      input.Number,
		CustomerID:  input.CustomerID,
		WarehouseID: input.WarehouseID,
		Status:      StatusDraft,
		Notes:       input.Notes,
		CreatedBy:   input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orderID, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		for _, item := range input.Items {
			if item.ProductID == 0 || item.Quantity <= 0 {
				return ErrValidation
			}
			line := Item{OrderID: orderID, ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice, Notes: item.Notes}
			if _, err := tx.InsertItem(ctx, line); err != nil {
				return err
			}
		}
		order.ID = orderID
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "SO_CREATE", order.ID, map[string]any{"number": order.Number})
	return order, nil
}

// Get returns the order and its items.
func (s *Service) Get(ctx context.Context, id int64) (SalesOrder, []Item, error) {
	return s.repo.GetOrder(ctx, id)
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]SalesOrder, error) {
	return s.repo.ListOrders(ctx, filter)
}

// Confirm transitions a draft order to confirmed.
func (s *Service) Confirm(ctx context.Context, orderID, actorID int64) error {
	return s.transition(ctx, orderID, actorID, StatusConfirmed, StatusDraft)
}

// Cancel voids an order before any goods left the building.
func (s *Service) Cancel(ctx context.Context, orderID, actorID int64) error {
	return s.transition(ctx, orderID, actorID, StatusCancelled, StatusDraft, StatusConfirmed, StatusPicked, StatusPacked)
}

// Pick flags the given items (all when empty) as picked and advances the
// order once every line is picked.
func (s *Service) Pick(ctx context.Context, orderID, actorID int64, itemIDs []int64) error {
	return s.flagItems(ctx, orderID, actorID, itemIDs, StatusPicked,
		[]Status{StatusConfirmed, StatusPicked},
		s.repo.MarkItemsPicked,
		func(item Item) bool { return item.Picked })
}

// Pack flags the given items (all when empty) as packed and advances the
// order once every line is packed.
func (s *Service) Pack(ctx context.Context, orderID, actorID int64, itemIDs []int64) error {
	return s.flagItems(ctx, orderID, actorID, itemIDs, StatusPacked,
		[]Status{StatusPicked, StatusPacked},
		s.repo.MarkItemsPacked,
		func(item Item) bool { return item.Packed })
}

// Ship posts an outbound sale movement per line. A line the ledger rejects
// for insufficient stock stays unshipped and is reported in the result while
// the remaining lines proceed; the order is marked shipped once every
// requested line has been attempted.
func (s *Service) Ship(ctx context.Context, input ShipInput) (ShipResult, error) {
	order, items, err := s.repo.GetOrder(ctx, input.OrderID)
	if err != nil {
		return ShipResult{}, err
	}
	switch order.Status {
	case StatusConfirmed, StatusPicked, StatusPacked:
	default:
		return ShipResult{}, ErrInvalidState
	}

	byID := make(map[int64]Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	lines := input.Lines
	if len(lines) == 0 {
		for _, item := range items {
			if !item.Shipped {
				lines = append(lines, ShipLine{ItemID: item.ID})
			}
		}
	}

	var (
		mu      sync.Mutex
		skipped []SkippedLine
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(shipConcurrency)
	for _, line := range lines {
		item, ok := byID[line.ItemID]
		if !ok {
			s.logger.Warn("ship line references unknown item, skipping",
				slog.Int64("order_id", input.OrderID),
				slog.Int64("item_id", line.ItemID))
			continue
		}
		if item.Shipped {
			continue
		}
		g.Go(func() error {
			movement := ledger.RecordInput{
				Key: ledger.Key{
					ProductID:    item.ProductID,
					WarehouseID:  order.WarehouseID,
					BinID:        line.BinID,
					BatchID:      line.BatchID,
					SerialNumber: line.SerialNumber,
				},
				Type:     ledger.TypeSale,
				Quantity: item.Quantity,
				RefType:  ledger.RefSalesOrder,
				RefID:    order.ID,
				ActorID:  input.ActorID,
				Notes:    fmt.Sprintf("SO %s shipment", order.Number),
			}
			if input.IdempotencyKey != "" {
				movement.IdempotencyKey = fmt.Sprintf("%s:%d", input.IdempotencyKey, item.ID)
			}
			if _, err := s.ledger.RecordMovement(gctx, movement); err != nil {
				if errors.Is(err, shared.ErrInsufficientStock) {
					mu.Lock()
					skipped = append(skipped, SkippedLine{ItemID: item.ID, Reason: "insufficient stock"})
					mu.Unlock()
					return nil
				}
				return fmt.Errorf("sales: ship item %d: %w", item.ID, err)
			}
			return s.repo.MarkItemShipped(gctx, item.ID)
		})
	}
	if err := g.Wait(); err != nil {
		return ShipResult{}, err
	}

	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, order.ID, StatusShipped)
	}); err != nil {
		return ShipResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "SO_SHIP", order.ID, map[string]any{"number": order.Number, "skipped": len(skipped)})

	result := ShipResult{Skipped: skipped}
	result.Order, result.Items, err = s.repo.GetOrder(ctx, input.OrderID)
	return result, err
}

// MarkDelivered transitions a shipped order to delivered.
func (s *Service) MarkDelivered(ctx context.Context, orderID, actorID int64) error {
	return s.transition(ctx, orderID, actorID, StatusDelivered, StatusShipped)
}

// Return books inbound customer-return movements for shipped lines, issues a
// credit note per line and marks the order returned.
func (s *Service) Return(ctx context.Context, input ReturnInput) (ShipResult, error) {
	if len(input.Lines) == 0 {
		return ShipResult{}, ErrValidation
	}
	order, items, err := s.repo.GetOrder(ctx, input.OrderID)
	if err != nil {
		return ShipResult{}, err
	}
	switch order.Status {
	case StatusShipped, StatusDelivered, StatusReturned:
	default:
		return ShipResult{}, ErrInvalidState
	}
	byID := make(map[int64]Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	// Reject the whole request before posting anything: once a goroutine has
	// booked a return movement there is no undoing it here.
	type returnLine struct {
		line ReturnLine
		item Item
	}
	accepted := make([]returnLine, 0, len(input.Lines))
	for _, line := range input.Lines {
		item, ok := byID[line.ItemID]
		if !ok {
			s.logger.Warn("return line references unknown item, skipping",
				slog.Int64("order_id", input.OrderID),
				slog.Int64("item_id", line.ItemID))
			continue
		}
		if !item.Shipped || item.Returned {
			return ShipResult{}, fmt.Errorf("sales: item %d not returnable: %w", item.ID, ErrInvalidState)
		}
		accepted = append(accepted, returnLine{line: line, item: item})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(shipConcurrency)
	for _, rl := range accepted {
		line, item := rl.line, rl.item
		g.Go(func() error {
			movement := ledger.RecordInput{
				Key: ledger.Key{
					ProductID:    item.ProductID,
					WarehouseID:  order.WarehouseID,
					BinID:        line.BinID,
					BatchID:      line.BatchID,
					SerialNumber: line.SerialNumber,
				},
				Type:     ledger.TypeCustomerReturn,
				Quantity: item.Quantity,
				RefType:  ledger.RefSalesOrder,
				RefID:    order.ID,
				ActorID:  input.ActorID,
				Notes:    fmt.Sprintf("SO %s return", order.Number),
			}
			if input.IdempotencyKey != "" {
				movement.IdempotencyKey = fmt.Sprintf("%s:%d", input.IdempotencyKey, item.ID)
			}
			if _, err := s.ledger.RecordMovement(gctx, movement); err != nil {
				return fmt.Errorf("sales: return item %d: %w", item.ID, err)
			}
			noteID, err := s.repo.CreateCreditNote(gctx, CreditNote{
				Number:  generateNumber("CN"),
				OrderID: order.ID,
				ItemID:  item.ID,
				Amount:  item.Quantity * item.UnitPrice,
			})
			if err != nil {
				return err
			}
			return s.repo.MarkItemReturned(gctx, item.ID, noteID)
		})
	}
	if err := g.Wait(); err != nil {
		return ShipResult{}, err
	}

	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, order.ID, StatusReturned)
	}); err != nil {
		return ShipResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "SO_RETURN", order.ID, map[string]any{"number": order.Number, "lines": len(input.Lines)})

	var result ShipResult
	result.Order, result.Items, err = s.repo.GetOrder(ctx, input.OrderID)
	return result, err
}

func (s *Service) flagItems(ctx context.Context, orderID, actorID int64, itemIDs []int64, to Status, from []Status, mark func(context.Context, int64, []int64) error, done func(Item) bool) error {
	order, _, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	allowed := false
	for _, f := range from {
		if order.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidState
	}
	if err := mark(ctx, orderID, itemIDs); err != nil {
		return err
	}
	_, items, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if !done(item) {
			return nil
		}
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, orderID, to)
	}); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "SO_"+string(to), orderID, map[string]any{"number": order.Number})
	return nil
}

func (s *Service) transition(ctx context.Context, orderID, actorID int64, to Status, from ...Status) error {
	order, _, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	allowed := false
	for _, f := range from {
		if order.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidState
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, orderID, to)
	}); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "SO_"+string(to), orderID, map[string]any{"number": order.Number})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "sales_order", EntityID: fmt.Sprintf("%d", orderID), Meta: meta})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
