package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockline/stockline/internal/ledger"
	"github.com/stockline/stockline/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, []Item, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error)
}

// LedgerPort posts stock movements for received goods.
type LedgerPort interface {
	RecordMovement(ctx context.Context, input ledger.RecordInput) (ledger.Movement, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the purchase order lifecycle. Stock only ever changes
// through the ledger; this service owns order state and receipt bookkeeping.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs the purchasing service.
func NewService(repo RepositoryPort, ledgerPort LedgerPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledgerPort, audit: audit, logger: logger}
}

// CreateInput describes a new purchase order.
type CreateInput struct {
	Number       string
	SupplierID   int64
	WarehouseID  int64
	ExpectedDate time.Time
	Notes        string
	ActorID      int64
	Items        []ItemInput
}

// ItemInput describes an ordered line.
type ItemInput struct {
	ProductID int64
	Quantity  float64
	UnitPrice float64
	Notes     string
}

// ReceiveInput describes a goods receipt against an order.
type ReceiveInput struct {
	OrderID        int64
	ActorID        int64
	Notes          string
	IdempotencyKey string
	Lines          []ReceiveLine
}

// ReceiveLine adds a received delta to one order item. BinID, BatchID and
// SerialNumber refine the stock key when the warehouse tracks them.
type ReceiveLine struct {
	ItemID       int64
	Quantity     float64
	BinID        int64
	BatchID      int64
	SerialNumber string
}

// Create persists the order header and items in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if input.SupplierID == 0 || input.WarehouseID == 0 || len(input.Items) == 0 {
		return PurchaseOrder{}, ErrValidation
	}
	if input.Number == "" {
		input.Number = generateNumber("PO")
	}
	order := PurchaseOrder{
		Number:       input.Number,
		SupplierID:   input.SupplierID,
		WarehouseID:  input.WarehouseID,
		Status:       StatusDraft,
		ExpectedDate: input.ExpectedDate,
		Notes:        input.Notes,
		CreatedBy:    input.ActorID,
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
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_CREATE", order.ID, map[string]any{"number": order.Number})
	return order, nil
}

// Get returns the order and its items.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, []Item, error) {
	return s.repo.GetOrder(ctx, id)
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	return s.repo.ListOrders(ctx, filter)
}

// MarkOrdered transitions a draft order to ordered.
func (s *Service) MarkOrdered(ctx context.Context, orderID, actorID int64) error {
	return s.transition(ctx, orderID, actorID, StatusOrdered, StatusDraft)
}

// Cancel voids an order that has not received goods yet.
func (s *Service) Cancel(ctx context.Context, orderID, actorID int64) error {
	return s.transition(ctx, orderID, actorID, StatusCancelled, StatusDraft, StatusOrdered)
}

// Receive books received quantities against order items and posts the
// matching goods receipt movements. Lines naming an unknown item id are
// skipped. Received quantities only accumulate; receiving more than ordered
// flags the item instead of failing, and the order ends up received either
// way.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (PurchaseOrder, []Item, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, nil, ErrValidation
	}
	order, items, err := s.repo.GetOrder(ctx, input.OrderID)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	if order.Status != StatusOrdered && order.Status != StatusReceived {
		return PurchaseOrder{}, nil, ErrInvalidState
	}
	byID := make(map[int64]Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	// Every line is checked before the first receipt posts so a bad quantity
	// cannot leave earlier lines half-received.
	accepted := make([]ReceiveLine, 0, len(input.Lines))
	for _, line := range input.Lines {
		if _, ok := byID[line.ItemID]; !ok {
			s.logger.Warn("receive line references unknown item, skipping",
				slog.Int64("order_id", input.OrderID),
				slog.Int64("item_id", line.ItemID))
			continue
		}
		if line.Quantity <= 0 {
			return PurchaseOrder{}, nil, ErrValidation
		}
		accepted = append(accepted, line)
	}

	for _, line := range accepted {
		item := byID[line.ItemID]
		movement := ledger.RecordInput{
			Key: ledger.Key{
				ProductID:    item.ProductID,
				WarehouseID:  order.WarehouseID,
				BinID:        line.BinID,
				BatchID:      line.BatchID,
				SerialNumber: line.SerialNumber,
			},
			Type:     ledger.TypeGoodsReceipt,
			Quantity: line.Quantity,
			RefType:  ledger.RefPurchaseOrder,
			RefID:    order.ID,
			ActorID:  input.ActorID,
			Notes:    fmt.Sprintf("PO %s receipt", order.Number),
		}
		if input.IdempotencyKey != "" {
			movement.IdempotencyKey = fmt.Sprintf("%s:%d", input.IdempotencyKey, line.ItemID)
		}
		if _, err := s.ledger.RecordMovement(ctx, movement); err != nil {
			return PurchaseOrder{}, nil, fmt.Errorf("purchasing: post receipt for item %d: %w", item.ID, err)
		}
		if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.AddReceived(ctx, line.ItemID, line.Quantity)
		}); err != nil {
			return PurchaseOrder{}, nil, err
		}
	}

	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, order.ID, StatusReceived)
	}); err != nil {
		return PurchaseOrder{}, nil, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_RECEIVE", order.ID, map[string]any{"number": order.Number, "lines": len(input.Lines)})
	return s.repo.GetOrder(ctx, input.OrderID)
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
	s.recordAudit(ctx, actorID, "PO_"+string(to), orderID, map[string]any{"number": order.Number})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", orderID), Meta: meta})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
