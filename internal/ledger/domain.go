package ledger

import (
	"errors"
	"time"
)

// MovementType enumerates supported stock movements. The values are the wire
// contract and match the HTTP payloads exactly.
type MovementType string

const (
	TypePurchase       MovementType = "purchase"
	TypeSale           MovementType = "sale"
	TypeTransferIn     MovementType = "transfer_in"
	TypeTransferOut    MovementType = "transfer_out"
	TypeAdjustment     MovementType = "adjustment"
	TypeReturn         MovementType = "return"
	TypeDamage         MovementType = "damage"
	TypeCycleCount     MovementType = "cycle_count"
	TypeGoodsReceipt   MovementType = "goods_receipt"
	TypeGoodsIssue     MovementType = "goods_issue"
	TypeCustomerReturn MovementType = "customer_return"
	TypeSupplierReturn MovementType = "supplier_return"
	TypeWriteOff       MovementType = "write_off"
	TypeReversal       MovementType = "reversal"
)

// Ref types linking movements to their originating documents.
const (
	RefPurchaseOrder   = "purchase_order"
	RefSalesOrder      = "sales_order"
	RefReservation     = "reservation"
	RefTransferRelease = "transfer_release"
)

// Known reports whether t belongs to the enumerated set.
func (t MovementType) Known() bool {
	switch t {
	case TypePurchase, TypeSale, TypeTransferIn, TypeTransferOut, TypeAdjustment,
		TypeReturn, TypeDamage, TypeCycleCount, TypeGoodsReceipt, TypeGoodsIssue,
		TypeCustomerReturn, TypeSupplierReturn, TypeWriteOff, TypeReversal:
		return true
	}
	return false
}

// Inbound reports whether t increases on-hand stock.
func (t MovementType) Inbound() bool {
	switch t {
	case TypePurchase, TypeTransferIn, TypeReturn, TypeGoodsReceipt, TypeCustomerReturn:
		return true
	}
	return false
}

// Outbound reports whether t decreases on-hand stock.
func (t MovementType) Outbound() bool {
	switch t {
	case TypeSale, TypeTransferOut, TypeDamage, TypeGoodsIssue, TypeWriteOff, TypeSupplierReturn:
		return true
	}
	return false
}

// Signed reports whether t carries an explicit sign on its quantity.
func (t MovementType) Signed() bool {
	return t == TypeAdjustment || t == TypeCycleCount
}

// Key identifies a distinct stock-keeping location. Zero values stand for
// "not tracked" so the tuple stays usable as a map key and a unique index.
type Key struct {
	ProductID    int64  `json:"product_id"`
	WarehouseID  int64  `json:"warehouse_id"`
	BinID        int64  `json:"bin_id,omitempty"`
	BatchID      int64  `json:"batch_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// Movement is an immutable ledger record of a quantity change at a key.
// Once committed it is never mutated or deleted; corrections happen through
// a compensating reversal referencing the original.
type Movement struct {
	ID         int64        `json:"id"`
	Key        Key          `json:"key"`
	Type       MovementType `json:"movement_type"`
	Quantity   float64      `json:"quantity"`
	RefType    string       `json:"ref_type,omitempty"`
	RefID      int64        `json:"ref_id,omitempty"`
	UserID     int64        `json:"user_id,omitempty"`
	ApprovedBy int64        `json:"approved_by,omitempty"`
	Notes      string       `json:"notes,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Balance is the derived quantity projection for a key. It is a cache over
// the ledger: rebuildable at any time, created lazily on first movement,
// never deleted.
type Balance struct {
	Key            Key       `json:"key"`
	QtyOnHand      float64   `json:"qty_on_hand"`
	QtyReserved    float64   `json:"qty_reserved"`
	QtyDamaged     float64   `json:"qty_damaged"`
	QtyInTransit   float64   `json:"qty_in_transit"`
	LastMovementID int64     `json:"last_movement_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RecordInput describes a movement to append.
type RecordInput struct {
	Key            Key
	Type           MovementType
	Quantity       float64
	RefType        string
	RefID          int64
	ApprovedBy     int64
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

// TransferReceiptInput confirms arrival of an issued transfer.
type TransferReceiptInput struct {
	TransferOutID  int64
	Destination    Key
	ActorID        int64
	Notes          string
	IdempotencyKey string
}

// ListFilter narrows movement listings. Zero fields are ignored.
type ListFilter struct {
	ProductID   int64
	WarehouseID int64
	Type        MovementType
	From        time.Time
	To          time.Time
	Limit       int
}

// BalanceDrift reports a stored balance that disagrees with its rebuild.
type BalanceDrift struct {
	Key     Key
	Stored  Balance
	Rebuilt Balance
}

// ErrBalanceNotFound indicates a missing balance row.
var ErrBalanceNotFound = errors.New("ledger: balance not found")
