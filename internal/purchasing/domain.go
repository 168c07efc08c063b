package purchasing

import (
	"errors"
	"time"
)

// Purchase order lifecycle statuses.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusOrdered   Status = "ordered"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

// PurchaseOrder is an order placed with a supplier.
type PurchaseOrder struct {
	ID           int64     `json:"id"`
	Number       string    `json:"number"`
	SupplierID   int64     `json:"supplier_id"`
	WarehouseID  int64     `json:"warehouse_id"`
	Status       Status    `json:"status"`
	ExpectedDate time.Time `json:"expected_date,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedBy    int64     `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Item is a single ordered product line. ReceivedQuantity only ever grows;
// receipts add deltas and never overwrite.
type Item struct {
	ID               int64   `json:"id"`
	OrderID          int64   `json:"order_id"`
	ProductID        int64   `json:"product_id"`
	Quantity         float64 `json:"quantity"`
	UnitPrice        float64 `json:"unit_price"`
	ReceivedQuantity float64 `json:"received_quantity"`
	OverReceipt      bool    `json:"over_receipt"`
	Notes            string  `json:"notes,omitempty"`
}

// ListFilter narrows order listings. Zero fields are ignored.
type ListFilter struct {
	Status     Status
	SupplierID int64
	Limit      int
}

var (
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("purchasing: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("purchasing: invalid input")
)
