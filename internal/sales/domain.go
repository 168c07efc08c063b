package sales

import (
	"errors"
	"time"
)

// Sales order lifecycle statuses.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
	StatusPicked    Status = "picked"
	StatusPacked    Status = "packed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusReturned  Status = "returned"
	StatusCancelled Status = "cancelled"
)

// SalesOrder is a customer order to fulfil from a warehouse.
type SalesOrder struct {
	ID          int64     `json:"id"`
	Number      string    `json:"number"`
	CustomerID  int64     `json:"customer_id"`
	WarehouseID int64     `json:"warehouse_id"`
	Status      Status    `json:"status"`
	Notes       string    `json:"notes,omitempty"`
	CreatedBy   int64     `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Item is one ordered product line with its fulfilment flags.
type Item struct {
	ID           int64   `json:"id"`
	OrderID      int64   `json:"order_id"`
	ProductID    int64   `json:"product_id"`
	Quantity     float64 `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
	Picked       bool    `json:"picked"`
	Packed       bool    `json:"packed"`
	Shipped      bool    `json:"shipped"`
	Returned     bool    `json:"returned"`
	CreditNoteID int64   `json:"credit_note_id,omitempty"`
	Notes        string  `json:"notes,omitempty"`
}

// CreditNote is issued when goods come back from the customer.
type CreditNote struct {
	ID        int64     `json:"id"`
	Number    string    `json:"number"`
	OrderID   int64     `json:"order_id"`
	ItemID    int64     `json:"item_id"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilter narrows order listings. Zero fields are ignored.
type ListFilter struct {
	Status     Status
	CustomerID int64
	Limit      int
}

var (
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("sales: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("sales: invalid input")
)
