package warehouses

import "errors"

// Warehouse is a physical storage location.
type Warehouse struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Active  bool   `json:"active"`
}

// Bin is a storage slot inside a warehouse. Balances may be tracked per bin.
type Bin struct {
	ID          int64  `json:"id"`
	WarehouseID int64  `json:"warehouse_id"`
	Code        string `json:"code"`
	Zone        string `json:"zone,omitempty"`
	Active      bool   `json:"active"`
}

// ListFilters represents standard list filters.
type ListFilters struct {
	Page    int
	Limit   int
	Search  string
	SortBy  string
	SortDir string
}

var (
	ErrNotFound   = errors.New("warehouses: not found")
	ErrDuplicate  = errors.New("warehouses: duplicate code")
	ErrValidation = errors.New("warehouses: validation failed")
)
