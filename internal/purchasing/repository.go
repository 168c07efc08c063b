package purchasing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline/stockline/internal/platform/db"
	"github.com/stockline/stockline/internal/shared"
)

// Repository provides PostgreSQL backed persistence for purchase orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateOrder(ctx context.Context, order PurchaseOrder) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateStatus(ctx context.Context, orderID int64, status Status) error
	AddReceived(ctx context.Context, itemID int64, delta float64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetOrder returns the order header and its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []Item, error) {
	var order PurchaseOrder
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, supplier_id, warehouse_id, status, COALESCE(expected_date, 'epoch'::timestamptz), COALESCE(notes, ''), COALESCE(created_by, 0), created_at, updated_at
		FROM purchase_orders WHERE id=$1`, id).
		Scan(&order.ID, &order.Number, &order.SupplierID, &order.WarehouseID, &order.Status, &order.ExpectedDate, &order.Notes, &order.CreatedBy, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, fmt.Errorf("purchase order %d: %w", id, shared.ErrNotFound)
		}
		return PurchaseOrder{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, received_quantity, over_receipt, COALESCE(notes, '')
		FROM purchase_order_items WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.ReceivedQuantity, &item.OverReceipt, &item.Notes); err != nil {
			return PurchaseOrder{}, nil, err
		}
		items = append(items, item)
	}
	return order, items, rows.Err()
}

// ListOrders returns orders matching the filter, newest first.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	query := `SELECT id, number, supplier_id, warehouse_id, status, COALESCE(expected_date, 'epoch'::timestamptz), COALESCE(notes, ''), COALESCE(created_by, 0), created_at, updated_at FROM purchase_orders`
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.SupplierID != 0 {
		args = append(args, filter.SupplierID)
		clauses = append(clauses, fmt.Sprintf("supplier_id=$%d", len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []PurchaseOrder
	for rows.Next() {
		var order PurchaseOrder
		if err := rows.Scan(&order.ID, &order.Number, &order.SupplierID, &order.WarehouseID, &order.Status, &order.ExpectedDate, &order.Notes, &order.CreatedBy, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *txRepository) CreateOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (number, supplier_id, warehouse_id, status, expected_date, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, 'epoch'::timestamptz), NULLIF($6, ''), NULLIF($7, 0), NOW(), NOW())
		RETURNING id`,
		order.Number, order.SupplierID, order.WarehouseID, order.Status, order.ExpectedDate, order.Notes, order.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO purchase_order_items (order_id, product_id, quantity, unit_price, received_quantity, over_receipt, notes)
		VALUES ($1, $2, $3, $4, 0, FALSE, NULLIF($5, ''))
		RETURNING id`,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.Notes).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, orderID int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, updated_at=NOW() WHERE id=$1`, orderID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchase order %d: %w", orderID, shared.ErrNotFound)
	}
	return nil
}

// AddReceived accumulates a received delta in a single statement so
// concurrent receipts never lose updates, and derives the over-receipt flag
// from the new total.
func (r *txRepository) AddReceived(ctx context.Context, itemID int64, delta float64) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE purchase_order_items
		SET received_quantity = received_quantity + $2,
		    over_receipt = received_quantity + $2 > quantity
		WHERE id=$1`, itemID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchase order item %d: %w", itemID, shared.ErrNotFound)
	}
	return nil
}
