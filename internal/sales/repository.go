package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline/stockline/internal/platform/db"
	"github.com/stockline/stockline/internal/shared"
)

// Repository provides PostgreSQL backed persistence for sales orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateOrder(ctx context.Context, order SalesOrder) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateStatus(ctx context.Context, orderID int64, status Status) error
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
func (r *Repository) GetOrder(ctx context.Context, id int64) (SalesOrder, []Item, error) {
	var order SalesOrder
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, customer_id, warehouse_id, status, COALESCE(notes, ''), COALESCE(created_by, 0), created_at, updated_at
		FROM sales_orders WHERE id=$1`, id).
		Scan(&order.ID, &order.Number, &order.CustomerID, &order.WarehouseID, &order.Status, &order.Notes, &order.CreatedBy, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalesOrder{}, nil, fmt.Errorf("sales order %d: %w", id, shared.ErrNotFound)
		}
		return SalesOrder{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, picked, packed, shipped, returned, COALESCE(credit_note_id, 0), COALESCE(notes, '')
		FROM sales_order_items WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return SalesOrder{}, nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Picked, &item.Packed, &item.Shipped, &item.Returned, &item.CreditNoteID, &item.Notes); err != nil {
			return SalesOrder{}, nil, err
		}
		items = append(items, item)
	}
	return order, items, rows.Err()
}

// ListOrders returns orders matching the filter, newest first.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]SalesOrder, error) {
	query := `SELECT id, number, customer_id, warehouse_id, status, COALESCE(notes, ''), COALESCE(created_by, 0), created_at, updated_at FROM sales_orders`
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.CustomerID != 0 {
		args = append(args, filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id=$%d", len(args)))
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
	var orders []SalesOrder
	for rows.Next() {
		var order SalesOrder
		if err := rows.Scan(&order.ID, &order.Number, &order.CustomerID, &order.WarehouseID, &order.Status, &order.Notes, &order.CreatedBy, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// MarkItemsPicked flags items as picked; empty itemIDs means every item.
func (r *Repository) MarkItemsPicked(ctx context.Context, orderID int64, itemIDs []int64) error {
	return r.flagItems(ctx, "picked", orderID, itemIDs)
}

// MarkItemsPacked flags items as packed; empty itemIDs means every item.
func (r *Repository) MarkItemsPacked(ctx context.Context, orderID int64, itemIDs []int64) error {
	return r.flagItems(ctx, "packed", orderID, itemIDs)
}

func (r *Repository) flagItems(ctx context.Context, column string, orderID int64, itemIDs []int64) error {
	// column comes from a fixed caller-side set, never user input.
	if len(itemIDs) == 0 {
		_, err := r.pool.Exec(ctx, fmt.Sprintf(`UPDATE sales_order_items SET %s=TRUE WHERE order_id=$1`, column), orderID)
		return err
	}
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`UPDATE sales_order_items SET %s=TRUE WHERE order_id=$1 AND id=ANY($2)`, column), orderID, itemIDs)
	return err
}

// MarkItemShipped flags a single item as shipped.
func (r *Repository) MarkItemShipped(ctx context.Context, itemID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sales_order_items SET shipped=TRUE WHERE id=$1`, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sales order item %d: %w", itemID, shared.ErrNotFound)
	}
	return nil
}

// MarkItemReturned flags a single item as returned and links its credit note.
func (r *Repository) MarkItemReturned(ctx context.Context, itemID, creditNoteID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sales_order_items SET returned=TRUE, credit_note_id=$2 WHERE id=$1`, itemID, creditNoteID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sales order item %d: %w", itemID, shared.ErrNotFound)
	}
	return nil
}

// CreateCreditNote stores a credit note and returns its id.
func (r *Repository) CreateCreditNote(ctx context.Context, note CreditNote) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO credit_notes (number, order_id, item_id, amount, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id`,
		note.Number, note.OrderID, note.ItemID, note.Amount).Scan(&id)
	return id, err
}

func (r *txRepository) CreateOrder(ctx context.Context, order SalesOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO sales_orders (number, customer_id, warehouse_id, status, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, 0), NOW(), NOW())
		RETURNING id`,
		order.Number, order.CustomerID, order.WarehouseID, order.Status, order.Notes, order.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO sales_order_items (order_id, product_id, quantity, unit_price, picked, packed, shipped, returned, notes)
		VALUES ($1, $2, $3, $4, FALSE, FALSE, FALSE, FALSE, NULLIF($5, ''))
		RETURNING id`,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.Notes).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, orderID int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales_orders SET status=$2, updated_at=NOW() WHERE id=$1`, orderID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sales order %d: %w", orderID, shared.ErrNotFound)
	}
	return nil
}
