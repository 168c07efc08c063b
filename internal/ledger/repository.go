package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline/stockline/internal/platform/db"
	"github.com/stockline/stockline/internal/shared"
)

// Repository persists the movement ledger and balances in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return storeErr(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}))
}

const movementColumns = `id, product_id, warehouse_id, bin_id, batch_id, serial_number, movement_type, quantity, ref_type, ref_id, user_id, approved_by, notes, created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.Key.ProductID, &m.Key.WarehouseID, &m.Key.BinID, &m.Key.BatchID, &m.Key.SerialNumber,
		&m.Type, &m.Quantity, &m.RefType, &m.RefID, &m.UserID, &m.ApprovedBy, &m.Notes, &m.CreatedAt)
	return m, err
}

// GetMovement fetches a single committed movement.
func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id=$1`, id)
	m, err := scanMovement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, fmt.Errorf("%w: movement %d", shared.ErrNotFound, id)
		}
		return Movement{}, storeErr(err)
	}
	return m, nil
}

// GetBalance reads the stored balance for a key.
func (r *Repository) GetBalance(ctx context.Context, key Key) (Balance, error) {
	row := r.pool.QueryRow(ctx, `SELECT product_id, warehouse_id, bin_id, batch_id, serial_number, qty_on_hand, qty_reserved, qty_damaged, qty_in_transit, last_movement_id, updated_at
FROM inventory_balances
WHERE product_id=$1 AND warehouse_id=$2 AND bin_id=$3 AND batch_id=$4 AND serial_number=$5`,
		key.ProductID, key.WarehouseID, key.BinID, key.BatchID, key.SerialNumber)
	return scanBalance(row, key)
}

// ListMovements returns movements matching the filter in commit order.
func (r *Repository) ListMovements(ctx context.Context, filter ListFilter) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE 1=1`
	args := []any{}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		query += fmt.Sprintf(` AND product_id=$%d`, len(args))
	}
	if filter.WarehouseID != 0 {
		args = append(args, filter.WarehouseID)
		query += fmt.Sprintf(` AND warehouse_id=$%d`, len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(` AND movement_type=$%d`, len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(` AND created_at <= $%d`, len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY id ASC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return collectMovements(rows)
}

// ListKeyMovements returns the full ordered history of one key.
func (r *Repository) ListKeyMovements(ctx context.Context, key Key) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, keyMovementsQuery, key.ProductID, key.WarehouseID, key.BinID, key.BatchID, key.SerialNumber)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return collectMovements(rows)
}

// ListKeys enumerates every key with a balance row.
func (r *Repository) ListKeys(ctx context.Context) ([]Key, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, warehouse_id, bin_id, batch_id, serial_number FROM inventory_balances ORDER BY product_id, warehouse_id, bin_id, batch_id, serial_number`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var keys []Key
	for rows.Next() {
		var key Key
		if err := rows.Scan(&key.ProductID, &key.WarehouseID, &key.BinID, &key.BatchID, &key.SerialNumber); err != nil {
			return nil, storeErr(err)
		}
		keys = append(keys, key)
	}
	return keys, storeErr(rows.Err())
}

const keyMovementsQuery = `SELECT ` + movementColumns + ` FROM stock_movements
WHERE product_id=$1 AND warehouse_id=$2 AND bin_id=$3 AND batch_id=$4 AND serial_number=$5
ORDER BY id ASC`

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, key Key) (Balance, error) {
	row := r.tx.QueryRow(ctx, `SELECT product_id, warehouse_id, bin_id, batch_id, serial_number, qty_on_hand, qty_reserved, qty_damaged, qty_in_transit, last_movement_id, updated_at
FROM inventory_balances
WHERE product_id=$1 AND warehouse_id=$2 AND bin_id=$3 AND batch_id=$4 AND serial_number=$5
FOR UPDATE`,
		key.ProductID, key.WarehouseID, key.BinID, key.BatchID, key.SerialNumber)
	return scanBalance(row, key)
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, warehouse_id, bin_id, batch_id, serial_number, movement_type, quantity, ref_type, ref_id, user_id, approved_by, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
RETURNING id, created_at`,
		m.Key.ProductID, m.Key.WarehouseID, m.Key.BinID, m.Key.BatchID, m.Key.SerialNumber,
		string(m.Type), m.Quantity, m.RefType, m.RefID, m.UserID, m.ApprovedBy, m.Notes)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return Movement{}, storeErr(err)
	}
	return m, nil
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (product_id, warehouse_id, bin_id, batch_id, serial_number, qty_on_hand, qty_reserved, qty_damaged, qty_in_transit, last_movement_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (product_id, warehouse_id, bin_id, batch_id, serial_number) DO UPDATE SET
qty_on_hand=EXCLUDED.qty_on_hand, qty_reserved=EXCLUDED.qty_reserved, qty_damaged=EXCLUDED.qty_damaged,
qty_in_transit=EXCLUDED.qty_in_transit, last_movement_id=EXCLUDED.last_movement_id, updated_at=EXCLUDED.updated_at`,
		balance.Key.ProductID, balance.Key.WarehouseID, balance.Key.BinID, balance.Key.BatchID, balance.Key.SerialNumber,
		balance.QtyOnHand, balance.QtyReserved, balance.QtyDamaged, balance.QtyInTransit, balance.LastMovementID, nonZeroTime(balance.UpdatedAt))
	return storeErr(err)
}

func (r *txRepository) ListKeyMovements(ctx context.Context, key Key) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, keyMovementsQuery, key.ProductID, key.WarehouseID, key.BinID, key.BatchID, key.SerialNumber)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return collectMovements(rows)
}

func scanBalance(row pgx.Row, key Key) (Balance, error) {
	var b Balance
	err := row.Scan(&b.Key.ProductID, &b.Key.WarehouseID, &b.Key.BinID, &b.Key.BatchID, &b.Key.SerialNumber,
		&b.QtyOnHand, &b.QtyReserved, &b.QtyDamaged, &b.QtyInTransit, &b.LastMovementID, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{Key: key}, ErrBalanceNotFound
		}
		return Balance{}, storeErr(err)
	}
	return b, nil
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		movements = append(movements, m)
	}
	return movements, storeErr(rows.Err())
}

func nonZeroTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// storeErr classifies transient failures as retryable StoreUnavailable:
// transport-level errors, and serialization or deadlock aborts from two
// commits racing the same balance row. Other SQL errors pass through.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}
	return err
}
