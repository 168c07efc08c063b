package warehouses

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Warehouse, int, error)
	Get(ctx context.Context, id int64) (Warehouse, error)
	Create(ctx context.Context, warehouse Warehouse) (Warehouse, error)
	Update(ctx context.Context, id int64, warehouse Warehouse) error
	SetActive(ctx context.Context, id int64, active bool) error
	ListBins(ctx context.Context, warehouseID int64) ([]Bin, error)
	CreateBin(ctx context.Context, bin Bin) (Bin, error)
	UpdateBin(ctx context.Context, id int64, bin Bin) error
	SetBinActive(ctx context.Context, id int64, active bool) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Warehouse, int, error) {
	query := `SELECT id, code, name, COALESCE(address, ''), active FROM warehouses WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	countQuery := `SELECT COUNT(*) FROM warehouses WHERE 1=1`
	countArgs := []interface{}{}
	if filters.Search != "" {
		countArgs = append(countArgs, "%"+filters.Search+"%")
		countQuery += ` AND (name ILIKE $1 OR code ILIKE $1)`
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)

	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.Active); err != nil {
			return nil, 0, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, COALESCE(address, ''), active FROM warehouses WHERE id=$1`, id).
		Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrNotFound
	}
	return w, err
}

func (r *repository) Create(ctx context.Context, warehouse Warehouse) (Warehouse, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO warehouses (code, name, address, active)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING id`,
		warehouse.Code, warehouse.Name, warehouse.Address, warehouse.Active).Scan(&warehouse.ID)
	if err != nil {
		return Warehouse{}, duplicateErr(err)
	}
	return warehouse, nil
}

func (r *repository) Update(ctx context.Context, id int64, warehouse Warehouse) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE warehouses SET code=$2, name=$3, address=NULLIF($4, '') WHERE id=$1`,
		id, warehouse.Code, warehouse.Name, warehouse.Address)
	if err != nil {
		return duplicateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE warehouses SET active=$2 WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) ListBins(ctx context.Context, warehouseID int64) ([]Bin, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, warehouse_id, code, COALESCE(zone, ''), active FROM warehouse_bins WHERE warehouse_id=$1 ORDER BY code`,
		warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bins []Bin
	for rows.Next() {
		var b Bin
		if err := rows.Scan(&b.ID, &b.WarehouseID, &b.Code, &b.Zone, &b.Active); err != nil {
			return nil, err
		}
		bins = append(bins, b)
	}
	return bins, rows.Err()
}

func (r *repository) CreateBin(ctx context.Context, bin Bin) (Bin, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO warehouse_bins (warehouse_id, code, zone, active)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING id`,
		bin.WarehouseID, bin.Code, bin.Zone, bin.Active).Scan(&bin.ID)
	if err != nil {
		return Bin{}, duplicateErr(err)
	}
	return bin, nil
}

func (r *repository) UpdateBin(ctx context.Context, id int64, bin Bin) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE warehouse_bins SET code=$2, zone=NULLIF($3, '') WHERE id=$1`,
		id, bin.Code, bin.Zone)
	if err != nil {
		return duplicateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) SetBinActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE warehouse_bins SET active=$2 WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func duplicateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	case "name":
		return "name " + dir
	default:
		return "name " + dir
	}
}
