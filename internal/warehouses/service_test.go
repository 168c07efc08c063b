package warehouses

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	warehouses map[int64]Warehouse
	bins       map[int64]Bin
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{warehouses: map[int64]Warehouse{}, bins: map[int64]Bin{}, nextID: 1}
}

func (r *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Warehouse, int, error) {
	out := make([]Warehouse, 0, len(r.warehouses))
	for _, w := range r.warehouses {
		out = append(out, w)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Warehouse, error) {
	w, ok := r.warehouses[id]
	if !ok {
		return Warehouse{}, ErrNotFound
	}
	return w, nil
}

func (r *memoryRepo) Create(ctx context.Context, warehouse Warehouse) (Warehouse, error) {
	for _, w := range r.warehouses {
		if w.Code == warehouse.Code {
			return Warehouse{}, ErrDuplicate
		}
	}
	warehouse.ID = r.nextID
	r.nextID++
	r.warehouses[warehouse.ID] = warehouse
	return warehouse, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, warehouse Warehouse) error {
	if _, ok := r.warehouses[id]; !ok {
		return ErrNotFound
	}
	warehouse.ID = id
	r.warehouses[id] = warehouse
	return nil
}

func (r *memoryRepo) SetActive(ctx context.Context, id int64, active bool) error {
	w, ok := r.warehouses[id]
	if !ok {
		return ErrNotFound
	}
	w.Active = active
	r.warehouses[id] = w
	return nil
}

func (r *memoryRepo) ListBins(ctx context.Context, warehouseID int64) ([]Bin, error) {
	var out []Bin
	for _, b := range r.bins {
		if b.WarehouseID == warehouseID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateBin(ctx context.Context, bin Bin) (Bin, error) {
	bin.ID = r.nextID
	r.nextID++
	r.bins[bin.ID] = bin
	return bin, nil
}

func (r *memoryRepo) UpdateBin(ctx context.Context, id int64, bin Bin) error {
	if _, ok := r.bins[id]; !ok {
		return ErrNotFound
	}
	bin.ID = id
	r.bins[id] = bin
	return nil
}

func (r *memoryRepo) SetBinActive(ctx context.Context, id int64, active bool) error {
	b, ok := r.bins[id]
	if !ok {
		return ErrNotFound
	}
	b.Active = active
	r.bins[id] = b
	return nil
}

func TestCreateValidatesWarehouse(t *testing.T) {
	svc := NewService(newMemoryRepo())
	cases := []struct {
		name      string
		warehouse Warehouse
	}{
		{"missing code", Warehouse{Name: "Central"}},
		{"blank code", Warehouse{Code: "   ", Name: "Central"}},
		{"missing name", Warehouse{Code: "WH-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.warehouse)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestDeactivateKeepsWarehouseRow(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	created, err := svc.Create(context.Background(), Warehouse{Code: "WH-1", Name: "Central"})
	require.NoError(t, err)
	require.True(t, created.Active)

	require.NoError(t, svc.Deactivate(context.Background(), created.ID))

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	require.ErrorIs(t, svc.Deactivate(context.Background(), 0), ErrValidation)
}

func TestCreateBinRequiresExistingWarehouse(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	_, err := svc.CreateBin(context.Background(), Bin{WarehouseID: 99, Code: "A-01"})
	require.ErrorIs(t, err, ErrNotFound)

	wh, err := svc.Create(context.Background(), Warehouse{Code: "WH-1", Name: "Central"})
	require.NoError(t, err)

	bin, err := svc.CreateBin(context.Background(), Bin{WarehouseID: wh.ID, Code: "A-01", Zone: "A"})
	require.NoError(t, err)
	require.True(t, bin.Active)

	_, err = svc.CreateBin(context.Background(), Bin{WarehouseID: wh.ID})
	require.ErrorIs(t, err, ErrValidation)
}
