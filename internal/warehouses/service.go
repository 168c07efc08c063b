package warehouses

import (
	"context"
	"fmt"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Warehouse, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, fmt.Errorf("%w: invalid warehouse id", ErrValidation)
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, warehouse Warehouse) (Warehouse, error) {
	if err := s.validateWarehouse(warehouse); err != nil {
		return Warehouse{}, err
	}
	warehouse.Active = true
	return s.repo.Create(ctx, warehouse)
}

func (s *Service) Update(ctx context.Context, id int64, warehouse Warehouse) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid warehouse id", ErrValidation)
	}
	if err := s.validateWarehouse(warehouse); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, warehouse)
}

// Deactivate retires a warehouse. Balances and movements referencing it stay
// behind, so warehouses are never deleted.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid warehouse id", ErrValidation)
	}
	return s.repo.SetActive(ctx, id, false)
}

func (s *Service) ListBins(ctx context.Context, warehouseID int64) ([]Bin, error) {
	if warehouseID <= 0 {
		return nil, fmt.Errorf("%w: invalid warehouse id", ErrValidation)
	}
	return s.repo.ListBins(ctx, warehouseID)
}

func (s *Service) CreateBin(ctx context.Context, bin Bin) (Bin, error) {
	if err := s.validateBin(bin); err != nil {
		return Bin{}, err
	}
	if _, err := s.repo.Get(ctx, bin.WarehouseID); err != nil {
		return Bin{}, err
	}
	bin.Active = true
	return s.repo.CreateBin(ctx, bin)
}

func (s *Service) UpdateBin(ctx context.Context, id int64, bin Bin) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid bin id", ErrValidation)
	}
	if err := s.validateBin(bin); err != nil {
		return err
	}
	return s.repo.UpdateBin(ctx, id, bin)
}

func (s *Service) DeactivateBin(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid bin id", ErrValidation)
	}
	return s.repo.SetBinActive(ctx, id, false)
}
