package warehouses

import (
	"fmt"
	"strings"
)

func (s *Service) validateWarehouse(w Warehouse) error {
	if strings.TrimSpace(w.Code) == "" {
		return fmt.Errorf("%w: warehouse code is required", ErrValidation)
	}
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("%w: warehouse name is required", ErrValidation)
	}
	return nil
}

func (s *Service) validateBin(b Bin) error {
	if b.WarehouseID <= 0 {
		return fmt.Errorf("%w: warehouse id is required", ErrValidation)
	}
	if strings.TrimSpace(b.Code) == "" {
		return fmt.Errorf("%w: bin code is required", ErrValidation)
	}
	return nil
}
