package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/stockline/stockline/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovement(ctx context.Context, id int64) (Movement, error)
	GetBalance(ctx context.Context, key Key) (Balance, error)
	ListMovements(ctx context.Context, filter ListFilter) ([]Movement, error)
	ListKeyMovements(ctx context.Context, key Key) ([]Movement, error)
	ListKeys(ctx context.Context) ([]Key, error)
}

// TxRepository exposes the operations available inside a ledger transaction.
// GetBalanceForUpdate row-locks the balance, which is the serialization point
// for all movement commits on a key: validation and application become atomic
// per key while distinct keys proceed in parallel.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, key Key) (Balance, error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	ListKeyMovements(ctx context.Context, key Key) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const qtyEpsilon = 1e-9

// Service validates movements and coordinates ledger appends with balance
// projection.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem}
}

// RecordMovement validates and appends a movement, updating the balance for
// its key in the same transaction. Either both commit or neither does.
func (s *Service) RecordMovement(ctx context.Context, input RecordInput) (Movement, error) {
	movement := Movement{
		Key:        input.Key,
		Type:       input.Type,
		Quantity:   input.Quantity,
		RefType:    input.RefType,
		RefID:      input.RefID,
		UserID:     input.ActorID,
		ApprovedBy: input.ApprovedBy,
		Notes:      input.Notes,
	}
	if err := validateMovement(movement); err != nil {
		return Movement{}, err
	}
	if movement.Type == TypeReversal {
		prepared, err := s.prepareReversal(ctx, movement)
		if err != nil {
			return Movement{}, err
		}
		movement = prepared
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "ledger"); err != nil {
			return Movement{}, err
		}
		insertedKey = true
	}

	var committed Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := s.lockBalance(ctx, tx, movement.Key)
		if err != nil {
			return err
		}
		// Reject before writing anything: the movement row must never exist
		// for a movement whose application would breach the invariant.
		candidate, err := Apply(balance, movement)
		if err != nil {
			return err
		}
		if candidate.QtyOnHand < -qtyEpsilon {
			return fmt.Errorf("%w: on hand %.4f, requested %.4f", shared.ErrInsufficientStock, balance.QtyOnHand, movement.Quantity)
		}
		inserted, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		updated, err := Apply(balance, inserted)
		if err != nil {
			return err
		}
		if err := tx.UpsertBalance(ctx, updated); err != nil {
			return err
		}
		committed = inserted
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Movement{}, err
	}
	s.recordAudit(ctx, input.ActorID, fmt.Sprintf("ledger:%s", movement.Type), committed)
	return committed, nil
}

// RecordTransferReceipt confirms arrival of an issued transfer. It appends a
// transfer_in on the destination key and a release on the source key in one
// transaction, so in-transit stock is handed over atomically.
func (s *Service) RecordTransferReceipt(ctx context.Context, input TransferReceiptInput) (Movement, Movement, error) {
	issue, err := s.repo.GetMovement(ctx, input.TransferOutID)
	if err != nil {
		return Movement{}, Movement{}, err
	}
	if issue.Type != TypeTransferOut {
		return Movement{}, Movement{}, shared.NewFieldError(shared.ErrInvalidMovement, "transfer_out_id")
	}
	if input.Destination.ProductID == 0 {
		input.Destination.ProductID = issue.Key.ProductID
	}
	if input.Destination.ProductID != issue.Key.ProductID {
		return Movement{}, Movement{}, shared.NewFieldError(shared.ErrInvalidMovement, "product_id")
	}
	if input.Destination.WarehouseID == 0 || input.Destination == issue.Key {
		return Movement{}, Movement{}, shared.NewFieldError(shared.ErrInvalidMovement, "warehouse_id")
	}

	// Double receipts would inflate the destination, so the receipt is
	// idempotent per issued movement even without a caller-supplied key.
	idemKey := input.IdempotencyKey
	if idemKey == "" {
		idemKey = fmt.Sprintf("transfer-receipt:%d", issue.ID)
	}
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "ledger"); err != nil {
			return Movement{}, Movement{}, err
		}
		insertedKey = true
	}

	receipt := Movement{
		Key:      input.Destination,
		Type:     TypeTransferIn,
		Quantity: issue.Quantity,
		RefID:    issue.ID,
		UserID:   input.ActorID,
		Notes:    input.Notes,
	}
	release := Movement{
		Key:      issue.Key,
		Type:     TypeTransferIn,
		Quantity: issue.Quantity,
		RefType:  RefTransferRelease,
		RefID:    issue.ID,
		UserID:   input.ActorID,
	}

	var committedReceipt, committedRelease Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Lock both rows in a stable order so concurrent receipts touching
		// the same pair of keys cannot deadlock.
		first, second := receipt, release
		if keyLess(release.Key, receipt.Key) {
			first, second = release, receipt
		}
		for _, m := range []*Movement{&first, &second} {
			balance, err := s.lockBalance(ctx, tx, m.Key)
			if err != nil {
				return err
			}
			inserted, err := tx.InsertMovement(ctx, *m)
			if err != nil {
				return err
			}
			updated, err := Apply(balance, inserted)
			if err != nil {
				return err
			}
			if err := tx.UpsertBalance(ctx, updated); err != nil {
				return err
			}
			*m = inserted
		}
		if first.RefType == RefTransferRelease {
			committedRelease, committedReceipt = first, second
		} else {
			committedReceipt, committedRelease = first, second
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return Movement{}, Movement{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ledger:transfer_receipt", committedReceipt)
	return committedReceipt, committedRelease, nil
}

// GetBalance returns the current balance for a key. Keys without movement
// history read as an all-zero balance.
func (s *Service) GetBalance(ctx context.Context, key Key) (Balance, error) {
	if key.ProductID == 0 || key.WarehouseID == 0 {
		return Balance{}, shared.NewFieldError(shared.ErrInvalidMovement, "product_id", "warehouse_id")
	}
	balance, err := s.repo.GetBalance(ctx, key)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{Key: key}, nil
	}
	return balance, err
}

// ListMovements returns committed movements in commit-sequence order.
func (s *Service) ListMovements(ctx context.Context, filter ListFilter) ([]Movement, error) {
	if filter.Type != "" && !filter.Type.Known() {
		return nil, fmt.Errorf("%w: %q", shared.ErrInvalidMovementType, filter.Type)
	}
	return s.repo.ListMovements(ctx, filter)
}

// Rebuild replays the full movement history of a key. The result must be
// bit-identical to the incrementally maintained balance.
func (s *Service) Rebuild(ctx context.Context, key Key) (Balance, error) {
	movements, err := s.repo.ListKeyMovements(ctx, key)
	if err != nil {
		return Balance{}, err
	}
	return Replay(key, movements)
}

// RepairBalance overwrites the stored balance with a replay, under the same
// row lock used by commits.
func (s *Service) RepairBalance(ctx context.Context, key Key) (Balance, error) {
	var rebuilt Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := s.lockBalance(ctx, tx, key); err != nil {
			return err
		}
		movements, err := tx.ListKeyMovements(ctx, key)
		if err != nil {
			return err
		}
		replayed, err := Replay(key, movements)
		if err != nil {
			return err
		}
		rebuilt = replayed
		return tx.UpsertBalance(ctx, rebuilt)
	})
	if err != nil {
		return Balance{}, err
	}
	return rebuilt, nil
}

// AuditBalances compares every stored balance against its rebuild.
func (s *Service) AuditBalances(ctx context.Context) ([]BalanceDrift, error) {
	keys, err := s.repo.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	var drifts []BalanceDrift
	for _, key := range keys {
		stored, err := s.repo.GetBalance(ctx, key)
		if err != nil {
			return nil, err
		}
		rebuilt, err := s.Rebuild(ctx, key)
		if err != nil {
			return nil, err
		}
		if !balancesEqual(stored, rebuilt) {
			drifts = append(drifts, BalanceDrift{Key: key, Stored: stored, Rebuilt: rebuilt})
		}
	}
	return drifts, nil
}

func (s *Service) lockBalance(ctx context.Context, tx TxRepository, key Key) (Balance, error) {
	balance, err := tx.GetBalanceForUpdate(ctx, key)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{Key: key}, nil
	}
	return balance, err
}

func (s *Service) prepareReversal(ctx context.Context, movement Movement) (Movement, error) {
	original, err := s.repo.GetMovement(ctx, movement.RefID)
	if err != nil {
		return Movement{}, err
	}
	if original.Type == TypeReversal {
		return Movement{}, shared.NewFieldError(shared.ErrInvalidMovement, "ref_id")
	}
	if movement.Quantity != 0 && math.Abs(movement.Quantity-original.Quantity) > qtyEpsilon {
		return Movement{}, shared.NewFieldError(shared.ErrInvalidMovement, "quantity")
	}
	// A reversal cancels the full original effect on the original's key.
	movement.Key = original.Key
	movement.Quantity = original.Quantity
	movement.RefType = string(original.Type)
	return movement, nil
}

func validateMovement(m Movement) error {
	if !m.Type.Known() {
		return fmt.Errorf("%w: %q", shared.ErrInvalidMovementType, m.Type)
	}
	var fields []string
	if m.Type != TypeReversal {
		if m.Key.ProductID == 0 {
			fields = append(fields, "product_id")
		}
		if m.Key.WarehouseID == 0 {
			fields = append(fields, "warehouse_id")
		}
	}
	switch {
	case m.Type == TypeReversal:
		if m.RefID == 0 {
			fields = append(fields, "ref_id")
		}
		if len(fields) == 0 && m.ApprovedBy == 0 {
			return shared.ErrApprovalRequired
		}
	case m.Type.Signed():
		if math.Abs(m.Quantity) < qtyEpsilon {
			fields = append(fields, "quantity")
		}
	default:
		if m.Quantity <= 0 {
			fields = append(fields, "quantity")
		}
	}
	if len(fields) > 0 {
		return shared.NewFieldError(shared.ErrInvalidMovement, fields...)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, m Movement) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%d", m.ID),
		Meta: map[string]any{
			"product_id":   m.Key.ProductID,
			"warehouse_id": m.Key.WarehouseID,
			"qty":          m.Quantity,
			"type":         string(m.Type),
		},
	})
}

func keyLess(a, b Key) bool {
	if a.ProductID != b.ProductID {
		return a.ProductID < b.ProductID
	}
	if a.WarehouseID != b.WarehouseID {
		return a.WarehouseID < b.WarehouseID
	}
	if a.BinID != b.BinID {
		return a.BinID < b.BinID
	}
	if a.BatchID != b.BatchID {
		return a.BatchID < b.BatchID
	}
	return a.SerialNumber < b.SerialNumber
}

func balancesEqual(a, b Balance) bool {
	return math.Abs(a.QtyOnHand-b.QtyOnHand) < qtyEpsilon &&
		math.Abs(a.QtyReserved-b.QtyReserved) < qtyEpsilon &&
		math.Abs(a.QtyDamaged-b.QtyDamaged) < qtyEpsilon &&
		math.Abs(a.QtyInTransit-b.QtyInTransit) < qtyEpsilon &&
		a.LastMovementID == b.LastMovementID
}
