package ledger

import (
	"fmt"

	"github.com/stockline/stockline/internal/shared"
)

// Effect is the signed contribution of a single movement to its key's
// balance columns.
type Effect struct {
	OnHand    float64
	Reserved  float64
	Damaged   float64
	InTransit float64
}

// Negate flips every component.
func (e Effect) Negate() Effect {
	return Effect{OnHand: -e.OnHand, Reserved: -e.Reserved, Damaged: -e.Damaged, InTransit: -e.InTransit}
}

// EffectOf computes the balance effect of a movement from the movement
// alone. Keeping this self-contained is what makes Replay equal incremental
// application: no effect may depend on state outside the record.
func EffectOf(m Movement) (Effect, error) {
	q := m.Quantity
	switch m.Type {
	case TypePurchase, TypeGoodsReceipt, TypeReturn, TypeCustomerReturn:
		return Effect{OnHand: q}, nil
	case TypeSale, TypeGoodsIssue, TypeWriteOff, TypeSupplierReturn:
		return Effect{OnHand: -q}, nil
	case TypeTransferOut:
		// Issued stock stays attributed to the source key until receipt.
		return Effect{OnHand: -q, InTransit: q}, nil
	case TypeTransferIn:
		if m.RefType == RefTransferRelease {
			return Effect{InTransit: -q}, nil
		}
		return Effect{OnHand: q}, nil
	case TypeDamage:
		return Effect{OnHand: -q, Damaged: q}, nil
	case TypeAdjustment:
		if m.RefType == RefReservation {
			return Effect{Reserved: q}, nil
		}
		return Effect{OnHand: q}, nil
	case TypeCycleCount:
		return Effect{OnHand: q}, nil
	case TypeReversal:
		// The original's type is copied into RefType at commit time so the
		// reversal's effect can be derived without a ledger lookup.
		orig := MovementType(m.RefType)
		if !orig.Known() || orig == TypeReversal {
			return Effect{}, fmt.Errorf("%w: reversal of unknown type %q", shared.ErrInvalidMovement, m.RefType)
		}
		eff, err := EffectOf(Movement{Type: orig, Quantity: q})
		if err != nil {
			return Effect{}, err
		}
		return eff.Negate(), nil
	default:
		return Effect{}, fmt.Errorf("%w: %q", shared.ErrInvalidMovementType, m.Type)
	}
}

// Apply folds one movement into a balance. In-transit quantity is clamped at
// zero: a release can never owe more than was issued, and clamping inside the
// fold keeps Replay bit-identical to incremental application.
func Apply(b Balance, m Movement) (Balance, error) {
	eff, err := EffectOf(m)
	if err != nil {
		return Balance{}, err
	}
	b.Key = m.Key
	b.QtyOnHand += eff.OnHand
	b.QtyReserved += eff.Reserved
	b.QtyDamaged += eff.Damaged
	b.QtyInTransit += eff.InTransit
	if b.QtyInTransit < 0 {
		b.QtyInTransit = 0
	}
	b.LastMovementID = m.ID
	b.UpdatedAt = m.CreatedAt
	return b, nil
}

// Replay folds the full ordered movement history of a key into a balance.
// Movements must be supplied in commit-sequence order.
func Replay(key Key, movements []Movement) (Balance, error) {
	balance := Balance{Key: key}
	for _, m := range movements {
		next, err := Apply(balance, m)
		if err != nil {
			return Balance{}, err
		}
		balance = next
	}
	return balance, nil
}
