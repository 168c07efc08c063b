package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline/internal/shared"
)

func TestEffectOf(t *testing.T) {
	cases := []struct {
		name     string
		movement Movement
		want     Effect
	}{
		{name: "purchase", movement: Movement{Type: TypePurchase, Quantity: 5}, want: Effect{OnHand: 5}},
		{name: "goods receipt", movement: Movement{Type: TypeGoodsReceipt, Quantity: 5}, want: Effect{OnHand: 5}},
		{name: "return", movement: Movement{Type: TypeReturn, Quantity: 2}, want: Effect{OnHand: 2}},
		{name: "customer return", movement: Movement{Type: TypeCustomerReturn, Quantity: 2}, want: Effect{OnHand: 2}},
		{name: "sale", movement: Movement{Type: TypeSale, Quantity: 3}, want: Effect{OnHand: -3}},
		{name: "goods issue", movement: Movement{Type: TypeGoodsIssue, Quantity: 3}, want: Effect{OnHand: -3}},
		{name: "write off", movement: Movement{Type: TypeWriteOff, Quantity: 1}, want: Effect{OnHand: -1}},
		{name: "supplier return", movement: Movement{Type: TypeSupplierReturn, Quantity: 1}, want: Effect{OnHand: -1}},
		{name: "transfer out", movement: Movement{Type: TypeTransferOut, Quantity: 4}, want: Effect{OnHand: -4, InTransit: 4}},
		{name: "transfer in", movement: Movement{Type: TypeTransferIn, Quantity: 4}, want: Effect{OnHand: 4}},
		{name: "transfer release", movement: Movement{Type: TypeTransferIn, Quantity: 4, RefType: RefTransferRelease}, want: Effect{InTransit: -4}},
		{name: "damage", movement: Movement{Type: TypeDamage, Quantity: 2}, want: Effect{OnHand: -2, Damaged: 2}},
		{name: "adjustment up", movement: Movement{Type: TypeAdjustment, Quantity: 7}, want: Effect{OnHand: 7}},
		{name: "adjustment down", movement: Movement{Type: TypeAdjustment, Quantity: -7}, want: Effect{OnHand: -7}},
		{name: "reservation adjustment", movement: Movement{Type: TypeAdjustment, Quantity: 3, RefType: RefReservation}, want: Effect{Reserved: 3}},
		{name: "reservation release", movement: Movement{Type: TypeAdjustment, Quantity: -3, RefType: RefReservation}, want: Effect{Reserved: -3}},
		{name: "cycle count", movement: Movement{Type: TypeCycleCount, Quantity: -1.5}, want: Effect{OnHand: -1.5}},
		{name: "reversal of sale", movement: Movement{Type: TypeReversal, Quantity: 3, RefType: string(TypeSale)}, want: Effect{OnHand: 3}},
		{name: "reversal of damage", movement: Movement{Type: TypeReversal, Quantity: 2, RefType: string(TypeDamage)}, want: Effect{OnHand: 2, Damaged: -2}},
		{name: "reversal of transfer out", movement: Movement{Type: TypeReversal, Quantity: 4, RefType: string(TypeTransferOut)}, want: Effect{OnHand: 4, InTransit: -4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EffectOf(tc.movement)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestEffectOfRejectsUnknownType(t *testing.T) {
	_, err := EffectOf(Movement{Type: "teleport", Quantity: 1})
	require.ErrorIs(t, err, shared.ErrInvalidMovementType)
}

func TestEffectOfRejectsReversalOfReversal(t *testing.T) {
	_, err := EffectOf(Movement{Type: TypeReversal, Quantity: 1, RefType: string(TypeReversal)})
	require.ErrorIs(t, err, shared.ErrInvalidMovement)

	_, err = EffectOf(Movement{Type: TypeReversal, Quantity: 1, RefType: "bogus"})
	require.ErrorIs(t, err, shared.ErrInvalidMovement)
}

func TestApplyClampsInTransit(t *testing.T) {
	balance := Balance{Key: Key{ProductID: 1, WarehouseID: 1}, QtyInTransit: 2}
	release := Movement{ID: 10, Key: balance.Key, Type: TypeTransferIn, Quantity: 5, RefType: RefTransferRelease}

	got, err := Apply(balance, release)
	require.NoError(t, err)
	require.Equal(t, 0.0, got.QtyInTransit)
	require.Equal(t, int64(10), got.LastMovementID)
}

func TestReplayEqualsIncrementalApplication(t *testing.T) {
	key := Key{ProductID: 7, WarehouseID: 2}
	now := time.Now()
	history := []Movement{
		{ID: 1, Key: key, Type: TypePurchase, Quantity: 100, CreatedAt: now},
		{ID: 2, Key: key, Type: TypeSale, Quantity: 30, CreatedAt: now},
		{ID: 3, Key: key, Type: TypeTransferOut, Quantity: 20, CreatedAt: now},
		{ID: 4, Key: key, Type: TypeTransferIn, Quantity: 20, RefType: RefTransferRelease, CreatedAt: now},
		{ID: 5, Key: key, Type: TypeDamage, Quantity: 5, CreatedAt: now},
		{ID: 6, Key: key, Type: TypeAdjustment, Quantity: 3, RefType: RefReservation, CreatedAt: now},
		{ID: 7, Key: key, Type: TypeCycleCount, Quantity: -2, CreatedAt: now},
		{ID: 8, Key: key, Type: TypeReversal, Quantity: 5, RefType: string(TypeDamage), CreatedAt: now},
	}

	incremental := Balance{Key: key}
	for _, m := range history {
		next, err := Apply(incremental, m)
		require.NoError(t, err)
		incremental = next
	}

	replayed, err := Replay(key, history)
	require.NoError(t, err)
	require.Equal(t, incremental, replayed)

	require.Equal(t, 48.0, replayed.QtyOnHand)
	require.Equal(t, 3.0, replayed.QtyReserved)
	require.Equal(t, 0.0, replayed.QtyDamaged)
	require.Equal(t, 0.0, replayed.QtyInTransit)
	require.Equal(t, int64(8), replayed.LastMovementID)
}
