package stock

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	items     map[int64]Item
	movements []Movement
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{items: make(map[int64]Item)}
}

func (s *memStore) seed(id int64, onHand, unitCost string, tracksCost bool) {
	s.items[id] = Item{
		ID:         id,
		OnHand:     decimal.RequireFromString(onHand),
		Reserved:   decimal.Zero,
		UnitCost:   decimal.RequireFromString(unitCost),
		TracksCost: tracksCost,
		Active:     true,
	}
}

func (s *memStore) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	item, ok := s.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (s *memStore) UpdateItem(ctx context.Context, item Item) error {
	s.items[item.ID] = item
	return nil
}

func (s *memStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	s.nextID++
	m.ID = s.nextID
	s.movements = append(s.movements, m)
	return m.ID, nil
}

func (s *memStore) ListMovementsByRef(ctx context.Context, itemID int64, refID string) ([]Movement, error) {
	var movements []Movement
	for _, m := range s.movements {
		if m.ItemID == itemID && m.RefID == refID {
			movements = append(movements, m)
		}
	}
	return movements, nil
}

func TestReceiveRecomputesAverage(t *testing.T) {
	store := newMemStore()
	store.seed(1, "0", "0", true)
	ctx := context.Background()

	m, err := Receive(ctx, store, MovementInput{ItemID: 1, Qty: d("100"), UnitCost: d("10.00")})
	require.NoError(t, err)
	require.True(t, m.OnHandAfter.Equal(d("100")))

	m, err = Receive(ctx, store, MovementInput{ItemID: 1, Qty: d("50"), UnitCost: d("16.00")})
	require.NoError(t, err)
	require.True(t, m.OnHandAfter.Equal(d("150")))
	require.True(t, store.items[1].UnitCost.Equal(d("12")), "avg = %s", store.items[1].UnitCost)
	// The movement records the receipt cost, not the new average.
	require.True(t, m.UnitCost.Equal(d("16.00")))
}

func TestReceiveUntrackedKeepsCost(t *testing.T) {
	store := newMemStore()
	store.seed(1, "10", "5.00", false)
	ctx := context.Background()

	_, err := Receive(ctx, store, MovementInput{ItemID: 1, Qty: d("5"), UnitCost: d("99.00")})
	require.NoError(t, err)
	require.True(t, store.items[1].OnHand.Equal(d("15")))
	require.True(t, store.items[1].UnitCost.Equal(d("5.00")))
}

func TestIssueAtCurrentAverage(t *testing.T) {
	store := newMemStore()
	store.seed(1, "150", "12.00", true)
	ctx := context.Background()

	m, err := Issue(ctx, store, MovementInput{ItemID: 1, Qty: d("150")})
	require.NoError(t, err)
	require.True(t, m.UnitCost.Equal(d("12.00")))
	require.True(t, store.items[1].OnHand.IsZero())

	_, err = Issue(ctx, store, MovementInput{ItemID: 1, Qty: d("1")})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestReserveHoldsAvailability(t *testing.T) {
	store := newMemStore()
	store.seed(1, "100", "10.00", true)
	ctx := context.Background()

	_, err := Reserve(ctx, store, MovementInput{ItemID: 1, Qty: d("30")})
	require.NoError(t, err)
	require.True(t, store.items[1].Available().Equal(d("70")))

	// Unreserved issue is capped by on-hand, not availability; the hold is
	// enforced at reservation time.
	_, err = Reserve(ctx, store, MovementInput{ItemID: 1, Qty: d("80")})
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = Release(ctx, store, MovementInput{ItemID: 1, Qty: d("50")})
	require.ErrorIs(t, err, ErrReservationExceeded)

	_, err = Release(ctx, store, MovementInput{ItemID: 1, Qty: d("30")})
	require.NoError(t, err)
	require.True(t, store.items[1].Reserved.IsZero())
}

func TestIssueFromReservedConsumesHold(t *testing.T) {
	store := newMemStore()
	store.seed(1, "100", "10.00", true)
	ctx := context.Background()

	_, err := Reserve(ctx, store, MovementInput{ItemID: 1, Qty: d("40")})
	require.NoError(t, err)

	m, err := Issue(ctx, store, MovementInput{ItemID: 1, Qty: d("40"), FromReserved: true})
	require.NoError(t, err)
	require.True(t, m.OnHandAfter.Equal(d("60")))
	require.True(t, m.ReservedAfter.IsZero())

	_, err = Issue(ctx, store, MovementInput{ItemID: 1, Qty: d("1"), FromReserved: true})
	require.ErrorIs(t, err, ErrReservationExceeded)
}

func TestReverseReceiveRestoresAverage(t *testing.T) {
	store := newMemStore()
	store.seed(1, "100", "10.00", true)
	ctx := context.Background()

	_, err := Receive(ctx, store, MovementInput{ItemID: 1, Qty: d("50"), UnitCost: d("16.00")})
	require.NoError(t, err)
	require.True(t, store.items[1].UnitCost.Equal(d("12")))

	_, err = ReverseReceive(ctx, store, MovementInput{ItemID: 1, Qty: d("50"), UnitCost: d("16.00")})
	require.NoError(t, err)
	require.True(t, store.items[1].OnHand.Equal(d("100")))
	require.True(t, store.items[1].UnitCost.Equal(d("10")), "avg = %s", store.items[1].UnitCost)
}

func TestReverseReceiveNegativeGuard(t *testing.T) {
	store := newMemStore()
	store.seed(1, "0", "0", true)
	ctx := context.Background()

	_, err := Receive(ctx, store, MovementInput{ItemID: 1, Qty: d("10"), UnitCost: d("4.00")})
	require.NoError(t, err)
	_, err = Issue(ctx, store, MovementInput{ItemID: 1, Qty: d("8")})
	require.NoError(t, err)

	_, err = ReverseReceive(ctx, store, MovementInput{ItemID: 1, Qty: d("10"), UnitCost: d("4.00")})
	require.ErrorIs(t, err, ErrNegativeStockOnReversal)
	require.True(t, store.items[1].OnHand.Equal(d("2")))
}

func TestReverseIssueKeepsAverage(t *testing.T) {
	store := newMemStore()
	store.seed(1, "50", "12.00", true)
	ctx := context.Background()

	_, err := Issue(ctx, store, MovementInput{ItemID: 1, Qty: d("20")})
	require.NoError(t, err)

	m, err := ReverseIssue(ctx, store, MovementInput{ItemID: 1, Qty: d("20")})
	require.NoError(t, err)
	require.True(t, m.OnHandAfter.Equal(d("50")))
	require.True(t, store.items[1].UnitCost.Equal(d("12.00")))
}

func TestMutationGuards(t *testing.T) {
	store := newMemStore()
	store.seed(1, "10", "1.00", true)
	inactive := store.items[1]
	inactive.ID = 2
	inactive.Active = false
	store.items[2] = inactive
	ctx := context.Background()

	_, err := Receive(ctx, store, MovementInput{ItemID: 1, Qty: d("0")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = Receive(ctx, store, MovementInput{ItemID: 1, Qty: d("1"), UnitCost: d("-1")})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = Issue(ctx, store, MovementInput{ItemID: 2, Qty: d("1")})
	require.ErrorIs(t, err, ErrItemInactive)

	_, err = Issue(ctx, store, MovementInput{ItemID: 99, Qty: d("1")})
	require.ErrorIs(t, err, ErrItemNotFound)
}
