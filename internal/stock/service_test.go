package stock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andino-erp/andino-erp/internal/refdata"
)

type memRepo struct {
	store *memStore
}

func newMemRepo() *memRepo {
	return &memRepo{store: newMemStore()}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, r.store)
}

func (r *memRepo) GetItem(ctx context.Context, itemID int64) (Item, error) {
	return r.store.GetItemForUpdate(ctx, itemID)
}

func (r *memRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var movements []Movement
	for _, m := range r.store.movements {
		if m.ItemID == filter.ItemID {
			movements = append(movements, m)
		}
	}
	return movements, nil
}

func (r *memRepo) Deactivate(ctx context.Context, itemID int64) error {
	item, ok := r.store.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	item.Active = false
	r.store.items[itemID] = item
	return nil
}

type stubProducts struct {
	products map[int64]refdata.Product
}

func (p stubProducts) GetProduct(ctx context.Context, itemID int64) (refdata.Product, error) {
	if product, ok := p.products[itemID]; ok {
		return product, nil
	}
	return refdata.Product{ItemID: itemID, TracksCost: true}, nil
}

func TestReserveRefusedForRecipeItems(t *testing.T) {
	repo := newMemRepo()
	repo.store.seed(1, "50", "3.00", true)
	repo.store.seed(10, "20", "12.00", true)
	products := stubProducts{products: map[int64]refdata.Product{
		10: {ItemID: 10, TracksCost: true, BillOfMaterials: []refdata.BOMLine{
			{ComponentID: 1, QtyPerUnit: d("2")},
		}},
	}}
	svc := NewService(repo, products, nil, nil)
	ctx := context.Background()

	_, err := svc.ReserveStock(ctx, ReservationInput{ItemID: 10, Qty: "5"})
	require.ErrorIs(t, err, ErrRecipeReservation)
	require.True(t, repo.store.items[10].Reserved.IsZero())
	require.Empty(t, repo.store.movements)

	movement, err := svc.ReserveStock(ctx, ReservationInput{ItemID: 1, Qty: "5"})
	require.NoError(t, err)
	require.True(t, movement.ReservedAfter.Equal(d("5")))
}

func TestDeactivateItemStopsMutations(t *testing.T) {
	repo := newMemRepo()
	repo.store.seed(1, "50", "3.00", true)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.DeactivateItem(ctx, 1, 7))
	require.False(t, repo.store.items[1].Active)

	_, err := svc.PostReceipt(ctx, ReceiptInput{ItemID: 1, Qty: "10", UnitCost: "3.00"})
	require.ErrorIs(t, err, ErrItemInactive)

	require.ErrorIs(t, svc.DeactivateItem(ctx, 99, 7), ErrItemNotFound)
}
