package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
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

func (r *memRepo) GetAccount(ctx context.Context, accountID int64) (Account, error) {
	return r.store.GetAccountForUpdate(ctx, accountID)
}

func (r *memRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var movements []Movement
	for _, m := range r.store.movements {
		if m.AccountID == filter.AccountID {
			movements = append(movements, m)
		}
	}
	return movements, nil
}

func (r *memRepo) Deactivate(ctx context.Context, accountID int64) error {
	account, ok := r.store.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Active = false
	r.store.accounts[accountID] = account
	return nil
}

func TestDeactivateAccountStopsPostings(t *testing.T) {
	repo := newMemRepo()
	repo.store.seed(1, AccountKindBank, "500.00", "0")
	svc := NewService(repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.DeactivateAccount(ctx, 1, 7))
	require.False(t, repo.store.accounts[1].Active)

	_, err := svc.PostCredit(ctx, EntryRequest{AccountID: 1, Amount: "50.00"})
	require.ErrorIs(t, err, ErrAccountInactive)
	require.True(t, repo.store.accounts[1].Balance.Equal(d("500.00")))

	require.ErrorIs(t, svc.DeactivateAccount(ctx, 99, 7), ErrAccountNotFound)
}
