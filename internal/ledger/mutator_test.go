package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memStore struct {
	accounts  map[int64]Account
	movements []Movement
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[int64]Account)}
}

func (s *memStore) seed(id int64, kind AccountKind, balance, limit string) {
	s.accounts[id] = Account{
		ID:          id,
		Currency:    "PEN",
		Kind:        kind,
		Balance:     decimal.RequireFromString(balance),
		CreditLimit: decimal.RequireFromString(limit),
		Active:      true,
	}
}

func (s *memStore) GetAccountForUpdate(ctx context.Context, accountID int64) (Account, error) {
	account, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (s *memStore) UpdateBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error {
	account := s.accounts[accountID]
	account.Balance = balance
	account.UpdatedAt = at
	s.accounts[accountID] = account
	return nil
}

func (s *memStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	s.nextID++
	m.ID = s.nextID
	s.movements = append(s.movements, m)
	return m.ID, nil
}

func TestDebitRequiresFunds(t *testing.T) {
	store := newMemStore()
	store.seed(1, AccountKindBank, "500.00", "0")
	ctx := context.Background()

	m, err := Debit(ctx, store, EntryInput{AccountID: 1, Amount: d("200.00")})
	require.NoError(t, err)
	require.Equal(t, DirectionOut, m.Direction)
	require.True(t, m.BalanceBefore.Equal(d("500.00")))
	require.True(t, m.BalanceAfter.Equal(d("300.00")))

	_, err = Debit(ctx, store, EntryInput{AccountID: 1, Amount: d("300.01")})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.True(t, store.accounts[1].Balance.Equal(d("300.00")))
}

func TestRevolvingCreditConsumesRemainingLine(t *testing.T) {
	store := newMemStore()
	// Balance on a revolving line is the remaining available credit.
	store.seed(1, AccountKindRevolvingCredit, "1000.00", "1000.00")
	ctx := context.Background()

	m, err := Debit(ctx, store, EntryInput{AccountID: 1, Amount: d("300.00")})
	require.NoError(t, err)
	require.True(t, m.BalanceAfter.Equal(d("700.00")))

	_, err = Debit(ctx, store, EntryInput{AccountID: 1, Amount: d("800.00")})
	require.ErrorIs(t, err, ErrCreditLimitExceeded)

	// Repayment restores available credit, capped at the limit.
	m, err = Credit(ctx, store, EntryInput{AccountID: 1, Amount: d("300.00")})
	require.NoError(t, err)
	require.True(t, m.BalanceAfter.Equal(d("1000.00")))

	_, err = Credit(ctx, store, EntryInput{AccountID: 1, Amount: d("0.01")})
	require.ErrorIs(t, err, ErrExcessRepayment)
}

func TestCreditRecordsTrail(t *testing.T) {
	store := newMemStore()
	store.seed(1, AccountKindBank, "0", "0")
	ctx := context.Background()

	m, err := Credit(ctx, store, EntryInput{AccountID: 1, Amount: d("150.00"), OrderID: 7, InstallmentID: 3, ActorID: 9, Memo: "payment SO-2026-00001"})
	require.NoError(t, err)
	require.Equal(t, int64(7), m.OrderID)
	require.Equal(t, int64(3), m.InstallmentID)
	require.Equal(t, int64(9), m.ActorID)
	require.Len(t, store.movements, 1)
	require.True(t, store.movements[0].BalanceBefore.IsZero())
	require.True(t, store.movements[0].BalanceAfter.Equal(d("150.00")))
}

func TestTransferMovesBetweenAccounts(t *testing.T) {
	store := newMemStore()
	store.seed(1, AccountKindBank, "400.00", "0")
	store.seed(2, AccountKindPettycash, "50.00", "0")
	ctx := context.Background()

	out, in, err := Transfer(ctx, store, TransferInput{FromID: 1, ToID: 2, Amount: d("100.00")})
	require.NoError(t, err)
	require.True(t, out.BalanceAfter.Equal(d("300.00")))
	require.True(t, in.BalanceAfter.Equal(d("150.00")))

	_, _, err = Transfer(ctx, store, TransferInput{FromID: 1, ToID: 1, Amount: d("10.00")})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestTransferRejectsCurrencyMismatch(t *testing.T) {
	store := newMemStore()
	store.seed(1, AccountKindBank, "400.00", "0")
	store.seed(2, AccountKindBank, "0", "0")
	usd := store.accounts[2]
	usd.Currency = "USD"
	store.accounts[2] = usd
	ctx := context.Background()

	_, _, err := Transfer(ctx, store, TransferInput{FromID: 1, ToID: 2, Amount: d("10.00")})
	require.ErrorIs(t, err, ErrCurrencyMismatch)
	require.True(t, store.accounts[1].Balance.Equal(d("400.00")))
}

func TestEntryGuards(t *testing.T) {
	store := newMemStore()
	store.seed(1, AccountKindBank, "100.00", "0")
	closed := store.accounts[1]
	closed.ID = 2
	closed.Active = false
	store.accounts[2] = closed
	ctx := context.Background()

	_, err := Credit(ctx, store, EntryInput{AccountID: 1, Amount: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Debit(ctx, store, EntryInput{AccountID: 2, Amount: d("1.00")})
	require.ErrorIs(t, err, ErrAccountInactive)

	_, err = Debit(ctx, store, EntryInput{AccountID: 99, Amount: d("1.00")})
	require.ErrorIs(t, err, ErrAccountNotFound)
}
