package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxStore exposes the transactional operations the mutator needs. Accounts
// returned by GetAccountForUpdate stay exclusively locked until commit.
type TxStore interface {
	GetAccountForUpdate(ctx context.Context, accountID int64) (Account, error)
	UpdateBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
}

// EntryInput carries the parameters of a single credit or debit.
type EntryInput struct {
	AccountID     int64
	Amount        decimal.Decimal
	Memo          string
	OrderID       int64
	InstallmentID int64
	ActorID       int64
}

// Credit records money flowing into the account. For a revolving credit
// account this is a repayment restoring available credit, capped at the limit.
func Credit(ctx context.Context, store TxStore, in EntryInput) (Movement, error) {
	account, err := lockAccount(ctx, store, in)
	if err != nil {
		return Movement{}, err
	}
	after := account.Balance.Add(in.Amount)
	if account.Kind == AccountKindRevolvingCredit && after.GreaterThan(account.CreditLimit) {
		return Movement{}, ErrExcessRepayment
	}
	return apply(ctx, store, account, DirectionIn, in, after)
}

// Debit records money flowing out. For cash accounts the balance must cover
// the amount; for a revolving credit account the debit consumes remaining
// credit and fails once the line would be oversubscribed.
func Debit(ctx context.Context, store TxStore, in EntryInput) (Movement, error) {
	account, err := lockAccount(ctx, store, in)
	if err != nil {
		return Movement{}, err
	}
	after := account.Balance.Sub(in.Amount)
	if after.Sign() < 0 {
		if account.Kind == AccountKindRevolvingCredit {
			return Movement{}, ErrCreditLimitExceeded
		}
		return Movement{}, ErrInsufficientFunds
	}
	return apply(ctx, store, account, DirectionOut, in, after)
}

// TransferInput describes a movement between two own accounts.
type TransferInput struct {
	FromID  int64
	ToID    int64
	Amount  decimal.Decimal
	Memo    string
	ActorID int64
}

// Transfer debits one account and credits another as one pair. Locks are
// taken in ascending account id so concurrent transfers over the same pair
// cannot deadlock.
func Transfer(ctx context.Context, store TxStore, in TransferInput) (Movement, Movement, error) {
	if in.FromID == in.ToID {
		return Movement{}, Movement{}, ErrInvalidAmount
	}
	first, second := in.FromID, in.ToID
	if second < first {
		first, second = second, first
	}
	locked := make(map[int64]Account, 2)
	for _, id := range []int64{first, second} {
		account, err := store.GetAccountForUpdate(ctx, id)
		if err != nil {
			return Movement{}, Movement{}, err
		}
		locked[id] = account
	}
	if locked[in.FromID].Currency != locked[in.ToID].Currency {
		return Movement{}, Movement{}, ErrCurrencyMismatch
	}
	out, err := Debit(ctx, store, EntryInput{AccountID: in.FromID, Amount: in.Amount, Memo: in.Memo, ActorID: in.ActorID})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	inMove, err := Credit(ctx, store, EntryInput{AccountID: in.ToID, Amount: in.Amount, Memo: in.Memo, ActorID: in.ActorID})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	return out, inMove, nil
}

func lockAccount(ctx context.Context, store TxStore, in EntryInput) (Account, error) {
	if in.Amount.Sign() <= 0 {
		return Account{}, ErrInvalidAmount
	}
	account, err := store.GetAccountForUpdate(ctx, in.AccountID)
	if err != nil {
		return Account{}, err
	}
	if !account.Active {
		return Account{}, ErrAccountInactive
	}
	return account, nil
}

func apply(ctx context.Context, store TxStore, account Account, direction Direction, in EntryInput, after decimal.Decimal) (Movement, error) {
	now := time.Now().UTC()
	if err := store.UpdateBalance(ctx, account.ID, after, now); err != nil {
		return Movement{}, err
	}
	m := Movement{
		AccountID:     account.ID,
		Direction:     direction,
		Amount:        in.Amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  after,
		OrderID:       in.OrderID,
		InstallmentID: in.InstallmentID,
		ActorID:       in.ActorID,
		Memo:          in.Memo,
		PostedAt:      now,
	}
	id, err := store.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	return m, nil
}
