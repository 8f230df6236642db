package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind enumerates payment account types.
type AccountKind string

const (
	// AccountKindBank is a cash or bank account; balance is free cash.
	AccountKindBank AccountKind = "BANK"
	// AccountKindPettycash is a small cash drawer; balance is free cash.
	AccountKindPettycash AccountKind = "PETTYCASH"
	// AccountKindRevolvingCredit is a card-style credit line; balance is the
	// remaining available credit, never negative and never above the limit.
	AccountKindRevolvingCredit AccountKind = "REVOLVING_CREDIT"
)

// Direction of a movement relative to the account.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Account is the durable payment account record.
type Account struct {
	ID          int64
	Name        string
	Currency    string
	Kind        AccountKind
	Balance     decimal.Decimal
	CreditLimit decimal.Decimal
	Active      bool
	UpdatedAt   time.Time
}

// Movement is the immutable before/after audit record; corrections are new
// movements, never edits.
type Movement struct {
	ID            int64
	AccountID     int64
	Direction     Direction
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	OrderID       int64
	InstallmentID int64
	ActorID       int64
	Memo          string
	PostedAt      time.Time
}

// MovementFilter filters movement listings.
type MovementFilter struct {
	AccountID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// ErrInsufficientFunds indicates a cash account cannot cover an outgoing payment.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// ErrCreditLimitExceeded indicates a credit line would be oversubscribed.
var ErrCreditLimitExceeded = errors.New("ledger: credit limit exceeded")

// ErrInvalidAmount indicates a non-positive movement amount.
var ErrInvalidAmount = errors.New("ledger: amount must be positive")

// ErrAccountNotFound indicates the payment account does not exist.
var ErrAccountNotFound = errors.New("ledger: account not found")

// ErrAccountInactive indicates the payment account was deactivated.
var ErrAccountInactive = errors.New("ledger: account is inactive")

// ErrCurrencyMismatch indicates a transfer across differently denominated accounts.
var ErrCurrencyMismatch = errors.New("ledger: accounts use different currencies")

// ErrExcessRepayment indicates a credit-line repayment beyond the consumed credit.
var ErrExcessRepayment = errors.New("ledger: repayment exceeds consumed credit")
