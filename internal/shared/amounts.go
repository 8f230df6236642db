package shared

import (
	"errors"

	"github.com/shopspring/decimal"
)

// PaymentTolerance is the residual below which a balance counts as settled.
var PaymentTolerance = decimal.RequireFromString("0.01")

// ScheduleTolerance is the rounding slack allowed between an installment
// schedule and the financed balance it covers.
var ScheduleTolerance = decimal.RequireFromString("1.00")

// ErrInvalidAmount indicates a malformed or negative amount string.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a non-negative decimal amount from external input.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Sign() < 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// Settled reports whether a remaining balance is within payment tolerance.
func Settled(balance decimal.Decimal) bool {
	return balance.Abs().LessThanOrEqual(PaymentTolerance)
}
