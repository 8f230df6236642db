// Package orderflow holds the order-lifecycle arithmetic shared by the
// purchase, sale and production machines: line totals, payment settlement,
// installment schedules and status advancement.
package orderflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andino-erp/andino-erp/internal/engine"
	"github.com/andino-erp/andino-erp/internal/orders"
	"github.com/andino-erp/andino-erp/internal/shared"
)

// LineSpec is the validated shape of one requested line.
type LineSpec struct {
	ItemID int64
	Qty    string
	Price  string
}

// BuildLines parses line specs into order lines and returns the subtotal.
func BuildLines(specs []LineSpec) ([]orders.LineItem, decimal.Decimal, error) {
	subtotal := decimal.Zero
	lines := make([]orders.LineItem, 0, len(specs))
	for _, spec := range specs {
		if spec.ItemID == 0 {
			return nil, decimal.Zero, orders.ErrValidation
		}
		qty, err := shared.ParseAmount(spec.Qty)
		if err != nil || qty.Sign() <= 0 {
			return nil, decimal.Zero, orders.ErrValidation
		}
		price, err := shared.ParseAmount(spec.Price)
		if err != nil {
			return nil, decimal.Zero, orders.ErrValidation
		}
		lineTotal := qty.Mul(price).Round(2)
		subtotal = subtotal.Add(lineTotal)
		lines = append(lines, orders.LineItem{
			Kind:        orders.LineItemKind,
			ItemID:      spec.ItemID,
			QtyOrdered:  qty,
			QtyRealized: decimal.Zero,
			QtyReserved: decimal.Zero,
			UnitPrice:   price,
			LineTotal:   lineTotal,
		})
	}
	return lines, subtotal, nil
}

// AdvanceStatus derives the next lifecycle status from realization and
// payment progress and persists it when the transition table allows it.
func AdvanceStatus(ctx context.Context, st engine.UnitStores, current orders.Order, lines []orders.LineItem) (orders.Order, error) {
	next := orders.StatusFor(current, lines)
	if next == current.Status {
		return current, nil
	}
	if !orders.CanTransition(current.Status, next) {
		return orders.Order{}, orders.ErrInvalidTransition
	}
	if err := st.Orders().UpdateStatus(ctx, current.ID, next); err != nil {
		return orders.Order{}, err
	}
	current.Status = next
	return current, nil
}

// Settle applies a received or sent payment to the order header, keeping
// amountPaid + balanceDue equal to total exactly, and tops up the named
// installment when one is given.
func Settle(ctx context.Context, st engine.UnitStores, current orders.Order, installmentID int64, amount decimal.Decimal) (orders.Order, error) {
	current.AmountPaid = current.AmountPaid.Add(amount)
	current.BalanceDue = current.Total.Sub(current.AmountPaid)
	if err := st.Orders().UpdatePayment(ctx, current.ID, current.AmountPaid, current.BalanceDue); err != nil {
		return orders.Order{}, err
	}
	if installmentID != 0 {
		installments, err := st.Orders().GetInstallments(ctx, current.ID)
		if err != nil {
			return orders.Order{}, err
		}
		found := false
		for _, inst := range installments {
			if inst.ID != installmentID {
				continue
			}
			found = true
			if inst.Status == orders.InstallmentCancelled {
				return orders.Order{}, orders.ErrValidation
			}
			paid := inst.AmountPaid.Add(amount)
			status := orders.InstallmentPartial
			if paid.GreaterThanOrEqual(inst.Amount.Sub(shared.PaymentTolerance)) {
				status = orders.InstallmentPaid
			}
			if err := st.Orders().UpdateInstallment(ctx, inst.ID, status, paid); err != nil {
				return orders.Order{}, err
			}
		}
		if !found {
			return orders.Order{}, orders.ErrNotFound
		}
	}
	lines, err := st.Orders().GetLines(ctx, current.ID)
	if err != nil {
		return orders.Order{}, err
	}
	return AdvanceStatus(ctx, st, current, lines)
}

// ScheduleLine is one requested installment.
type ScheduleLine struct {
	Amount  string
	DueDate time.Time
}

// CreateSchedule validates that the plan covers the financed balance within
// the rounding tolerance and inserts the installments.
func CreateSchedule(ctx context.Context, runner engine.Runner, orderID int64, specs []ScheduleLine) ([]orders.Installment, error) {
	if len(specs) == 0 {
		return nil, orders.ErrValidation
	}
	parsed := make([]orders.Installment, 0, len(specs))
	sum := decimal.Zero
	for i, spec := range specs {
		amount, err := shared.ParseAmount(spec.Amount)
		if err != nil || amount.Sign() <= 0 || spec.DueDate.IsZero() {
			return nil, orders.ErrValidation
		}
		sum = sum.Add(amount)
		parsed = append(parsed, orders.Installment{
			OrderID: orderID,
			Seq:     i + 1,
			Amount:  amount,
			DueDate: spec.DueDate,
			Status:  orders.InstallmentPending,
		})
	}
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: orderID}}
	var created []orders.Installment
	err := runner.Execute(ctx, locks, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if current.PaymentTerm != orders.TermCredit || orders.Terminal(current.Status) {
			return orders.ErrValidation
		}
		existing, err := st.Orders().GetInstallments(ctx, orderID)
		if err != nil {
			return err
		}
		for _, inst := range existing {
			if inst.Status != orders.InstallmentCancelled {
				return orders.ErrValidation
			}
		}
		if sum.Sub(current.BalanceDue).Abs().GreaterThan(shared.ScheduleTolerance) {
			return orders.ErrScheduleMismatch
		}
		for i := range parsed {
			id, err := st.Orders().InsertInstallment(ctx, parsed[i])
			if err != nil {
				return err
			}
			parsed[i].ID = id
		}
		created = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CancelPendingInstallments voids every installment that still awaits payment.
func CancelPendingInstallments(ctx context.Context, st engine.UnitStores, orderID int64) error {
	installments, err := st.Orders().GetInstallments(ctx, orderID)
	if err != nil {
		return err
	}
	for _, inst := range installments {
		if inst.Status == orders.InstallmentPending || inst.Status == orders.InstallmentPartial {
			if err := st.Orders().UpdateInstallment(ctx, inst.ID, orders.InstallmentCancelled, inst.AmountPaid); err != nil {
				return err
			}
		}
	}
	return nil
}

// LineRef derives a stable movement reference for one order line, so repeated
// reversals of the same line share one reference.
func LineRef(orderID, lineID int64) string {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("line:%d:%d", orderID, lineID))).String()
}

// PaymentTerm normalizes the caller-supplied term, defaulting to cash.
func PaymentTerm(raw string) orders.PaymentTerm {
	if orders.PaymentTerm(raw) == orders.TermCredit {
		return orders.TermCredit
	}
	return orders.TermCash
}

// DefaultString falls back when value is empty.
func DefaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
