package orders

import "github.com/andino-erp/andino-erp/internal/shared"

// transitions is the full lifecycle table shared by the three order types.
// Staying in the same status is always allowed (partial commands repeat).
var transitions = map[Status][]Status{
	StatusDraft:             {StatusConfirmed, StatusCancelled},
	StatusConfirmed:         {StatusPartiallyRealized, StatusRealized, StatusPaidPartial, StatusPaid, StatusCancelled},
	StatusPartiallyRealized: {StatusRealized, StatusPaidPartial, StatusPaid, StatusCancelled},
	StatusRealized:          {StatusPaidPartial, StatusPaid, StatusClosed, StatusCancelled},
	StatusPaidPartial:       {StatusPartiallyRealized, StatusRealized, StatusPaid, StatusCancelled},
	StatusPaid:              {StatusClosed},
	StatusClosed:            {},
	StatusCancelled:         {},
}

// CanTransition reports whether the table permits from → to.
func CanTransition(from, to Status) bool {
	if from == to {
		return from != StatusClosed && from != StatusCancelled
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func Terminal(status Status) bool {
	return len(transitions[status]) == 0
}

// StatusFor derives the lifecycle status from realization and payment
// progress after a realization or payment command. Payment progress wins once
// any money moved, mirroring Realized → PaidPartial → Paid.
func StatusFor(o Order, lines []LineItem) Status {
	allRealized := len(lines) > 0
	anyRealized := false
	for _, line := range lines {
		if line.Kind == LineOutput {
			continue
		}
		if line.QtyRealized.Sign() > 0 {
			anyRealized = true
		}
		if line.QtyRealized.LessThan(line.QtyOrdered) {
			allRealized = false
		}
	}
	settled := o.Total.Sign() > 0 && shared.Settled(o.BalanceDue)
	switch {
	case settled:
		return StatusPaid
	case o.AmountPaid.Sign() > 0:
		return StatusPaidPartial
	case allRealized:
		return StatusRealized
	case anyRealized:
		return StatusPartiallyRealized
	default:
		return StatusConfirmed
	}
}
