package sale

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andino-erp/andino-erp/internal/orderflow"
)

// NumberPrefix for sales order documents.
const NumberPrefix = "SO"

// CreateInput describes a new sales order.
type CreateInput struct {
	CustomerID   int64
	Currency     string
	ExchangeRate string
	PaymentTerm  string
	TaxRate      string
	Note         string
	ActorID      int64
	Lines        []LineInput
}

// LineInput is one sold product.
type LineInput struct {
	ItemID    int64
	Qty       string
	UnitPrice string
}

// ConfirmInput confirms a draft order. The credit admission check runs first
// when the payment term is credit; reservation only ever happens after a
// successful admission.
type ConfirmInput struct {
	OrderID int64
	ActorID int64
	// Reserve, when true, soft-reserves stock for every line in the same
	// unit right after confirmation.
	Reserve bool
}

// DespatchInput realizes outstanding quantities on a confirmed order.
type DespatchInput struct {
	OrderID int64
	ActorID int64
	RefID   string
	Lines   []DespatchLine
}

// DespatchLine despatches part of one line's pending quantity.
type DespatchLine struct {
	LineID int64
	Qty    string
}

// PaymentInput registers a customer payment against the order.
type PaymentInput struct {
	OrderID       int64
	AccountID     int64
	Amount        string
	InstallmentID int64
	ActorID       int64
	RefID         string
}

// ScheduleInput creates an installment plan covering the financed balance.
type ScheduleInput struct {
	OrderID int64
	ActorID int64
	Lines   []orderflow.ScheduleLine
}

// ReservationOutcome reports the per-line result of a reservation pass.
type ReservationOutcome struct {
	LineID    int64
	Requested decimal.Decimal
	Reserved  decimal.Decimal
	// Skipped is true for lines whose product is built under a bill of
	// materials; those cannot be soft-reserved.
	Skipped bool
}

// OrderEvent is published after a unit commits.
type OrderEvent struct {
	OrderID int64
	Number  string
	Action  string
	At      time.Time
}

// EventHandler receives post-commit order events.
type EventHandler interface {
	HandleSaleEvent(ctx context.Context, evt OrderEvent) error
}

// ErrCreditLimitExceeded occurs when admitting the order would push the
// customer's outstanding exposure beyond the configured limit.
var ErrCreditLimitExceeded = errors.New("sale: customer credit limit exceeded")

// ErrCancelNotAllowed occurs when cancelling a fully despatched or paid order.
var ErrCancelNotAllowed = errors.New("sale: order can no longer be cancelled")

// igvRate is the default tax rate applied when the caller does not override it.
var igvRate = decimal.RequireFromString("0.18")
