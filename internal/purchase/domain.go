package purchase

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andino-erp/andino-erp/internal/orderflow"
)

// NumberPrefix for purchase order documents.
const NumberPrefix = "PO"

// CreateInput describes a new purchase order.
type CreateInput struct {
	SupplierID   int64
	Currency     string
	ExchangeRate string
	PaymentTerm  string
	TaxRate      string
	Note         string
	ActorID      int64
	Lines        []LineInput
}

// LineInput is one ordered product.
type LineInput struct {
	ItemID   int64
	Qty      string
	UnitCost string
}

// ConfirmInput confirms a draft order, optionally receiving goods and posting
// an initial payment in the same atomic unit.
type ConfirmInput struct {
	OrderID int64
	ActorID int64
	// Receive, when non-empty, realizes the named lines immediately.
	Receive []ReceiveLine
	// InitialPayment, when set, debits the buyer's account immediately.
	InitialPayment *PaymentInput
}

// ReceiveInput realizes outstanding quantities on a confirmed order.
type ReceiveInput struct {
	OrderID int64
	ActorID int64
	RefID   string
	Lines   []ReceiveLine
}

// ReceiveLine tops up one line's realized quantity.
type ReceiveLine struct {
	LineID int64
	Qty    string
}

// PaymentInput registers a payment against the order.
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

// OrderEvent is published after a unit commits; nothing is dispatched from
// inside the unit.
type OrderEvent struct {
	OrderID int64
	Number  string
	Action  string
	At      time.Time
}

// EventHandler receives post-commit order events.
type EventHandler interface {
	HandlePurchaseEvent(ctx context.Context, evt OrderEvent) error
}

// ErrCancelNotAllowed occurs when cancelling a purchase that already has
// payments registered; void the payments first.
var ErrCancelNotAllowed = errors.New("purchase: cannot cancel after payment")

// igvRate is the default tax rate applied when the caller does not override it.
var igvRate = decimal.RequireFromString("0.18")
