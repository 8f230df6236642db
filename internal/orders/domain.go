package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Type discriminates the three document families sharing the order shape.
type Type string

const (
	TypePurchase   Type = "PURCHASE"
	TypeSale       Type = "SALE"
	TypeProduction Type = "PRODUCTION"
)

// Status is the lifecycle state. Transitions outside the table in fsm.go are
// rejected; callers never supply free-text statuses.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusConfirmed         Status = "CONFIRMED"
	StatusPartiallyRealized Status = "PARTIALLY_REALIZED"
	StatusRealized          Status = "REALIZED"
	StatusPaidPartial       Status = "PAID_PARTIAL"
	StatusPaid              Status = "PAID"
	StatusClosed            Status = "CLOSED"
	StatusCancelled         Status = "CANCELLED"
)

// PaymentTerm distinguishes cash documents from financed ones.
type PaymentTerm string

const (
	TermCash   PaymentTerm = "CASH"
	TermCredit PaymentTerm = "CREDIT"
)

// ReservationState summarises per-line reservation outcomes on sale orders.
type ReservationState string

const (
	ReservationNone    ReservationState = "NONE"
	ReservationPartial ReservationState = "PARTIAL"
	ReservationFull    ReservationState = "FULL"
)

// LineKind separates production component and output lines from plain item lines.
type LineKind string

const (
	LineItemKind  LineKind = "ITEM"
	LineComponent LineKind = "COMPONENT"
	LineOutput    LineKind = "OUTPUT"
)

// Order is the shared document header. AmountPaid + BalanceDue always equals
// Total; realization and payment commands maintain the identity together.
type Order struct {
	ID           int64
	Number       string
	Type         Type
	Status       Status
	SupplierID   int64
	CustomerID   int64
	Currency     string
	ExchangeRate decimal.Decimal
	PaymentTerm  PaymentTerm
	Reservation  ReservationState
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	Total        decimal.Decimal
	AmountPaid   decimal.Decimal
	BalanceDue   decimal.Decimal
	MaterialCost decimal.Decimal
	Note         string
	CreatedBy    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LineItem is owned by exactly one order.
type LineItem struct {
	ID          int64
	OrderID     int64
	Kind        LineKind
	ItemID      int64
	Description string
	QtyOrdered  decimal.Decimal
	QtyRealized decimal.Decimal
	QtyReserved decimal.Decimal
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// Pending returns the quantity still to realize for this line.
func (l LineItem) Pending() decimal.Decimal {
	return l.QtyOrdered.Sub(l.QtyRealized)
}

// InstallmentStatus lifecycle for scheduled partial payments.
type InstallmentStatus string

const (
	InstallmentPending   InstallmentStatus = "PENDING"
	InstallmentPartial   InstallmentStatus = "PARTIAL"
	InstallmentPaid      InstallmentStatus = "PAID"
	InstallmentCancelled InstallmentStatus = "CANCELLED"
)

// Installment is one scheduled payment obligation of a credit-term order.
type Installment struct {
	ID         int64
	OrderID    int64
	Seq        int
	Amount     decimal.Decimal
	AmountPaid decimal.Decimal
	DueDate    time.Time
	Status     InstallmentStatus
}

// ErrNotFound indicates a missing order.
var ErrNotFound = errors.New("orders: not found")

// ErrInvalidTransition occurs when a command violates the status table.
var ErrInvalidTransition = errors.New("orders: invalid status transition")

// ErrValidation indicates invalid input.
var ErrValidation = errors.New("orders: invalid input")

// ErrOverRealization indicates realized quantity would exceed ordered quantity.
var ErrOverRealization = errors.New("orders: realized quantity exceeds ordered quantity")

// ErrScheduleMismatch indicates installment amounts do not cover the financed balance.
var ErrScheduleMismatch = errors.New("orders: installment schedule does not match financed balance")

// ErrDuplicateNumber indicates the allocated document number already exists.
var ErrDuplicateNumber = errors.New("orders: duplicate document number")

// ErrOverpayment indicates a payment beyond the remaining balance.
var ErrOverpayment = errors.New("orders: payment exceeds balance due")
