package stock

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementReceive represents an inbound movement that recomputes average cost.
	MovementReceive MovementKind = "RECEIVE"
	// MovementIssue represents an outbound movement at current average cost.
	MovementIssue MovementKind = "ISSUE"
	// MovementReserve places a soft hold without touching on-hand.
	MovementReserve MovementKind = "RESERVE"
	// MovementRelease removes a soft hold.
	MovementRelease MovementKind = "RELEASE"
	// MovementReverseReceive undoes a prior receipt.
	MovementReverseReceive MovementKind = "REVERSE_RECEIVE"
	// MovementReverseIssue undoes a prior issue.
	MovementReverseIssue MovementKind = "REVERSE_ISSUE"
)

// Item is the durable stock record. OnHand is physical quantity, Reserved is
// the soft-held portion; Available() is what new reservations may claim.
type Item struct {
	ID         int64
	SKU        string
	Name       string
	OnHand     decimal.Decimal
	Reserved   decimal.Decimal
	UnitCost   decimal.Decimal
	TracksCost bool
	Active     bool
	UpdatedAt  time.Time
}

// Available returns on-hand minus reserved.
func (i Item) Available() decimal.Decimal {
	return i.OnHand.Sub(i.Reserved)
}

// Movement is the immutable audit record written for every mutation.
type Movement struct {
	ID            int64
	ItemID        int64
	Kind          MovementKind
	Qty           decimal.Decimal
	UnitCost      decimal.Decimal
	OnHandAfter   decimal.Decimal
	ReservedAfter decimal.Decimal
	RefModule     string
	RefID         string
	ActorID       int64
	Note          string
	PostedAt      time.Time
}

// MovementFilter filters movement listings.
type MovementFilter struct {
	ItemID    int64
	Kind      MovementKind
	RefModule string
	From      time.Time
	To        time.Time
	Limit     int
}

// ErrInsufficientStock triggered when a movement would overdraw availability.
var ErrInsufficientStock = errors.New("stock: insufficient stock")

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = errors.New("stock: quantity must be positive")

// ErrInvalidUnitCost indicates a negative unit cost.
var ErrInvalidUnitCost = errors.New("stock: unit cost must be >= 0")

// ErrNegativeStockOnReversal indicates a reversal is no longer safe because
// the received goods were already consumed downstream.
var ErrNegativeStockOnReversal = errors.New("stock: reversal would drive on-hand negative")

// ErrReservationExceeded indicates a release or reserved issue larger than the
// outstanding reservation.
var ErrReservationExceeded = errors.New("stock: quantity exceeds outstanding reservation")

// ErrItemNotFound indicates the stock item does not exist.
var ErrItemNotFound = errors.New("stock: item not found")

// ErrItemInactive indicates the stock item was deactivated.
var ErrItemInactive = errors.New("stock: item is inactive")

// ErrRecipeReservation indicates a reservation against an item that is
// manufactured to order; its availability comes from production runs, not
// from holds on current stock.
var ErrRecipeReservation = errors.New("stock: item with recipe cannot be reserved")
