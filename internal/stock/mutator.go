package stock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxStore exposes the transactional operations the mutator needs. The row
// returned by GetItemForUpdate must be exclusively locked until commit.
type TxStore interface {
	GetItemForUpdate(ctx context.Context, itemID int64) (Item, error)
	UpdateItem(ctx context.Context, item Item) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	// ListMovementsByRef returns the item's movements recorded under the
	// given reference, oldest first.
	ListMovementsByRef(ctx context.Context, itemID int64, refID string) ([]Movement, error)
}

// MovementInput carries the parameters shared by every mutation primitive.
type MovementInput struct {
	ItemID   int64
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
	// FromReserved marks an issue whose quantity was reserved earlier; the
	// reservation already proved availability so the on-hand check is skipped.
	FromReserved bool
	RefModule    string
	RefID        string
	ActorID      int64
	Note         string
}

// Reserve places a soft hold on available stock.
func Reserve(ctx context.Context, store TxStore, in MovementInput) (Movement, error) {
	item, err := lockItem(ctx, store, in)
	if err != nil {
		return Movement{}, err
	}
	if item.Available().LessThan(in.Qty) {
		return Movement{}, ErrInsufficientStock
	}
	item.Reserved = item.Reserved.Add(in.Qty)
	return apply(ctx, store, item, MovementReserve, in, item.UnitCost)
}

// Release removes a soft hold placed by Reserve.
func Release(ctx context.Context, store TxStore, in MovementInput) (Movement, error) {
	item, err := lockItem(ctx, store, in)
	if err != nil {
		return Movement{}, err
	}
	if item.Reserved.LessThan(in.Qty) {
		return Movement{}, ErrReservationExceeded
	}
	item.Reserved = item.Reserved.Sub(in.Qty)
	return apply(ctx, store, item, MovementRelease, in, item.UnitCost)
}

// Receive increments on-hand and recomputes the weighted-average cost for
// cost-tracked items. Items produced without costing keep their stored cost.
func Receive(ctx context.Context, store TxStore, in MovementInput) (Movement, error) {
	if in.UnitCost.Sign() < 0 {
		return Movement{}, ErrInvalidUnitCost
	}
	item, err := lockItem(ctx, store, in)
	if err != nil {
		return Movement{}, err
	}
	if item.TracksCost {
		item.OnHand, item.UnitCost = Recompute(item.OnHand, item.UnitCost, in.Qty, in.UnitCost)
	} else {
		item.OnHand = item.OnHand.Add(in.Qty)
	}
	return apply(ctx, store, item, MovementReceive, in, in.UnitCost)
}

// Issue decrements on-hand at the current average cost. A reserved issue
// consumes the hold; an unreserved issue must not drive on-hand negative.
func Issue(ctx context.Context, store TxStore, in MovementInput) (Movement, error) {
	item, err := lockItem(ctx, store, in)
	if err != nil {
		return Movement{}, err
	}
	if in.FromReserved {
		if item.Reserved.LessThan(in.Qty) {
			return Movement{}, ErrReservationExceeded
		}
		item.Reserved = item.Reserved.Sub(in.Qty)
	} else if item.OnHand.LessThan(in.Qty) {
		return Movement{}, ErrInsufficientStock
	}
	cost := item.UnitCost
	item.OnHand = item.OnHand.Sub(in.Qty)
	return apply(ctx, store, item, MovementIssue, in, cost)
}

// ReverseReceive undoes a prior receipt. UnitCost must be the original
// receipt cost so the prior average can be restored exactly.
func ReverseReceive(ctx context.Context, store TxStore, in MovementInput) (Movement, error) {
	item, err := lockItem(ctx, store, in)
	if err != nil {
		return Movement{}, err
	}
	if item.OnHand.LessThan(in.Qty) {
		return Movement{}, ErrNegativeStockOnReversal
	}
	if item.TracksCost {
		item.OnHand, item.UnitCost = Unwind(item.OnHand, item.UnitCost, in.Qty, in.UnitCost)
	} else {
		item.OnHand = item.OnHand.Sub(in.Qty)
	}
	return apply(ctx, store, item, MovementReverseReceive, in, in.UnitCost)
}

// ReverseIssue gives previously issued goods back at the cost they left with.
// The average cost is unchanged: the goods left at the current average, so
// returning them at that same cost cannot move it.
func ReverseIssue(ctx context.Context, store TxStore, in MovementInput) (Movement, error) {
	item, err := lockItem(ctx, store, in)
	if err != nil {
		return Movement{}, err
	}
	item.OnHand = item.OnHand.Add(in.Qty)
	return apply(ctx, store, item, MovementReverseIssue, in, item.UnitCost)
}

func lockItem(ctx context.Context, store TxStore, in MovementInput) (Item, error) {
	if in.Qty.Sign() <= 0 {
		return Item{}, ErrInvalidQuantity
	}
	item, err := store.GetItemForUpdate(ctx, in.ItemID)
	if err != nil {
		return Item{}, err
	}
	if !item.Active {
		return Item{}, ErrItemInactive
	}
	return item, nil
}

func apply(ctx context.Context, store TxStore, item Item, kind MovementKind, in MovementInput, unitCost decimal.Decimal) (Movement, error) {
	item.UpdatedAt = time.Now().UTC()
	if err := store.UpdateItem(ctx, item); err != nil {
		return Movement{}, err
	}
	m := Movement{
		ItemID:        item.ID,
		Kind:          kind,
		Qty:           in.Qty,
		UnitCost:      unitCost,
		OnHandAfter:   item.OnHand,
		ReservedAfter: item.Reserved,
		RefModule:     in.RefModule,
		RefID:         in.RefID,
		ActorID:       in.ActorID,
		Note:          in.Note,
		PostedAt:      item.UpdatedAt,
	}
	id, err := store.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	return m, nil
}
