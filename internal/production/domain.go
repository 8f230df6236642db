package production

import (
	"context"
	"errors"
	"time"
)

// NumberPrefix for production order documents.
const NumberPrefix = "OP"

// CreateInput describes a new production order for one output product.
type CreateInput struct {
	OutputItemID int64
	Qty          string
	Note         string
	ActorID      int64
}

// OutputInput registers one produced batch: the matching bill-of-materials
// share is consumed and the output is received at the batch's material cost.
type OutputInput struct {
	OrderID int64
	Qty     string
	ActorID int64
	RefID   string
}

// FinishInput closes a fully produced order, optionally recording a final
// batch in the same unit.
type FinishInput struct {
	OrderID int64
	ActorID int64
	RefID   string
	// Qty, when non-empty, records a last batch before closing.
	Qty string
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
	HandleProductionEvent(ctx context.Context, evt OrderEvent) error
}

// ErrNotFinished occurs when finishing an order whose output is not fully
// produced; cancel instead to abandon the remainder.
var ErrNotFinished = errors.New("production: planned output not fully produced")
