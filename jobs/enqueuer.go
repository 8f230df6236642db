package jobs

import (
	"context"

	"github.com/andino-erp/andino-erp/internal/production"
	"github.com/andino-erp/andino-erp/internal/purchase"
	"github.com/andino-erp/andino-erp/internal/sale"
)

// Enqueuer bridges the order services' post-commit event ports onto the
// asynq queue. Nothing here runs inside a transactional unit.
type Enqueuer struct {
	client *Client
}

// NewEnqueuer constructs an Enqueuer.
func NewEnqueuer(client *Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// HandlePurchaseEvent implements purchase.EventHandler.
func (e *Enqueuer) HandlePurchaseEvent(ctx context.Context, evt purchase.OrderEvent) error {
	_, err := e.client.EnqueueOrderEvent(ctx, OrderEventPayload{
		Module:  "purchase",
		OrderID: evt.OrderID,
		Number:  evt.Number,
		Action:  evt.Action,
		At:      evt.At,
	})
	return err
}

// HandleSaleEvent implements sale.EventHandler.
func (e *Enqueuer) HandleSaleEvent(ctx context.Context, evt sale.OrderEvent) error {
	_, err := e.client.EnqueueOrderEvent(ctx, OrderEventPayload{
		Module:  "sale",
		OrderID: evt.OrderID,
		Number:  evt.Number,
		Action:  evt.Action,
		At:      evt.At,
	})
	return err
}

// HandleProductionEvent implements production.EventHandler.
func (e *Enqueuer) HandleProductionEvent(ctx context.Context, evt production.OrderEvent) error {
	_, err := e.client.EnqueueOrderEvent(ctx, OrderEventPayload{
		Module:  "production",
		OrderID: evt.OrderID,
		Number:  evt.Number,
		Action:  evt.Action,
		At:      evt.At,
	})
	return err
}
