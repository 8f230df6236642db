package production

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andino-erp/andino-erp/internal/engine"
	"github.com/andino-erp/andino-erp/internal/orderflow"
	"github.com/andino-erp/andino-erp/internal/orders"
	"github.com/andino-erp/andino-erp/internal/refdata"
	"github.com/andino-erp/andino-erp/internal/shared"
	"github.com/andino-erp/andino-erp/internal/stock"
)

// qtyScale bounds scaled component quantities.
const qtyScale = 4

// OrdersPort provides lock-free reads; anything feeding a mutation is
// re-read under lock inside the unit.
type OrdersPort interface {
	GetOrder(ctx context.Context, orderID int64) (orders.Order, []orders.LineItem, []orders.Installment, error)
}

// ProductPort looks up the recipe for the output product.
type ProductPort interface {
	GetProduct(ctx context.Context, itemID int64) (refdata.Product, error)
}

// NumberPort allocates document numbers.
type NumberPort interface {
	Next(ctx context.Context, prefix string, at time.Time) (string, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the production order lifecycle: create, start (planning the
// bill-of-materials consumption), record output batches, finish, cancel.
// Each output batch runs one Consume+Receive pair: components leave at the
// current average cost and the finished output arrives costed at the batch's
// material cost divided by the batch quantity.
type Service struct {
	runner      engine.Runner
	reader      OrdersPort
	products    ProductPort
	numbers     NumberPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	events      EventHandler
}

// NewService constructs the production service.
func NewService(runner engine.Runner, reader OrdersPort, products ProductPort, numbers NumberPort, audit AuditPort, idem *shared.IdempotencyStore, events EventHandler) *Service {
	return &Service{runner: runner, reader: reader, products: products, numbers: numbers, audit: audit, idempotency: idem, events: events}
}

// Create persists a draft production order with its planned output line.
func (s *Service) Create(ctx context.Context, input CreateInput) (orders.Order, error) {
	if input.OutputItemID == 0 {
		return orders.Order{}, orders.ErrValidation
	}
	qty, err := shared.ParseAmount(input.Qty)
	if err != nil || qty.Sign() <= 0 {
		return orders.Order{}, orders.ErrValidation
	}
	order := orders.Order{
		Type:         orders.TypeProduction,
		Status:       orders.StatusDraft,
		Currency:     "PEN",
		ExchangeRate: decimal.NewFromInt(1),
		PaymentTerm:  orders.TermCash,
		Reservation:  orders.ReservationNone,
		Subtotal:     decimal.Zero,
		Tax:          decimal.Zero,
		Total:        decimal.Zero,
		AmountPaid:   decimal.Zero,
		BalanceDue:   decimal.Zero,
		MaterialCost: decimal.Zero,
		Note:         input.Note,
		CreatedBy:    input.ActorID,
	}
	output := orders.LineItem{
		Kind:        orders.LineOutput,
		ItemID:      input.OutputItemID,
		QtyOrdered:  qty,
		QtyRealized: decimal.Zero,
		QtyReserved: decimal.Zero,
		UnitPrice:   decimal.Zero,
		LineTotal:   decimal.Zero,
	}
	created, err := s.insertWithNumber(ctx, order, []orders.LineItem{output})
	if err != nil {
		return orders.Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "MO_CREATE", created.ID, map[string]any{"number": created.Number, "qty": qty.String()})
	s.publish(ctx, created, "created")
	return created, nil
}

// Start confirms the draft and plans the component consumption by scaling
// the output product's bill of materials to the planned quantity. Recipe-less
// products start with no component lines and bypass material costing.
func (s *Service) Start(ctx context.Context, orderID, actorID int64) (orders.Order, error) {
	_, lines, _, err := s.reader.GetOrder(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	output, err := outputLine(lines)
	if err != nil {
		return orders.Order{}, err
	}
	product, err := s.products.GetProduct(ctx, output.ItemID)
	if err != nil {
		return orders.Order{}, err
	}
	var updated orders.Order
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: orderID}}
	err = s.runner.Execute(ctx, locks, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if current.Status != orders.StatusDraft {
			return orders.ErrInvalidTransition
		}
		for _, bom := range product.BillOfMaterials {
			planned := bom.QtyPerUnit.Mul(output.QtyOrdered).Round(qtyScale)
			if planned.Sign() <= 0 {
				return orders.ErrValidation
			}
			line := orders.LineItem{
				OrderID:     orderID,
				Kind:        orders.LineComponent,
				ItemID:      bom.ComponentID,
				QtyOrdered:  planned,
				QtyRealized: decimal.Zero,
				QtyReserved: decimal.Zero,
				UnitPrice:   decimal.Zero,
				LineTotal:   decimal.Zero,
			}
			if _, err := st.Orders().InsertLine(ctx, line); err != nil {
				return err
			}
		}
		if err := st.Orders().UpdateStatus(ctx, orderID, orders.StatusConfirmed); err != nil {
			return err
		}
		current.Status = orders.StatusConfirmed
		updated = current
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	s.recordAudit(ctx, actorID, "MO_START", orderID, map[string]any{"components": len(product.BillOfMaterials)})
	s.publish(ctx, updated, "started")
	return updated, nil
}

// RecordOutput registers a produced batch.
func (s *Service) RecordOutput(ctx context.Context, input OutputInput) (orders.Order, error) {
	qty, err := shared.ParseAmount(input.Qty)
	if err != nil || qty.Sign() <= 0 {
		return orders.Order{}, orders.ErrValidation
	}
	key := fmt.Sprintf("MO_OUTPUT:%s", input.RefID)
	insertedKey, err := s.claimKey(ctx, input.RefID, key)
	if err != nil {
		return orders.Order{}, err
	}
	updated, err := s.runBatch(ctx, input.OrderID, qty, input.ActorID, input.RefID, false)
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return orders.Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "MO_OUTPUT", updated.ID, map[string]any{"qty": qty.String(), "material_cost": updated.MaterialCost.String()})
	s.publish(ctx, updated, "output")
	return updated, nil
}

// Finish closes a fully produced order, optionally recording a final batch
// first. An order with unproduced remainder cannot be finished; cancel it.
func (s *Service) Finish(ctx context.Context, input FinishInput) (orders.Order, error) {
	finalQty := decimal.Zero
	if input.Qty != "" {
		qty, err := shared.ParseAmount(input.Qty)
		if err != nil || qty.Sign() <= 0 {
			return orders.Order{}, orders.ErrValidation
		}
		finalQty = qty
	}
	key := fmt.Sprintf("MO_FINISH:%s", input.RefID)
	insertedKey, err := s.claimKey(ctx, input.RefID, key)
	if err != nil {
		return orders.Order{}, err
	}
	updated, err := s.runBatch(ctx, input.OrderID, finalQty, input.ActorID, input.RefID, true)
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return orders.Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "MO_FINISH", updated.ID, map[string]any{"material_cost": updated.MaterialCost.String()})
	s.publish(ctx, updated, "finished")
	return updated, nil
}

// Cancel reverses produced output and consumed components, then voids the
// order. Output already consumed downstream surfaces NegativeStockOnReversal
// and blocks the cancellation.
func (s *Service) Cancel(ctx context.Context, orderID, actorID int64) (orders.Order, error) {
	order, lines, _, err := s.reader.GetOrder(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: orderID}}
	for _, line := range lines {
		if line.QtyRealized.Sign() > 0 {
			locks = append(locks, engine.Lock{Kind: engine.LockStockItem, ID: line.ItemID})
		}
	}
	var updated orders.Order
	err = s.runner.Execute(ctx, locks, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !orders.CanTransition(current.Status, orders.StatusCancelled) {
			return orders.ErrInvalidTransition
		}
		currentLines, err := st.Orders().GetLines(ctx, orderID)
		if err != nil {
			return err
		}
		// Take the finished output back first; if it is gone downstream
		// the whole cancellation must fail before any component returns.
		// Each batch went in at its own cost, so unwind them newest
		// first at the costs the movement trail recorded.
		for _, line := range currentLines {
			if line.Kind != orders.LineOutput || line.QtyRealized.Sign() <= 0 {
				continue
			}
			receipts, err := st.Stock().ListMovementsByRef(ctx, line.ItemID, orderflow.LineRef(orderID, line.ID))
			if err != nil {
				return err
			}
			for i := len(receipts) - 1; i >= 0; i-- {
				batch := receipts[i]
				if batch.Kind != stock.MovementReceive {
					continue
				}
				_, err := stock.ReverseReceive(ctx, st.Stock(), stock.MovementInput{
					ItemID:    line.ItemID,
					Qty:       batch.Qty,
					UnitCost:  batch.UnitCost,
					RefModule: "PRODUCTION",
					RefID:     orderflow.LineRef(orderID, line.ID),
					ActorID:   actorID,
					Note:      fmt.Sprintf("cancel %s", current.Number),
				})
				if err != nil {
					return err
				}
			}
			if err := st.Orders().UpdateLineRealized(ctx, line.ID, decimal.Zero); err != nil {
				return err
			}
		}
		for _, line := range currentLines {
			if line.Kind != orders.LineComponent || line.QtyRealized.Sign() <= 0 {
				continue
			}
			_, err := stock.ReverseIssue(ctx, st.Stock(), stock.MovementInput{
				ItemID:    line.ItemID,
				Qty:       line.QtyRealized,
				RefModule: "PRODUCTION",
				RefID:     orderflow.LineRef(orderID, line.ID),
				ActorID:   actorID,
				Note:      fmt.Sprintf("cancel %s", current.Number),
			})
			if err != nil {
				return err
			}
			if err := st.Orders().UpdateLineRealized(ctx, line.ID, decimal.Zero); err != nil {
				return err
			}
		}
		if err := st.Orders().UpdateMaterialCost(ctx, orderID, decimal.Zero); err != nil {
			return err
		}
		if err := st.Orders().UpdateStatus(ctx, orderID, orders.StatusCancelled); err != nil {
			return err
		}
		current.Status = orders.StatusCancelled
		current.MaterialCost = decimal.Zero
		updated = current
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	s.recordAudit(ctx, actorID, "MO_CANCEL", orderID, map[string]any{"number": order.Number})
	s.publish(ctx, updated, "cancelled")
	return updated, nil
}

// Get returns the order with lines.
func (s *Service) Get(ctx context.Context, orderID int64) (orders.Order, []orders.LineItem, []orders.Installment, error) {
	return s.reader.GetOrder(ctx, orderID)
}

// runBatch executes one Consume+Receive pair for qty units of output; with
// finish set it additionally requires full realization and closes the order.
// A zero qty with finish set closes without producing.
func (s *Service) runBatch(ctx context.Context, orderID int64, qty decimal.Decimal, actorID int64, refID string, finish bool) (orders.Order, error) {
	_, lines, _, err := s.reader.GetOrder(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: orderID}}
	for _, line := range lines {
		if line.Kind == orders.LineComponent || line.Kind == orders.LineOutput {
			locks = append(locks, engine.Lock{Kind: engine.LockStockItem, ID: line.ItemID})
		}
	}
	var updated orders.Order
	err = s.runner.Execute(ctx, locks, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		switch current.Status {
		case orders.StatusConfirmed, orders.StatusPartiallyRealized:
		case orders.StatusRealized:
			if !finish || qty.Sign() > 0 {
				return orders.ErrInvalidTransition
			}
		default:
			return orders.ErrInvalidTransition
		}
		if qty.Sign() > 0 {
			if current, err = s.applyBatch(ctx, st, current, qty, actorID, refID); err != nil {
				return err
			}
		}
		if finish {
			if current.Status != orders.StatusRealized {
				return ErrNotFinished
			}
			if err := st.Orders().UpdateStatus(ctx, orderID, orders.StatusClosed); err != nil {
				return err
			}
			current.Status = orders.StatusClosed
		}
		updated = current
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	return updated, nil
}

// applyBatch consumes the bill-of-materials share for qty units and receives
// the output costed at batch material cost over batch quantity.
func (s *Service) applyBatch(ctx context.Context, st engine.UnitStores, current orders.Order, qty decimal.Decimal, actorID int64, refID string) (orders.Order, error) {
	currentLines, err := st.Orders().GetLines(ctx, current.ID)
	if err != nil {
		return orders.Order{}, err
	}
	output, err := outputLine(currentLines)
	if err != nil {
		return orders.Order{}, err
	}
	if qty.GreaterThan(output.Pending()) {
		return orders.Order{}, orders.ErrOverRealization
	}
	batchCost := decimal.Zero
	for _, line := range currentLines {
		if line.Kind != orders.LineComponent {
			continue
		}
		consume := line.QtyOrdered.Mul(qty).Div(output.QtyOrdered).Round(qtyScale)
		if consume.GreaterThan(line.Pending()) {
			consume = line.Pending()
		}
		if consume.Sign() <= 0 {
			continue
		}
		movement, err := stock.Issue(ctx, st.Stock(), stock.MovementInput{
			ItemID:    line.ItemID,
			Qty:       consume,
			RefModule: "PRODUCTION",
			RefID:     refID,
			ActorID:   actorID,
			Note:      fmt.Sprintf("consume %s", current.Number),
		})
		if err != nil {
			return orders.Order{}, err
		}
		batchCost = batchCost.Add(consume.Mul(movement.UnitCost))
		if err := st.Orders().UpdateLineRealized(ctx, line.ID, line.QtyRealized.Add(consume)); err != nil {
			return orders.Order{}, err
		}
		if err := st.Orders().UpdateLinePrice(ctx, line.ID, movement.UnitCost); err != nil {
			return orders.Order{}, err
		}
	}
	batchCost = batchCost.Round(qtyScale)
	outputCost := decimal.Zero
	if batchCost.Sign() > 0 {
		outputCost = batchCost.Div(qty).Round(qtyScale)
	}
	// Output receipts all land under the output line's reference so a
	// cancellation can find every batch and its recorded cost.
	if _, err := stock.Receive(ctx, st.Stock(), stock.MovementInput{
		ItemID:    output.ItemID,
		Qty:       qty,
		UnitCost:  outputCost,
		RefModule: "PRODUCTION",
		RefID:     orderflow.LineRef(current.ID, output.ID),
		ActorID:   actorID,
		Note:      fmt.Sprintf("output %s", current.Number),
	}); err != nil {
		return orders.Order{}, err
	}
	output.QtyRealized = output.QtyRealized.Add(qty)
	if err := st.Orders().UpdateLineRealized(ctx, output.ID, output.QtyRealized); err != nil {
		return orders.Order{}, err
	}
	if err := st.Orders().UpdateLinePrice(ctx, output.ID, outputCost); err != nil {
		return orders.Order{}, err
	}
	current.MaterialCost = current.MaterialCost.Add(batchCost)
	if err := st.Orders().UpdateMaterialCost(ctx, current.ID, current.MaterialCost); err != nil {
		return orders.Order{}, err
	}
	next := orders.StatusPartiallyRealized
	if output.QtyRealized.GreaterThanOrEqual(output.QtyOrdered) {
		next = orders.StatusRealized
	}
	if next != current.Status {
		if !orders.CanTransition(current.Status, next) {
			return orders.Order{}, orders.ErrInvalidTransition
		}
		if err := st.Orders().UpdateStatus(ctx, current.ID, next); err != nil {
			return orders.Order{}, err
		}
		current.Status = next
	}
	return current, nil
}

func outputLine(lines []orders.LineItem) (orders.LineItem, error) {
	for _, line := range lines {
		if line.Kind == orders.LineOutput {
			return line, nil
		}
	}
	return orders.LineItem{}, orders.ErrNotFound
}

func (s *Service) insertWithNumber(ctx context.Context, order orders.Order, lines []orders.LineItem) (orders.Order, error) {
	var created orders.Order
	for attempt := 0; attempt < 3; attempt++ {
		number, err := s.numbers.Next(ctx, NumberPrefix, time.Now().UTC())
		if err != nil {
			return orders.Order{}, err
		}
		order.Number = number
		err = s.runner.Execute(ctx, nil, func(ctx context.Context, st engine.UnitStores) error {
			id, err := st.Orders().InsertOrder(ctx, order)
			if err != nil {
				return err
			}
			for _, line := range lines {
				line.OrderID = id
				if _, err := st.Orders().InsertLine(ctx, line); err != nil {
					return err
				}
			}
			created = order
			created.ID = id
			return nil
		})
		if errors.Is(err, orders.ErrDuplicateNumber) {
			continue
		}
		if err != nil {
			return orders.Order{}, err
		}
		return created, nil
	}
	return orders.Order{}, orders.ErrDuplicateNumber
}

func (s *Service) claimKey(ctx context.Context, refID, key string) (bool, error) {
	if s.idempotency == nil || refID == "" {
		return false, nil
	}
	if _, err := uuid.Parse(refID); err != nil {
		return false, fmt.Errorf("production: invalid ref id: %w", err)
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, "production"); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "production_order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func (s *Service) publish(ctx context.Context, order orders.Order, action string) {
	if s.events == nil {
		return
	}
	_ = s.events.HandleProductionEvent(ctx, OrderEvent{OrderID: order.ID, Number: order.Number, Action: action, At: time.Now().UTC()})
}
