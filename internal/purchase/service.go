package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andino-erp/andino-erp/internal/engine"
	"github.com/andino-erp/andino-erp/internal/ledger"
	"github.com/andino-erp/andino-erp/internal/orderflow"
	"github.com/andino-erp/andino-erp/internal/orders"
	"github.com/andino-erp/andino-erp/internal/shared"
	"github.com/andino-erp/andino-erp/internal/stock"
)

// OrdersPort provides lock-free reads; anything feeding a mutation is
// re-read under lock inside the unit.
type OrdersPort interface {
	GetOrder(ctx context.Context, orderID int64) (orders.Order, []orders.LineItem, []orders.Installment, error)
}

// NumberPort allocates document numbers.
type NumberPort interface {
	Next(ctx context.Context, prefix string, at time.Time) (string, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the purchase order lifecycle: create, confirm, receive
// goods, register payments, cancel. Every command runs as one coordinator
// unit; reversal reuses the stock mutator's inverse primitives.
type Service struct {
	runner      engine.Runner
	reader      OrdersPort
	numbers     NumberPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	events      EventHandler
}

// NewService constructs the purchase service.
func NewService(runner engine.Runner, reader OrdersPort, numbers NumberPort, audit AuditPort, idem *shared.IdempotencyStore, events EventHandler) *Service {
	return &Service{runner: runner, reader: reader, numbers: numbers, audit: audit, idempotency: idem, events: events}
}

// Create persists a draft purchase order with its lines.
func (s *Service) Create(ctx context.Context, input CreateInput) (orders.Order, error) {
	if input.SupplierID == 0 || len(input.Lines) == 0 {
		return orders.Order{}, orders.ErrValidation
	}
	specs := make([]orderflow.LineSpec, 0, len(input.Lines))
	for _, l := range input.Lines {
		specs = append(specs, orderflow.LineSpec{ItemID: l.ItemID, Qty: l.Qty, Price: l.UnitCost})
	}
	lines, subtotal, err := orderflow.BuildLines(specs)
	if err != nil {
		return orders.Order{}, err
	}
	taxRate := igvRate
	if input.TaxRate != "" {
		if taxRate, err = shared.ParseAmount(input.TaxRate); err != nil {
			return orders.Order{}, orders.ErrValidation
		}
	}
	rate := decimal.NewFromInt(1)
	if input.ExchangeRate != "" {
		if rate, err = shared.ParseAmount(input.ExchangeRate); err != nil || rate.Sign() <= 0 {
			return orders.Order{}, orders.ErrValidation
		}
	}
	tax := subtotal.Mul(taxRate).Round(2)
	total := subtotal.Add(tax)
	order := orders.Order{
		Type:         orders.TypePurchase,
		Status:       orders.StatusDraft,
		SupplierID:   input.SupplierID,
		Currency:     orderflow.DefaultString(input.Currency, "PEN"),
		ExchangeRate: rate,
		PaymentTerm:  orderflow.PaymentTerm(input.PaymentTerm),
		Reservation:  orders.ReservationNone,
		Subtotal:     subtotal,
		Tax:          tax,
		Total:        total,
		AmountPaid:   decimal.Zero,
		BalanceDue:   total,
		Note:         input.Note,
		CreatedBy:    input.ActorID,
	}
	created, err := s.insertWithNumber(ctx, order, lines)
	if err != nil {
		return orders.Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_CREATE", created.ID, map[string]any{"number": created.Number, "total": total.String()})
	s.publish(ctx, created, "created")
	return created, nil
}

// Confirm moves a draft to confirmed, optionally receiving goods and posting
// an initial payment inside the same unit.
func (s *Service) Confirm(ctx context.Context, input ConfirmInput) (orders.Order, error) {
	_, lines, _, err := s.reader.GetOrder(ctx, input.OrderID)
	if err != nil {
		return orders.Order{}, err
	}
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: input.OrderID}}
	receive, err := matchReceiveLines(lines, input.Receive)
	if err != nil {
		return orders.Order{}, err
	}
	for _, rl := range receive {
		locks = append(locks, engine.Lock{Kind: engine.LockStockItem, ID: rl.line.ItemID})
	}
	var payAmount decimal.Decimal
	if input.InitialPayment != nil {
		if payAmount, err = shared.ParseAmount(input.InitialPayment.Amount); err != nil || payAmount.Sign() <= 0 {
			return orders.Order{}, orders.ErrValidation
		}
		locks = append(locks, engine.Lock{Kind: engine.LockAccount, ID: input.InitialPayment.AccountID})
	}
	var updated orders.Order
	err = s.runner.Execute(ctx, locks, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if !orders.CanTransition(current.Status, orders.StatusConfirmed) || current.Status != orders.StatusDraft {
			return orders.ErrInvalidTransition
		}
		current.Status = orders.StatusConfirmed
		if err := st.Orders().UpdateStatus(ctx, current.ID, current.Status); err != nil {
			return err
		}
		if len(receive) > 0 {
			if current, err = s.applyReceive(ctx, st, current, receive, input.ActorID, ""); err != nil {
				return err
			}
		}
		if input.InitialPayment != nil {
			if current, err = s.applyPayment(ctx, st, current, *input.InitialPayment, payAmount); err != nil {
				return err
			}
		}
		updated = current
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_CONFIRM", updated.ID, map[string]any{"number": updated.Number, "status": string(updated.Status)})
	s.publish(ctx, updated, "confirmed")
	return updated, nil
}

// ReceiveGoods tops up realized quantities; each received line runs the WAC
// recomputation through the stock mutator.
func (s *Service) ReceiveGoods(ctx context.Context, input ReceiveInput) (orders.Order, error) {
	order, lines, _, err := s.reader.GetOrder(ctx, input.OrderID)
	if err != nil {
		return orders.Order{}, err
	}
	receive, err := matchReceiveLines(lines, input.Lines)
	if err != nil {
		return orders.Order{}, err
	}
	if len(receive) == 0 {
		return orders.Order{}, orders.ErrValidation
	}
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: input.OrderID}}
	for _, rl := range receive {
		locks = append(locks, engine.Lock{Kind: engine.LockStockItem, ID: rl.line.ItemID})
	}
	key := fmt.Sprintf("PO_RECEIVE:%s", input.RefID)
	insertedKey, err := s.claimKey(ctx, input.RefID, key)
	if err != nil {
		return orders.Order{}, err
	}
	var updated orders.Order
	err = s.runner.Execute(ctx, locks, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		switch current.Status {
		case orders.StatusConfirmed, orders.StatusPartiallyRealized, orders.StatusPaidPartial:
		default:
			return orders.ErrInvalidTransition
		}
		updated, err = s.applyReceive(ctx, st, current, receive, input.ActorID, input.RefID)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return orders.Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_RECEIVE", updated.ID, map[string]any{"number": order.Number, "status": string(updated.Status)})
	s.publish(ctx, updated, "received")
	return updated, nil
}

// RegisterPayment debits the buyer's account and settles the balance,
// optionally against one installment.
func (s *Service) RegisterPayment(ctx context.Context, input PaymentInput) (orders.Order, error) {
	amount, err := shared.ParseAmount(input.Amount)
	if err != nil || amount.Sign() <= 0 || input.AccountID == 0 {
		return orders.Order{}, orders.ErrValidation
	}
	key := fmt.Sprintf("PO_PAY:%s", input.RefID)
	insertedKey, err := s.claimKey(ctx, input.RefID, key)
	if err != nil {
		return orders.Order{}, err
	}
	locks := []engine.Lock{
		{Kind: engine.LockOrder, ID: input.OrderID},
		{Kind: engine.LockAccount, ID: input.AccountID},
	}
	var updated orders.Order
	err = s.runner.Execute(ctx, locks, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if orders.Terminal(current.Status) || current.Status == orders.StatusDraft {
			return orders.ErrInvalidTransition
		}
		updated, err = s.applyPayment(ctx, st, current, input, amount)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return orders.Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_PAYMENT", updated.ID, map[string]any{"amount": amount.String(), "status": string(updated.Status)})
	s.publish(ctx, updated, "paid")
	return updated, nil
}

// CreateSchedule installs an installment plan covering the financed balance.
func (s *Service) CreateSchedule(ctx context.Context, input ScheduleInput) ([]orders.Installment, error) {
	created, err := orderflow.CreateSchedule(ctx, s.runner, input.OrderID, input.Lines)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_SCHEDULE", input.OrderID, map[string]any{"installments": len(created)})
	return created, nil
}

// Cancel reverses every realized line and voids pending installments. Only
// unpaid orders may be cancelled.
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
		if current.AmountPaid.Sign() != 0 {
			return ErrCancelNotAllowed
		}
		currentLines, err := st.Orders().GetLines(ctx, orderID)
		if err != nil {
			return err
		}
		for _, line := range currentLines {
			if line.QtyRealized.Sign() <= 0 {
				continue
			}
			_, err := stock.ReverseReceive(ctx, st.Stock(), stock.MovementInput{
				ItemID:    line.ItemID,
				Qty:       line.QtyRealized,
				UnitCost:  baseUnitCost(current, line),
				RefModule: "PURCHASE",
				RefID:     orderflow.LineRef(current.ID, line.ID),
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
		if err := orderflow.CancelPendingInstallments(ctx, st, orderID); err != nil {
			return err
		}
		if err := st.Orders().UpdateStatus(ctx, orderID, orders.StatusCancelled); err != nil {
			return err
		}
		current.Status = orders.StatusCancelled
		updated = current
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	s.recordAudit(ctx, actorID, "PO_CANCEL", orderID, map[string]any{"number": order.Number})
	s.publish(ctx, updated, "cancelled")
	return updated, nil
}

// Close archives a fully paid order.
func (s *Service) Close(ctx context.Context, orderID, actorID int64) (orders.Order, error) {
	var updated orders.Order
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: orderID}}
	err := s.runner.Execute(ctx, locks, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if current.Status != orders.StatusPaid || !orders.CanTransition(current.Status, orders.StatusClosed) {
			return orders.ErrInvalidTransition
		}
		if err := st.Orders().UpdateStatus(ctx, orderID, orders.StatusClosed); err != nil {
			return err
		}
		current.Status = orders.StatusClosed
		updated = current
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	s.recordAudit(ctx, actorID, "PO_CLOSE", orderID, nil)
	s.publish(ctx, updated, "closed")
	return updated, nil
}

// Get returns the order with lines and installments.
func (s *Service) Get(ctx context.Context, orderID int64) (orders.Order, []orders.LineItem, []orders.Installment, error) {
	return s.reader.GetOrder(ctx, orderID)
}

type matchedReceive struct {
	line orders.LineItem
	qty  decimal.Decimal
}

func matchReceiveLines(lines []orders.LineItem, input []ReceiveLine) ([]matchedReceive, error) {
	byID := make(map[int64]orders.LineItem, len(lines))
	for _, line := range lines {
		byID[line.ID] = line
	}
	var matched []matchedReceive
	for _, rl := range input {
		line, ok := byID[rl.LineID]
		if !ok {
			return nil, orders.ErrNotFound
		}
		qty, err := shared.ParseAmount(rl.Qty)
		if err != nil || qty.Sign() <= 0 {
			return nil, stock.ErrInvalidQuantity
		}
		matched = append(matched, matchedReceive{line: line, qty: qty})
	}
	return matched, nil
}

// applyReceive runs inside a unit: re-validates pending quantities under
// lock, receives stock and tops up realization.
// baseUnitCost converts a line price into base currency at the rate fixed
// when the order was created. Stock carries cost in base currency only.
func baseUnitCost(order orders.Order, line orders.LineItem) decimal.Decimal {
	if order.ExchangeRate.Sign() <= 0 {
		return line.UnitPrice
	}
	return line.UnitPrice.Mul(order.ExchangeRate).Round(4)
}

func (s *Service) applyReceive(ctx context.Context, st engine.UnitStores, current orders.Order, receive []matchedReceive, actorID int64, refID string) (orders.Order, error) {
	currentLines, err := st.Orders().GetLines(ctx, current.ID)
	if err != nil {
		return orders.Order{}, err
	}
	byID := make(map[int64]orders.LineItem, len(currentLines))
	for _, line := range currentLines {
		byID[line.ID] = line
	}
	for _, rl := range receive {
		line := byID[rl.line.ID]
		if rl.qty.GreaterThan(line.Pending()) {
			return orders.Order{}, orders.ErrOverRealization
		}
		_, err := stock.Receive(ctx, st.Stock(), stock.MovementInput{
			ItemID:    line.ItemID,
			Qty:       rl.qty,
			UnitCost:  baseUnitCost(current, line),
			RefModule: "PURCHASE",
			RefID:     refID,
			ActorID:   actorID,
			Note:      fmt.Sprintf("receive %s", current.Number),
		})
		if err != nil {
			return orders.Order{}, err
		}
		line.QtyRealized = line.QtyRealized.Add(rl.qty)
		if err := st.Orders().UpdateLineRealized(ctx, line.ID, line.QtyRealized); err != nil {
			return orders.Order{}, err
		}
		byID[line.ID] = line
	}
	updatedLines := make([]orders.LineItem, 0, len(currentLines))
	for _, line := range currentLines {
		updatedLines = append(updatedLines, byID[line.ID])
	}
	return orderflow.AdvanceStatus(ctx, st, current, updatedLines)
}

// applyPayment runs inside a unit: debits the account and maintains
// amountPaid + balanceDue == total exactly.
func (s *Service) applyPayment(ctx context.Context, st engine.UnitStores, current orders.Order, input PaymentInput, amount decimal.Decimal) (orders.Order, error) {
	if amount.GreaterThan(current.BalanceDue.Add(shared.PaymentTolerance)) {
		return orders.Order{}, orders.ErrOverpayment
	}
	_, err := ledger.Debit(ctx, st.Accounts(), ledger.EntryInput{
		AccountID:     input.AccountID,
		Amount:        amount,
		Memo:          fmt.Sprintf("payment %s", current.Number),
		OrderID:       current.ID,
		InstallmentID: input.InstallmentID,
		ActorID:       input.ActorID,
	})
	if err != nil {
		return orders.Order{}, err
	}
	return orderflow.Settle(ctx, st, current, input.InstallmentID, amount)
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
		return false, fmt.Errorf("purchase: invalid ref id: %w", err)
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, "purchase"); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func (s *Service) publish(ctx context.Context, order orders.Order, action string) {
	if s.events == nil {
		return
	}
	_ = s.events.HandlePurchaseEvent(ctx, OrderEvent{OrderID: order.ID, Number: order.Number, Action: action, At: time.Now().UTC()})
}
