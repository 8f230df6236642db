package sale

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
	"github.com/andino-erp/andino-erp/internal/refdata"
	"github.com/andino-erp/andino-erp/internal/shared"
	"github.com/andino-erp/andino-erp/internal/stock"
)

// OrdersPort provides lock-free reads; anything feeding a mutation is
// re-read under lock inside the unit.
type OrdersPort interface {
	GetOrder(ctx context.Context, orderID int64) (orders.Order, []orders.LineItem, []orders.Installment, error)
}

// ProductPort looks up costing and recipe metadata.
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

// Service drives the sales order lifecycle: create, confirm with credit
// admission, reserve, despatch, receive payments, cancel, close. Every
// command runs as one coordinator unit.
type Service struct {
	runner      engine.Runner
	reader      OrdersPort
	products    ProductPort
	credit      *CreditChecker
	numbers     NumberPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	events      EventHandler
}

// NewService constructs the sale service.
func NewService(runner engine.Runner, reader OrdersPort, products ProductPort, credit *CreditChecker, numbers NumberPort, audit AuditPort, idem *shared.IdempotencyStore, events EventHandler) *Service {
	return &Service{runner: runner, reader: reader, products: products, credit: credit, numbers: numbers, audit: audit, idempotency: idem, events: events}
}

// Create persists a draft sales order with its lines.
func (s *Service) Create(ctx context.Context, input CreateInput) (orders.Order, error) {
	if input.CustomerID == 0 || len(input.Lines) == 0 {
		return orders.Order{}, orders.ErrValidation
	}
	specs := make([]orderflow.LineSpec, 0, len(input.Lines))
	for _, l := range input.Lines {
		specs = append(specs, orderflow.LineSpec{ItemID: l.ItemID, Qty: l.Qty, Price: l.UnitPrice})
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
		Type:         orders.TypeSale,
		Status:       orders.StatusDraft,
		CustomerID:   input.CustomerID,
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
	s.recordAudit(ctx, input.ActorID, "SO_CREATE", created.ID, map[string]any{"number": created.Number, "total": total.String()})
	s.publish(ctx, created, "created")
	return created, nil
}

// Confirm runs the credit admission check for credit-term orders, then moves
// the draft to confirmed, optionally reserving stock in the same unit.
// Reservation never precedes admission: a rejected order holds no stock.
func (s *Service) Confirm(ctx context.Context, input ConfirmInput) (orders.Order, []ReservationOutcome, error) {
	order, lines, _, err := s.reader.GetOrder(ctx, input.OrderID)
	if err != nil {
		return orders.Order{}, nil, err
	}
	if order.Status != orders.StatusDraft {
		return orders.Order{}, nil, orders.ErrInvalidTransition
	}
	if s.credit != nil {
		if err := s.credit.Check(ctx, order.CustomerID, order.Currency, order.Total, order.PaymentTerm); err != nil {
			return orders.Order{}, nil, err
		}
	}
	plan, err := s.reservationPlan(ctx, lines)
	if err != nil {
		return orders.Order{}, nil, err
	}
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: input.OrderID}}
	if input.Reserve {
		for _, pl := range plan {
			if !pl.skipped {
				locks = append(locks, engine.Lock{Kind: engine.LockStockItem, ID: pl.itemID})
			}
		}
	}
	var (
		updated  orders.Order
		outcomes []ReservationOutcome
	)
	err = s.runner.Execute(ctx, locks, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if current.Status != orders.StatusDraft {
			return orders.ErrInvalidTransition
		}
		current.Status = orders.StatusConfirmed
		if err := st.Orders().UpdateStatus(ctx, current.ID, current.Status); err != nil {
			return err
		}
		if input.Reserve {
			if current, outcomes, err = s.applyReservation(ctx, st, current, plan, input.ActorID); err != nil {
				return err
			}
		}
		updated = current
		return nil
	})
	if err != nil {
		return orders.Order{}, nil, err
	}
	s.recordAudit(ctx, input.ActorID, "SO_CONFIRM", updated.ID, map[string]any{"number": updated.Number, "reservation": string(updated.Reservation)})
	s.publish(ctx, updated, "confirmed")
	return updated, outcomes, nil
}

// ReserveStock soft-reserves pending quantities, tolerating partial grants:
// each line gets the lesser of its remaining want and the item's available
// quantity, and the per-line outcome is reported back.
func (s *Service) ReserveStock(ctx context.Context, orderID, actorID int64) (orders.Order, []ReservationOutcome, error) {
	_, lines, _, err := s.reader.GetOrder(ctx, orderID)
	if err != nil {
		return orders.Order{}, nil, err
	}
	plan, err := s.reservationPlan(ctx, lines)
	if err != nil {
		return orders.Order{}, nil, err
	}
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: orderID}}
	for _, pl := range plan {
		if !pl.skipped {
			locks = append(locks, engine.Lock{Kind: engine.LockStockItem, ID: pl.itemID})
		}
	}
	var (
		updated  orders.Order
		outcomes []ReservationOutcome
	)
	err = s.runner.Execute(ctx, locks, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		switch current.Status {
		case orders.StatusConfirmed, orders.StatusPartiallyRealized:
		default:
			return orders.ErrInvalidTransition
		}
		updated, outcomes, err = s.applyReservation(ctx, st, current, plan, actorID)
		return err
	})
	if err != nil {
		return orders.Order{}, nil, err
	}
	s.recordAudit(ctx, actorID, "SO_RESERVE", orderID, map[string]any{"reservation": string(updated.Reservation)})
	return updated, outcomes, nil
}

// ReleaseStock drops every active reservation held by the order.
func (s *Service) ReleaseStock(ctx context.Context, orderID, actorID int64) (orders.Order, error) {
	_, lines, _, err := s.reader.GetOrder(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: orderID}}
	for _, line := range lines {
		if line.QtyReserved.Sign() > 0 {
			locks = append(locks, engine.Lock{Kind: engine.LockStockItem, ID: line.ItemID})
		}
	}
	var updated orders.Order
	err = s.runner.Execute(ctx, locks, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.releaseAll(ctx, st, current, actorID); err != nil {
			return err
		}
		if err := st.Orders().UpdateReservation(ctx, orderID, orders.ReservationNone); err != nil {
			return err
		}
		current.Reservation = orders.ReservationNone
		updated = current
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	s.recordAudit(ctx, actorID, "SO_RELEASE", orderID, nil)
	return updated, nil
}

// Despatch issues stock against pending quantities. Reserved quantity is
// consumed first and bypasses the availability check; any remainder is
// issued directly against on-hand stock.
func (s *Service) Despatch(ctx context.Context, input DespatchInput) (orders.Order, error) {
	_, lines, _, err := s.reader.GetOrder(ctx, input.OrderID)
	if err != nil {
		return orders.Order{}, err
	}
	despatch, err := matchDespatchLines(lines, input.Lines)
	if err != nil {
		return orders.Order{}, err
	}
	if len(despatch) == 0 {
		return orders.Order{}, orders.ErrValidation
	}
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: input.OrderID}}
	for _, dl := range despatch {
		locks = append(locks, engine.Lock{Kind: engine.LockStockItem, ID: dl.line.ItemID})
	}
	key := fmt.Sprintf("SO_DESPATCH:%s", input.RefID)
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
		updated, err = s.applyDespatch(ctx, st, current, despatch, input.ActorID, input.RefID)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return orders.Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "SO_DESPATCH", updated.ID, map[string]any{"number": updated.Number, "status": string(updated.Status)})
	s.publish(ctx, updated, "despatched")
	return updated, nil
}

// RecordPayment credits the seller's account and settles the balance,
// optionally against one installment.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (orders.Order, error) {
	amount, err := shared.ParseAmount(input.Amount)
	if err != nil || amount.Sign() <= 0 || input.AccountID == 0 {
		return orders.Order{}, orders.ErrValidation
	}
	key := fmt.Sprintf("SO_PAY:%s", input.RefID)
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
		if amount.GreaterThan(current.BalanceDue.Add(shared.PaymentTolerance)) {
			return orders.ErrOverpayment
		}
		_, err = ledger.Credit(ctx, st.Accounts(), ledger.EntryInput{
			AccountID:     input.AccountID,
			Amount:        amount,
			Memo:          fmt.Sprintf("payment %s", current.Number),
			OrderID:       current.ID,
			InstallmentID: input.InstallmentID,
			ActorID:       input.ActorID,
		})
		if err != nil {
			return err
		}
		updated, err = orderflow.Settle(ctx, st, current, input.InstallmentID, amount)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return orders.Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "SO_PAYMENT", updated.ID, map[string]any{"amount": amount.String(), "status": string(updated.Status)})
	s.publish(ctx, updated, "paid")
	return updated, nil
}

// CreateSchedule installs an installment plan covering the financed balance.
func (s *Service) CreateSchedule(ctx context.Context, input ScheduleInput) ([]orders.Installment, error) {
	created, err := orderflow.CreateSchedule(ctx, s.runner, input.OrderID, input.Lines)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "SO_SCHEDULE", input.OrderID, map[string]any{"installments": len(created)})
	return created, nil
}

// Cancel releases active reservations, reverses despatched stock back at the
// current average cost and voids pending installments. Fully despatched or
// partially paid orders can no longer be cancelled.
func (s *Service) Cancel(ctx context.Context, orderID, actorID int64) (orders.Order, error) {
	order, lines, _, err := s.reader.GetOrder(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	locks := []engine.Lock{{Kind: engine.LockOrder, ID: orderID}}
	for _, line := range lines {
		if line.QtyRealized.Sign() > 0 || line.QtyReserved.Sign() > 0 {
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
		if current.Status == orders.StatusRealized || current.AmountPaid.Sign() != 0 {
			return ErrCancelNotAllowed
		}
		if err := s.releaseAll(ctx, st, current, actorID); err != nil {
			return err
		}
		currentLines, err := st.Orders().GetLines(ctx, orderID)
		if err != nil {
			return err
		}
		for _, line := range currentLines {
			if line.Kind != orders.LineItemKind || line.QtyRealized.Sign() <= 0 {
				continue
			}
			_, err := stock.ReverseIssue(ctx, st.Stock(), stock.MovementInput{
				ItemID:    line.ItemID,
				Qty:       line.QtyRealized,
				RefModule: "SALE",
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
		if err := st.Orders().UpdateReservation(ctx, orderID, orders.ReservationNone); err != nil {
			return err
		}
		if err := st.Orders().UpdateStatus(ctx, orderID, orders.StatusCancelled); err != nil {
			return err
		}
		current.Status = orders.StatusCancelled
		current.Reservation = orders.ReservationNone
		updated = current
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	s.recordAudit(ctx, actorID, "SO_CANCEL", orderID, map[string]any{"number": order.Number})
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
	s.recordAudit(ctx, actorID, "SO_CLOSE", orderID, nil)
	s.publish(ctx, updated, "closed")
	return updated, nil
}

// Get returns the order with lines and installments.
func (s *Service) Get(ctx context.Context, orderID int64) (orders.Order, []orders.LineItem, []orders.Installment, error) {
	return s.reader.GetOrder(ctx, orderID)
}

type plannedLine struct {
	lineID  int64
	itemID  int64
	skipped bool
}

// reservationPlan resolves, per line, whether the product can be
// soft-reserved. Recipe-built products are skipped.
func (s *Service) reservationPlan(ctx context.Context, lines []orders.LineItem) ([]plannedLine, error) {
	plan := make([]plannedLine, 0, len(lines))
	for _, line := range lines {
		if line.Kind != orders.LineItemKind {
			continue
		}
		pl := plannedLine{lineID: line.ID, itemID: line.ItemID}
		if s.products != nil {
			product, err := s.products.GetProduct(ctx, line.ItemID)
			if err != nil {
				return nil, err
			}
			pl.skipped = product.RequiresProduction()
		}
		plan = append(plan, pl)
	}
	return plan, nil
}

// applyReservation runs inside a unit: grants each line the lesser of its
// remaining want and the item's available quantity.
func (s *Service) applyReservation(ctx context.Context, st engine.UnitStores, current orders.Order, plan []plannedLine, actorID int64) (orders.Order, []ReservationOutcome, error) {
	currentLines, err := st.Orders().GetLines(ctx, current.ID)
	if err != nil {
		return orders.Order{}, nil, err
	}
	byID := make(map[int64]orders.LineItem, len(currentLines))
	for _, line := range currentLines {
		byID[line.ID] = line
	}
	outcomes := make([]ReservationOutcome, 0, len(plan))
	for _, pl := range plan {
		line, ok := byID[pl.lineID]
		if !ok {
			return orders.Order{}, nil, orders.ErrNotFound
		}
		want := line.Pending().Sub(line.QtyReserved)
		outcome := ReservationOutcome{LineID: line.ID, Requested: want, Skipped: pl.skipped}
		if pl.skipped || want.Sign() <= 0 {
			outcomes = append(outcomes, outcome)
			continue
		}
		item, err := st.Stock().GetItemForUpdate(ctx, line.ItemID)
		if err != nil {
			return orders.Order{}, nil, err
		}
		grant := decimal.Min(want, item.Available())
		if grant.Sign() > 0 {
			_, err := stock.Reserve(ctx, st.Stock(), stock.MovementInput{
				ItemID:    line.ItemID,
				Qty:       grant,
				RefModule: "SALE",
				RefID:     orderflow.LineRef(current.ID, line.ID),
				ActorID:   actorID,
				Note:      fmt.Sprintf("reserve %s", current.Number),
			})
			if err != nil {
				return orders.Order{}, nil, err
			}
			line.QtyReserved = line.QtyReserved.Add(grant)
			if err := st.Orders().UpdateLineReserved(ctx, line.ID, line.QtyReserved); err != nil {
				return orders.Order{}, nil, err
			}
			byID[line.ID] = line
		}
		outcome.Reserved = grant
		outcomes = append(outcomes, outcome)
	}
	updatedLines := make([]orders.LineItem, 0, len(currentLines))
	for _, line := range currentLines {
		updatedLines = append(updatedLines, byID[line.ID])
	}
	state := reservationState(updatedLines)
	if err := st.Orders().UpdateReservation(ctx, current.ID, state); err != nil {
		return orders.Order{}, nil, err
	}
	current.Reservation = state
	return current, outcomes, nil
}

// releaseAll drops every active reservation held by the order's lines.
func (s *Service) releaseAll(ctx context.Context, st engine.UnitStores, current orders.Order, actorID int64) error {
	lines, err := st.Orders().GetLines(ctx, current.ID)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if line.QtyReserved.Sign() <= 0 {
			continue
		}
		_, err := stock.Release(ctx, st.Stock(), stock.MovementInput{
			ItemID:    line.ItemID,
			Qty:       line.QtyReserved,
			RefModule: "SALE",
			RefID:     orderflow.LineRef(current.ID, line.ID),
			ActorID:   actorID,
			Note:      fmt.Sprintf("release %s", current.Number),
		})
		if err != nil {
			return err
		}
		if err := st.Orders().UpdateLineReserved(ctx, line.ID, decimal.Zero); err != nil {
			return err
		}
	}
	return nil
}

type matchedDespatch struct {
	line orders.LineItem
	qty  decimal.Decimal
}

func matchDespatchLines(lines []orders.LineItem, input []DespatchLine) ([]matchedDespatch, error) {
	byID := make(map[int64]orders.LineItem, len(lines))
	for _, line := range lines {
		byID[line.ID] = line
	}
	var matched []matchedDespatch
	for _, dl := range input {
		line, ok := byID[dl.LineID]
		if !ok {
			return nil, orders.ErrNotFound
		}
		qty, err := shared.ParseAmount(dl.Qty)
		if err != nil || qty.Sign() <= 0 {
			return nil, stock.ErrInvalidQuantity
		}
		matched = append(matched, matchedDespatch{line: line, qty: qty})
	}
	return matched, nil
}

// applyDespatch runs inside a unit: consumes reserved quantity first, then
// issues any remainder against unreserved on-hand stock.
func (s *Service) applyDespatch(ctx context.Context, st engine.UnitStores, current orders.Order, despatch []matchedDespatch, actorID int64, refID string) (orders.Order, error) {
	currentLines, err := st.Orders().GetLines(ctx, current.ID)
	if err != nil {
		return orders.Order{}, err
	}
	byID := make(map[int64]orders.LineItem, len(currentLines))
	for _, line := range currentLines {
		byID[line.ID] = line
	}
	for _, dl := range despatch {
		line := byID[dl.line.ID]
		if dl.qty.GreaterThan(line.Pending()) {
			return orders.Order{}, orders.ErrOverRealization
		}
		fromReserved := decimal.Min(line.QtyReserved, dl.qty)
		if fromReserved.Sign() > 0 {
			_, err := stock.Issue(ctx, st.Stock(), stock.MovementInput{
				ItemID:       line.ItemID,
				Qty:          fromReserved,
				FromReserved: true,
				RefModule:    "SALE",
				RefID:        refID,
				ActorID:      actorID,
				Note:         fmt.Sprintf("despatch %s", current.Number),
			})
			if err != nil {
				return orders.Order{}, err
			}
			line.QtyReserved = line.QtyReserved.Sub(fromReserved)
			if err := st.Orders().UpdateLineReserved(ctx, line.ID, line.QtyReserved); err != nil {
				return orders.Order{}, err
			}
		}
		if remainder := dl.qty.Sub(fromReserved); remainder.Sign() > 0 {
			_, err := stock.Issue(ctx, st.Stock(), stock.MovementInput{
				ItemID:    line.ItemID,
				Qty:       remainder,
				RefModule: "SALE",
				RefID:     refID,
				ActorID:   actorID,
				Note:      fmt.Sprintf("despatch %s", current.Number),
			})
			if err != nil {
				return orders.Order{}, err
			}
		}
		line.QtyRealized = line.QtyRealized.Add(dl.qty)
		if err := st.Orders().UpdateLineRealized(ctx, line.ID, line.QtyRealized); err != nil {
			return orders.Order{}, err
		}
		byID[line.ID] = line
	}
	updatedLines := make([]orders.LineItem, 0, len(currentLines))
	for _, line := range currentLines {
		updatedLines = append(updatedLines, byID[line.ID])
	}
	state := reservationState(updatedLines)
	if state != current.Reservation {
		if err := st.Orders().UpdateReservation(ctx, current.ID, state); err != nil {
			return orders.Order{}, err
		}
		current.Reservation = state
	}
	return orderflow.AdvanceStatus(ctx, st, current, updatedLines)
}

// reservationState derives the order-level state from per-line holds.
func reservationState(lines []orders.LineItem) orders.ReservationState {
	anyReserved := false
	allCovered := true
	sawPending := false
	for _, line := range lines {
		if line.Kind != orders.LineItemKind {
			continue
		}
		pending := line.Pending()
		if pending.Sign() <= 0 {
			continue
		}
		sawPending = true
		if line.QtyReserved.Sign() > 0 {
			anyReserved = true
		}
		if line.QtyReserved.LessThan(pending) {
			allCovered = false
		}
	}
	switch {
	case !anyReserved:
		return orders.ReservationNone
	case sawPending && allCovered:
		return orders.ReservationFull
	default:
		return orders.ReservationPartial
	}
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
		return false, fmt.Errorf("sale: invalid ref id: %w", err)
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, "sale"); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "sales_order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func (s *Service) publish(ctx context.Context, order orders.Order, action string) {
	if s.events == nil {
		return
	}
	_ = s.events.HandleSaleEvent(ctx, OrderEvent{OrderID: order.ID, Number: order.Number, Action: action, At: time.Now().UTC()})
}
