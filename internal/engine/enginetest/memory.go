// Package enginetest provides an in-memory engine.Runner and stores for
// service tests. Mutation steps see the same maps the assertions read, and a
// failed unit restores the prior state like a rolled-back transaction.
package enginetest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andino-erp/andino-erp/internal/engine"
	"github.com/andino-erp/andino-erp/internal/ledger"
	"github.com/andino-erp/andino-erp/internal/orders"
	"github.com/andino-erp/andino-erp/internal/stock"
)

// Runner is an in-memory engine.Runner with snapshot rollback.
type Runner struct {
	Items          map[int64]stock.Item
	StockMovements []stock.Movement
	Accounts       map[int64]ledger.Account
	AcctMovements  []ledger.Movement
	Orders         map[int64]orders.Order
	Lines          map[int64]orders.LineItem
	Installments   map[int64]orders.Installment
	nextID         int64
}

// NewRunner builds an empty Runner.
func NewRunner() *Runner {
	return &Runner{
		Items:        make(map[int64]stock.Item),
		Accounts:     make(map[int64]ledger.Account),
		Orders:       make(map[int64]orders.Order),
		Lines:        make(map[int64]orders.LineItem),
		Installments: make(map[int64]orders.Installment),
	}
}

// SeedItem registers a stock item and returns it.
func (r *Runner) SeedItem(id int64, onHand, unitCost string, tracksCost bool) stock.Item {
	item := stock.Item{
		ID:         id,
		SKU:        "SKU-" + decimal.NewFromInt(id).String(),
		OnHand:     decimal.RequireFromString(onHand),
		Reserved:   decimal.Zero,
		UnitCost:   decimal.RequireFromString(unitCost),
		TracksCost: tracksCost,
		Active:     true,
	}
	r.Items[id] = item
	return item
}

// SeedAccount registers a payment account and returns it.
func (r *Runner) SeedAccount(id int64, kind ledger.AccountKind, balance, creditLimit string) ledger.Account {
	account := ledger.Account{
		ID:          id,
		Currency:    "PEN",
		Kind:        kind,
		Balance:     decimal.RequireFromString(balance),
		CreditLimit: decimal.RequireFromString(creditLimit),
		Active:      true,
	}
	r.Accounts[id] = account
	return account
}

// OrderLines returns the lines of one order ordered by id.
func (r *Runner) OrderLines(orderID int64) []orders.LineItem {
	var lines []orders.LineItem
	for id := int64(1); id <= r.nextID; id++ {
		if line, ok := r.Lines[id]; ok && line.OrderID == orderID {
			lines = append(lines, line)
		}
	}
	return lines
}

// OrderInstallments returns the installments of one order ordered by seq.
func (r *Runner) OrderInstallments(orderID int64) []orders.Installment {
	var result []orders.Installment
	for id := int64(1); id <= r.nextID; id++ {
		if inst, ok := r.Installments[id]; ok && inst.OrderID == orderID {
			result = append(result, inst)
		}
	}
	return result
}

// Execute implements engine.Runner. On error every map is restored, matching
// the all-or-nothing contract of the real coordinator.
func (r *Runner) Execute(ctx context.Context, locks []engine.Lock, fn func(ctx context.Context, st engine.UnitStores) error) error {
	snap := r.snapshot()
	if err := fn(ctx, memStores{r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	items          map[int64]stock.Item
	stockMovements []stock.Movement
	accounts       map[int64]ledger.Account
	acctMovements  []ledger.Movement
	orders         map[int64]orders.Order
	lines          map[int64]orders.LineItem
	installments   map[int64]orders.Installment
	nextID         int64
}

func (r *Runner) snapshot() snapshot {
	return snapshot{
		items:          copyMap(r.Items),
		stockMovements: append([]stock.Movement(nil), r.StockMovements...),
		accounts:       copyMap(r.Accounts),
		acctMovements:  append([]ledger.Movement(nil), r.AcctMovements...),
		orders:         copyMap(r.Orders),
		lines:          copyMap(r.Lines),
		installments:   copyMap(r.Installments),
		nextID:         r.nextID,
	}
}

func (r *Runner) restore(s snapshot) {
	r.Items = s.items
	r.StockMovements = s.stockMovements
	r.Accounts = s.accounts
	r.AcctMovements = s.acctMovements
	r.Orders = s.orders
	r.Lines = s.lines
	r.Installments = s.installments
	r.nextID = s.nextID
}

func copyMap[V any](src map[int64]V) map[int64]V {
	dst := make(map[int64]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (r *Runner) id() int64 {
	r.nextID++
	return r.nextID
}

type memStores struct {
	r *Runner
}

func (m memStores) Stock() stock.TxStore     { return stockStore{m.r} }
func (m memStores) Accounts() ledger.TxStore { return ledgerStore{m.r} }
func (m memStores) Orders() orders.TxStore   { return orderStore{m.r} }

type stockStore struct {
	r *Runner
}

func (s stockStore) GetItemForUpdate(ctx context.Context, itemID int64) (stock.Item, error) {
	item, ok := s.r.Items[itemID]
	if !ok {
		return stock.Item{}, stock.ErrItemNotFound
	}
	return item, nil
}

func (s stockStore) UpdateItem(ctx context.Context, item stock.Item) error {
	if _, ok := s.r.Items[item.ID]; !ok {
		return stock.ErrItemNotFound
	}
	s.r.Items[item.ID] = item
	return nil
}

func (s stockStore) InsertMovement(ctx context.Context, m stock.Movement) (int64, error) {
	m.ID = s.r.id()
	s.r.StockMovements = append(s.r.StockMovements, m)
	return m.ID, nil
}

func (s stockStore) ListMovementsByRef(ctx context.Context, itemID int64, refID string) ([]stock.Movement, error) {
	var movements []stock.Movement
	for _, m := range s.r.StockMovements {
		if m.ItemID == itemID && m.RefID == refID {
			movements = append(movements, m)
		}
	}
	return movements, nil
}

type ledgerStore struct {
	r *Runner
}

func (s ledgerStore) GetAccountForUpdate(ctx context.Context, accountID int64) (ledger.Account, error) {
	account, ok := s.r.Accounts[accountID]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return account, nil
}

func (s ledgerStore) UpdateBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error {
	account, ok := s.r.Accounts[accountID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	account.Balance = balance
	account.UpdatedAt = at
	s.r.Accounts[accountID] = account
	return nil
}

func (s ledgerStore) InsertMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	m.ID = s.r.id()
	s.r.AcctMovements = append(s.r.AcctMovements, m)
	return m.ID, nil
}

type orderStore struct {
	r *Runner
}

func (s orderStore) InsertOrder(ctx context.Context, o orders.Order) (int64, error) {
	for _, existing := range s.r.Orders {
		if existing.Number == o.Number {
			return 0, orders.ErrDuplicateNumber
		}
	}
	o.ID = s.r.id()
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	s.r.Orders[o.ID] = o
	return o.ID, nil
}

func (s orderStore) InsertLine(ctx context.Context, line orders.LineItem) (int64, error) {
	line.ID = s.r.id()
	s.r.Lines[line.ID] = line
	return line.ID, nil
}

func (s orderStore) InsertInstallment(ctx context.Context, inst orders.Installment) (int64, error) {
	inst.ID = s.r.id()
	s.r.Installments[inst.ID] = inst
	return inst.ID, nil
}

func (s orderStore) GetOrderForUpdate(ctx context.Context, orderID int64) (orders.Order, error) {
	o, ok := s.r.Orders[orderID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (s orderStore) GetLines(ctx context.Context, orderID int64) ([]orders.LineItem, error) {
	return s.r.OrderLines(orderID), nil
}

func (s orderStore) GetInstallments(ctx context.Context, orderID int64) ([]orders.Installment, error) {
	return s.r.OrderInstallments(orderID), nil
}

func (s orderStore) UpdateStatus(ctx context.Context, orderID int64, status orders.Status) error {
	return s.mutateOrder(orderID, func(o *orders.Order) { o.Status = status })
}

func (s orderStore) UpdateReservation(ctx context.Context, orderID int64, state orders.ReservationState) error {
	return s.mutateOrder(orderID, func(o *orders.Order) { o.Reservation = state })
}

func (s orderStore) UpdatePayment(ctx context.Context, orderID int64, amountPaid, balanceDue decimal.Decimal) error {
	return s.mutateOrder(orderID, func(o *orders.Order) {
		o.AmountPaid = amountPaid
		o.BalanceDue = balanceDue
	})
}

func (s orderStore) UpdateMaterialCost(ctx context.Context, orderID int64, cost decimal.Decimal) error {
	return s.mutateOrder(orderID, func(o *orders.Order) { o.MaterialCost = cost })
}

func (s orderStore) UpdateLineRealized(ctx context.Context, lineID int64, qtyRealized decimal.Decimal) error {
	return s.mutateLine(lineID, func(l *orders.LineItem) { l.QtyRealized = qtyRealized })
}

func (s orderStore) UpdateLineReserved(ctx context.Context, lineID int64, qtyReserved decimal.Decimal) error {
	return s.mutateLine(lineID, func(l *orders.LineItem) { l.QtyReserved = qtyReserved })
}

func (s orderStore) UpdateLinePrice(ctx context.Context, lineID int64, unitPrice decimal.Decimal) error {
	return s.mutateLine(lineID, func(l *orders.LineItem) { l.UnitPrice = unitPrice })
}

func (s orderStore) UpdateInstallment(ctx context.Context, installmentID int64, status orders.InstallmentStatus, amountPaid decimal.Decimal) error {
	inst, ok := s.r.Installments[installmentID]
	if !ok {
		return orders.ErrNotFound
	}
	inst.Status = status
	inst.AmountPaid = amountPaid
	s.r.Installments[installmentID] = inst
	return nil
}

func (s orderStore) mutateOrder(orderID int64, fn func(*orders.Order)) error {
	o, ok := s.r.Orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	fn(&o)
	o.UpdatedAt = time.Now().UTC()
	s.r.Orders[orderID] = o
	return nil
}

func (s orderStore) mutateLine(lineID int64, fn func(*orders.LineItem)) error {
	line, ok := s.r.Lines[lineID]
	if !ok {
		return orders.ErrNotFound
	}
	fn(&line)
	s.r.Lines[lineID] = line
	return nil
}
