package sale

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/andino-erp/andino-erp/internal/engine/enginetest"
	"github.com/andino-erp/andino-erp/internal/ledger"
	"github.com/andino-erp/andino-erp/internal/orders"
	"github.com/andino-erp/andino-erp/internal/refdata"
	"github.com/andino-erp/andino-erp/internal/stock"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memReader struct {
	r *enginetest.Runner
}

func (m memReader) GetOrder(ctx context.Context, orderID int64) (orders.Order, []orders.LineItem, []orders.Installment, error) {
	o, ok := m.r.Orders[orderID]
	if !ok {
		return orders.Order{}, nil, nil, orders.ErrNotFound
	}
	return o, m.r.OrderLines(orderID), m.r.OrderInstallments(orderID), nil
}

type seqNumbers struct {
	n int
}

func (s *seqNumbers) Next(ctx context.Context, prefix string, at time.Time) (string, error) {
	s.n++
	return fmt.Sprintf("%s-2026-%05d", prefix, s.n), nil
}

type memProducts struct {
	products map[int64]refdata.Product
}

func (m memProducts) GetProduct(ctx context.Context, itemID int64) (refdata.Product, error) {
	if p, ok := m.products[itemID]; ok {
		return p, nil
	}
	return refdata.Product{ItemID: itemID, TracksCost: true}, nil
}

type memCustomers struct {
	customers map[int64]refdata.Customer
}

func (m memCustomers) GetCustomer(ctx context.Context, customerID int64) (refdata.Customer, error) {
	c, ok := m.customers[customerID]
	if !ok {
		return refdata.Customer{}, refdata.ErrCustomerNotFound
	}
	return c, nil
}

type fixedExposure struct {
	amount decimal.Decimal
}

func (f fixedExposure) OutstandingExposure(ctx context.Context, customerID int64, currency string) (decimal.Decimal, error) {
	return f.amount, nil
}

func newTestService(r *enginetest.Runner, credit *CreditChecker) *Service {
	products := memProducts{products: map[int64]refdata.Product{}}
	return NewService(r, memReader{r}, products, credit, &seqNumbers{}, nil, nil, nil)
}

func TestCreateDraft(t *testing.T) {
	r := enginetest.NewRunner()
	svc := newTestService(r, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		CustomerID: 3,
		Lines:      []LineInput{{ItemID: 1, Qty: "10", UnitPrice: "100.00"}},
	})
	require.NoError(t, err)
	require.Equal(t, "SO-2026-00001", created.Number)
	require.Equal(t, orders.StatusDraft, created.Status)
	require.True(t, created.Subtotal.Equal(d("1000.00")))
	require.True(t, created.Tax.Equal(d("180.00")))
	require.True(t, created.Total.Equal(d("1180.00")))
	require.True(t, created.BalanceDue.Equal(created.Total))

	_, err = svc.Create(ctx, CreateInput{Lines: []LineInput{{ItemID: 1, Qty: "1", UnitPrice: "1"}}})
	require.ErrorIs(t, err, orders.ErrValidation)
}

func TestConfirmCreditAdmission(t *testing.T) {
	r := enginetest.NewRunner()
	limit := d("1000.00")
	customers := memCustomers{customers: map[int64]refdata.Customer{
		3: {ID: 3, Currency: "PEN", CreditLimit: &limit},
	}}
	reject := NewCreditChecker(customers, fixedExposure{decimal.Zero}, PolicyReject, nil)
	warn := NewCreditChecker(customers, fixedExposure{decimal.Zero}, PolicyWarn, nil)
	ctx := context.Background()

	svc := newTestService(r, reject)
	created, err := svc.Create(ctx, CreateInput{
		CustomerID:  3,
		PaymentTerm: "CREDIT",
		Lines:       []LineInput{{ItemID: 1, Qty: "10", UnitPrice: "100.00"}},
	})
	require.NoError(t, err) // total 1180.00 against a 1000.00 limit

	_, _, err = svc.Confirm(ctx, ConfirmInput{OrderID: created.ID})
	require.ErrorIs(t, err, ErrCreditLimitExceeded)
	require.Equal(t, orders.StatusDraft, r.Orders[created.ID].Status)

	// The warn policy admits the same order and only logs the overrun.
	warnSvc := newTestService(r, warn)
	updated, _, err := warnSvc.Confirm(ctx, ConfirmInput{OrderID: created.ID})
	require.NoError(t, err)
	require.Equal(t, orders.StatusConfirmed, updated.Status)
}

func TestConfirmCashSkipsCreditCheck(t *testing.T) {
	r := enginetest.NewRunner()
	limit := d("1.00")
	customers := memCustomers{customers: map[int64]refdata.Customer{
		3: {ID: 3, Currency: "PEN", CreditLimit: &limit},
	}}
	svc := newTestService(r, NewCreditChecker(customers, fixedExposure{decimal.Zero}, PolicyReject, nil))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		CustomerID: 3,
		Lines:      []LineInput{{ItemID: 1, Qty: "10", UnitPrice: "100.00"}},
	})
	require.NoError(t, err)

	updated, _, err := svc.Confirm(ctx, ConfirmInput{OrderID: created.ID})
	require.NoError(t, err)
	require.Equal(t, orders.StatusConfirmed, updated.Status)
}

func TestConfirmReservesStock(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "100", "10.00", true)
	svc := newTestService(r, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{CustomerID: 3, Lines: []LineInput{{ItemID: 1, Qty: "10", UnitPrice: "25.00"}}})
	require.NoError(t, err)

	updated, outcomes, err := svc.Confirm(ctx, ConfirmInput{OrderID: created.ID, Reserve: true})
	require.NoError(t, err)
	require.Equal(t, orders.StatusConfirmed, updated.Status)
	require.Equal(t, orders.ReservationFull, updated.Reservation)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Requested.Equal(d("10")))
	require.True(t, outcomes[0].Reserved.Equal(d("10")))
	require.True(t, r.Items[1].Reserved.Equal(d("10")))
}

func TestReserveStockPartialGrantAndSkips(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "6", "10.00", true)
	r.SeedItem(2, "0", "0", true)
	svc := newTestService(r, nil)
	svc.products = memProducts{products: map[int64]refdata.Product{
		2: {ItemID: 2, TracksCost: true, BillOfMaterials: []refdata.BOMLine{{ComponentID: 1, QtyPerUnit: d("1")}}},
	}}
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{CustomerID: 3, Lines: []LineInput{
		{ItemID: 1, Qty: "10", UnitPrice: "25.00"},
		{ItemID: 2, Qty: "5", UnitPrice: "80.00"},
	}})
	require.NoError(t, err)
	_, _, err = svc.Confirm(ctx, ConfirmInput{OrderID: created.ID})
	require.NoError(t, err)

	updated, outcomes, err := svc.ReserveStock(ctx, created.ID, 1)
	require.NoError(t, err)
	require.Equal(t, orders.ReservationPartial, updated.Reservation)
	require.Len(t, outcomes, 2)
	require.True(t, outcomes[0].Reserved.Equal(d("6"))) // capped at availability
	require.False(t, outcomes[0].Skipped)
	require.True(t, outcomes[1].Skipped) // recipe-built, cannot hold stock
	require.True(t, outcomes[1].Reserved.IsZero())
	require.True(t, r.Items[1].Reserved.Equal(d("6")))
}

func TestDespatchConsumesReservationFirst(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "10", "10.00", true)
	svc := newTestService(r, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{CustomerID: 3, Lines: []LineInput{{ItemID: 1, Qty: "10", UnitPrice: "25.00"}}})
	require.NoError(t, err)
	_, _, err = svc.Confirm(ctx, ConfirmInput{OrderID: created.ID, Reserve: true})
	require.NoError(t, err)
	line := r.OrderLines(created.ID)[0]

	updated, err := svc.Despatch(ctx, DespatchInput{OrderID: created.ID, Lines: []DespatchLine{{LineID: line.ID, Qty: "10"}}})
	require.NoError(t, err)
	require.Equal(t, orders.StatusRealized, updated.Status)
	require.Equal(t, orders.ReservationNone, updated.Reservation)

	item := r.Items[1]
	require.True(t, item.OnHand.IsZero())
	require.True(t, item.Reserved.IsZero())
	require.True(t, r.Lines[line.ID].QtyRealized.Equal(d("10")))
}

func TestDespatchMixesReservedAndOnHand(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "20", "10.00", true)
	svc := newTestService(r, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{CustomerID: 3, Lines: []LineInput{{ItemID: 1, Qty: "10", UnitPrice: "25.00"}}})
	require.NoError(t, err)
	_, _, err = svc.Confirm(ctx, ConfirmInput{OrderID: created.ID})
	require.NoError(t, err)
	line := r.OrderLines(created.ID)[0]

	// Hand-tune a partial reservation, then despatch past it.
	l := r.Lines[line.ID]
	l.QtyReserved = d("4")
	r.Lines[line.ID] = l
	item := r.Items[1]
	item.Reserved = d("4")
	r.Items[1] = item

	updated, err := svc.Despatch(ctx, DespatchInput{OrderID: created.ID, Lines: []DespatchLine{{LineID: line.ID, Qty: "10"}}})
	require.NoError(t, err)
	require.Equal(t, orders.StatusRealized, updated.Status)
	require.True(t, r.Items[1].OnHand.Equal(d("10")))
	require.True(t, r.Items[1].Reserved.IsZero())
}

func TestDespatchInsufficientStockRollsBack(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "5", "10.00", true)
	svc := newTestService(r, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{CustomerID: 3, Lines: []LineInput{{ItemID: 1, Qty: "10", UnitPrice: "25.00"}}})
	require.NoError(t, err)
	_, _, err = svc.Confirm(ctx, ConfirmInput{OrderID: created.ID})
	require.NoError(t, err)
	line := r.OrderLines(created.ID)[0]

	_, err = svc.Despatch(ctx, DespatchInput{OrderID: created.ID, Lines: []DespatchLine{{LineID: line.ID, Qty: "10"}}})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.True(t, r.Items[1].OnHand.Equal(d("5")))
	require.True(t, r.Lines[line.ID].QtyRealized.IsZero())

	_, err = svc.Despatch(ctx, DespatchInput{OrderID: created.ID, Lines: []DespatchLine{{LineID: line.ID, Qty: "12"}}})
	require.ErrorIs(t, err, orders.ErrOverRealization)
}

func TestRecordPayment(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "10", "10.00", true)
	r.SeedAccount(4, ledger.AccountKindBank, "0", "0")
	svc := newTestService(r, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{CustomerID: 3, Lines: []LineInput{{ItemID: 1, Qty: "10", UnitPrice: "10.00"}}})
	require.NoError(t, err) // total 118.00
	_, _, err = svc.Confirm(ctx, ConfirmInput{OrderID: created.ID})
	require.NoError(t, err)

	updated, err := svc.RecordPayment(ctx, PaymentInput{OrderID: created.ID, AccountID: 4, Amount: "50.00"})
	require.NoError(t, err)
	require.Equal(t, orders.StatusPaidPartial, updated.Status)
	require.True(t, r.Accounts[4].Balance.Equal(d("50.00")))

	_, err = svc.RecordPayment(ctx, PaymentInput{OrderID: created.ID, AccountID: 4, Amount: "68.02"})
	require.ErrorIs(t, err, orders.ErrOverpayment)

	updated, err = svc.RecordPayment(ctx, PaymentInput{OrderID: created.ID, AccountID: 4, Amount: "68.00"})
	require.NoError(t, err)
	require.Equal(t, orders.StatusPaid, updated.Status)
	require.True(t, updated.BalanceDue.IsZero())
}

func TestCancelReleasesAndReverses(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "100", "10.00", true)
	svc := newTestService(r, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{CustomerID: 3, Lines: []LineInput{{ItemID: 1, Qty: "10", UnitPrice: "25.00"}}})
	require.NoError(t, err)
	_, _, err = svc.Confirm(ctx, ConfirmInput{OrderID: created.ID, Reserve: true})
	require.NoError(t, err)
	line := r.OrderLines(created.ID)[0]

	_, err = svc.Despatch(ctx, DespatchInput{OrderID: created.ID, Lines: []DespatchLine{{LineID: line.ID, Qty: "4"}}})
	require.NoError(t, err)
	require.True(t, r.Items[1].OnHand.Equal(d("96")))

	updated, err := svc.Cancel(ctx, created.ID, 1)
	require.NoError(t, err)
	require.Equal(t, orders.StatusCancelled, updated.Status)
	require.Equal(t, orders.ReservationNone, updated.Reservation)

	item := r.Items[1]
	require.True(t, item.OnHand.Equal(d("100")))
	require.True(t, item.Reserved.IsZero())
	require.True(t, item.UnitCost.Equal(d("10.00"))) // reversal at average leaves cost alone
}

func TestCancelBlockedAfterDespatchOrPayment(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "10", "10.00", true)
	r.SeedAccount(4, ledger.AccountKindBank, "0", "0")
	svc := newTestService(r, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{CustomerID: 3, Lines: []LineInput{{ItemID: 1, Qty: "10", UnitPrice: "10.00"}}})
	require.NoError(t, err)
	_, _, err = svc.Confirm(ctx, ConfirmInput{OrderID: created.ID})
	require.NoError(t, err)
	line := r.OrderLines(created.ID)[0]

	_, err = svc.Despatch(ctx, DespatchInput{OrderID: created.ID, Lines: []DespatchLine{{LineID: line.ID, Qty: "10"}}})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, created.ID, 1)
	require.ErrorIs(t, err, ErrCancelNotAllowed)
}

func TestCloseRequiresPaid(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedAccount(4, ledger.AccountKindBank, "0", "0")
	svc := newTestService(r, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{CustomerID: 3, Lines: []LineInput{{ItemID: 1, Qty: "1", UnitPrice: "100.00"}}})
	require.NoError(t, err)
	_, _, err = svc.Confirm(ctx, ConfirmInput{OrderID: created.ID})
	require.NoError(t, err)

	_, err = svc.Close(ctx, created.ID, 1)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	_, err = svc.RecordPayment(ctx, PaymentInput{OrderID: created.ID, AccountID: 4, Amount: "118.00"})
	require.NoError(t, err)

	updated, err := svc.Close(ctx, created.ID, 1)
	require.NoError(t, err)
	require.Equal(t, orders.StatusClosed, updated.Status)
}

func TestCreditCheckerNoLimitAdmits(t *testing.T) {
	customers := memCustomers{customers: map[int64]refdata.Customer{
		9: {ID: 9, Currency: "PEN"},
	}}
	checker := NewCreditChecker(customers, fixedExposure{d("99999")}, PolicyReject, nil)
	err := checker.Check(context.Background(), 9, "PEN", d("1000000"), orders.TermCredit)
	require.NoError(t, err)
}

func TestCreditCheckerCountsOutstanding(t *testing.T) {
	limit := d("1000.00")
	customers := memCustomers{customers: map[int64]refdata.Customer{
		9: {ID: 9, Currency: "PEN", CreditLimit: &limit},
	}}
	checker := NewCreditChecker(customers, fixedExposure{d("900.00")}, Policy("bogus"), nil)
	// Unknown policy falls back to strict rejection.
	err := checker.Check(context.Background(), 9, "PEN", d("200.00"), orders.TermCredit)
	require.ErrorIs(t, err, ErrCreditLimitExceeded)

	err = checker.Check(context.Background(), 9, "PEN", d("100.00"), orders.TermCredit)
	require.NoError(t, err)
}
