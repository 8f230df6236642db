package orderflow

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/andino-erp/andino-erp/internal/engine"
	"github.com/andino-erp/andino-erp/internal/engine/enginetest"
	"github.com/andino-erp/andino-erp/internal/orders"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedOrder(t *testing.T, r *enginetest.Runner, o orders.Order, lines ...orders.LineItem) int64 {
	t.Helper()
	var id int64
	err := r.Execute(context.Background(), nil, func(ctx context.Context, st engine.UnitStores) error {
		var err error
		id, err = st.Orders().InsertOrder(ctx, o)
		if err != nil {
			return err
		}
		for _, line := range lines {
			line.OrderID = id
			if _, err := st.Orders().InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return id
}

func TestBuildLinesTotals(t *testing.T) {
	lines, subtotal, err := BuildLines([]LineSpec{
		{ItemID: 1, Qty: "3", Price: "10.50"},
		{ItemID: 2, Qty: "0.5", Price: "7.99"},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.True(t, lines[0].LineTotal.Equal(d("31.50")))
	require.True(t, lines[1].LineTotal.Equal(d("4.00"))) // 3.995 rounds to 4.00
	require.True(t, subtotal.Equal(d("35.50")))
	require.Equal(t, orders.LineItemKind, lines[0].Kind)
}

func TestBuildLinesValidation(t *testing.T) {
	cases := [][]LineSpec{
		{{ItemID: 0, Qty: "1", Price: "10"}},
		{{ItemID: 1, Qty: "0", Price: "10"}},
		{{ItemID: 1, Qty: "-2", Price: "10"}},
		{{ItemID: 1, Qty: "abc", Price: "10"}},
		{{ItemID: 1, Qty: "1", Price: "x"}},
	}
	for _, specs := range cases {
		_, _, err := BuildLines(specs)
		require.ErrorIs(t, err, orders.ErrValidation)
	}
}

func TestSettleKeepsPaymentIdentity(t *testing.T) {
	r := enginetest.NewRunner()
	id := seedOrder(t, r, orders.Order{
		Number: "SO-2026-00001", Status: orders.StatusRealized,
		PaymentTerm: orders.TermCash,
		Total:       d("118.00"), AmountPaid: decimal.Zero, BalanceDue: d("118.00"),
	}, orders.LineItem{Kind: orders.LineItemKind, ItemID: 1, QtyOrdered: d("10"), QtyRealized: d("10")})

	err := r.Execute(context.Background(), nil, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		updated, err := Settle(ctx, st, current, 0, d("50.00"))
		if err != nil {
			return err
		}
		require.Equal(t, orders.StatusPaidPartial, updated.Status)
		return nil
	})
	require.NoError(t, err)

	o := r.Orders[id]
	require.True(t, o.AmountPaid.Add(o.BalanceDue).Equal(o.Total))
	require.True(t, o.AmountPaid.Equal(d("50.00")))

	err = r.Execute(context.Background(), nil, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		updated, err := Settle(ctx, st, current, 0, d("68.00"))
		if err != nil {
			return err
		}
		require.Equal(t, orders.StatusPaid, updated.Status)
		return nil
	})
	require.NoError(t, err)
	require.True(t, r.Orders[id].BalanceDue.IsZero())
}

func TestSettleInstallment(t *testing.T) {
	r := enginetest.NewRunner()
	id := seedOrder(t, r, orders.Order{
		Number: "SO-2026-00002", Status: orders.StatusRealized,
		PaymentTerm: orders.TermCredit,
		Total:       d("300.00"), BalanceDue: d("300.00"),
	}, orders.LineItem{Kind: orders.LineItemKind, ItemID: 1, QtyOrdered: d("1"), QtyRealized: d("1")})

	var instID int64
	err := r.Execute(context.Background(), nil, func(ctx context.Context, st engine.UnitStores) error {
		var err error
		instID, err = st.Orders().InsertInstallment(ctx, orders.Installment{
			OrderID: id, Seq: 1, Amount: d("150.00"),
			DueDate: time.Now().AddDate(0, 1, 0), Status: orders.InstallmentPending,
		})
		return err
	})
	require.NoError(t, err)

	err = r.Execute(context.Background(), nil, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		_, err = Settle(ctx, st, current, instID, d("100.00"))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, orders.InstallmentPartial, r.Installments[instID].Status)

	// 149.995 would already count as paid; 49.99 tops it over the tolerance line.
	err = r.Execute(context.Background(), nil, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		_, err = Settle(ctx, st, current, instID, d("49.99"))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, orders.InstallmentPaid, r.Installments[instID].Status)
	require.True(t, r.Installments[instID].AmountPaid.Equal(d("149.99")))
}

func TestSettleInstallmentGuards(t *testing.T) {
	r := enginetest.NewRunner()
	id := seedOrder(t, r, orders.Order{
		Number: "SO-2026-00003", Status: orders.StatusRealized,
		PaymentTerm: orders.TermCredit,
		Total:       d("100.00"), BalanceDue: d("100.00"),
	}, orders.LineItem{Kind: orders.LineItemKind, ItemID: 1, QtyOrdered: d("1"), QtyRealized: d("1")})

	var cancelled int64
	err := r.Execute(context.Background(), nil, func(ctx context.Context, st engine.UnitStores) error {
		var err error
		cancelled, err = st.Orders().InsertInstallment(ctx, orders.Installment{
			OrderID: id, Seq: 1, Amount: d("100.00"),
			DueDate: time.Now(), Status: orders.InstallmentCancelled,
		})
		return err
	})
	require.NoError(t, err)

	err = r.Execute(context.Background(), nil, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		_, err = Settle(ctx, st, current, cancelled, d("10.00"))
		return err
	})
	require.ErrorIs(t, err, orders.ErrValidation)
	// The unit rolled back, so the header payment stayed untouched.
	require.True(t, r.Orders[id].AmountPaid.IsZero())

	err = r.Execute(context.Background(), nil, func(ctx context.Context, st engine.UnitStores) error {
		current, err := st.Orders().GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		_, err = Settle(ctx, st, current, 999, d("10.00"))
		return err
	})
	require.ErrorIs(t, err, orders.ErrNotFound)
}

func TestCreateSchedule(t *testing.T) {
	r := enginetest.NewRunner()
	id := seedOrder(t, r, orders.Order{
		Number: "SO-2026-00004", Status: orders.StatusConfirmed,
		PaymentTerm: orders.TermCredit,
		Total:       d("300.00"), BalanceDue: d("300.00"),
	})
	due := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	created, err := CreateSchedule(context.Background(), r, id, []ScheduleLine{
		{Amount: "100.00", DueDate: due},
		{Amount: "100.00", DueDate: due.AddDate(0, 1, 0)},
		{Amount: "100.50", DueDate: due.AddDate(0, 2, 0)}, // within the rounding tolerance
	})
	require.NoError(t, err)
	require.Len(t, created, 3)
	require.Equal(t, 1, created[0].Seq)
	require.Equal(t, 3, created[2].Seq)
	require.Equal(t, orders.InstallmentPending, created[0].Status)
}

func TestCreateScheduleMismatch(t *testing.T) {
	r := enginetest.NewRunner()
	id := seedOrder(t, r, orders.Order{
		Number: "SO-2026-00005", Status: orders.StatusConfirmed,
		PaymentTerm: orders.TermCredit,
		Total:       d("300.00"), BalanceDue: d("300.00"),
	})
	due := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	_, err := CreateSchedule(context.Background(), r, id, []ScheduleLine{
		{Amount: "100.00", DueDate: due},
		{Amount: "100.00", DueDate: due},
	})
	require.ErrorIs(t, err, orders.ErrScheduleMismatch)
	require.Empty(t, r.OrderInstallments(id))
}

func TestCreateScheduleRequiresCreditTerm(t *testing.T) {
	r := enginetest.NewRunner()
	id := seedOrder(t, r, orders.Order{
		Number: "SO-2026-00006", Status: orders.StatusConfirmed,
		PaymentTerm: orders.TermCash,
		Total:       d("100.00"), BalanceDue: d("100.00"),
	})
	_, err := CreateSchedule(context.Background(), r, id, []ScheduleLine{
		{Amount: "100.00", DueDate: time.Now()},
	})
	require.ErrorIs(t, err, orders.ErrValidation)

	_, err = CreateSchedule(context.Background(), r, id, nil)
	require.ErrorIs(t, err, orders.ErrValidation)
}

func TestCreateScheduleRejectsExistingPlan(t *testing.T) {
	r := enginetest.NewRunner()
	id := seedOrder(t, r, orders.Order{
		Number: "SO-2026-00007", Status: orders.StatusConfirmed,
		PaymentTerm: orders.TermCredit,
		Total:       d("200.00"), BalanceDue: d("200.00"),
	})
	due := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	_, err := CreateSchedule(context.Background(), r, id, []ScheduleLine{{Amount: "200.00", DueDate: due}})
	require.NoError(t, err)

	_, err = CreateSchedule(context.Background(), r, id, []ScheduleLine{{Amount: "200.00", DueDate: due}})
	require.ErrorIs(t, err, orders.ErrValidation)
}

func TestCancelPendingInstallments(t *testing.T) {
	r := enginetest.NewRunner()
	id := seedOrder(t, r, orders.Order{
		Number: "SO-2026-00008", Status: orders.StatusConfirmed,
		PaymentTerm: orders.TermCredit,
		Total:       d("200.00"), BalanceDue: d("200.00"),
	})
	var pending, paid int64
	err := r.Execute(context.Background(), nil, func(ctx context.Context, st engine.UnitStores) error {
		var err error
		pending, err = st.Orders().InsertInstallment(ctx, orders.Installment{OrderID: id, Seq: 1, Amount: d("100.00"), DueDate: time.Now(), Status: orders.InstallmentPending})
		if err != nil {
			return err
		}
		paid, err = st.Orders().InsertInstallment(ctx, orders.Installment{OrderID: id, Seq: 2, Amount: d("100.00"), AmountPaid: d("100.00"), DueDate: time.Now(), Status: orders.InstallmentPaid})
		return err
	})
	require.NoError(t, err)

	err = r.Execute(context.Background(), nil, func(ctx context.Context, st engine.UnitStores) error {
		return CancelPendingInstallments(ctx, st, id)
	})
	require.NoError(t, err)
	require.Equal(t, orders.InstallmentCancelled, r.Installments[pending].Status)
	require.Equal(t, orders.InstallmentPaid, r.Installments[paid].Status)
}

func TestLineRefStable(t *testing.T) {
	require.Equal(t, LineRef(3, 7), LineRef(3, 7))
	require.NotEqual(t, LineRef(3, 7), LineRef(3, 8))
}

func TestPaymentTermDefaultsToCash(t *testing.T) {
	require.Equal(t, orders.TermCredit, PaymentTerm("CREDIT"))
	require.Equal(t, orders.TermCash, PaymentTerm("CASH"))
	require.Equal(t, orders.TermCash, PaymentTerm(""))
	require.Equal(t, orders.TermCash, PaymentTerm("NET30"))
}
