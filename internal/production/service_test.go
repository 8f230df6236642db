package production

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/andino-erp/andino-erp/internal/engine/enginetest"
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

func newTestService(r *enginetest.Runner, products ProductPort) *Service {
	if products == nil {
		products = memProducts{products: map[int64]refdata.Product{}}
	}
	return NewService(r, memReader{r}, products, &seqNumbers{}, nil, nil, nil)
}

// panetonRecipe is 2 units of component 1 and 1 unit of component 2 per unit
// of output item 10.
func panetonRecipe() memProducts {
	return memProducts{products: map[int64]refdata.Product{
		10: {ItemID: 10, TracksCost: true, BillOfMaterials: []refdata.BOMLine{
			{ComponentID: 1, QtyPerUnit: d("2")},
			{ComponentID: 2, QtyPerUnit: d("1")},
		}},
	}}
}

func TestCreateDraftWithOutputLine(t *testing.T) {
	r := enginetest.NewRunner()
	svc := newTestService(r, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OutputItemID: 10, Qty: "50"})
	require.NoError(t, err)
	require.Equal(t, "OP-2026-00001", created.Number)
	require.Equal(t, orders.StatusDraft, created.Status)
	require.True(t, created.Total.IsZero())

	lines := r.OrderLines(created.ID)
	require.Len(t, lines, 1)
	require.Equal(t, orders.LineOutput, lines[0].Kind)
	require.True(t, lines[0].QtyOrdered.Equal(d("50")))

	_, err = svc.Create(ctx, CreateInput{OutputItemID: 10, Qty: "0"})
	require.ErrorIs(t, err, orders.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{Qty: "5"})
	require.ErrorIs(t, err, orders.ErrValidation)
}

func TestStartPlansComponentLines(t *testing.T) {
	r := enginetest.NewRunner()
	svc := newTestService(r, panetonRecipe())
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OutputItemID: 10, Qty: "50"})
	require.NoError(t, err)

	updated, err := svc.Start(ctx, created.ID, 1)
	require.NoError(t, err)
	require.Equal(t, orders.StatusConfirmed, updated.Status)

	var components []orders.LineItem
	for _, line := range r.OrderLines(created.ID) {
		if line.Kind == orders.LineComponent {
			components = append(components, line)
		}
	}
	require.Len(t, components, 2)
	require.True(t, components[0].QtyOrdered.Equal(d("100"))) // 2 per unit x 50
	require.True(t, components[1].QtyOrdered.Equal(d("50")))

	_, err = svc.Start(ctx, created.ID, 1)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestRecordOutputBatchCosting(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "100", "3.00", true)
	r.SeedItem(2, "100", "4.00", true)
	r.SeedItem(10, "0", "0", true)
	svc := newTestService(r, panetonRecipe())
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OutputItemID: 10, Qty: "50"})
	require.NoError(t, err)
	_, err = svc.Start(ctx, created.ID, 1)
	require.NoError(t, err)

	// Batch of 10: consumes 20 of component 1 at 3.00 and 10 of component 2
	// at 4.00, so the batch costs 100 and each output unit 10.
	updated, err := svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "10"})
	require.NoError(t, err)
	require.Equal(t, orders.StatusPartiallyRealized, updated.Status)
	require.True(t, updated.MaterialCost.Equal(d("100")))

	require.True(t, r.Items[1].OnHand.Equal(d("80")))
	require.True(t, r.Items[2].OnHand.Equal(d("90")))
	output := r.Items[10]
	require.True(t, output.OnHand.Equal(d("10")))
	require.True(t, output.UnitCost.Equal(d("10")))

	// A second batch accumulates material cost on the order header.
	updated, err = svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "40"})
	require.NoError(t, err)
	require.Equal(t, orders.StatusRealized, updated.Status)
	require.True(t, updated.MaterialCost.Equal(d("500")))
	require.True(t, r.Items[10].OnHand.Equal(d("50")))

	_, err = svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "1"})
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestRecordOutputGuards(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "5", "3.00", true)
	r.SeedItem(2, "100", "4.00", true)
	r.SeedItem(10, "0", "0", true)
	svc := newTestService(r, panetonRecipe())
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OutputItemID: 10, Qty: "50"})
	require.NoError(t, err)

	// Drafts produce nothing.
	_, err = svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "10"})
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	_, err = svc.Start(ctx, created.ID, 1)
	require.NoError(t, err)

	_, err = svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "60"})
	require.ErrorIs(t, err, orders.ErrOverRealization)

	// Component 1 has only 5 on hand; the unit rolls back whole.
	_, err = svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "10"})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.True(t, r.Items[2].OnHand.Equal(d("100")))
	require.True(t, r.Items[10].OnHand.IsZero())
	require.True(t, r.Orders[created.ID].MaterialCost.IsZero())
}

func TestFinishRequiresFullOutput(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "100", "3.00", true)
	r.SeedItem(2, "100", "4.00", true)
	r.SeedItem(10, "0", "0", true)
	svc := newTestService(r, panetonRecipe())
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OutputItemID: 10, Qty: "20"})
	require.NoError(t, err)
	_, err = svc.Start(ctx, created.ID, 1)
	require.NoError(t, err)

	_, err = svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "5"})
	require.NoError(t, err)

	_, err = svc.Finish(ctx, FinishInput{OrderID: created.ID})
	require.ErrorIs(t, err, ErrNotFinished)

	// The final batch and the close run in one unit.
	updated, err := svc.Finish(ctx, FinishInput{OrderID: created.ID, Qty: "15"})
	require.NoError(t, err)
	require.Equal(t, orders.StatusClosed, updated.Status)
	require.True(t, r.Items[10].OnHand.Equal(d("20")))
}

func TestFinishWithoutBatchFromRealized(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "100", "3.00", true)
	r.SeedItem(2, "100", "4.00", true)
	r.SeedItem(10, "0", "0", true)
	svc := newTestService(r, panetonRecipe())
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OutputItemID: 10, Qty: "10"})
	require.NoError(t, err)
	_, err = svc.Start(ctx, created.ID, 1)
	require.NoError(t, err)
	_, err = svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "10"})
	require.NoError(t, err)

	updated, err := svc.Finish(ctx, FinishInput{OrderID: created.ID})
	require.NoError(t, err)
	require.Equal(t, orders.StatusClosed, updated.Status)
}

func TestCancelReversesOutputThenComponents(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "100", "3.00", true)
	r.SeedItem(2, "100", "4.00", true)
	r.SeedItem(10, "0", "0", true)
	svc := newTestService(r, panetonRecipe())
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OutputItemID: 10, Qty: "50"})
	require.NoError(t, err)
	_, err = svc.Start(ctx, created.ID, 1)
	require.NoError(t, err)
	_, err = svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "10"})
	require.NoError(t, err)

	updated, err := svc.Cancel(ctx, created.ID, 1)
	require.NoError(t, err)
	require.Equal(t, orders.StatusCancelled, updated.Status)
	require.True(t, updated.MaterialCost.IsZero())

	require.True(t, r.Items[1].OnHand.Equal(d("100")))
	require.True(t, r.Items[2].OnHand.Equal(d("100")))
	require.True(t, r.Items[10].OnHand.IsZero())
	for _, line := range r.OrderLines(created.ID) {
		require.True(t, line.QtyRealized.IsZero())
	}
}

func TestCancelBlockedWhenOutputConsumed(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "100", "3.00", true)
	r.SeedItem(2, "100", "4.00", true)
	r.SeedItem(10, "0", "0", true)
	svc := newTestService(r, panetonRecipe())
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OutputItemID: 10, Qty: "50"})
	require.NoError(t, err)
	_, err = svc.Start(ctx, created.ID, 1)
	require.NoError(t, err)
	_, err = svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "10"})
	require.NoError(t, err)

	// Half the produced batch already left the warehouse.
	item := r.Items[10]
	item.OnHand = d("5")
	r.Items[10] = item

	_, err = svc.Cancel(ctx, created.ID, 1)
	require.ErrorIs(t, err, stock.ErrNegativeStockOnReversal)
	// Nothing moved: the component stock is still consumed.
	require.True(t, r.Items[1].OnHand.Equal(d("80")))
	require.Equal(t, orders.StatusPartiallyRealized, r.Orders[created.ID].Status)
}

func TestCancelUnwindsBatchesAtRecordedCosts(t *testing.T) {
	r := enginetest.NewRunner()
	r.SeedItem(1, "200", "3.00", true)
	r.SeedItem(2, "100", "4.00", true)
	r.SeedItem(10, "10", "10.00", true)
	svc := newTestService(r, panetonRecipe())
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OutputItemID: 10, Qty: "50"})
	require.NoError(t, err)
	_, err = svc.Start(ctx, created.ID, 1)
	require.NoError(t, err)

	// First batch of 10 costs 10 per unit (20x3 + 10x4 over 10 units).
	_, err = svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "10"})
	require.NoError(t, err)

	// Component 1 got more expensive before the second batch.
	comp := r.Items[1]
	comp.UnitCost = d("6.00")
	r.Items[1] = comp

	// Second batch of 40 costs 16 per unit (80x6 + 40x4 over 40 units), so
	// the output average lands at 14 across 60 on hand.
	_, err = svc.RecordOutput(ctx, OutputInput{OrderID: created.ID, Qty: "40"})
	require.NoError(t, err)
	require.True(t, r.Items[10].OnHand.Equal(d("60")))
	require.True(t, r.Items[10].UnitCost.Equal(d("14")), "got %s", r.Items[10].UnitCost)

	updated, err := svc.Cancel(ctx, created.ID, 1)
	require.NoError(t, err)
	require.Equal(t, orders.StatusCancelled, updated.Status)

	// Each batch came back out at the cost it went in with, restoring the
	// pre-production position exactly.
	require.True(t, r.Items[10].OnHand.Equal(d("10")))
	require.True(t, r.Items[10].UnitCost.Equal(d("10")), "got %s", r.Items[10].UnitCost)
	require.True(t, r.Items[1].OnHand.Equal(d("200")))
	require.True(t, r.Items[2].OnHand.Equal(d("100")))

	var reversals []stock.Movement
	for _, m := range r.StockMovements {
		if m.ItemID == 10 && m.Kind == stock.MovementReverseReceive {
			reversals = append(reversals, m)
		}
	}
	require.Len(t, reversals, 2)
	require.True(t, reversals[0].Qty.Equal(d("40")))
	require.True(t, reversals[0].UnitCost.Equal(d("16")))
	require.True(t, reversals[1].Qty.Equal(d("10")))
	require.True(t, reversals[1].UnitCost.Equal(d("10")))
}
