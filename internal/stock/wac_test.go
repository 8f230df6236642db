package stock

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRecomputeWeightedAverage(t *testing.T) {
	qty, cost := Recompute(d("100"), d("10.00"), d("50"), d("16.00"))
	require.True(t, qty.Equal(d("150")), "qty = %s", qty)
	require.True(t, cost.Equal(d("12")), "cost = %s", cost)
}

func TestRecomputeFromEmpty(t *testing.T) {
	qty, cost := Recompute(decimal.Zero, decimal.Zero, d("10"), d("3.3333"))
	require.True(t, qty.Equal(d("10")))
	require.True(t, cost.Equal(d("3.3333")))
}

func TestRecomputeRoundsToCostScale(t *testing.T) {
	// 10*1 + 3*2 = 16 over 13 units = 1.230769..., stored at 4 decimals.
	_, cost := Recompute(d("10"), d("1"), d("3"), d("2"))
	require.True(t, cost.Equal(d("1.2308")), "cost = %s", cost)
}

func TestUnwindRestoresPriorAverage(t *testing.T) {
	qty, cost := Recompute(d("100"), d("10.00"), d("50"), d("16.00"))
	prevQty, prevCost := Unwind(qty, cost, d("50"), d("16.00"))
	require.True(t, prevQty.Equal(d("100")), "qty = %s", prevQty)
	require.True(t, prevCost.Equal(d("10")), "cost = %s", prevCost)
}

func TestUnwindToEmptyZeroesCost(t *testing.T) {
	qty, cost := Unwind(d("50"), d("16.00"), d("50"), d("16.00"))
	require.True(t, qty.IsZero())
	require.True(t, cost.IsZero())
}

func TestUnwindClampsNegativeValue(t *testing.T) {
	// Receipt cost above the current average can push the residual value
	// below zero; the average clamps at zero instead of going negative.
	qty, cost := Unwind(d("10"), d("1.00"), d("5"), d("3.00"))
	require.True(t, qty.Equal(d("5")))
	require.True(t, cost.IsZero(), "cost = %s", cost)
}
