package stock

import "github.com/shopspring/decimal"

// costScale is the precision money is stored at. Average cost is kept at the
// same scale so repeated receipts do not drift from what the ledger records.
const costScale = 4

// Recompute returns the quantity and weighted-average unit cost after
// receiving incomingQty units at incomingCost. When the item had no stock the
// incoming cost becomes the new average.
func Recompute(qty, avgCost, incomingQty, incomingCost decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	newQty := qty.Add(incomingQty)
	if newQty.Sign() <= 0 {
		return newQty, incomingCost.Round(costScale)
	}
	total := qty.Mul(avgCost).Add(incomingQty.Mul(incomingCost))
	return newQty, total.Div(newQty).Round(costScale)
}

// Unwind is the inverse of Recompute: it returns the quantity and average
// cost as they were before a receipt of receivedQty units at receivedCost.
// Used by reversal flows so a cancelled receipt restores the prior average.
func Unwind(qty, avgCost, receivedQty, receivedCost decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	prevQty := qty.Sub(receivedQty)
	if prevQty.Sign() <= 0 {
		return prevQty, decimal.Zero
	}
	total := qty.Mul(avgCost).Sub(receivedQty.Mul(receivedCost))
	if total.Sign() < 0 {
		total = decimal.Zero
	}
	return prevQty, total.Div(prevQty).Round(costScale)
}
