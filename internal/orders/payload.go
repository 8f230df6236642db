package orders

// Payload renders an order header for JSON responses.
func Payload(o Order) map[string]any {
	return map[string]any{
		"id":            o.ID,
		"number":        o.Number,
		"type":          string(o.Type),
		"status":        string(o.Status),
		"supplier_id":   o.SupplierID,
		"customer_id":   o.CustomerID,
		"currency":      o.Currency,
		"exchange_rate": o.ExchangeRate.String(),
		"payment_term":  string(o.PaymentTerm),
		"reservation":   string(o.Reservation),
		"subtotal":      o.Subtotal.String(),
		"tax":           o.Tax.String(),
		"total":         o.Total.String(),
		"amount_paid":   o.AmountPaid.String(),
		"balance_due":   o.BalanceDue.String(),
		"material_cost": o.MaterialCost.String(),
		"note":          o.Note,
		"created_at":    o.CreatedAt,
		"updated_at":    o.UpdatedAt,
	}
}

// LinePayload renders one order line.
func LinePayload(l LineItem) map[string]any {
	return map[string]any{
		"id":           l.ID,
		"kind":         string(l.Kind),
		"item_id":      l.ItemID,
		"qty_ordered":  l.QtyOrdered.String(),
		"qty_realized": l.QtyRealized.String(),
		"qty_reserved": l.QtyReserved.String(),
		"unit_price":   l.UnitPrice.String(),
		"line_total":   l.LineTotal.String(),
	}
}

// InstallmentPayload renders one installment.
func InstallmentPayload(i Installment) map[string]any {
	return map[string]any{
		"id":          i.ID,
		"seq":         i.Seq,
		"amount":      i.Amount.String(),
		"amount_paid": i.AmountPaid.String(),
		"due_date":    i.DueDate,
		"status":      string(i.Status),
	}
}

// FullPayload renders an order with lines and installments.
func FullPayload(o Order, lines []LineItem, installments []Installment) map[string]any {
	out := Payload(o)
	ls := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		ls = append(ls, LinePayload(l))
	}
	is := make([]map[string]any, 0, len(installments))
	for _, i := range installments {
		is = append(is, InstallmentPayload(i))
	}
	out["lines"] = ls
	out["installments"] = is
	return out
}
