package orders

// LineValues carries the effective figures for one order item after its
// modifiers have been folded in.
type LineValues struct {
	Quantity  float64
	UnitCost  float64
	UnitPrice float64
	Total     float64
}

// CalculateLineValues resolves an item's effective quantity, unit cost and
// unit price. Quantity multipliers compound; price and cost adjustments are
// additive. Discount is an absolute amount subtracted from the line total.
func CalculateLineValues(item OrderItem) LineValues {
	qty := item.Quantity
	cost := item.UnitCost
	price := item.UnitPrice
	for _, m := range item.Modifiers {
		mult := m.QuantityMultiplier
		if mult == 0 {
			mult = 1
		}
		qty *= mult
		cost += m.CostAdjustment
		price += m.PriceAdjustment
	}
	total := qty*price - item.Discount
	if total < 0 {
		total = 0
	}
	return LineValues{Quantity: qty, UnitCost: cost, UnitPrice: price, Total: total}
}

// CalculateOrderTotal sums the line totals of all items.
func CalculateOrderTotal(items []OrderItem) float64 {
	var total float64
	for _, item := range items {
		total += CalculateLineValues(item).Total
	}
	return total
}
