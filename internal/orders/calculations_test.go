package orders

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateLineValues(t *testing.T) {
	item := OrderItem{
		Quantity:  10,
		UnitCost:  4,
		UnitPrice: 6,
		Discount:  5,
		Modifiers: []ItemModifier{
			{QuantityMultiplier: 2, PriceAdjustment: 1},
			{CostAdjustment: 0.5},
		},
	}
	vals := CalculateLineValues(item)
	require.InDelta(t, 20.0, vals.Quantity, 1e-9)
	require.InDelta(t, 4.5, vals.UnitCost, 1e-9)
	require.InDelta(t, 7.0, vals.UnitPrice, 1e-9)
	require.InDelta(t, 135.0, vals.Total, 1e-9)
}

func TestCalculateLineValuesZeroMultiplierCountsAsOne(t *testing.T) {
	vals := CalculateLineValues(OrderItem{
		Quantity:  3,
		UnitPrice: 2,
		Modifiers: []ItemModifier{{PriceAdjustment: 1}},
	})
	require.InDelta(t, 3.0, vals.Quantity, 1e-9)
	require.InDelta(t, 9.0, vals.Total, 1e-9)
}

func TestLineTotalNeverNegative(t *testing.T) {
	vals := CalculateLineValues(OrderItem{Quantity: 1, UnitPrice: 2, Discount: 10})
	require.Zero(t, vals.Total)
}

func TestCalculateOrderTotal(t *testing.T) {
	items := []OrderItem{
		{Quantity: 2, UnitPrice: 10},
		{Quantity: 1, UnitPrice: 5, Discount: 1},
	}
	require.InDelta(t, 24.0, CalculateOrderTotal(items), 1e-9)
}
