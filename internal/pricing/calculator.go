// Package pricing derives order totals from a cart snapshot.
package pricing

import (
	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places money is stored and shown with.
const MoneyPlaces = 2

var TaxRate = decimal.RequireFromString("0.10")

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int32
}

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

func LineTotal(price decimal.Decimal, quantity int32) decimal.Decimal {
	return price.Mul(decimal.NewFromInt32(quantity))
}

// Calculate sums the lines at full precision.
func Calculate(lines []Line) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(LineTotal(l.UnitPrice, l.Quantity))
	}
	tax := subtotal.Mul(TaxRate)
	discount := decimal.Zero

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Discount: discount,
		Total:    subtotal.Add(tax).Sub(discount),
	}
}

// FromSnapshot prices a cart snapshot.
func FromSnapshot(s *domain.CartSnapshot) Totals {
	lines := make([]Line, len(s.Items))
	for i, item := range s.Items {
		lines[i] = Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity}
	}
	return Calculate(lines)
}

// Round rounds each component to MoneyPlaces and recomputes Total from the
// rounded parts so that Total == Subtotal + Tax - Discount holds on stored values.
func (t Totals) Round() Totals {
	subtotal := t.Subtotal.Round(MoneyPlaces)
	tax := t.Tax.Round(MoneyPlaces)
	discount := t.Discount.Round(MoneyPlaces)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Discount: discount,
		Total:    subtotal.Add(tax).Sub(discount),
	}
}

// Format renders an amount the way it is presented to clients.
func Format(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}
