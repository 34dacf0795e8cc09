package gateway

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatQuantity snaps a raw quantity to the venue's lot step using
// fixed-point arithmetic rounded toward zero, then applies the min/max
// bounds. Floating-point rounding that overstates an order size is a
// correctness bug, hence the decimal round trip.
func FormatQuantity(qty float64, c *SymbolConstraints) float64 {
	if qty <= 0 {
		return 0
	}

	d := decimal.NewFromFloat(qty)
	if c.LotStep > 0 {
		step := decimal.NewFromFloat(c.LotStep)
		d = d.Div(step).RoundDown(0).Mul(step)
	}

	out, _ := d.Float64()
	if c.MinQty > 0 && out < c.MinQty {
		out = c.MinQty
	}
	if c.MaxQty > 0 && out > c.MaxQty {
		out = c.MaxQty
	}
	return out
}

// FormatPrice renders a price for the venue wire format: fixed notation
// with trailing zeros trimmed.
func FormatPrice(price float64) string {
	s := strconv.FormatFloat(price, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
