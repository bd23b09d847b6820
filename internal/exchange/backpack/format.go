package backpack

import (
	"github.com/shopspring/decimal"
)

// DefaultQuantityDecimals is used when the instrument precision is unknown.
const DefaultQuantityDecimals int32 = 6

// FormatQuantity truncates toward zero to at most decimals fractional digits
// and drops trailing zeros. It never rounds up, so the amount sent can never
// exceed what the caller holds.
func FormatQuantity(q decimal.Decimal, decimals int32) string {
	if decimals < 0 {
		decimals = DefaultQuantityDecimals
	}
	return q.Truncate(decimals).String()
}

// FormatPrice applies the same truncation to prices.
func FormatPrice(p decimal.Decimal, decimals int32) string {
	if decimals <= 0 {
		return p.String()
	}
	return p.Truncate(decimals).String()
}
