package shared

import "github.com/shopspring/decimal"

// FitsScale reports whether d carries no significant digits beyond places.
func FitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}
