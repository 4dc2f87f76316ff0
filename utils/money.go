package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Round2 rounds x to 2 decimal places (half away from zero).
func Round2(x decimal.Decimal) decimal.Decimal {
	return x.Round(2)
}

// ParseMoney parses an optional amount from a query string. Empty or
// invalid input and negative amounts yield nil.
func ParseMoney(s string) *decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return nil
	}
	d = Round2(d)
	return &d
}
