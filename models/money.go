package models

import "github.com/shopspring/decimal"

func init() {
	// API clients read prices and balances as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}
