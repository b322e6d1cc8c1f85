package pricesource

import (
	"context"

	"github.com/shopspring/decimal"
)

// Source supplies best-effort latest prices for a set of symbols. A symbol
// with no available price is simply absent from the returned map.
type Source interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}
