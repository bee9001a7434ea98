package driven

import (
	"context"

	"github.com/shopspring/decimal"
)

// ExchangeRates converts amounts between currencies
type ExchangeRates interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}
