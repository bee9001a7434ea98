package mocks

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MockExchangeRates converts using a fixed rate table keyed "FROM/TO"
type MockExchangeRates struct {
	Rates map[string]decimal.Decimal
}

// NewMockExchangeRates creates a converter with the given rates
func NewMockExchangeRates(rates map[string]decimal.Decimal) *MockExchangeRates {
	return &MockExchangeRates{Rates: rates}
}

func (m *MockExchangeRates) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	rate, ok := m.Rates[from+"/"+to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s/%s", domain.ErrNotFound, from, to)
	}
	return amount.Mul(rate), nil
}
