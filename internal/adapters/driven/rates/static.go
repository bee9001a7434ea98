// Package rates provides currency conversion from a configured rate table.
package rates

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure Static implements ExchangeRates
var _ driven.ExchangeRates = (*Static)(nil)

// Static converts with fixed rates keyed "FROM/TO". The inverse pair is derived when missing.
type Static struct {
	rates map[string]decimal.Decimal
}

// NewStatic creates a converter from a rate table.
func NewStatic(rates map[string]decimal.Decimal) *Static {
	s := &Static{rates: make(map[string]decimal.Decimal, len(rates))}
	for pair, rate := range rates {
		s.rates[strings.ToUpper(pair)] = rate
	}
	return s
}

// Parse reads "EUR/USD=1.10,GBP/USD=1.27". Empty input gives an empty table.
func Parse(spec string) (*Static, error) {
	table := make(map[string]decimal.Decimal)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pair, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%w: rate %q has no '='", domain.ErrInvalidInput, entry)
		}
		from, to, ok := strings.Cut(strings.TrimSpace(pair), "/")
		if !ok || len(from) != 3 || len(to) != 3 {
			return nil, fmt.Errorf("%w: rate pair %q is not FROM/TO", domain.ErrInvalidInput, pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("%w: rate %q must be a positive decimal", domain.ErrInvalidInput, value)
		}
		table[from+"/"+to] = rate
	}
	return NewStatic(table), nil
}

// Convert multiplies by the FROM/TO rate, or divides by TO/FROM.
func (s *Static) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}
	if rate, ok := s.rates[from+"/"+to]; ok {
		return amount.Mul(rate), nil
	}
	if rate, ok := s.rates[to+"/"+from]; ok {
		return amount.DivRound(rate, 8), nil
	}
	return decimal.Zero, fmt.Errorf("%w: no exchange rate for %s/%s", domain.ErrNotFound, from, to)
}
