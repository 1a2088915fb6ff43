package market

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Oracle supplies the current price of a symbol quoted in USD.
//
// ok is false when the oracle has no price for the symbol. A non-nil error
// signals a transient failure; callers may retry later.
type Oracle interface {
	Price(ctx context.Context, symbol string) (price decimal.Decimal, ok bool, err error)
}

// BatchOracle is an Oracle that can price many symbols with one upstream
// request. Symbols without a price are absent from the returned map.
type BatchOracle interface {
	Oracle
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Lookup prices symbols through o, in a single call when o is a BatchOracle.
// Priced symbols are returned by their normalized name. Symbols that failed
// are returned with their error; symbols the oracle simply has no price for
// appear in neither map.
func Lookup(ctx context.Context, o Oracle, symbols []string) (map[string]decimal.Decimal, map[string]error) {
	failed := make(map[string]error)
	if batch, ok := o.(BatchOracle); ok {
		prices, err := batch.Prices(ctx, symbols)
		if err != nil {
			for _, symbol := range symbols {
				failed[normalize(symbol)] = err
			}
			return map[string]decimal.Decimal{}, failed
		}
		return prices, failed
	}

	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		symbol := normalize(s)
		price, ok, err := o.Price(ctx, symbol)
		switch {
		case err != nil:
			failed[symbol] = err
		case ok && price.IsPositive():
			prices[symbol] = price
		}
	}
	return prices, failed
}

// StaticOracle serves prices from an in-memory table. It backs the engine
// when the exchange feed is disabled and is the oracle used in tests.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticOracle returns an oracle seeded with prices.
func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	o := &StaticOracle{prices: make(map[string]decimal.Decimal, len(prices))}
	for symbol, price := range prices {
		o.prices[normalize(symbol)] = price
	}
	return o
}

// Set replaces the price of symbol.
func (o *StaticOracle) Set(symbol string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[normalize(symbol)] = price
}

// Delete removes symbol so that later lookups report no price.
func (o *StaticOracle) Delete(symbol string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.prices, normalize(symbol))
}

func (o *StaticOracle) Price(_ context.Context, symbol string) (decimal.Decimal, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[normalize(symbol)]
	if !ok || !price.IsPositive() {
		return decimal.Zero, false, nil
	}
	return price, true, nil
}

func (o *StaticOracle) Prices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		symbol := normalize(s)
		if price, ok := o.prices[symbol]; ok && price.IsPositive() {
			prices[symbol] = price
		}
	}
	return prices, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
