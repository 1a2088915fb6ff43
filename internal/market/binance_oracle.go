package market

import (
	"context"
	"errors"
	"fmt"

	"paper-trade-engine/internal/binance"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BinanceOracle prices a symbol with the last trade of its Binance pair
// against the quote asset, e.g. BTC -> BTCUSDT.
type BinanceOracle struct {
	client     binance.RestClientInterface
	quoteAsset string
	logger     *zap.Logger
}

// NewBinanceOracle creates an oracle backed by the Binance ticker endpoint.
func NewBinanceOracle(client binance.RestClientInterface, quoteAsset string, logger *zap.Logger) *BinanceOracle {
	return &BinanceOracle{
		client:     client,
		quoteAsset: normalize(quoteAsset),
		logger:     logger.Named("binance-oracle"),
	}
}

func (o *BinanceOracle) Price(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	pair := normalize(symbol) + o.quoteAsset

	raw, err := o.client.GetTickerPrice(ctx, pair)
	if err != nil {
		if errors.Is(err, binance.ErrInvalidSymbol) {
			o.logger.Debug("Pair not listed", zap.String("pair", pair))
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("could not parse price %q for %s: %w", raw, pair, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, false, nil
	}
	return price, true, nil
}

// Prices fetches every ticker in one request and picks the requested pairs.
func (o *BinanceOracle) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	all, err := o.client.GetAllTickerPrices(ctx)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		symbol := normalize(s)
		pair := symbol + o.quoteAsset
		raw, ok := all[pair]
		if !ok {
			o.logger.Debug("Pair not listed", zap.String("pair", pair))
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			o.logger.Warn("Could not parse price", zap.String("pair", pair), zap.String("price", raw), zap.Error(err))
			continue
		}
		if price.IsPositive() {
			prices[symbol] = price
		}
	}
	return prices, nil
}
