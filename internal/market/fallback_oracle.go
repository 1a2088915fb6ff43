package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paper-trade-engine/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FallbackOracle remembers every price returned by its primary oracle in the
// symbols table and answers from there when the primary fails. Prices older
// than maxAge are not served; a zero maxAge accepts any age.
//
// It writes through the root database handle, so it must not be called from
// inside a ledger transaction.
type FallbackOracle struct {
	primary Oracle
	db      *gorm.DB
	maxAge  time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewFallbackOracle wraps primary with a last-known-price store.
func NewFallbackOracle(primary Oracle, db *gorm.DB, maxAge time.Duration, logger *zap.Logger) *FallbackOracle {
	return &FallbackOracle{
		primary: primary,
		db:      db,
		maxAge:  maxAge,
		logger:  logger.Named("fallback-oracle"),
		now:     time.Now,
	}
}

func (o *FallbackOracle) Price(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	symbol = normalize(symbol)

	price, ok, err := o.primary.Price(ctx, symbol)
	if err == nil {
		if ok {
			o.remember(ctx, symbol, price)
		}
		return price, ok, nil
	}

	last, found, dbErr := o.lastKnown(ctx, symbol)
	if dbErr != nil {
		return decimal.Zero, false, fmt.Errorf("%w (last known price lookup failed: %v)", err, dbErr)
	}
	if !found {
		return decimal.Zero, false, err
	}
	o.logger.Warn("Primary oracle failed, serving last known price",
		zap.String("symbol", symbol), zap.String("price", last.String()), zap.Error(err))
	return last, true, nil
}

// Prices asks the primary for all symbols at once when it supports batches.
// On a primary failure each symbol is served from its last known price;
// symbols with neither a live nor a fresh stored price are absent.
func (o *FallbackOracle) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	batch, ok := o.primary.(BatchOracle)
	if !ok {
		prices := make(map[string]decimal.Decimal, len(symbols))
		for _, s := range symbols {
			symbol := normalize(s)
			price, ok, err := o.Price(ctx, symbol)
			if err != nil {
				o.logger.Debug("No price available", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			if ok {
				prices[symbol] = price
			}
		}
		return prices, nil
	}

	prices, err := batch.Prices(ctx, symbols)
	if err == nil {
		for symbol, price := range prices {
			o.remember(ctx, symbol, price)
		}
		return prices, nil
	}

	o.logger.Warn("Primary oracle batch failed, serving last known prices", zap.Error(err))
	prices = make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		symbol := normalize(s)
		last, found, dbErr := o.lastKnown(ctx, symbol)
		if dbErr != nil {
			return nil, fmt.Errorf("%w (last known price lookup failed: %v)", err, dbErr)
		}
		if found {
			prices[symbol] = last
		}
	}
	return prices, nil
}

// lastKnown returns the stored price of symbol unless it is missing or older than maxAge.
func (o *FallbackOracle) lastKnown(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	var row models.Symbol
	if err := o.db.WithContext(ctx).Where("symbol = ?", symbol).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	if row.LastPrice == nil || row.LastPriceAt == nil {
		return decimal.Zero, false, nil
	}
	if o.maxAge > 0 && o.now().Sub(*row.LastPriceAt) > o.maxAge {
		o.logger.Warn("Last known price is stale", zap.String("symbol", symbol), zap.Time("last_price_at", *row.LastPriceAt))
		return decimal.Zero, false, nil
	}
	return *row.LastPrice, true, nil
}

func (o *FallbackOracle) remember(ctx context.Context, symbol string, price decimal.Decimal) {
	now := o.now()
	res := o.db.WithContext(ctx).Model(&models.Symbol{}).
		Where("symbol = ?", symbol).
		Updates(map[string]interface{}{"last_price": price, "last_price_at": now})
	if res.Error != nil {
		o.logger.Warn("Failed to store last known price", zap.String("symbol", symbol), zap.Error(res.Error))
	}
}
