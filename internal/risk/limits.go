package risk

import (
	"paper-trade-engine/internal/config"

	"github.com/shopspring/decimal"
)

// Limits are the pre-trade thresholds, all expressed in percent of the
// portfolio value (or of the initial balance for MaxTotalLossPct).
type Limits struct {
	MaxPositionPct            decimal.Decimal
	MaxDailyLossPct           decimal.Decimal
	MaxTotalLossPct           decimal.Decimal
	MinCashReservePct         decimal.Decimal
	MaxCorrelationExposurePct decimal.Decimal
}

// DefaultLimits returns the limits every wallet starts with.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionPct:            decimal.NewFromInt(20),
		MaxDailyLossPct:           decimal.NewFromInt(5),
		MaxTotalLossPct:           decimal.NewFromInt(25),
		MinCashReservePct:         decimal.NewFromInt(10),
		MaxCorrelationExposurePct: decimal.NewFromInt(50),
	}
}

// LimitsFromConfig copies the configured limits.
func LimitsFromConfig(cfg config.Risk) Limits {
	return Limits{
		MaxPositionPct:            cfg.MaxPositionPct,
		MaxDailyLossPct:           cfg.MaxDailyLossPct,
		MaxTotalLossPct:           cfg.MaxTotalLossPct,
		MinCashReservePct:         cfg.MinCashReservePct,
		MaxCorrelationExposurePct: cfg.MaxCorrelationExposurePct,
	}
}
