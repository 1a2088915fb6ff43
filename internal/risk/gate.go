package risk

import (
	"fmt"

	"paper-trade-engine/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Denial rules, used as the metric label of a rejected trade.
const (
	RuleNonPositivePortfolio = "non_positive_portfolio"
	RuleDailyLoss            = "daily_loss"
	RuleTotalLoss            = "total_loss"
	RulePositionSize         = "position_size"
	RuleCashReserve          = "cash_reserve"
	RuleConcentration        = "concentration"
)

var riskDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paper_trader",
	Name:      "risk_decisions_total",
	Help:      "Pre-trade risk decisions by outcome and denial rule",
}, []string{"outcome", "rule"})

// Snapshot is the wallet state a trade is validated against.
type Snapshot struct {
	Cash           decimal.Decimal
	PortfolioValue decimal.Decimal
	InitialBalance decimal.Decimal
	// RealizedToday is the realized P&L of today's sells.
	RealizedToday decimal.Decimal
	// Positions maps symbol to current market value.
	Positions map[string]decimal.Decimal
}

// NewSnapshot builds a Snapshot from the persisted wallet and its holdings.
func NewSnapshot(w *models.Wallet, holdings []models.Holding, realizedToday decimal.Decimal) Snapshot {
	positions := make(map[string]decimal.Decimal, len(holdings))
	for _, h := range holdings {
		positions[h.Symbol] = h.CurrentValue
	}
	return Snapshot{
		Cash:           w.CashBalance,
		PortfolioValue: w.TotalPortfolioValue,
		InitialBalance: w.InitialBalance,
		RealizedToday:  realizedToday,
		Positions:      positions,
	}
}

// Decision is the outcome of a pre-trade check.
type Decision struct {
	Allowed bool
	Rule    string
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true, Reason: "Trade approved"}
}

func deny(rule, reason string) Decision {
	return Decision{Rule: rule, Reason: reason}
}

// Gate validates trades against the configured limits.
type Gate struct {
	limits Limits
	logger *zap.Logger
}

// NewGate creates a risk gate.
func NewGate(limits Limits, logger *zap.Logger) *Gate {
	return &Gate{limits: limits, logger: logger.Named("risk")}
}

// Limits returns the limits the gate enforces.
func (g *Gate) Limits() Limits {
	return g.limits
}

// Validate checks a trade of amount USD on symbol. For sells amount is the
// estimated proceeds. Rules run in a fixed order and the first failure wins.
func (g *Gate) Validate(s Snapshot, side models.Side, symbol string, amount decimal.Decimal) Decision {
	d := g.validate(s, side, symbol, amount)
	if d.Allowed {
		riskDecisions.WithLabelValues("allowed", "").Inc()
	} else {
		riskDecisions.WithLabelValues("denied", d.Rule).Inc()
		g.logger.Info("Trade denied",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.String("amount", amount.String()),
			zap.String("rule", d.Rule),
			zap.String("reason", d.Reason))
	}
	return d
}

func (g *Gate) validate(s Snapshot, side models.Side, symbol string, amount decimal.Decimal) Decision {
	pv := s.PortfolioValue
	if !pv.IsPositive() {
		return deny(RuleNonPositivePortfolio, "Portfolio value is not positive")
	}

	dailyPct := s.RealizedToday.Div(pv).Mul(hundred)
	if dailyPct.LessThan(g.limits.MaxDailyLossPct.Neg()) {
		return deny(RuleDailyLoss, fmt.Sprintf("Daily loss limit exceeded (%s%%)", g.limits.MaxDailyLossPct))
	}

	if s.InitialBalance.IsPositive() {
		totalLossPct := s.InitialBalance.Sub(pv).Div(s.InitialBalance).Mul(hundred)
		if totalLossPct.GreaterThan(g.limits.MaxTotalLossPct) {
			return deny(RuleTotalLoss, fmt.Sprintf("Total loss limit exceeded (%s%%)", g.limits.MaxTotalLossPct))
		}
	}

	if side == models.SideBuy {
		positionPct := s.Positions[symbol].Add(amount).Div(pv).Mul(hundred)
		if positionPct.GreaterThan(g.limits.MaxPositionPct) {
			return deny(RulePositionSize, fmt.Sprintf("Position size would exceed %s%% limit", g.limits.MaxPositionPct))
		}

		cashPct := s.Cash.Sub(amount).Div(pv).Mul(hundred)
		if cashPct.LessThan(g.limits.MinCashReservePct) {
			return deny(RuleCashReserve, fmt.Sprintf("Trade would violate minimum cash reserve (%s%%)", g.limits.MinCashReservePct))
		}
	}

	group := GroupOf(symbol)
	if group == "" {
		return allow()
	}
	groupValue := decimal.Zero
	for _, member := range GroupMembers(group) {
		groupValue = groupValue.Add(s.Positions[member])
	}
	if side == models.SideBuy {
		groupValue = groupValue.Add(amount)
	} else {
		groupValue = decimal.Max(decimal.Zero, groupValue.Sub(amount))
	}
	if groupValue.Div(pv).Mul(hundred).GreaterThan(g.limits.MaxCorrelationExposurePct) {
		return deny(RuleConcentration, "Trade would create excessive concentration risk")
	}

	return allow()
}
