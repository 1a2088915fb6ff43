package risk

import (
	"fmt"

	"paper-trade-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Risk levels reported by Emergency.
const (
	LevelLow      = "LOW"
	LevelHigh     = "HIGH"
	LevelCritical = "CRITICAL"
)

// Emergency action codes.
const (
	ActionHaltTrading          = "HALT_TRADING"
	ActionLiquidatePositions   = "LIQUIDATE_POSITIONS"
	ActionReduceLargest        = "REDUCE_LARGEST_POSITION"
	ActionIncreaseCashReserves = "INCREASE_CASH_RESERVES"
)

// Metrics is the advisory risk profile of a wallet. Percentages are rounded
// to four places. None of it gates trading.
type Metrics struct {
	PortfolioValue     decimal.Decimal `json:"total_portfolio_value"`
	CashPct            decimal.Decimal `json:"cash_percentage"`
	LargestPositionPct decimal.Decimal `json:"largest_position_percentage"`
	DailyPnLPct        decimal.Decimal `json:"daily_pnl_percentage"`
	TotalPnLPct        decimal.Decimal `json:"total_pnl_percentage"`
	ConcentrationScore decimal.Decimal `json:"concentration_risk_score"`
	MaxDrawdown        decimal.Decimal `json:"max_drawdown"`
	RiskScore          decimal.Decimal `json:"risk_score"`
}

// Assess computes the risk profile of a wallet from its persisted values.
func Assess(w *models.Wallet, holdings []models.Holding) Metrics {
	pv := w.TotalPortfolioValue
	m := Metrics{
		PortfolioValue:     pv,
		CashPct:            decimal.Zero,
		LargestPositionPct: decimal.Zero,
		DailyPnLPct:        decimal.Zero,
		TotalPnLPct:        decimal.Zero,
		ConcentrationScore: decimal.Zero,
		MaxDrawdown:        w.MaxDrawdown,
	}

	if w.InitialBalance.IsPositive() {
		m.TotalPnLPct = pv.Sub(w.InitialBalance).Div(w.InitialBalance).Mul(hundred).Round(4)
	}
	if !pv.IsPositive() {
		m.RiskScore = overallScore(m)
		return m
	}

	largest := decimal.Zero
	for _, h := range holdings {
		largest = decimal.Max(largest, h.CurrentValue)
	}
	m.CashPct = w.CashBalance.Div(pv).Mul(hundred).Round(4)
	m.LargestPositionPct = largest.Div(pv).Mul(hundred).Round(4)
	m.DailyPnLPct = w.DailyPnL.Div(pv).Mul(hundred).Round(4)
	m.ConcentrationScore = ConcentrationScore(holdings, pv)
	m.RiskScore = overallScore(m)
	return m
}

// ConcentrationScore is the Herfindahl-Hirschman index of position weights
// scaled to [0, 100].
func ConcentrationScore(holdings []models.Holding, total decimal.Decimal) decimal.Decimal {
	if len(holdings) == 0 || !total.IsPositive() {
		return decimal.Zero
	}
	hhi := decimal.Zero
	for _, h := range holdings {
		weight := h.CurrentValue.Div(total)
		hhi = hhi.Add(weight.Mul(weight))
	}
	return clamp(hhi.Mul(hundred)).Round(4)
}

func overallScore(m Metrics) decimal.Decimal {
	cashRisk := decimal.Max(decimal.Zero, decimal.NewFromInt(20).Sub(m.CashPct))
	positionRisk := decimal.Max(decimal.Zero, m.LargestPositionPct.Sub(decimal.NewFromInt(15)))
	volatilityRisk := decimal.Min(m.DailyPnLPct.Abs().Mul(decimal.NewFromInt(10)), decimal.NewFromInt(30))
	drawdownRisk := decimal.Min(m.MaxDrawdown.Mul(decimal.NewFromInt(2)), decimal.NewFromInt(50))

	score := cashRisk.Mul(decimal.RequireFromString("0.20")).
		Add(positionRisk.Mul(decimal.RequireFromString("0.25"))).
		Add(m.ConcentrationScore.Mul(decimal.RequireFromString("0.25"))).
		Add(volatilityRisk.Mul(decimal.RequireFromString("0.15"))).
		Add(drawdownRisk.Mul(decimal.RequireFromString("0.15")))
	return clamp(score).Round(4)
}

func clamp(v decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(v, decimal.Zero), hundred)
}

// Recommendations turns a risk profile into advice for the user.
func Recommendations(m Metrics) []string {
	var out []string

	if m.CashPct.LessThan(decimal.NewFromInt(10)) {
		out = append(out, fmt.Sprintf("Consider increasing cash reserves (currently %s%%)", m.CashPct.StringFixed(1)))
	}
	if m.LargestPositionPct.GreaterThan(decimal.NewFromInt(25)) {
		out = append(out, fmt.Sprintf("Largest position is %s%% - consider reducing concentration", m.LargestPositionPct.StringFixed(1)))
	}
	if m.RiskScore.GreaterThan(decimal.NewFromInt(70)) {
		out = append(out, "High risk portfolio - consider reducing position sizes and increasing diversification")
	} else if m.RiskScore.GreaterThan(decimal.NewFromInt(50)) {
		out = append(out, "Moderate risk portfolio - monitor positions closely")
	}
	if m.ConcentrationScore.GreaterThan(decimal.NewFromInt(60)) {
		out = append(out, "High concentration risk - consider diversifying across more assets")
	}
	if m.DailyPnLPct.LessThan(decimal.NewFromInt(-3)) {
		out = append(out, "Significant daily loss - consider reviewing trading strategy")
	}

	if len(out) == 0 {
		out = append(out, "Risk profile looks healthy - continue monitoring")
	}
	return out
}

// EmergencyReport lists the immediate actions a risk profile calls for.
type EmergencyReport struct {
	RiskLevel        string   `json:"risk_level"`
	EmergencyActions []string `json:"emergency_actions"`
	Metrics          Metrics  `json:"metrics"`
	Recommendations  []string `json:"recommendations"`
}

// Emergency grades a risk profile against the limits.
func Emergency(m Metrics, limits Limits) EmergencyReport {
	r := EmergencyReport{
		RiskLevel:        LevelLow,
		EmergencyActions: []string{},
		Metrics:          m,
		Recommendations:  Recommendations(m),
	}
	raise := func(level string) {
		if r.RiskLevel != LevelCritical {
			r.RiskLevel = level
		}
	}

	if m.DailyPnLPct.LessThan(limits.MaxDailyLossPct.Neg()) {
		r.EmergencyActions = append(r.EmergencyActions, ActionHaltTrading)
		raise(LevelCritical)
	}
	if m.TotalPnLPct.LessThan(limits.MaxTotalLossPct.Neg()) {
		r.EmergencyActions = append(r.EmergencyActions, ActionLiquidatePositions)
		raise(LevelCritical)
	}
	if m.LargestPositionPct.GreaterThan(decimal.NewFromInt(40)) {
		r.EmergencyActions = append(r.EmergencyActions, ActionReduceLargest)
		raise(LevelHigh)
	}
	if m.CashPct.LessThan(decimal.NewFromInt(5)) {
		r.EmergencyActions = append(r.EmergencyActions, ActionIncreaseCashReserves)
		raise(LevelHigh)
	}
	return r
}
