package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Wallet is a user's simulated trading account. There is exactly one per user.
// Monetary columns are stored as TEXT so SQLite never coerces them to REAL.
type Wallet struct {
	gorm.Model
	UserID              uint            `gorm:"uniqueIndex;not null" json:"user_id"`
	CashBalance         decimal.Decimal `gorm:"type:text;not null" json:"cash_balance"`
	InitialBalance      decimal.Decimal `gorm:"type:text;not null" json:"initial_balance"`
	TotalInvested       decimal.Decimal `gorm:"type:text;not null" json:"total_invested"`
	TotalRealizedPnL    decimal.Decimal `gorm:"column:total_realized_pnl;type:text;not null" json:"total_realized_pnl"`
	TotalPortfolioValue decimal.Decimal `gorm:"type:text;not null" json:"total_portfolio_value"`
	DailyPnL            decimal.Decimal `gorm:"column:daily_pnl;type:text;not null" json:"daily_pnl"`
	TotalTrades         int64           `gorm:"not null;default:0" json:"total_trades"`
	WinningTrades       int64           `gorm:"not null;default:0" json:"winning_trades"`
	LosingTrades        int64           `gorm:"not null;default:0" json:"losing_trades"`
	MaxDrawdown         decimal.Decimal `gorm:"type:text;not null" json:"max_drawdown"` // percent
	WinRate             decimal.Decimal `gorm:"type:text;not null" json:"win_rate"`     // percent
	IsActive            bool            `gorm:"default:true" json:"is_active"`
}

// RecomputeWinRate sets WinRate to WinningTrades / TotalTrades * 100, rounded to 4 places.
func (w *Wallet) RecomputeWinRate() {
	if w.TotalTrades == 0 {
		w.WinRate = decimal.Zero
		return
	}
	w.WinRate = decimal.NewFromInt(w.WinningTrades).
		Div(decimal.NewFromInt(w.TotalTrades)).
		Mul(decimal.NewFromInt(100)).
		Round(4)
}
