package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is an open position in one symbol. At most one row exists per
// (wallet, symbol); the row is hard-deleted when the quantity reaches zero.
type Holding struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	WalletID         uint            `gorm:"uniqueIndex:idx_wallet_symbol;not null" json:"wallet_id"`
	Symbol           string          `gorm:"uniqueIndex:idx_wallet_symbol;size:10;not null" json:"symbol"`
	Quantity         decimal.Decimal `gorm:"type:text;not null" json:"quantity"`
	AverageCostBasis decimal.Decimal `gorm:"type:text;not null" json:"average_cost_basis"`
	TotalCost        decimal.Decimal `gorm:"type:text;not null" json:"total_cost"`
	CurrentPrice     decimal.Decimal `gorm:"type:text;not null" json:"current_price"`
	CurrentValue     decimal.Decimal `gorm:"type:text;not null" json:"current_value"`
	UnrealizedPnL    decimal.Decimal `gorm:"column:unrealized_pnl;type:text;not null" json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `gorm:"column:unrealized_pnl_pct;type:text;not null" json:"unrealized_pnl_pct"`
	FirstPurchaseAt  time.Time       `json:"first_purchase_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// MarkToMarket revalues the holding at price.
func (h *Holding) MarkToMarket(price decimal.Decimal) {
	h.CurrentPrice = price
	h.CurrentValue = h.Quantity.Mul(price)
	h.UnrealizedPnL = h.CurrentValue.Sub(h.TotalCost)
	if h.TotalCost.IsPositive() {
		h.UnrealizedPnLPct = h.UnrealizedPnL.Div(h.TotalCost).Mul(decimal.NewFromInt(100)).Round(4)
	} else {
		h.UnrealizedPnLPct = decimal.Zero
	}
}
