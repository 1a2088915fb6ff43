package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionBuy        TransactionType = "buy"
	TransactionSell       TransactionType = "sell"
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

// Transaction is an append-only ledger entry. Rows are never updated or deleted.
type Transaction struct {
	gorm.Model
	WalletID       uint             `gorm:"index;not null" json:"wallet_id"`
	OrderID        *uint            `gorm:"index" json:"order_id,omitempty"`
	Type           TransactionType  `gorm:"size:16;not null" json:"type"`
	Symbol         *string          `gorm:"size:10;index" json:"symbol,omitempty"` // nil for cash movements
	Quantity       *decimal.Decimal `gorm:"type:text" json:"quantity,omitempty"`
	Price          *decimal.Decimal `gorm:"type:text" json:"price,omitempty"`
	TotalAmount    decimal.Decimal  `gorm:"type:text;not null" json:"total_amount"`
	Fee            decimal.Decimal  `gorm:"type:text;not null" json:"fee"`
	FeeRate        decimal.Decimal  `gorm:"type:text;not null" json:"fee_rate"`
	RealizedPnL    *decimal.Decimal `gorm:"column:realized_pnl;type:text" json:"realized_pnl,omitempty"`
	RealizedPnLPct *decimal.Decimal `gorm:"column:realized_pnl_pct;type:text" json:"realized_pnl_pct,omitempty"`
	// DustCost is cost basis left behind by division rounding when a sell
	// closes a position completely.
	DustCost *decimal.Decimal `gorm:"type:text" json:"dust_cost,omitempty"`
	Notes    string           `json:"notes,omitempty"`
}
