package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Symbol represents a tradable asset. The last observed oracle price is kept
// so that a price is still available when the upstream feed is down.
type Symbol struct {
	gorm.Model
	Symbol      string           `gorm:"uniqueIndex;size:10;not null" json:"symbol"`
	Name        string           `json:"name"`
	Enabled     bool             `gorm:"default:true" json:"enabled"`
	LastPrice   *decimal.Decimal `gorm:"type:text" json:"last_price,omitempty"`
	LastPriceAt *time.Time       `json:"last_price_at,omitempty"`
}
