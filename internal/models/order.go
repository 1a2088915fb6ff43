package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderType is the kind of order placed by the user.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopLoss   OrderType = "stop_loss"
	OrderTypeTakeProfit OrderType = "take_profit"
)

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusPartial is reserved for partial fills and is never assigned.
	OrderStatusPartial OrderStatus = "partial"
)

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusExecuted || s == OrderStatusCancelled
}

// Order is a market or conditional order. Rows are kept forever as history.
type Order struct {
	gorm.Model
	WalletID         uint             `gorm:"index;not null" json:"wallet_id"`
	ClientOrderID    string           `gorm:"uniqueIndex;size:36;not null" json:"client_order_id"`
	OrderType        OrderType        `gorm:"size:16;not null" json:"order_type"`
	Side             Side             `gorm:"size:8;not null" json:"side"`
	Symbol           string           `gorm:"size:10;index;not null" json:"symbol"`
	Quantity         decimal.Decimal  `gorm:"type:text;not null" json:"quantity"`
	Price            *decimal.Decimal `gorm:"type:text" json:"price,omitempty"` // limit price
	StopPrice        *decimal.Decimal `gorm:"type:text" json:"stop_price,omitempty"`
	TriggerPrice     *decimal.Decimal `gorm:"type:text" json:"trigger_price,omitempty"`
	TotalAmount      decimal.Decimal  `gorm:"type:text;not null" json:"total_amount"`
	Status           OrderStatus      `gorm:"size:16;index;not null" json:"status"`
	ExecutedPrice    *decimal.Decimal `gorm:"type:text" json:"executed_price,omitempty"`
	ExecutedQuantity decimal.Decimal  `gorm:"type:text;not null" json:"executed_quantity"`
	TransactionID    *uint            `json:"transaction_id,omitempty"`
	ExecutedAt       *time.Time       `json:"executed_at,omitempty"`
	CancelledAt      *time.Time       `json:"cancelled_at,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
}

// Expired reports whether the order carries an expiry that lies before now.
func (o *Order) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}
