package trader

import (
	"paper-trade-engine/internal/models"

	"github.com/shopspring/decimal"
)

// ShouldTrigger reports whether a pending order fires at price p.
//
//	limit        buy: p <= limit    sell: p >= limit
//	stop_loss    buy: p >= stop     sell: p <= stop
//	take_profit  buy: p <= target   sell: p >= target
//
// Market orders always fire. An order missing its reference price never does.
func ShouldTrigger(o *models.Order, p decimal.Decimal) bool {
	switch o.OrderType {
	case models.OrderTypeMarket:
		return true
	case models.OrderTypeLimit:
		if o.Price == nil {
			return false
		}
		if o.Side == models.SideBuy {
			return p.LessThanOrEqual(*o.Price)
		}
		return p.GreaterThanOrEqual(*o.Price)
	case models.OrderTypeStopLoss:
		if o.StopPrice == nil {
			return false
		}
		if o.Side == models.SideBuy {
			return p.GreaterThanOrEqual(*o.StopPrice)
		}
		return p.LessThanOrEqual(*o.StopPrice)
	case models.OrderTypeTakeProfit:
		if o.TriggerPrice == nil {
			return false
		}
		if o.Side == models.SideBuy {
			return p.LessThanOrEqual(*o.TriggerPrice)
		}
		return p.GreaterThanOrEqual(*o.TriggerPrice)
	}
	return false
}
