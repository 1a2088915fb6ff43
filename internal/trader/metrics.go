package trader

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "paper_trader"

// Trade sources, used as metric labels.
const (
	sourceManual  = "manual"
	sourceMonitor = "monitor"
)

var (
	tradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "trades_executed_total",
		Help:      "Executed trades by side and source",
	}, []string{"side", "source"})

	tradesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "trades_rejected_total",
		Help:      "Trades that failed validation or execution by reason",
	}, []string{"reason"})

	orderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "order_transitions_total",
		Help:      "Order state transitions by order type and new status",
	}, []string{"order_type", "status"})

	monitorTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "monitor_tick_duration_seconds",
		Help:      "Time spent evaluating pending orders in one monitor tick",
		Buckets:   prometheus.DefBuckets,
	})

	revaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "wallet_revaluations_total",
		Help:      "Wallet revaluations by outcome",
	}, []string{"outcome"})

	revaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "revaluation_duration_seconds",
		Help:      "Time spent revaluing all active wallets in one sweep",
		Buckets:   prometheus.DefBuckets,
	})

	monitorPendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "monitor_pending_orders",
		Help:      "Pending orders seen by the last monitor tick",
	})
)

// rejectionReason maps an error to a low-cardinality metric label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, ErrRiskDenied):
		return "risk_denied"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrSymbolNotFound):
		return "symbol_not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "internal"
	}
}
