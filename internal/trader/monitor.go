package trader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"paper-trade-engine/internal/config"
	"paper-trade-engine/internal/ledger"
	"paper-trade-engine/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TickResult counts what one monitor pass did.
type TickResult struct {
	Pending  int `json:"pending"`
	Executed int `json:"executed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Expired  int `json:"expired"`
}

// Monitor periodically evaluates pending conditional orders and executes
// those whose trigger condition holds at the current oracle price.
type Monitor struct {
	svc             *Service
	interval        time.Duration
	revalueInterval time.Duration
	enforceExpiry   bool
	logger          *zap.Logger

	running     atomic.Bool
	mu          sync.Mutex
	stop        chan struct{}
	done        chan struct{}
	startTime   time.Time
	lastTick    atomic.Pointer[TickResult]
	lastRevalue atomic.Pointer[RevalueResult]
}

// NewMonitor creates a stopped monitor.
func NewMonitor(svc *Service, cfg config.Monitor, logger *zap.Logger) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		svc:             svc,
		interval:        interval,
		revalueInterval: cfg.RevalueInterval,
		enforceExpiry:   cfg.EnforceExpiry,
		logger:          logger.Named("monitor"),
	}
}

// Start launches the polling loop. It returns false if the loop is already running.
func (m *Monitor) Start(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return false
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.startTime = time.Now()
	m.running.Store(true)

	go m.run(ctx, m.stop, m.done)
	return true
}

// Stop halts the loop and waits for an in-flight tick to complete.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running.Load() {
		return
	}
	m.running.Store(false)
	close(m.stop)
	<-m.done
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// StartTime returns when the loop was last started.
func (m *Monitor) StartTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startTime
}

// LastTick returns the result of the most recent tick, or nil before the first one.
func (m *Monitor) LastTick() *TickResult {
	return m.lastTick.Load()
}

// LastRevalue returns the result of the most recent revaluation sweep, or nil
// before the first one.
func (m *Monitor) LastRevalue() *RevalueResult {
	return m.lastRevalue.Load()
}

func (m *Monitor) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer m.running.Store(false)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// A nil channel never fires, which leaves the sweep disabled.
	var revalue <-chan time.Time
	if m.revalueInterval > 0 {
		revalueTicker := time.NewTicker(m.revalueInterval)
		defer revalueTicker.Stop()
		revalue = revalueTicker.C
	}

	m.logger.Info("Starting order monitor",
		zap.Duration("interval", m.interval),
		zap.Duration("revalue_interval", m.revalueInterval))

	for {
		if !m.running.Load() {
			m.logger.Info("Order monitor stopped")
			return
		}
		select {
		case <-ctx.Done():
			m.logger.Info("Stopping order monitor...")
			return
		case <-stop:
			m.logger.Info("Order monitor stopped")
			return
		case <-ticker.C:
			m.step(func() { m.Tick(ctx) })
		case <-revalue:
			m.step(func() { m.Revalue(ctx) })
		}
	}
}

// step runs fn unless the monitor was stopped while the loop was waiting.
// A tick that fired together with Stop must not start new work.
func (m *Monitor) step(fn func()) bool {
	if !m.running.Load() {
		return false
	}
	fn()
	return true
}

// Revalue marks every active wallet to market.
func (m *Monitor) Revalue(ctx context.Context) RevalueResult {
	res, err := m.svc.UpdateAllPortfolioValues(ctx)
	if err != nil {
		m.logger.Error("Failed to revalue wallets", zap.Error(err))
		return res
	}
	if res.Failed > 0 || res.Stale > 0 {
		m.logger.Warn("Revaluation sweep complete",
			zap.Int("wallets", res.Wallets),
			zap.Int("updated", res.Updated),
			zap.Int("failed", res.Failed),
			zap.Int("stale", res.Stale))
	} else {
		m.logger.Debug("Revaluation sweep complete",
			zap.Int("wallets", res.Wallets),
			zap.Int("updated", res.Updated))
	}
	m.lastRevalue.Store(&res)
	return res
}

// Tick runs one evaluation pass over all pending orders. Orders of one
// wallet are handled in placement order; wallets are handled concurrently.
// A failing order is logged and stays pending for the next tick.
func (m *Monitor) Tick(ctx context.Context) TickResult {
	start := time.Now()
	defer func() { monitorTickDuration.Observe(time.Since(start).Seconds()) }()

	var res TickResult
	if m.enforceExpiry {
		res.Expired = m.expire(ctx)
	}

	pending, err := m.svc.store.Query(ctx).PendingOrders()
	if err != nil {
		m.logger.Error("Failed to load pending orders", zap.Error(err))
		return res
	}
	res.Pending = len(pending)
	monitorPendingOrders.Set(float64(len(pending)))
	if len(pending) == 0 {
		m.lastTick.Store(&res)
		return res
	}

	prices := m.prices(ctx, pending)

	byWallet := make(map[uint][]models.Order)
	for _, o := range pending {
		byWallet[o.WalletID] = append(byWallet[o.WalletID], o)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for walletID, orders := range byWallet {
		wg.Add(1)
		go func(walletID uint, orders []models.Order) {
			defer wg.Done()
			var local TickResult
			for i := range orders {
				switch m.evaluate(ctx, &orders[i], prices) {
				case outcomeExecuted:
					local.Executed++
				case outcomeFailed:
					local.Failed++
				default:
					local.Skipped++
				}
			}
			mu.Lock()
			res.Executed += local.Executed
			res.Failed += local.Failed
			res.Skipped += local.Skipped
			mu.Unlock()
		}(walletID, orders)
	}
	wg.Wait()

	if res.Executed > 0 || res.Failed > 0 || res.Expired > 0 {
		m.logger.Info("Monitor tick complete",
			zap.Int("pending", res.Pending),
			zap.Int("executed", res.Executed),
			zap.Int("failed", res.Failed),
			zap.Int("expired", res.Expired))
	}
	m.lastTick.Store(&res)
	return res
}

// prices fetches the price of every distinct symbol in one lookup. Symbols
// without a price are absent and their orders wait for the next tick.
func (m *Monitor) prices(ctx context.Context, orders []models.Order) map[string]decimal.Decimal {
	seen := make(map[string]struct{})
	symbols := make([]string, 0, len(orders))
	for _, o := range orders {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}
		symbols = append(symbols, o.Symbol)
	}
	return m.svc.prices(ctx, symbols)
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeExecuted
	outcomeFailed
)

func (m *Monitor) evaluate(ctx context.Context, order *models.Order, prices map[string]decimal.Decimal) outcome {
	l := m.logger.With(
		zap.Uint("order_id", order.ID),
		zap.Uint("wallet_id", order.WalletID),
		zap.String("symbol", order.Symbol),
		zap.String("order_type", string(order.OrderType)),
		zap.String("side", string(order.Side)),
	)

	price, ok := prices[order.Symbol]
	if !ok || !ShouldTrigger(order, price) {
		return outcomeSkipped
	}

	result, err := m.svc.ExecuteOrder(ctx, order.ID, price)
	switch {
	case err == nil:
		tradesExecuted.WithLabelValues(string(order.Side), sourceMonitor).Inc()
		orderTransitions.WithLabelValues(string(order.OrderType), string(models.OrderStatusExecuted)).Inc()
		l.Info("Order executed",
			zap.String("price", price.String()),
			zap.Uint("transaction_id", result.Transaction.ID))
		return outcomeExecuted
	case errors.Is(err, ledger.ErrOrderNotPending):
		// Cancelled or executed since the pending list was loaded.
		return outcomeSkipped
	default:
		tradesRejected.WithLabelValues(rejectionReason(err)).Inc()
		l.Warn("Order execution failed, leaving it pending", zap.String("price", price.String()), zap.Error(err))
		return outcomeFailed
	}
}

func (m *Monitor) expire(ctx context.Context) int {
	pending, err := m.svc.store.Query(ctx).PendingOrders()
	if err != nil {
		m.logger.Error("Failed to load pending orders for expiry", zap.Error(err))
		return 0
	}

	now := m.svc.now()
	expired := 0
	for i := range pending {
		o := &pending[i]
		if !o.Expired(now) {
			continue
		}
		err := m.svc.store.Atomic(ctx, o.WalletID, func(tx *ledger.Tx) error {
			return tx.MarkOrderCancelled(o, now)
		})
		if err != nil {
			if !errors.Is(err, ledger.ErrOrderNotPending) {
				m.logger.Warn("Failed to expire order", zap.Uint("order_id", o.ID), zap.Error(err))
			}
			continue
		}
		expired++
		orderTransitions.WithLabelValues(string(o.OrderType), string(models.OrderStatusCancelled)).Inc()
		m.logger.Info("Order expired", zap.Uint("order_id", o.ID), zap.Time("expires_at", *o.ExpiresAt))
	}
	return expired
}
