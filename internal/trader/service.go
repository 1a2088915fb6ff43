package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"paper-trade-engine/internal/config"
	"paper-trade-engine/internal/ledger"
	"paper-trade-engine/internal/market"
	"paper-trade-engine/internal/models"
	"paper-trade-engine/internal/risk"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const recentTransactionsLimit = 10

// Service is the entry point for wallet and order operations. Manual trades
// and monitor executions share its risk-gate and execution pipeline.
type Service struct {
	store          *ledger.Store
	oracle         market.Oracle
	gate           *risk.Gate
	executor       *Executor
	initialBalance decimal.Decimal
	logger         *zap.Logger
	now            func() time.Time
}

// NewService wires the trading pipeline.
func NewService(store *ledger.Store, oracle market.Oracle, gate *risk.Gate, cfg config.Trading, logger *zap.Logger) *Service {
	return &Service{
		store:          store,
		oracle:         oracle,
		gate:           gate,
		executor:       NewExecutor(cfg.FeeRate, logger),
		initialBalance: cfg.InitialBalance,
		logger:         logger.Named("trader"),
		now:            time.Now,
	}
}

// TradeResult describes a completed execution.
type TradeResult struct {
	Order       *models.Order       `json:"order"`
	Transaction *models.Transaction `json:"transaction"`
	Wallet      *models.Wallet      `json:"wallet"`
}

// OrderOption customizes a conditional order at placement.
type OrderOption func(*models.Order)

// WithExpiry makes the order eligible for cancellation once t has passed.
func WithExpiry(t time.Time) OrderOption {
	return func(o *models.Order) {
		o.ExpiresAt = &t
	}
}

// WithClientOrderID sets the client supplied order id instead of a generated one.
func WithClientOrderID(id string) OrderOption {
	return func(o *models.Order) {
		o.ClientOrderID = id
	}
}

// CreateWallet opens a funded wallet for userID. Calling it again for the
// same user returns the existing wallet.
func (s *Service) CreateWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	w, _, err := s.store.CreateWallet(ctx, userID, s.initialBalance, s.executor.FeeRate())
	return w, err
}

// Wallet loads a wallet by id.
func (s *Service) Wallet(ctx context.Context, walletID uint) (*models.Wallet, error) {
	return s.store.Query(ctx).Wallet(walletID)
}

// WalletByUser loads the wallet of a user.
func (s *Service) WalletByUser(ctx context.Context, userID uint) (*models.Wallet, error) {
	return s.store.Query(ctx).WalletByUser(userID)
}

// PlaceMarketOrder executes immediately at the oracle price. Buys spend
// amountOrQuantity USD, sells sell amountOrQuantity units.
func (s *Service) PlaceMarketOrder(ctx context.Context, walletID uint, symbol string, side models.Side, amountOrQuantity decimal.Decimal) (*TradeResult, error) {
	symbol = normalizeSymbol(symbol)
	l := s.logger.With(
		zap.Uint("wallet_id", walletID),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("amount_or_quantity", amountOrQuantity.String()),
	)

	result, err := s.placeMarketOrder(ctx, walletID, symbol, side, amountOrQuantity)
	if err != nil {
		tradesRejected.WithLabelValues(rejectionReason(err)).Inc()
		l.Warn("Market order rejected", zap.Error(err))
		return nil, err
	}

	tradesExecuted.WithLabelValues(string(side), sourceManual).Inc()
	orderTransitions.WithLabelValues(string(models.OrderTypeMarket), string(models.OrderStatusExecuted)).Inc()
	l.Info("Market order executed",
		zap.Uint("order_id", result.Order.ID),
		zap.Uint("transaction_id", result.Transaction.ID),
		zap.String("price", result.Order.ExecutedPrice.String()))
	return result, nil
}

func (s *Service) placeMarketOrder(ctx context.Context, walletID uint, symbol string, side models.Side, amountOrQuantity decimal.Decimal) (*TradeResult, error) {
	if err := validateSide(side); err != nil {
		return nil, err
	}
	if !amountOrQuantity.IsPositive() {
		return nil, fmt.Errorf("%s: %w", amountOrQuantity, ErrInvalidAmount)
	}
	if _, err := s.store.Query(ctx).Symbol(symbol); err != nil {
		return nil, err
	}
	price, err := s.price(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var result *TradeResult
	err = s.store.Atomic(ctx, walletID, func(tx *ledger.Tx) error {
		w, err := tx.Wallet(walletID)
		if err != nil {
			return err
		}

		order := &models.Order{
			WalletID:         walletID,
			ClientOrderID:    uuid.NewString(),
			OrderType:        models.OrderTypeMarket,
			Side:             side,
			Symbol:           symbol,
			Quantity:         amountOrQuantity,
			TotalAmount:      amountOrQuantity,
			Status:           models.OrderStatusPending,
			ExecutedQuantity: decimal.Zero,
		}
		if side == models.SideSell {
			order.TotalAmount = amountOrQuantity.Mul(price)
		} else {
			// Quantity a buy of this size receives after fees.
			order.Quantity = amountOrQuantity.Sub(amountOrQuantity.Mul(s.executor.FeeRate())).Div(price)
		}

		result, err = s.fill(tx, w, order, price, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExecuteOrder fills a pending order at price through the risk gate and the
// executor. Buys spend the order's TotalAmount, sells sell its Quantity. It
// fails with ledger.ErrOrderNotPending when the order is no longer pending.
func (s *Service) ExecuteOrder(ctx context.Context, orderID uint, price decimal.Decimal) (*TradeResult, error) {
	order, err := s.store.Query(ctx).Order(orderID)
	if err != nil {
		return nil, err
	}

	var result *TradeResult
	err = s.store.Atomic(ctx, order.WalletID, func(tx *ledger.Tx) error {
		current, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		if current.Status != models.OrderStatusPending {
			return fmt.Errorf("order %d is %s: %w", orderID, current.Status, ledger.ErrOrderNotPending)
		}
		w, err := tx.Wallet(current.WalletID)
		if err != nil {
			return err
		}
		result, err = s.fill(tx, w, current, price, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fill runs one order through the risk gate and the executor and marks it
// executed. The order row is inserted first when create is set.
func (s *Service) fill(tx *ledger.Tx, w *models.Wallet, order *models.Order, price decimal.Decimal, create bool) (*TradeResult, error) {
	amount, tradeSize := order.TotalAmount, order.TotalAmount
	if order.Side == models.SideSell {
		amount, tradeSize = order.Quantity.Mul(price), order.Quantity
	}

	if err := s.checkRisk(tx, w, order.Side, order.Symbol, amount); err != nil {
		return nil, err
	}

	if create {
		if err := tx.CreateOrder(order); err != nil {
			return nil, fmt.Errorf("could not store order: %w", err)
		}
	}

	record, err := s.executor.Execute(tx, w, order.Side, order.Symbol, tradeSize, price, &order.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.MarkOrderExecuted(order, price, order.Quantity, record.ID, s.now()); err != nil {
		return nil, err
	}

	return &TradeResult{Order: order, Transaction: record, Wallet: w}, nil
}

func (s *Service) checkRisk(tx *ledger.Tx, w *models.Wallet, side models.Side, symbol string, amount decimal.Decimal) error {
	holdings, err := tx.Holdings(w.ID)
	if err != nil {
		return err
	}
	realizedToday, err := tx.RealizedPnLSince(w.ID, ledger.StartOfDay(s.now()))
	if err != nil {
		return err
	}
	decision := s.gate.Validate(risk.NewSnapshot(w, holdings, realizedToday), side, symbol, amount)
	if !decision.Allowed {
		return &RiskDeniedError{Rule: decision.Rule, Reason: decision.Reason}
	}
	return nil
}

// PlaceLimitOrder stores a pending limit order. A buy reserves nothing but
// requires quantity*limitPrice of cash now; a sell requires the holding.
// The trade must also pass the risk gate at placement.
func (s *Service) PlaceLimitOrder(ctx context.Context, walletID uint, symbol string, side models.Side, quantity, limitPrice decimal.Decimal, opts ...OrderOption) (*models.Order, error) {
	if err := validateSide(side); err != nil {
		return nil, err
	}
	order := &models.Order{
		OrderType: models.OrderTypeLimit,
		Side:      side,
		Price:     &limitPrice,
	}
	return s.placeConditional(ctx, walletID, symbol, quantity, limitPrice, order, true, opts)
}

// PlaceStopLossOrder stores a pending sell that fires once the price falls
// to stopPrice or below.
func (s *Service) PlaceStopLossOrder(ctx context.Context, walletID uint, symbol string, quantity, stopPrice decimal.Decimal, opts ...OrderOption) (*models.Order, error) {
	order := &models.Order{
		OrderType: models.OrderTypeStopLoss,
		Side:      models.SideSell,
		StopPrice: &stopPrice,
	}
	return s.placeConditional(ctx, walletID, symbol, quantity, stopPrice, order, false, opts)
}

// PlaceTakeProfitOrder stores a pending sell that fires once the price rises
// to triggerPrice or above.
func (s *Service) PlaceTakeProfitOrder(ctx context.Context, walletID uint, symbol string, quantity, triggerPrice decimal.Decimal, opts ...OrderOption) (*models.Order, error) {
	order := &models.Order{
		OrderType:    models.OrderTypeTakeProfit,
		Side:         models.SideSell,
		TriggerPrice: &triggerPrice,
	}
	return s.placeConditional(ctx, walletID, symbol, quantity, triggerPrice, order, false, opts)
}

func (s *Service) placeConditional(ctx context.Context, walletID uint, symbol string, quantity, refPrice decimal.Decimal, order *models.Order, gated bool, opts []OrderOption) (*models.Order, error) {
	symbol = normalizeSymbol(symbol)
	l := s.logger.With(
		zap.Uint("wallet_id", walletID),
		zap.String("symbol", symbol),
		zap.String("order_type", string(order.OrderType)),
		zap.String("side", string(order.Side)),
		zap.String("quantity", quantity.String()),
		zap.String("price", refPrice.String()),
	)

	order.WalletID = walletID
	order.Symbol = symbol
	order.Quantity = quantity
	order.TotalAmount = quantity.Mul(refPrice)
	order.Status = models.OrderStatusPending
	order.ExecutedQuantity = decimal.Zero
	order.ClientOrderID = uuid.NewString()
	for _, opt := range opts {
		opt(order)
	}

	err := s.storeConditional(ctx, order, gated)
	if err != nil {
		tradesRejected.WithLabelValues(rejectionReason(err)).Inc()
		l.Warn("Order rejected", zap.Error(err))
		return nil, err
	}

	orderTransitions.WithLabelValues(string(order.OrderType), string(models.OrderStatusPending)).Inc()
	l.Info("Order placed", zap.Uint("order_id", order.ID), zap.String("client_order_id", order.ClientOrderID))
	return order, nil
}

func (s *Service) storeConditional(ctx context.Context, order *models.Order, gated bool) error {
	if !order.Quantity.IsPositive() || !order.TotalAmount.IsPositive() {
		return fmt.Errorf("quantity %s at %s: %w", order.Quantity, order.TotalAmount, ErrInvalidAmount)
	}
	if _, err := s.store.Query(ctx).Symbol(order.Symbol); err != nil {
		return err
	}

	return s.store.Atomic(ctx, order.WalletID, func(tx *ledger.Tx) error {
		w, err := tx.Wallet(order.WalletID)
		if err != nil {
			return err
		}

		if order.Side == models.SideBuy {
			if w.CashBalance.LessThan(order.TotalAmount) {
				return fmt.Errorf("need %s, have %s: %w", order.TotalAmount, w.CashBalance, ErrInsufficientFunds)
			}
		} else {
			holding, err := tx.Holding(w.ID, order.Symbol)
			if err != nil {
				return err
			}
			if holding == nil || holding.Quantity.LessThan(order.Quantity) {
				return fmt.Errorf("need %s %s: %w", order.Quantity, order.Symbol, ErrInsufficientHoldings)
			}
		}

		if gated {
			if err := s.checkRisk(tx, w, order.Side, order.Symbol, order.TotalAmount); err != nil {
				return err
			}
		}
		return tx.CreateOrder(order)
	})
}

// CancelOrder cancels a pending order owned by userID. Orders of other users
// are reported as not found.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID uint) (bool, error) {
	l := s.logger.With(zap.Uint("order_id", orderID), zap.Uint("user_id", userID))

	order, err := s.store.Query(ctx).Order(orderID)
	if err != nil {
		return false, err
	}
	w, err := s.store.Query(ctx).Wallet(order.WalletID)
	if err != nil {
		return false, err
	}
	if w.UserID != userID {
		return false, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}

	err = s.store.Atomic(ctx, order.WalletID, func(tx *ledger.Tx) error {
		return tx.MarkOrderCancelled(order, s.now())
	})
	if errors.Is(err, ledger.ErrOrderNotPending) {
		return false, fmt.Errorf("order %d: %w", orderID, ErrOrderNotCancellable)
	}
	if err != nil {
		return false, err
	}

	orderTransitions.WithLabelValues(string(order.OrderType), string(models.OrderStatusCancelled)).Inc()
	l.Info("Order cancelled")
	return true, nil
}

// ListOrders returns the orders of a user, newest first. An empty status
// returns every order.
func (s *Service) ListOrders(ctx context.Context, userID uint, status models.OrderStatus) ([]models.Order, error) {
	q := s.store.Query(ctx)
	w, err := q.WalletByUser(userID)
	if err != nil {
		return nil, err
	}
	return q.Orders(w.ID, status)
}

// Transactions returns the newest ledger entries of a wallet.
func (s *Service) Transactions(ctx context.Context, walletID uint, limit int) ([]models.Transaction, error) {
	q := s.store.Query(ctx)
	if _, err := q.Wallet(walletID); err != nil {
		return nil, err
	}
	return q.Transactions(walletID, limit)
}

// price asks the oracle for symbol and maps the miss cases to ErrPriceUnavailable.
func (s *Service) price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, ok, err := s.oracle.Price(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w: %v", symbol, ErrPriceUnavailable, err)
	}
	if !ok || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrPriceUnavailable)
	}
	return price, nil
}

// prices looks up several symbols at once, in a single upstream request when
// the oracle supports batches. Symbols without a price are absent.
func (s *Service) prices(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}
	}
	prices, failed := market.Lookup(ctx, s.oracle, symbols)
	for symbol, err := range failed {
		s.logger.Warn("No price for symbol", zap.String("symbol", symbol), zap.Error(err))
	}
	return prices
}

func validateSide(side models.Side) error {
	if side != models.SideBuy && side != models.SideSell {
		return fmt.Errorf("unknown side %q: %w", side, ErrInvalidAmount)
	}
	return nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
