package trader

import (
	"fmt"
	"time"

	"paper-trade-engine/internal/ledger"
	"paper-trade-engine/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Executor applies trades to a wallet that is already locked by the caller.
// It performs no risk checks.
type Executor struct {
	feeRate decimal.Decimal
	logger  *zap.Logger
	now     func() time.Time
}

// NewExecutor creates an executor charging feeRate on every trade.
func NewExecutor(feeRate decimal.Decimal, logger *zap.Logger) *Executor {
	return &Executor{
		feeRate: feeRate,
		logger:  logger.Named("executor"),
		now:     time.Now,
	}
}

// FeeRate returns the fee charged per trade as a fraction of its value.
func (e *Executor) FeeRate() decimal.Decimal {
	return e.feeRate
}

// Execute buys for amountOrQuantity USD or sells amountOrQuantity units at
// price. The wallet is updated in place and persisted through tx together
// with the holding and exactly one appended transaction.
func (e *Executor) Execute(tx *ledger.Tx, w *models.Wallet, side models.Side, symbol string, amountOrQuantity, price decimal.Decimal, orderID *uint) (*models.Transaction, error) {
	if !amountOrQuantity.IsPositive() {
		return nil, fmt.Errorf("%s %s: %w", side, amountOrQuantity, ErrInvalidAmount)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%s at %s: %w", symbol, price, ErrPriceUnavailable)
	}

	var (
		record *models.Transaction
		err    error
	)
	switch side {
	case models.SideBuy:
		record, err = e.buy(tx, w, symbol, amountOrQuantity, price, orderID)
	case models.SideSell:
		record, err = e.sell(tx, w, symbol, amountOrQuantity, price, orderID)
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}
	if err != nil {
		return nil, err
	}

	if err := e.revalue(tx, w); err != nil {
		return nil, fmt.Errorf("could not revalue wallet %d: %w", w.ID, err)
	}
	return record, nil
}

func (e *Executor) buy(tx *ledger.Tx, w *models.Wallet, symbol string, amount, price decimal.Decimal, orderID *uint) (*models.Transaction, error) {
	if w.CashBalance.LessThan(amount) {
		return nil, fmt.Errorf("need %s, have %s: %w", amount, w.CashBalance, ErrInsufficientFunds)
	}

	fee := amount.Mul(e.feeRate)
	net := amount.Sub(fee)
	quantity := net.Div(price)

	holding, err := tx.Holding(w.ID, symbol)
	if err != nil {
		return nil, err
	}
	if holding == nil {
		holding = &models.Holding{
			WalletID:         w.ID,
			Symbol:           symbol,
			Quantity:         quantity,
			AverageCostBasis: price,
			TotalCost:        net,
			FirstPurchaseAt:  e.now(),
		}
	} else {
		holding.TotalCost = holding.TotalCost.Add(net)
		holding.Quantity = holding.Quantity.Add(quantity)
		holding.AverageCostBasis = holding.TotalCost.Div(holding.Quantity)
	}
	holding.MarkToMarket(price)
	if err := tx.SaveHolding(holding); err != nil {
		return nil, err
	}

	w.CashBalance = w.CashBalance.Sub(amount)
	w.TotalInvested = w.TotalInvested.Add(net)
	w.TotalTrades++
	w.RecomputeWinRate()

	record := &models.Transaction{
		WalletID:    w.ID,
		OrderID:     orderID,
		Type:        models.TransactionBuy,
		Symbol:      &symbol,
		Quantity:    &quantity,
		Price:       &price,
		TotalAmount: amount,
		Fee:         fee,
		FeeRate:     e.feeRate,
	}
	if err := tx.AppendTransaction(record); err != nil {
		return nil, err
	}

	e.logger.Debug("Buy applied",
		zap.Uint("wallet_id", w.ID),
		zap.String("symbol", symbol),
		zap.String("amount", amount.String()),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()))
	return record, nil
}

func (e *Executor) sell(tx *ledger.Tx, w *models.Wallet, symbol string, quantity, price decimal.Decimal, orderID *uint) (*models.Transaction, error) {
	holding, err := tx.Holding(w.ID, symbol)
	if err != nil {
		return nil, err
	}
	if holding == nil || holding.Quantity.LessThan(quantity) {
		available := decimal.Zero
		if holding != nil {
			available = holding.Quantity
		}
		return nil, fmt.Errorf("need %s %s, have %s: %w", quantity, symbol, available, ErrInsufficientHoldings)
	}

	gross := quantity.Mul(price)
	fee := gross.Mul(e.feeRate)
	net := gross.Sub(fee)
	costBasis := quantity.Mul(holding.AverageCostBasis)
	realized := net.Sub(costBasis)
	realizedPct := decimal.Zero
	if costBasis.IsPositive() {
		realizedPct = realized.Div(costBasis).Mul(hundred).Round(4)
	}

	w.CashBalance = w.CashBalance.Add(net)
	w.TotalRealizedPnL = w.TotalRealizedPnL.Add(realized)
	w.TotalTrades++
	if realized.IsPositive() {
		w.WinningTrades++
	} else {
		w.LosingTrades++
	}
	w.RecomputeWinRate()

	holding.Quantity = holding.Quantity.Sub(quantity)
	holding.TotalCost = holding.TotalCost.Sub(costBasis)

	var dust *decimal.Decimal
	if holding.Quantity.IsZero() {
		if !holding.TotalCost.IsZero() {
			residual := holding.TotalCost
			dust = &residual
		}
		if err := tx.DeleteHolding(holding); err != nil {
			return nil, err
		}
	} else {
		holding.MarkToMarket(price)
		if err := tx.SaveHolding(holding); err != nil {
			return nil, err
		}
	}

	record := &models.Transaction{
		WalletID:       w.ID,
		OrderID:        orderID,
		Type:           models.TransactionSell,
		Symbol:         &symbol,
		Quantity:       &quantity,
		Price:          &price,
		TotalAmount:    gross,
		Fee:            fee,
		FeeRate:        e.feeRate,
		RealizedPnL:    &realized,
		RealizedPnLPct: &realizedPct,
		DustCost:       dust,
	}
	if err := tx.AppendTransaction(record); err != nil {
		return nil, err
	}

	e.logger.Debug("Sell applied",
		zap.Uint("wallet_id", w.ID),
		zap.String("symbol", symbol),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()),
		zap.String("realized_pnl", realized.String()))
	return record, nil
}

// revalue re-establishes TotalPortfolioValue from cash and the marked
// holdings, then persists the wallet.
func (e *Executor) revalue(tx *ledger.Tx, w *models.Wallet) error {
	holdings, err := tx.Holdings(w.ID)
	if err != nil {
		return err
	}
	total := w.CashBalance
	for _, h := range holdings {
		total = total.Add(h.CurrentValue)
	}
	w.TotalPortfolioValue = total
	return tx.SaveWallet(w)
}
