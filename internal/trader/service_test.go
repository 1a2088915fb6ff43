package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paper-trade-engine/internal/ledger"
	"paper-trade-engine/internal/models"
	"paper-trade-engine/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateWallet(t *testing.T) {
	env := setupTest(t, nil)
	ctx := context.Background()

	w, err := env.svc.CreateWallet(ctx, 42)
	require.NoError(t, err)
	assertDecimal(t, "10000", w.CashBalance)
	assertDecimal(t, "10000", w.InitialBalance)

	again, err := env.svc.CreateWallet(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, w.ID, again.ID)

	txs := env.transactions(t, w.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionDeposit, txs[0].Type)
}

// Scenario A: $1,000 of a $50,000 symbol.
func TestPlaceMarketOrder_Buy(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)

	result, err := env.svc.PlaceMarketOrder(context.Background(), w.ID, "btc", models.SideBuy, d("1000"))
	require.NoError(t, err)

	assert.Equal(t, models.OrderTypeMarket, result.Order.OrderType)
	assert.Equal(t, models.OrderStatusExecuted, result.Order.Status)
	assert.Equal(t, "BTC", result.Order.Symbol)
	assert.NotEmpty(t, result.Order.ClientOrderID)
	require.NotNil(t, result.Order.TransactionID)
	assert.Equal(t, result.Transaction.ID, *result.Order.TransactionID)
	require.NotNil(t, result.Transaction.OrderID)
	assert.Equal(t, result.Order.ID, *result.Transaction.OrderID)

	assertDecimal(t, "1", result.Transaction.Fee)
	assertDecimal(t, "0.01998", *result.Transaction.Quantity)
	assertDecimal(t, "0.01998", result.Order.ExecutedQuantity)
	assertDecimal(t, "50000", *result.Order.ExecutedPrice)

	got := env.reloadWallet(t, w.ID)
	assertDecimal(t, "9000", got.CashBalance)
	assertDecimal(t, "9999", got.TotalPortfolioValue)

	stored := env.reloadOrder(t, result.Order.ID)
	assert.Equal(t, models.OrderStatusExecuted, stored.Status)
}

func TestPlaceMarketOrder_Sell(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)
	env.seedHolding(t, w.ID, "BTC", "0.02", "45000")

	result, err := env.svc.PlaceMarketOrder(context.Background(), w.ID, "BTC", models.SideSell, d("0.01"))
	require.NoError(t, err)

	// 0.01 * 50000 * 0.999 - 0.01 * 45000
	assertDecimal(t, "49.5", *result.Transaction.RealizedPnL)
	assertDecimal(t, "0.01", result.Order.ExecutedQuantity)
	assertDecimal(t, "500", result.Order.TotalAmount)

	got := env.reloadWallet(t, w.ID)
	assert.Equal(t, int64(1), got.WinningTrades)
	assert.Equal(t, int64(1), got.TotalTrades)
	assertDecimal(t, "100", got.WinRate)
}

func TestPlaceMarketOrder_PositionSizeDenied(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)

	_, err := env.svc.PlaceMarketOrder(context.Background(), w.ID, "BTC", models.SideBuy, d("2500"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRiskDenied)

	var denied *RiskDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, risk.RulePositionSize, denied.Rule)

	got := env.reloadWallet(t, w.ID)
	assertDecimal(t, "10000", got.CashBalance)
	assert.Len(t, env.transactions(t, w.ID), 1)

	orders, err := env.svc.ListOrders(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Empty(t, orders, "a denied market order leaves no order row")
}

func TestPlaceMarketOrder_ValidationErrors(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)
	ctx := context.Background()

	_, err := env.svc.PlaceMarketOrder(ctx, w.ID, "BTC", models.SideBuy, d("-5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.svc.PlaceMarketOrder(ctx, w.ID, "DOGE", models.SideBuy, d("100"))
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	_, err = env.svc.PlaceMarketOrder(ctx, w.ID, "SOL", models.SideBuy, d("100"))
	assert.ErrorIs(t, err, ErrPriceUnavailable, "SOL is listed but the oracle has no price")

	_, err = env.svc.PlaceMarketOrder(ctx, w.ID+100, "BTC", models.SideBuy, d("100"))
	assert.ErrorIs(t, err, ErrWalletNotFound)

	_, err = env.svc.PlaceMarketOrder(ctx, w.ID, "BTC", models.SideSell, d("1"))
	assert.ErrorIs(t, err, ErrInsufficientHoldings)

	_, err = env.svc.PlaceMarketOrder(ctx, w.ID, "BTC", models.Side("hold"), d("1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPlaceMarketOrder_OracleFailure(t *testing.T) {
	oracle := new(MockOracle)
	oracle.On("Price", mock.Anything, "ETH").Return(decimal.Zero, false, errors.New("feed down"))
	env := setupTest(t, oracle)
	w := env.wallet(t, 1)

	_, err := env.svc.PlaceMarketOrder(context.Background(), w.ID, "ETH", models.SideBuy, d("100"))
	assert.ErrorIs(t, err, ErrPriceUnavailable)
	oracle.AssertExpectations(t)
}

// Scenario C: two concurrent full sells of the same holding.
func TestPlaceMarketOrder_ConcurrentSells(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)
	env.seedHolding(t, w.ID, "BTC", "0.01", "50000")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.PlaceMarketOrder(context.Background(), w.ID, "BTC", models.SideSell, d("0.01"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientHoldings)
	}
	assert.Equal(t, 1, succeeded)
	assert.Nil(t, env.holding(t, w.ID, "BTC"))

	got := env.reloadWallet(t, w.ID)
	assert.Equal(t, int64(1), got.TotalTrades)
	assert.Equal(t, got.WinningTrades+got.LosingTrades, int64(1))
}

func TestPlaceLimitOrder(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	order, err := env.svc.PlaceLimitOrder(ctx, w.ID, "BTC", models.SideBuy, d("0.02"), d("49000"), WithExpiry(expiry))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assertDecimal(t, "980", order.TotalAmount)
	require.NotNil(t, order.ExpiresAt)
	assert.True(t, expiry.Equal(*order.ExpiresAt))

	// Placement reserves nothing.
	assertDecimal(t, "10000", env.reloadWallet(t, w.ID).CashBalance)

	_, err = env.svc.PlaceLimitOrder(ctx, w.ID, "BTC", models.SideBuy, d("1"), d("20000"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = env.svc.PlaceLimitOrder(ctx, w.ID, "BTC", models.SideBuy, d("0.05"), d("49000"))
	assert.ErrorIs(t, err, ErrRiskDenied, "2,450 is above the 20% position limit")

	_, err = env.svc.PlaceLimitOrder(ctx, w.ID, "BTC", models.SideSell, d("0.01"), d("52000"))
	assert.ErrorIs(t, err, ErrInsufficientHoldings)

	_, err = env.svc.PlaceLimitOrder(ctx, w.ID, "BTC", models.SideBuy, d("0.01"), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	custom, err := env.svc.PlaceLimitOrder(ctx, w.ID, "BTC", models.SideBuy, d("0.001"), d("48000"), WithClientOrderID("my-order-1"))
	require.NoError(t, err)
	assert.Equal(t, "my-order-1", custom.ClientOrderID)
}

func TestPlaceStopLossAndTakeProfit_RequireHolding(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)
	ctx := context.Background()

	_, err := env.svc.PlaceStopLossOrder(ctx, w.ID, "BTC", d("0.01"), d("48000"))
	assert.ErrorIs(t, err, ErrInsufficientHoldings)

	env.seedHolding(t, w.ID, "BTC", "0.01", "50000")

	sl, err := env.svc.PlaceStopLossOrder(ctx, w.ID, "BTC", d("0.01"), d("48000"))
	require.NoError(t, err)
	assert.Equal(t, models.SideSell, sl.Side)
	assertDecimal(t, "480", sl.TotalAmount)
	require.NotNil(t, sl.StopPrice)

	tp, err := env.svc.PlaceTakeProfitOrder(ctx, w.ID, "BTC", d("0.01"), d("55000"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderTypeTakeProfit, tp.OrderType)
	require.NotNil(t, tp.TriggerPrice)
	assertDecimal(t, "55000", *tp.TriggerPrice)
}

func TestCancelOrder(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)
	env.wallet(t, 2)
	ctx := context.Background()

	order, err := env.svc.PlaceLimitOrder(ctx, w.ID, "BTC", models.SideBuy, d("0.02"), d("49000"))
	require.NoError(t, err)

	ok, err := env.svc.CancelOrder(ctx, order.ID, 2)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrOrderNotFound, "orders of another user are invisible")

	ok, err = env.svc.CancelOrder(ctx, order.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	stored := env.reloadOrder(t, order.ID)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.NotNil(t, stored.CancelledAt)

	ok, err = env.svc.CancelOrder(ctx, order.ID, 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrOrderNotCancellable)

	_, err = env.svc.CancelOrder(ctx, 9999, 1)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	// A cancelled order can no longer execute.
	_, err = env.svc.ExecuteOrder(ctx, order.ID, d("48000"))
	assert.ErrorIs(t, err, ledger.ErrOrderNotPending)
	assert.Len(t, env.transactions(t, w.ID), 1)
}

func TestListOrders(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)
	ctx := context.Background()

	first, err := env.svc.PlaceLimitOrder(ctx, w.ID, "BTC", models.SideBuy, d("0.01"), d("45000"))
	require.NoError(t, err)
	second, err := env.svc.PlaceLimitOrder(ctx, w.ID, "ETH", models.SideBuy, d("0.1"), d("2500"))
	require.NoError(t, err)
	_, err = env.svc.CancelOrder(ctx, first.ID, 1)
	require.NoError(t, err)

	all, err := env.svc.ListOrders(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	pending, err := env.svc.ListOrders(ctx, 1, models.OrderStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	_, err = env.svc.ListOrders(ctx, 99, "")
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestUpdatePortfolioValues(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)
	ctx := context.Background()

	_, err := env.svc.PlaceMarketOrder(ctx, w.ID, "BTC", models.SideBuy, d("1000"))
	require.NoError(t, err)

	env.oracle.Set("BTC", d("45000"))
	v, err := env.svc.UpdatePortfolioValues(ctx, w.ID)
	require.NoError(t, err)

	// 9000 + 0.01998 * 45000
	assertDecimal(t, "9899.1", v.TotalPortfolioValue)
	assertDecimal(t, "-99.9", v.DailyPnL)
	assertDecimal(t, "-99.9", v.TotalUnrealizedPnL)
	assertDecimal(t, "1.009", v.MaxDrawdown)
	assert.Empty(t, v.StaleSymbols)

	h := env.holding(t, w.ID, "BTC")
	assertDecimal(t, "45000", h.CurrentPrice)
	assertDecimal(t, "899.1", h.CurrentValue)
	assertDecimal(t, "-10", h.UnrealizedPnLPct)

	// Recovery keeps the worst drawdown.
	env.oracle.Set("BTC", d("60000"))
	v, err = env.svc.UpdatePortfolioValues(ctx, w.ID)
	require.NoError(t, err)
	assertDecimal(t, "10198.8", v.TotalPortfolioValue)
	assertDecimal(t, "1.009", v.MaxDrawdown)

	// A missing price keeps the previous valuation.
	env.oracle.Delete("BTC")
	v, err = env.svc.UpdatePortfolioValues(ctx, w.ID)
	require.NoError(t, err)
	assertDecimal(t, "10198.8", v.TotalPortfolioValue)
	assert.True(t, v.DailyPnL.IsZero())
	assert.Equal(t, []string{"BTC"}, v.StaleSymbols)
}

// A price crash only reaches the risk gate once the wallet is revalued.
func TestUpdateAllPortfolioValues_TotalLossDeniesNextBuy(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)
	ctx := context.Background()

	_, err := env.svc.PlaceMarketOrder(ctx, w.ID, "BTC", models.SideBuy, d("1900"))
	require.NoError(t, err)
	_, err = env.svc.PlaceMarketOrder(ctx, w.ID, "ETH", models.SideBuy, d("1900"))
	require.NoError(t, err)

	env.oracle.Set("BTC", d("15000"))
	env.oracle.Set("ETH", d("900"))
	assertDecimal(t, "9996.2", env.reloadWallet(t, w.ID).TotalPortfolioValue)

	res, err := env.svc.UpdateAllPortfolioValues(ctx)
	require.NoError(t, err)
	assert.Equal(t, RevalueResult{Wallets: 1, Updated: 1}, res)

	// 6200 + 0.037962 * 15000 + 0.6327 * 900
	got := env.reloadWallet(t, w.ID)
	assertDecimal(t, "7338.86", got.TotalPortfolioValue)
	assertDecimal(t, "26.6114", got.MaxDrawdown)

	_, err = env.svc.PlaceMarketOrder(ctx, w.ID, "ETH", models.SideBuy, d("100"))
	var denied *RiskDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, risk.RuleTotalLoss, denied.Rule)
}

func TestUpdateAllPortfolioValues_IsolatesWallets(t *testing.T) {
	env := setupTest(t, nil)
	ctx := context.Background()

	healthy := env.wallet(t, 1)
	env.seedHolding(t, healthy.ID, "BTC", "0.01", "50000")
	broken := env.wallet(t, 2)
	env.seedHolding(t, broken.ID, "ETH", "1", "3000")
	inactive := env.wallet(t, 3)
	env.seedHolding(t, inactive.ID, "BTC", "0.02", "50000")
	unpriced := env.wallet(t, 4)
	env.seedHolding(t, unpriced.ID, "SOL", "10", "100")

	env.deactivate(t, inactive.ID)
	require.NoError(t, env.db.Exec("UPDATE holdings SET quantity = 'garbage' WHERE wallet_id = ?", broken.ID).Error)

	env.oracle.Set("BTC", d("40000"))
	res, err := env.svc.UpdateAllPortfolioValues(ctx)
	require.NoError(t, err)
	assert.Equal(t, RevalueResult{Wallets: 3, Updated: 2, Failed: 1, Stale: 1}, res)

	assertDecimal(t, "9900", env.reloadWallet(t, healthy.ID).TotalPortfolioValue)
	assertDecimal(t, "10000", env.reloadWallet(t, inactive.ID).TotalPortfolioValue)
	assertDecimal(t, "10000", env.reloadWallet(t, unpriced.ID).TotalPortfolioValue)
}

func TestUpdateAllPortfolioValues_OneBatchLookup(t *testing.T) {
	oracle := new(MockBatchOracle)
	env := setupTest(t, oracle)
	ctx := context.Background()

	first := env.wallet(t, 1)
	env.seedHolding(t, first.ID, "BTC", "0.01", "50000")
	env.seedHolding(t, first.ID, "ETH", "1", "3000")
	second := env.wallet(t, 2)
	env.seedHolding(t, second.ID, "BTC", "0.02", "50000")

	oracle.On("Prices", mock.Anything, []string{"BTC", "ETH"}).
		Return(map[string]decimal.Decimal{"BTC": d("55000"), "ETH": d("2800")}, nil).Once()

	res, err := env.svc.UpdateAllPortfolioValues(ctx)
	require.NoError(t, err)
	assert.Equal(t, RevalueResult{Wallets: 2, Updated: 2}, res)
	oracle.AssertExpectations(t)
	oracle.AssertNotCalled(t, "Price", mock.Anything, mock.Anything)

	// 6500 + 550 + 2800
	assertDecimal(t, "9850", env.reloadWallet(t, first.ID).TotalPortfolioValue)
	// 9000 + 1100
	assertDecimal(t, "10100", env.reloadWallet(t, second.ID).TotalPortfolioValue)
}

func TestGetPortfolioSummary(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)
	ctx := context.Background()

	_, err := env.svc.PlaceMarketOrder(ctx, w.ID, "BTC", models.SideBuy, d("1000"))
	require.NoError(t, err)
	_, err = env.svc.PlaceMarketOrder(ctx, w.ID, "ETH", models.SideBuy, d("600"))
	require.NoError(t, err)

	summary, err := env.svc.GetPortfolioSummary(ctx, w.ID)
	require.NoError(t, err)

	assert.Len(t, summary.Holdings, 2)
	assert.Len(t, summary.RecentTransactions, 3)
	assert.Equal(t, models.TransactionBuy, summary.RecentTransactions[0].Type)
	assertDecimal(t, "8400", summary.Wallet.CashBalance)
	assert.True(t, summary.Valuation.TotalPortfolioValue.Equal(summary.Wallet.TotalPortfolioValue))
	assert.Equal(t, int64(2), summary.Wallet.TotalTrades)

	_, err = env.svc.GetPortfolioSummary(ctx, w.ID+10)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestRiskReport(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)

	report, err := env.svc.RiskReport(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, risk.LevelLow, report.RiskLevel)
	assert.Empty(t, report.EmergencyActions)
	assert.Equal(t, []string{"Risk profile looks healthy - continue monitoring"}, report.Recommendations)
	assertDecimal(t, "100", report.Metrics.CashPct)

	_, err = env.svc.RiskReport(context.Background(), 999)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}
