package trader

import (
	"context"
	"testing"

	"paper-trade-engine/internal/ledger"
	"paper-trade-engine/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func execute(t *testing.T, env *testEnv, walletID uint, side models.Side, symbol, size, price string) (*models.Transaction, error) {
	t.Helper()
	exec := NewExecutor(d("0.001"), zap.NewNop())
	var record *models.Transaction
	err := env.store.Atomic(context.Background(), walletID, func(tx *ledger.Tx) error {
		w, err := tx.Wallet(walletID)
		require.NoError(t, err)
		record, err = exec.Execute(tx, w, side, symbol, d(size), d(price), nil)
		return err
	})
	return record, err
}

func TestExecutor_BuyArithmetic(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)

	record, err := execute(t, env, w.ID, models.SideBuy, "BTC", "1000", "50000")
	require.NoError(t, err)

	assertDecimal(t, "1", record.Fee)
	assertDecimal(t, "1000", record.TotalAmount)
	assertDecimal(t, "0.01998", *record.Quantity)
	assertDecimal(t, "0.001", record.FeeRate)
	assert.Nil(t, record.RealizedPnL)

	got := env.reloadWallet(t, w.ID)
	assertDecimal(t, "9000", got.CashBalance)
	assertDecimal(t, "999", got.TotalInvested)
	assertDecimal(t, "9999", got.TotalPortfolioValue)
	assert.Equal(t, int64(1), got.TotalTrades)

	h := env.holding(t, w.ID, "BTC")
	require.NotNil(t, h)
	assertDecimal(t, "0.01998", h.Quantity)
	assertDecimal(t, "50000", h.AverageCostBasis)
	assertDecimal(t, "999", h.TotalCost)
	assertDecimal(t, "999", h.CurrentValue)
}

func TestExecutor_WeightedAverageCost(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)

	_, err := execute(t, env, w.ID, models.SideBuy, "BTC", "500", "50000")
	require.NoError(t, err)
	_, err = execute(t, env, w.ID, models.SideBuy, "BTC", "500", "40000")
	require.NoError(t, err)

	h := env.holding(t, w.ID, "BTC")
	require.NotNil(t, h)
	assertDecimal(t, "0.0224775", h.Quantity)
	assertDecimal(t, "999", h.TotalCost)
	assert.True(t, h.AverageCostBasis.Equal(h.TotalCost.Div(h.Quantity)))
	assert.True(t, h.AverageCostBasis.GreaterThan(d("40000")))
	assert.True(t, h.AverageCostBasis.LessThan(d("50000")))

	// Marked at the last execution price.
	assertDecimal(t, "40000", h.CurrentPrice)
	got := env.reloadWallet(t, w.ID)
	assertDecimal(t, "9000", got.CashBalance)
	assert.True(t, got.TotalPortfolioValue.Equal(got.CashBalance.Add(h.CurrentValue)))
}

func TestExecutor_InsufficientFunds(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)

	_, err := execute(t, env, w.ID, models.SideBuy, "BTC", "10000.01", "50000")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	got := env.reloadWallet(t, w.ID)
	assertDecimal(t, "10000", got.CashBalance)
	assert.Nil(t, env.holding(t, w.ID, "BTC"))
	assert.Len(t, env.transactions(t, w.ID), 1, "only the deposit")
}

func TestExecutor_Sell(t *testing.T) {
	testCases := []struct {
		name         string
		sell         string
		price        string
		expectErr    error
		remaining    string // empty when the holding is gone
		realized     string
		winning      int64
		losing       int64
		expectedCash string
	}{
		{
			name: "Partial sell at a gain", sell: "0.4", price: "60000",
			remaining: "0.6", realized: "3976", winning: 1, expectedCash: "33976",
		},
		{
			name: "Full sell at a loss removes the holding", sell: "1", price: "40000",
			realized: "-10040", losing: 1, expectedCash: "49960",
		},
		{
			name: "Break even after fees counts as a loss", sell: "1", price: "50000",
			realized: "-50", losing: 1, expectedCash: "59950",
		},
		{
			name: "Selling more than held", sell: "1.0000001", price: "50000",
			expectErr: ErrInsufficientHoldings, remaining: "1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupTest(t, nil)
			w := env.wallet(t, 1)
			// Seeded directly: 1 BTC bought at 50,000 exceeds the cash of a fresh wallet.
			w.CashBalance = d("60000")
			w.TotalPortfolioValue = d("60000")
			require.NoError(t, env.store.Query(context.Background()).SaveWallet(w))
			env.seedHolding(t, w.ID, "BTC", "1", "50000")

			record, err := execute(t, env, w.ID, models.SideSell, "BTC", tc.sell, tc.price)

			h := env.holding(t, w.ID, "BTC")
			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr)
				require.NotNil(t, h)
				assertDecimal(t, tc.remaining, h.Quantity)
				return
			}
			require.NoError(t, err)

			if tc.remaining == "" {
				assert.Nil(t, h)
			} else {
				require.NotNil(t, h)
				assertDecimal(t, tc.remaining, h.Quantity)
				assert.False(t, h.Quantity.IsNegative())
				assert.True(t, h.AverageCostBasis.Equal(d("50000")))
			}

			require.NotNil(t, record.RealizedPnL)
			assertDecimal(t, tc.realized, *record.RealizedPnL)
			// realized == net - q*avg
			net := record.TotalAmount.Sub(record.Fee)
			assert.True(t, record.RealizedPnL.Equal(net.Sub(d(tc.sell).Mul(d("50000")))))
			assert.Nil(t, record.DustCost)

			got := env.reloadWallet(t, w.ID)
			assertDecimal(t, tc.expectedCash, got.CashBalance)
			assertDecimal(t, tc.realized, got.TotalRealizedPnL)
			assert.Equal(t, tc.winning, got.WinningTrades)
			assert.Equal(t, tc.losing, got.LosingTrades)
			assert.True(t, got.WinRate.GreaterThanOrEqual(decimal.Zero))
			assert.True(t, got.WinRate.LessThanOrEqual(d("100")))
		})
	}
}

func TestExecutor_FullSellRecordsDust(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)

	err := env.store.Atomic(context.Background(), w.ID, func(tx *ledger.Tx) error {
		h := &models.Holding{
			WalletID:         w.ID,
			Symbol:           "SOL",
			Quantity:         d("3"),
			TotalCost:        d("10"),
			AverageCostBasis: d("10").Div(d("3")),
		}
		h.MarkToMarket(d("4"))
		return tx.SaveHolding(h)
	})
	require.NoError(t, err)

	record, err := execute(t, env, w.ID, models.SideSell, "SOL", "3", "4")
	require.NoError(t, err)

	assert.Nil(t, env.holding(t, w.ID, "SOL"))
	require.NotNil(t, record.DustCost)
	assert.True(t, record.DustCost.IsPositive())
	assert.True(t, record.DustCost.LessThan(d("0.000000001")))
}

func TestExecutor_RejectsNonPositiveInput(t *testing.T) {
	env := setupTest(t, nil)
	w := env.wallet(t, 1)

	_, err := execute(t, env, w.ID, models.SideBuy, "BTC", "0", "50000")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = execute(t, env, w.ID, models.SideBuy, "BTC", "100", "0")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}
