package trader

import (
	"context"
	"testing"
	"time"

	"paper-trade-engine/internal/config"
	"paper-trade-engine/internal/database"
	"paper-trade-engine/internal/ledger"
	"paper-trade-engine/internal/market"
	"paper-trade-engine/internal/models"
	"paper-trade-engine/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MockOracle is a mock implementation of the market.Oracle interface.
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Price(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Bool(1), args.Error(2)
}

// MockBatchOracle is a mock implementation of the market.BatchOracle interface.
type MockBatchOracle struct {
	MockOracle
}

func (m *MockBatchOracle) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	args := m.Called(ctx, symbols)
	prices, _ := args.Get(0).(map[string]decimal.Decimal)
	return prices, args.Error(1)
}

type testEnv struct {
	svc    *Service
	store  *ledger.Store
	db     *gorm.DB
	oracle *market.StaticOracle
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, d(expected).Equal(actual), "expected %s, got %s", expected, actual.String())
}

// setupTest creates a service over a fresh in-memory database. A nil oracle
// selects a static oracle pricing BTC at 50,000 and ETH at 3,000.
func setupTest(t *testing.T, oracle market.Oracle) *testEnv {
	t.Helper()

	db, err := database.Open("file::memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	require.NoError(t, database.SeedSymbols(db, []string{"BTC", "ETH", "SOL", "XRP"}))

	env := &testEnv{store: ledger.NewStore(db, zap.NewNop()), db: db}
	if oracle == nil {
		env.oracle = market.NewStaticOracle(map[string]decimal.Decimal{
			"BTC": d("50000"),
			"ETH": d("3000"),
		})
		oracle = env.oracle
	}

	gate := risk.NewGate(risk.DefaultLimits(), zap.NewNop())
	env.svc = NewService(env.store, oracle, gate, config.Trading{FeeRate: d("0.001"), InitialBalance: d("10000")}, zap.NewNop())
	return env
}

func (e *testEnv) wallet(t *testing.T, userID uint) *models.Wallet {
	t.Helper()
	w, err := e.svc.CreateWallet(context.Background(), userID)
	require.NoError(t, err)
	return w
}

// seedHolding puts a position bought at avg into the wallet, paid from cash
// without fees, and marks it at avg.
func (e *testEnv) seedHolding(t *testing.T, walletID uint, symbol, quantity, avg string) {
	t.Helper()
	err := e.store.Atomic(context.Background(), walletID, func(tx *ledger.Tx) error {
		w, err := tx.Wallet(walletID)
		if err != nil {
			return err
		}
		h := &models.Holding{
			WalletID:         walletID,
			Symbol:           symbol,
			Quantity:         d(quantity),
			AverageCostBasis: d(avg),
			TotalCost:        d(quantity).Mul(d(avg)),
			FirstPurchaseAt:  time.Now(),
		}
		h.MarkToMarket(d(avg))
		if err := tx.SaveHolding(h); err != nil {
			return err
		}
		w.CashBalance = w.CashBalance.Sub(h.TotalCost)
		holdings, err := tx.Holdings(walletID)
		if err != nil {
			return err
		}
		w.TotalPortfolioValue = w.CashBalance
		for _, held := range holdings {
			w.TotalPortfolioValue = w.TotalPortfolioValue.Add(held.CurrentValue)
		}
		return tx.SaveWallet(w)
	})
	require.NoError(t, err)
}

func (e *testEnv) reloadWallet(t *testing.T, walletID uint) *models.Wallet {
	t.Helper()
	w, err := e.store.Query(context.Background()).Wallet(walletID)
	require.NoError(t, err)
	return w
}

func (e *testEnv) reloadOrder(t *testing.T, orderID uint) *models.Order {
	t.Helper()
	o, err := e.store.Query(context.Background()).Order(orderID)
	require.NoError(t, err)
	return o
}

func (e *testEnv) holding(t *testing.T, walletID uint, symbol string) *models.Holding {
	t.Helper()
	h, err := e.store.Query(context.Background()).Holding(walletID, symbol)
	require.NoError(t, err)
	return h
}

func (e *testEnv) transactions(t *testing.T, walletID uint) []models.Transaction {
	t.Helper()
	txs, err := e.store.Query(context.Background()).Transactions(walletID, 0)
	require.NoError(t, err)
	return txs
}

// deactivate marks a wallet inactive so that sweeps skip it.
func (e *testEnv) deactivate(t *testing.T, walletID uint) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.Wallet{}).Where("id = ?", walletID).Update("is_active", false).Error)
}

func newMonitor(env *testEnv, enforceExpiry bool) *Monitor {
	return NewMonitor(env.svc, config.Monitor{Interval: 10 * time.Millisecond, EnforceExpiry: enforceExpiry}, zap.NewNop())
}
