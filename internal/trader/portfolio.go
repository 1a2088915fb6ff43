package trader

import (
	"context"
	"fmt"
	"time"

	"paper-trade-engine/internal/ledger"
	"paper-trade-engine/internal/models"
	"paper-trade-engine/internal/risk"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Valuation is the outcome of marking a wallet to market.
type Valuation struct {
	TotalPortfolioValue decimal.Decimal `json:"total_portfolio_value"`
	CashBalance         decimal.Decimal `json:"cash_balance"`
	TotalUnrealizedPnL  decimal.Decimal `json:"total_unrealized_pnl"`
	TotalRealizedPnL    decimal.Decimal `json:"total_realized_pnl"`
	DailyPnL            decimal.Decimal `json:"daily_pnl"`
	TotalPnL            decimal.Decimal `json:"total_pnl"`
	TotalPnLPct         decimal.Decimal `json:"total_pnl_percentage"`
	MaxDrawdown         decimal.Decimal `json:"max_drawdown"`
	WinRate             decimal.Decimal `json:"win_rate"`
	// StaleSymbols had no oracle price and kept their previous valuation.
	StaleSymbols []string `json:"stale_symbols,omitempty"`
}

// PortfolioSummary is a valuation together with the positions and latest
// ledger entries of a wallet.
type PortfolioSummary struct {
	Wallet             *models.Wallet       `json:"wallet"`
	Valuation          Valuation            `json:"valuation"`
	Holdings           []models.Holding     `json:"holdings"`
	RecentTransactions []models.Transaction `json:"recent_transactions"`
}

// RevalueResult counts what one revaluation sweep over all wallets did.
type RevalueResult struct {
	Wallets int `json:"wallets"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	// Stale counts holdings that kept their previous valuation.
	Stale int `json:"stale"`
}

// UpdatePortfolioValues marks every holding of a wallet at the oracle price
// and refreshes the wallet totals. DailyPnL becomes the change since the
// previous valuation and MaxDrawdown tracks the deepest fall below the
// initial balance. Holdings without a price keep their last valuation.
func (s *Service) UpdatePortfolioValues(ctx context.Context, walletID uint) (*Valuation, error) {
	holdings, err := s.store.Query(ctx).Holdings(walletID)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(holdings))
	for _, h := range holdings {
		symbols = append(symbols, h.Symbol)
	}
	return s.markWallet(ctx, walletID, s.prices(ctx, symbols))
}

// UpdateAllPortfolioValues revalues every active wallet with one price
// lookup for all held symbols. A wallet that fails is logged and counted;
// the others are still revalued.
func (s *Service) UpdateAllPortfolioValues(ctx context.Context) (RevalueResult, error) {
	start := time.Now()
	defer func() { revaluationDuration.Observe(time.Since(start).Seconds()) }()

	var res RevalueResult
	q := s.store.Query(ctx)
	wallets, err := q.Wallets()
	if err != nil {
		return res, fmt.Errorf("could not list wallets: %w", err)
	}
	symbols, err := q.HeldSymbols()
	if err != nil {
		return res, fmt.Errorf("could not list held symbols: %w", err)
	}
	prices := s.prices(ctx, symbols)

	res.Wallets = len(wallets)
	for _, w := range wallets {
		v, err := s.markWallet(ctx, w.ID, prices)
		if err != nil {
			res.Failed++
			revaluations.WithLabelValues("failed").Inc()
			s.logger.Warn("Wallet revaluation failed", zap.Uint("wallet_id", w.ID), zap.Error(err))
			continue
		}
		res.Updated++
		res.Stale += len(v.StaleSymbols)
		revaluations.WithLabelValues("updated").Inc()
	}
	return res, nil
}

// markWallet marks the holdings of a wallet at prices and persists the totals.
func (s *Service) markWallet(ctx context.Context, walletID uint, prices map[string]decimal.Decimal) (*Valuation, error) {
	var v Valuation
	var stale []string
	err := s.store.Atomic(ctx, walletID, func(tx *ledger.Tx) error {
		w, err := tx.Wallet(walletID)
		if err != nil {
			return err
		}
		holdings, err := tx.Holdings(walletID)
		if err != nil {
			return err
		}

		total := w.CashBalance
		unrealized := decimal.Zero
		stale = stale[:0]
		for i := range holdings {
			h := &holdings[i]
			if price, ok := prices[h.Symbol]; ok {
				h.MarkToMarket(price)
				if err := tx.SaveHolding(h); err != nil {
					return err
				}
			} else {
				stale = append(stale, h.Symbol)
			}
			total = total.Add(h.CurrentValue)
			unrealized = unrealized.Add(h.UnrealizedPnL)
		}

		previous := w.TotalPortfolioValue
		w.TotalPortfolioValue = total
		w.DailyPnL = total.Sub(previous)
		if w.InitialBalance.IsPositive() && total.LessThan(w.InitialBalance) {
			drawdown := w.InitialBalance.Sub(total).Div(w.InitialBalance).Mul(hundred).Round(4)
			w.MaxDrawdown = decimal.Max(w.MaxDrawdown, drawdown)
		}
		if err := tx.SaveWallet(w); err != nil {
			return err
		}

		v = valuationOf(w, unrealized)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not update portfolio values of wallet %d: %w", walletID, err)
	}
	if len(stale) > 0 {
		v.StaleSymbols = stale
	}
	return &v, nil
}

func valuationOf(w *models.Wallet, unrealized decimal.Decimal) Valuation {
	totalPnL := w.TotalRealizedPnL.Add(unrealized)
	totalPnLPct := decimal.Zero
	if w.InitialBalance.IsPositive() {
		totalPnLPct = totalPnL.Div(w.InitialBalance).Mul(hundred).Round(4)
	}
	return Valuation{
		TotalPortfolioValue: w.TotalPortfolioValue,
		CashBalance:         w.CashBalance,
		TotalUnrealizedPnL:  unrealized,
		TotalRealizedPnL:    w.TotalRealizedPnL,
		DailyPnL:            w.DailyPnL,
		TotalPnL:            totalPnL,
		TotalPnLPct:         totalPnLPct,
		MaxDrawdown:         w.MaxDrawdown,
		WinRate:             w.WinRate,
	}
}

// GetPortfolioSummary revalues the wallet and returns it with its holdings
// and most recent transactions.
func (s *Service) GetPortfolioSummary(ctx context.Context, walletID uint) (*PortfolioSummary, error) {
	v, err := s.UpdatePortfolioValues(ctx, walletID)
	if err != nil {
		return nil, err
	}

	q := s.store.Query(ctx)
	w, err := q.Wallet(walletID)
	if err != nil {
		return nil, err
	}
	holdings, err := q.Holdings(walletID)
	if err != nil {
		return nil, err
	}
	txs, err := q.Transactions(walletID, recentTransactionsLimit)
	if err != nil {
		return nil, err
	}

	return &PortfolioSummary{
		Wallet:             w,
		Valuation:          *v,
		Holdings:           holdings,
		RecentTransactions: txs,
	}, nil
}

// RiskReport grades the persisted state of a wallet. It is advisory and
// does not revalue the wallet first.
func (s *Service) RiskReport(ctx context.Context, walletID uint) (*risk.EmergencyReport, error) {
	q := s.store.Query(ctx)
	w, err := q.Wallet(walletID)
	if err != nil {
		return nil, err
	}
	holdings, err := q.Holdings(walletID)
	if err != nil {
		return nil, err
	}
	report := risk.Emergency(risk.Assess(w, holdings), s.gate.Limits())
	return &report, nil
}
