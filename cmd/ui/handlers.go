package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"paper-trade-engine/internal/ledger"
	"paper-trade-engine/internal/models"
	"paper-trade-engine/internal/risk"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultTransactionsLimit = 50

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log    *zap.Logger
	store  *ledger.Store
	limits risk.Limits
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, store *ledger.Store, limits risk.Limits) *APIHandler {
	return &APIHandler{log: log, store: store, limits: limits}
}

// Routes registers the API endpoints on mux.
func (h *APIHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/portfolio", h.PortfolioHandler)
	mux.HandleFunc("/api/transactions", h.TransactionsHandler)
	mux.HandleFunc("/api/orders", h.OrdersHandler)
	mux.HandleFunc("/api/statistics", h.StatisticsHandler)
	mux.HandleFunc("/api/risk", h.RiskHandler)
}

// PortfolioResponse is the structure for the /api/portfolio endpoint.
type PortfolioResponse struct {
	Wallet   *models.Wallet   `json:"wallet"`
	Holdings []models.Holding `json:"holdings"`
}

// PortfolioHandler returns a wallet with its holdings as last valued.
func (h *APIHandler) PortfolioHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.uintParam(w, r, "wallet_id")
	if !ok {
		return
	}

	q := h.store.Query(r.Context())
	wallet, err := q.Wallet(walletID)
	if err != nil {
		h.fail(w, "Failed to get wallet", err)
		return
	}
	holdings, err := q.Holdings(walletID)
	if err != nil {
		h.fail(w, "Failed to get holdings", err)
		return
	}

	h.writeJSON(w, PortfolioResponse{Wallet: wallet, Holdings: holdings})
}

// TransactionsHandler returns the ledger of a wallet, most recent first.
func (h *APIHandler) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.uintParam(w, r, "wallet_id")
	if !ok {
		return
	}
	limit := defaultTransactionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	q := h.store.Query(r.Context())
	if _, err := q.Wallet(walletID); err != nil {
		h.fail(w, "Failed to get wallet", err)
		return
	}
	txs, err := q.Transactions(walletID, limit)
	if err != nil {
		h.fail(w, "Failed to get transactions", err)
		return
	}

	h.writeJSON(w, txs)
}

// OrdersHandler returns the orders of a user, optionally filtered by status.
func (h *APIHandler) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.uintParam(w, r, "user_id")
	if !ok {
		return
	}
	status := models.OrderStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.OrderStatusPending, models.OrderStatusExecuted, models.OrderStatusCancelled, models.OrderStatusPartial:
	default:
		http.Error(w, "unknown order status", http.StatusBadRequest)
		return
	}

	q := h.store.Query(r.Context())
	wallet, err := q.WalletByUser(userID)
	if err != nil {
		h.fail(w, "Failed to get wallet", err)
		return
	}
	orders, err := q.Orders(wallet.ID, status)
	if err != nil {
		h.fail(w, "Failed to get orders", err)
		return
	}

	h.writeJSON(w, orders)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64           `json:"total_trades"`
	ProfitableTrades int64           `json:"profitable_trades"`
	WinRate          decimal.Decimal `json:"win_rate"`
	TotalProfit      decimal.Decimal `json:"total_profit"`
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// StatisticsHandler calculates and returns the realized results of a wallet's sells.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.uintParam(w, r, "wallet_id")
	if !ok {
		return
	}

	q := h.store.Query(r.Context())
	if _, err := q.Wallet(walletID); err != nil {
		h.fail(w, "Failed to get wallet", err)
		return
	}
	sells, err := q.SellsSince(walletID, time.Time{})
	if err != nil {
		h.fail(w, "Failed to calculate statistics", err)
		return
	}

	since24h := time.Now().Add(-24 * time.Hour)
	var recent []models.Transaction
	for _, s := range sells {
		if s.CreatedAt.After(since24h) {
			recent = append(recent, s)
		}
	}

	h.writeJSON(w, StatisticsResponse{
		Since24h: statsOf(recent),
		AllTime:  statsOf(sells),
	})
}

func statsOf(sells []models.Transaction) StatsDetail {
	stats := StatsDetail{WinRate: decimal.Zero, TotalProfit: decimal.Zero}
	for _, s := range sells {
		if s.RealizedPnL == nil {
			continue
		}
		stats.TotalTrades++
		if s.RealizedPnL.IsPositive() {
			stats.ProfitableTrades++
		}
		stats.TotalProfit = stats.TotalProfit.Add(*s.RealizedPnL)
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = decimal.NewFromInt(stats.ProfitableTrades).
			Div(decimal.NewFromInt(stats.TotalTrades)).
			Mul(decimal.NewFromInt(100)).
			Round(4)
	}
	return stats
}

// RiskHandler returns the advisory risk report of a wallet.
func (h *APIHandler) RiskHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.uintParam(w, r, "wallet_id")
	if !ok {
		return
	}

	q := h.store.Query(r.Context())
	wallet, err := q.Wallet(walletID)
	if err != nil {
		h.fail(w, "Failed to get wallet", err)
		return
	}
	holdings, err := q.Holdings(walletID)
	if err != nil {
		h.fail(w, "Failed to get holdings", err)
		return
	}

	h.writeJSON(w, risk.Emergency(risk.Assess(wallet, holdings), h.limits))
}

func (h *APIHandler) uintParam(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw := r.URL.Query().Get(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		http.Error(w, name+" must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

func (h *APIHandler) fail(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, ledger.ErrWalletNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.log.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}
