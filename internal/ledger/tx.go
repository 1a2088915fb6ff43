package ledger

import (
	"errors"
	"fmt"
	"time"

	"paper-trade-engine/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Tx gives access to the ledger tables through one database handle, either a
// transaction opened by Store.Atomic or the root handle from Store.Query.
type Tx struct {
	db *gorm.DB
}

// Wallet loads a wallet by id.
func (t *Tx) Wallet(walletID uint) (*models.Wallet, error) {
	var w models.Wallet
	if err := t.db.First(&w, walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("wallet %d: %w", walletID, ErrWalletNotFound)
		}
		return nil, err
	}
	return &w, nil
}

// WalletByUser loads the wallet owned by userID.
func (t *Tx) WalletByUser(userID uint) (*models.Wallet, error) {
	var w models.Wallet
	if err := t.db.Where("user_id = ?", userID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("wallet of user %d: %w", userID, ErrWalletNotFound)
		}
		return nil, err
	}
	return &w, nil
}

// Wallets lists the active wallets.
func (t *Tx) Wallets() ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := t.db.Where("is_active = ?", true).Order("id asc").Find(&wallets).Error
	return wallets, err
}

func (t *Tx) SaveWallet(w *models.Wallet) error {
	return t.db.Save(w).Error
}

// Holding returns the position of walletID in symbol, or nil when there is none.
func (t *Tx) Holding(walletID uint, symbol string) (*models.Holding, error) {
	var h models.Holding
	err := t.db.Where("wallet_id = ? AND symbol = ?", walletID, symbol).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Holdings lists the open positions of a wallet ordered by symbol.
func (t *Tx) Holdings(walletID uint) ([]models.Holding, error) {
	var holdings []models.Holding
	err := t.db.Where("wallet_id = ?", walletID).Order("symbol asc").Find(&holdings).Error
	return holdings, err
}

// HeldSymbols lists the distinct symbols held by any wallet.
func (t *Tx) HeldSymbols() ([]string, error) {
	var symbols []string
	err := t.db.Model(&models.Holding{}).Distinct("symbol").Order("symbol asc").Pluck("symbol", &symbols).Error
	return symbols, err
}

func (t *Tx) SaveHolding(h *models.Holding) error {
	return t.db.Save(h).Error
}

func (t *Tx) DeleteHolding(h *models.Holding) error {
	return t.db.Delete(&models.Holding{}, h.ID).Error
}

// AppendTransaction inserts a ledger entry. Entries are never updated.
func (t *Tx) AppendTransaction(tr *models.Transaction) error {
	return t.db.Create(tr).Error
}

// Transactions lists the newest entries of a wallet first. A limit <= 0
// returns all of them.
func (t *Tx) Transactions(walletID uint, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	q := t.db.Where("wallet_id = ?", walletID).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&txs).Error
	return txs, err
}

// SellsSince lists the sell entries of a wallet created at or after since.
func (t *Tx) SellsSince(walletID uint, since time.Time) ([]models.Transaction, error) {
	var sells []models.Transaction
	if err := t.db.Where("wallet_id = ? AND type = ?", walletID, models.TransactionSell).
		Order("id asc").Find(&sells).Error; err != nil {
		return nil, err
	}
	// Filtered here rather than in SQL: timestamps are stored as text and
	// do not compare reliably across fractional-second formats.
	recent := sells[:0]
	for _, s := range sells {
		if !s.CreatedAt.Before(since) {
			recent = append(recent, s)
		}
	}
	return recent, nil
}

// RealizedPnLSince sums the realized profit and loss of sells made at or after since.
func (t *Tx) RealizedPnLSince(walletID uint, since time.Time) (decimal.Decimal, error) {
	sells, err := t.SellsSince(walletID, since)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, s := range sells {
		if s.RealizedPnL != nil {
			total = total.Add(*s.RealizedPnL)
		}
	}
	return total, nil
}

// CreateOrder inserts a new order row.
func (t *Tx) CreateOrder(o *models.Order) error {
	return t.db.Create(o).Error
}

// Order loads an order by id.
func (t *Tx) Order(orderID uint) (*models.Order, error) {
	var o models.Order
	if err := t.db.First(&o, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
		}
		return nil, err
	}
	return &o, nil
}

// Orders lists the orders of a wallet, newest first. An empty status
// returns orders in every state.
func (t *Tx) Orders(walletID uint, status models.OrderStatus) ([]models.Order, error) {
	var orders []models.Order
	q := t.db.Where("wallet_id = ?", walletID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("id desc").Find(&orders).Error
	return orders, err
}

// PendingOrders lists every pending order in placement order.
func (t *Tx) PendingOrders() ([]models.Order, error) {
	var orders []models.Order
	err := t.db.Where("status = ?", models.OrderStatusPending).Order("id asc").Find(&orders).Error
	return orders, err
}

// MarkOrderExecuted moves a pending order to executed. It fails with
// ErrOrderNotPending when the order already left the pending state.
func (t *Tx) MarkOrderExecuted(o *models.Order, price, quantity decimal.Decimal, transactionID uint, at time.Time) error {
	err := t.transition(o.ID, map[string]interface{}{
		"status":            models.OrderStatusExecuted,
		"executed_price":    price,
		"executed_quantity": quantity,
		"transaction_id":    transactionID,
		"executed_at":       at,
	})
	if err != nil {
		return err
	}
	o.Status = models.OrderStatusExecuted
	o.ExecutedPrice = &price
	o.ExecutedQuantity = quantity
	o.TransactionID = &transactionID
	o.ExecutedAt = &at
	return nil
}

// MarkOrderCancelled moves a pending order to cancelled. It fails with
// ErrOrderNotPending when the order already left the pending state.
func (t *Tx) MarkOrderCancelled(o *models.Order, at time.Time) error {
	err := t.transition(o.ID, map[string]interface{}{
		"status":       models.OrderStatusCancelled,
		"cancelled_at": at,
	})
	if err != nil {
		return err
	}
	o.Status = models.OrderStatusCancelled
	o.CancelledAt = &at
	return nil
}

func (t *Tx) transition(orderID uint, updates map[string]interface{}) error {
	res := t.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("order %d: %w", orderID, ErrOrderNotPending)
	}
	return nil
}

// Symbol loads an enabled tradable symbol.
func (t *Tx) Symbol(symbol string) (*models.Symbol, error) {
	var s models.Symbol
	err := t.db.Where("symbol = ? AND enabled = ?", symbol, true).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", symbol, ErrSymbolNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
