package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"paper-trade-engine/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is not pending")
	ErrSymbolNotFound  = errors.New("symbol not found")
)

// Store persists wallets, holdings, orders and transactions.
//
// Every read-validate-mutate sequence on a wallet goes through Atomic, which
// holds the wallet's mutex for the whole database transaction. Two mutations
// of the same wallet never interleave; different wallets proceed
// independently up to what the database allows.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewStore creates a ledger store on top of a migrated database.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.Named("ledger"),
		locks:  make(map[uint]*sync.Mutex),
	}
}

func (s *Store) walletLock(walletID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[walletID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[walletID] = l
	}
	return l
}

// Atomic runs fn inside one database transaction while holding the lock of
// walletID. The transaction commits when fn returns nil and rolls back
// otherwise. fn must only use the Tx it is given.
func (s *Store) Atomic(ctx context.Context, walletID uint, fn func(tx *Tx) error) error {
	l := s.walletLock(walletID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Tx{db: db})
	})
}

// Query returns an unlocked handle for read-only access outside Atomic.
func (s *Store) Query(ctx context.Context) *Tx {
	return &Tx{db: s.db.WithContext(ctx)}
}

// CreateWallet opens a wallet for userID funded with initialBalance and
// records the deposit. It is idempotent: an existing wallet is returned
// unchanged with created set to false.
func (s *Store) CreateWallet(ctx context.Context, userID uint, initialBalance, feeRate decimal.Decimal) (wallet *models.Wallet, created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var existing models.Wallet
		err := db.Where("user_id = ?", userID).First(&existing).Error
		if err == nil {
			wallet = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		wallet = &models.Wallet{
			UserID:              userID,
			CashBalance:         initialBalance,
			InitialBalance:      initialBalance,
			TotalInvested:       decimal.Zero,
			TotalRealizedPnL:    decimal.Zero,
			TotalPortfolioValue: initialBalance,
			DailyPnL:            decimal.Zero,
			MaxDrawdown:         decimal.Zero,
			WinRate:             decimal.Zero,
			IsActive:            true,
		}
		if err := db.Create(wallet).Error; err != nil {
			return err
		}

		deposit := &models.Transaction{
			WalletID:    wallet.ID,
			Type:        models.TransactionDeposit,
			TotalAmount: initialBalance,
			Fee:         decimal.Zero,
			FeeRate:     feeRate,
			Notes:       "Initial paper trading balance",
		}
		if err := db.Create(deposit).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("could not create wallet for user %d: %w", userID, err)
	}
	if created {
		s.logger.Info("Wallet created",
			zap.Uint("wallet_id", wallet.ID),
			zap.Uint("user_id", userID),
			zap.String("initial_balance", initialBalance.String()))
	}
	return wallet, created, nil
}

// StartOfDay returns midnight UTC of the UTC day containing t. Daily loss
// limits reset on UTC days regardless of the server's zone.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
