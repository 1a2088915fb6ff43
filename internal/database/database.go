package database

import (
	"fmt"
	"strings"

	"paper-trade-engine/internal/config"
	"paper-trade-engine/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the configured database, migrates the schema and seeds
// the tradable symbols.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	if err := SeedSymbols(db, cfg.Trading.Symbols); err != nil {
		return nil, err
	}

	return db, nil
}

// Open connects to SQLite. The pool is capped at a single connection: SQLite
// allows one writer at a time, and an in-memory database only exists on the
// connection that created it.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// AutoMigrate creates or updates the ledger tables. Existing rows are kept.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Wallet{},
		&models.Holding{},
		&models.Transaction{},
		&models.Order{},
		&models.Symbol{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// SeedSymbols makes sure every configured symbol exists and is enabled.
func SeedSymbols(db *gorm.DB, symbols []string) error {
	seen := make(map[string]struct{}, len(symbols))
	for _, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}

		row := models.Symbol{Symbol: symbol, Name: symbol, Enabled: true}
		if err := db.Where(models.Symbol{Symbol: symbol}).
			Assign(map[string]interface{}{"enabled": true}).
			FirstOrCreate(&row).Error; err != nil {
			return fmt.Errorf("failed to populate symbol '%s': %w", symbol, err)
		}
	}
	return nil
}
