package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"order-settlement-engine/internal/config"
	"order-settlement-engine/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the configured database and migrates the schema.
func NewDatabase(cfg config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "" || cfg.Driver == "sqlite" {
		// sqlite allows a single writer; serialising through one connection
		// avoids SQLITE_BUSY under concurrent claims.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the tables and indexes. Existing rows are kept.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Order{}, &models.Trade{}, &models.TradeStatusChange{}, &models.SyncState{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// KnownUserIDs returns the distinct user ids found in either orders or trades, sorted.
func KnownUserIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var orderUsers, tradeUsers []string
	if err := db.WithContext(ctx).Model(&models.Order{}).Distinct().Pluck("user_id", &orderUsers).Error; err != nil {
		return nil, fmt.Errorf("could not list order users: %w", err)
	}
	if err := db.WithContext(ctx).Model(&models.Trade{}).Distinct().Pluck("user_id", &tradeUsers).Error; err != nil {
		return nil, fmt.Errorf("could not list trade users: %w", err)
	}

	seen := make(map[string]struct{}, len(orderUsers)+len(tradeUsers))
	for _, id := range append(orderUsers, tradeUsers...) {
		if id == "" {
			continue
		}
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
