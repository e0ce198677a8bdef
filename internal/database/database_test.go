package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"order-settlement-engine/internal/config"
	"order-settlement-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// setupTest opens a fresh file-backed sqlite database for each test.
func setupTest(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDatabase(config.Database{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, o models.Order) models.Order {
	t.Helper()
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	if o.Symbol == "" {
		o.Symbol = "BTCUSDT"
	}
	if o.Qty == "" {
		o.Qty = "1"
	}
	if o.Price == "" {
		o.Price = "100"
	}
	if o.Side == "" {
		o.Side = models.SideBuy
	}
	if o.OrderType == "" {
		o.OrderType = models.OrderTypeLimit
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = baseTime
	}
	require.NoError(t, db.Create(&o).Error)
	return o
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabase(config.Database{Driver: "oracle"})
	assert.Error(t, err)
}

func TestKnownUserIDs(t *testing.T) {
	db := setupTest(t)
	ctx := context.Background()
	seedOrder(t, db, models.Order{UserID: "u2"})
	seedOrder(t, db, models.Order{UserID: "u1"})
	_, err := NewTradeStore(db).Upsert(ctx,
		models.TradeIdentity{UserID: "u3", ReferenceID: "r1", Source: models.TradeSourceResync},
		models.TradeFill{Symbol: "BTCUSDT", Side: models.SideBuy, Qty: "1", Price: "1"})
	require.NoError(t, err)
	_, err = NewTradeStore(db).Upsert(ctx,
		models.TradeIdentity{UserID: "u1", ReferenceID: "r2", Source: models.TradeSourceResync},
		models.TradeFill{Symbol: "BTCUSDT", Side: models.SideBuy, Qty: "1", Price: "1"})
	require.NoError(t, err)

	ids, err := KnownUserIDs(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, ids)
}
