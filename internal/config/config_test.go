package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := writeConfig(t, "gateway:\n  base_url: http://gateway.local\n")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "http://gateway.local", cfg.Gateway.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 200, cfg.Reconcile.PageSize)
	assert.False(t, cfg.Reconcile.Backfill)
	assert.Equal(t, 2, cfg.Reconcile.BackfillPages)
	assert.Equal(t, 20, cfg.Execution.MaxAttempts)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadConfig_ClampsReconcileSettings(t *testing.T) {
	dir := writeConfig(t, `
reconcile:
  interval: 1s
  page_size: 5000
  backfill: true
  backfill_pages: 0
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, MinReconcileInterval, cfg.Reconcile.Interval)
	assert.Equal(t, MaxReconcilePageSize, cfg.Reconcile.PageSize)
	assert.True(t, cfg.Reconcile.Backfill)
	assert.Equal(t, MinBackfillPagesPerRun, cfg.Reconcile.BackfillPages)
}

func TestLoadConfig_LegacyEnvironment(t *testing.T) {
	dir := writeConfig(t, "logger:\n  level: debug\n")
	t.Setenv("TRADE_RESYNC_LIMIT", "10")
	t.Setenv("TRADE_RESYNC_BACKFILL", "true")
	t.Setenv("TRADE_RESYNC_INTERVAL_MS", "60000")
	t.Setenv("INTERNAL_EXECUTOR_KEY", "secret")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, MinReconcilePageSize, cfg.Reconcile.PageSize)
	assert.True(t, cfg.Reconcile.Backfill)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, "secret", cfg.Gateway.InternalKey)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestNormalize(t *testing.T) {
	cfg := Config{
		Execution: Execution{MaxAttempts: -3, BackoffInitial: time.Minute, BackoffMax: time.Second},
		PriceFeed: PriceFeed{Symbols: []string{" btcusdt", "ethusdt "}},
	}
	cfg.Normalize()

	assert.Equal(t, 0, cfg.Execution.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Execution.BackoffMax)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.PriceFeed.Symbols)
	assert.Equal(t, 1, cfg.Gateway.MaxRetries)
}
