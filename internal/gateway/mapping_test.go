package gateway

import (
	"testing"
	"time"

	"order-settlement-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillTradeFill(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var f Fill
	require.NoError(t, json.Unmarshal([]byte(`{"id":89,"reference_id":"r89","wallet_tx_id":"12","symbol":"ethusdt","side":"sell",
		"qty":"1","price":"3000","net_quote":"2997","status":"REVERSED","ledger_block_height":5,"ledger_item_idx":2,
		"ledger_commit_key":"k1","ledger_committed_at":"2026-03-01T11:00:00Z","created_at":"2026-03-01T10:59:00.5Z"}`), &f))

	fill := f.TradeFill(now)
	assert.Equal(t, int64(89), *fill.FillID)
	assert.Equal(t, int64(12), *fill.WalletTxID)
	assert.Equal(t, "ETHUSDT", fill.Symbol)
	assert.Equal(t, models.SideSell, fill.Side)
	assert.Equal(t, models.FillStatusReversed, fill.Status)
	assert.Equal(t, "2997", *fill.NetQuote)
	assert.Nil(t, fill.GrossQuote)
	assert.Equal(t, int64(2), *fill.LedgerItemIdx)
	assert.True(t, fill.LedgerCommittedAt.Equal(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)))
	assert.True(t, fill.ExecutedAt.Equal(time.Date(2026, 3, 1, 10, 59, 0, 500000000, time.UTC)))
}

func TestExecuteResponseTradeFill(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := &models.Order{Symbol: "BTCUSDT", Side: models.SideBuy, Qty: "0.25", Price: "50000"}

	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal([]byte(`{"ok":true,"tradeId":5,"txId":44,"executionPrice":"49990.1"}`), &resp))

	fill := resp.TradeFill(order, now)
	assert.Equal(t, int64(5), *fill.FillID)
	assert.Equal(t, int64(44), *fill.WalletTxID)
	assert.Equal(t, "BTCUSDT", fill.Symbol)
	assert.Equal(t, models.SideBuy, fill.Side)
	assert.Equal(t, "0.25", fill.Qty)
	assert.Equal(t, "49990.1", fill.Price)
	assert.Equal(t, models.FillStatusFilled, fill.Status)
	assert.Equal(t, now, fill.ExecutedAt)
}

func TestIsBusinessError(t *testing.T) {
	testCases := []struct {
		status int
		want   bool
	}{
		{400, true}, {401, true}, {403, true}, {404, true}, {409, true},
		{422, false}, {429, false}, {500, false}, {503, false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, IsBusinessError(&APIError{StatusCode: tc.status}), "status %d", tc.status)
	}
	assert.False(t, IsBusinessError(assert.AnError))
}
