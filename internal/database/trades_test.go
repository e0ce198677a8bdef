package database

import (
	"context"
	"testing"
	"time"

	"order-settlement-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func sampleFill() models.TradeFill {
	return models.TradeFill{
		FillID:     int64Ptr(101),
		WalletTxID: int64Ptr(9001),
		Symbol:     "BTCUSDT",
		Side:       models.SideBuy,
		Qty:        "0.5",
		Price:      "50000",
		GrossQuote: strPtr("25000"),
		FeeQuote:   strPtr("25"),
		NetQuote:   strPtr("25025"),
		Status:     models.FillStatusFilled,
		ExecutedAt: baseTime,
	}
}

func TestTradeStore_UpsertIsIdempotent(t *testing.T) {
	db := setupTest(t)
	store := NewTradeStore(db)
	ctx := context.Background()

	orderID := uint(5)
	id := models.TradeIdentity{UserID: "u1", ReferenceID: "ref-1", OrderID: &orderID, Source: models.TradeSourceExecutor}

	res, err := store.Upsert(ctx, id, sampleFill())
	require.NoError(t, err)
	assert.True(t, res.Inserted)

	res, err = store.Upsert(ctx, id, sampleFill())
	require.NoError(t, err)
	assert.False(t, res.Inserted)
	assert.False(t, res.StatusChanged)

	var count int64
	require.NoError(t, db.Model(&models.Trade{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := store.Get(ctx, "u1", "ref-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint(5), *got.OrderID)
	assert.Equal(t, models.TradeSourceExecutor, got.Source)
	assert.Equal(t, "50000", got.Price)
}

func TestTradeStore_UpsertKeepsIdentityAndCorrectsFill(t *testing.T) {
	db := setupTest(t)
	store := NewTradeStore(db)
	ctx := context.Background()

	orderID := uint(5)
	_, err := store.Upsert(ctx,
		models.TradeIdentity{UserID: "u1", ReferenceID: "ref-1", OrderID: &orderID, Source: models.TradeSourceExecutor},
		sampleFill())
	require.NoError(t, err)

	reversed := sampleFill()
	reversed.Status = models.FillStatusReversed
	reversed.LedgerBlockHeight = int64Ptr(12)
	reversed.LedgerItemIdx = int64Ptr(3)
	reversed.LedgerCommitKey = strPtr("commit-abc")
	committed := baseTime.Add(time.Minute)
	reversed.LedgerCommittedAt = &committed

	res, err := store.Upsert(ctx,
		models.TradeIdentity{UserID: "u1", ReferenceID: "ref-1", Source: models.TradeSourceResync},
		reversed)
	require.NoError(t, err)
	assert.False(t, res.Inserted)
	assert.True(t, res.StatusChanged)

	got, err := store.Get(ctx, "u1", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.FillStatusReversed, got.Status)
	assert.Equal(t, int64(12), *got.LedgerBlockHeight)
	assert.Equal(t, "commit-abc", *got.LedgerCommitKey)
	require.NotNil(t, got.OrderID)
	assert.Equal(t, uint(5), *got.OrderID)
	assert.Equal(t, models.TradeSourceExecutor, got.Source)

	history, err := store.StatusHistory(ctx, "u1", "ref-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.FillStatusFilled, history[0].FromStatus)
	assert.Equal(t, models.FillStatusReversed, history[0].ToStatus)
	assert.Equal(t, models.TradeSourceResync, history[0].Source)

	counts, err := store.CountBySource(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.TradeSourceExecutor][models.FillStatusReversed])
}

func TestTradeStore_UpsertRequiresIdentity(t *testing.T) {
	db := setupTest(t)
	_, err := NewTradeStore(db).Upsert(context.Background(), models.TradeIdentity{UserID: "u1"}, sampleFill())
	assert.Error(t, err)
}

func TestSyncStore(t *testing.T) {
	db := setupTest(t)
	store := NewSyncStore(db)
	ctx := context.Background()

	state, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, store.SetBackfillCursor(ctx, "u1", 90))
	require.NoError(t, store.RecordRun(ctx, "u1", baseTime, assert.AnError))

	state, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(90), *state.BackfillCursorID)
	require.NotNil(t, state.LastError)
	assert.Equal(t, assert.AnError.Error(), *state.LastError)

	require.NoError(t, store.SetBackfillCursor(ctx, "u1", 70))
	require.NoError(t, store.RecordRun(ctx, "u1", baseTime.Add(time.Minute), nil))

	states, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, int64(70), *states[0].BackfillCursorID)
	assert.Nil(t, states[0].LastError)
	assert.True(t, states[0].LastRunAt.Equal(baseTime.Add(time.Minute)))
}
