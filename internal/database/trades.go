package database

import (
	"context"
	"fmt"

	"order-settlement-engine/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var correctableTradeColumns = []string{
	"fill_id", "wallet_tx_id", "symbol", "side", "qty", "price",
	"gross_quote", "fee_quote", "net_quote", "status",
	"ledger_block_height", "ledger_item_idx", "ledger_commit_key", "ledger_committed_at",
	"executed_at", "updated_at",
}

// UpsertResult describes what an upsert did.
type UpsertResult struct {
	Inserted      bool
	StatusChanged bool
}

// TradeStore persists trade projections keyed by (user_id, reference_id).
type TradeStore struct {
	db *gorm.DB
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(db *gorm.DB) *TradeStore {
	return &TradeStore{db: db}
}

// Upsert merges a fill into the projection. Identity fields apply on insert
// only; fill fields always overwrite. A status change on an existing row is
// appended to the status history in the same transaction. Repeating an upsert
// with the same payload leaves exactly one row unchanged.
func (s *TradeStore) Upsert(ctx context.Context, id models.TradeIdentity, fill models.TradeFill) (UpsertResult, error) {
	var result UpsertResult
	if id.UserID == "" || id.ReferenceID == "" {
		return result, fmt.Errorf("trade identity requires user and reference id")
	}
	if fill.Status == "" {
		fill.Status = models.FillStatusFilled
	}
	if fill.ExecutedAt.IsZero() {
		fill.ExecutedAt = s.db.NowFunc()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.Trade
		if err := tx.Where("user_id = ? AND reference_id = ?", id.UserID, id.ReferenceID).
			Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		result.Inserted = len(existing) == 0

		if !result.Inserted && existing[0].Status != fill.Status {
			result.StatusChanged = true
			change := models.TradeStatusChange{
				UserID:      id.UserID,
				ReferenceID: id.ReferenceID,
				FromStatus:  existing[0].Status,
				ToStatus:    fill.Status,
				Source:      id.Source,
				ObservedAt:  tx.NowFunc(),
			}
			if err := tx.Create(&change).Error; err != nil {
				return err
			}
		}

		row := models.Trade{
			UserID:            id.UserID,
			ReferenceID:       id.ReferenceID,
			OrderID:           id.OrderID,
			Source:            id.Source,
			FillID:            fill.FillID,
			WalletTxID:        fill.WalletTxID,
			Symbol:            fill.Symbol,
			Side:              fill.Side,
			Qty:               fill.Qty,
			Price:             fill.Price,
			GrossQuote:        fill.GrossQuote,
			FeeQuote:          fill.FeeQuote,
			NetQuote:          fill.NetQuote,
			Status:            fill.Status,
			LedgerBlockHeight: fill.LedgerBlockHeight,
			LedgerItemIdx:     fill.LedgerItemIdx,
			LedgerCommitKey:   fill.LedgerCommitKey,
			LedgerCommittedAt: fill.LedgerCommittedAt,
			ExecutedAt:        fill.ExecutedAt,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "reference_id"}},
			DoUpdates: clause.AssignmentColumns(correctableTradeColumns),
		}).Create(&row).Error
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to upsert trade %s/%s: %w", id.UserID, id.ReferenceID, err)
	}
	return result, nil
}

// Get returns the projection for (userID, referenceID), or nil when absent.
func (s *TradeStore) Get(ctx context.Context, userID, referenceID string) (*models.Trade, error) {
	var rows []models.Trade
	err := s.db.WithContext(ctx).Where("user_id = ? AND reference_id = ?", userID, referenceID).Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// ListByUser returns a user's trades, most recently executed first.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.Trade, error) {
	var out []models.Trade
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("executed_at desc, id desc").Limit(limit).Find(&out).Error
	return out, err
}

// StatusHistory returns the recorded status changes of one trade, oldest first.
func (s *TradeStore) StatusHistory(ctx context.Context, userID, referenceID string) ([]models.TradeStatusChange, error) {
	var out []models.TradeStatusChange
	err := s.db.WithContext(ctx).Where("user_id = ? AND reference_id = ?", userID, referenceID).
		Order("id asc").Find(&out).Error
	return out, err
}

// CountBySource returns the number of trades per source and status.
func (s *TradeStore) CountBySource(ctx context.Context) (map[models.TradeSource]map[string]int64, error) {
	var rows []struct {
		Source models.TradeSource
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Trade{}).
		Select("source, status, count(*) as count").Group("source, status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.TradeSource]map[string]int64)
	for _, r := range rows {
		if out[r.Source] == nil {
			out[r.Source] = make(map[string]int64)
		}
		out[r.Source][r.Status] = r.Count
	}
	return out, nil
}
