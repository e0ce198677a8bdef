package database

import (
	"context"
	"time"

	"order-settlement-engine/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncStore persists per-user reconciliation state.
type SyncStore struct {
	db *gorm.DB
}

// NewSyncStore creates a new SyncStore.
func NewSyncStore(db *gorm.DB) *SyncStore {
	return &SyncStore{db: db}
}

// Get returns the user's sync state, or nil if none has been recorded.
func (s *SyncStore) Get(ctx context.Context, userID string) (*models.SyncState, error) {
	var rows []models.SyncState
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// List returns every sync state ordered by user id.
func (s *SyncStore) List(ctx context.Context) ([]models.SyncState, error) {
	var out []models.SyncState
	err := s.db.WithContext(ctx).Order("user_id asc").Find(&out).Error
	return out, err
}

// SetBackfillCursor stores the smallest fill id reconciled so far for the user.
func (s *SyncStore) SetBackfillCursor(ctx context.Context, userID string, cursorID int64) error {
	row := models.SyncState{UserID: userID, BackfillCursorID: &cursorID}
	return s.upsert(ctx, &row, "backfill_cursor_id", "updated_at")
}

// RecordRun stores the outcome of a reconciliation pass for the user. A nil
// runErr clears any previous error.
func (s *SyncStore) RecordRun(ctx context.Context, userID string, at time.Time, runErr error) error {
	row := models.SyncState{UserID: userID, LastRunAt: &at}
	if runErr != nil {
		msg := runErr.Error()
		row.LastError = &msg
	}
	return s.upsert(ctx, &row, "last_run_at", "last_error", "updated_at")
}

func (s *SyncStore) upsert(ctx context.Context, row *models.SyncState, columns ...string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(row).Error
}

