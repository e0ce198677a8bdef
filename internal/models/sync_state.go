package models

import "time"

// SyncState is the per-user bookkeeping of the reconciliation loop.
// BackfillCursorID is the smallest fill id reconciled so far.
type SyncState struct {
	ID               uint       `gorm:"primaryKey" json:"-"`
	UserID           string     `gorm:"not null;uniqueIndex" json:"user_id"`
	BackfillCursorID *int64     `json:"backfill_cursor_id"`
	LastRunAt        *time.Time `json:"last_run_at"`
	LastError        *string    `json:"last_error"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
