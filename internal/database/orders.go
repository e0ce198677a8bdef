package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-settlement-engine/internal/amount"
	"order-settlement-engine/internal/config"
	"order-settlement-engine/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrOrderNotFound is returned when an order does not exist for the caller.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned for a status change the order lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// OrderStore persists orders. Every status change is a conditional update on
// the current status, so concurrent runners (in any number of processes)
// cannot both move the same order.
type OrderStore struct {
	db *gorm.DB
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// Create validates and inserts a new PENDING order with a fresh reference id.
func (s *OrderStore) Create(ctx context.Context, o *models.Order) error {
	o.Normalize()
	if err := o.Validate(); err != nil {
		return err
	}
	if o.ReferenceID == nil {
		ref := uuid.NewString()
		o.ReferenceID = &ref
	}
	if o.MaxSlippageBps == 0 {
		o.MaxSlippageBps = config.DefaultMaxSlippageBps
	}
	o.Status = models.OrderStatusPending
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// Get loads an order by id.
func (s *OrderStore) Get(ctx context.Context, id uint) (*models.Order, error) {
	var o models.Order
	err := s.db.WithContext(ctx).First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// FindByReference returns the id of the user's order carrying referenceID, if any.
func (s *OrderStore) FindByReference(ctx context.Context, userID, referenceID string) (*uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("user_id = ? AND reference_id = ?", userID, referenceID).
		Limit(1).Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return &ids[0], nil
}

// ListByUser returns a user's orders, newest first, optionally filtered by status.
func (s *OrderStore) ListByUser(ctx context.Context, userID string, status models.OrderStatus, limit int) ([]models.Order, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Order
	err := q.Order("created_at desc, id desc").Limit(limit).Find(&out).Error
	return out, err
}

// CountByStatus returns the number of orders in each status.
func (s *OrderStore) CountByStatus(ctx context.Context) (map[models.OrderStatus]int64, error) {
	var rows []struct {
		Status models.OrderStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Select("status, count(*) as count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.OrderStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// ListPending returns up to limit PENDING orders that are due at now, oldest first.
func (s *OrderStore) ListPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var out []models.Order
	err := s.db.WithContext(ctx).
		Where("status = ?", models.OrderStatusPending).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ResetStale returns PROCESSING orders claimed before cutoff to PENDING.
// Orders without a claim timestamp fall back to their creation time.
func (s *OrderStore) ResetStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Scopes(transition(models.OrderStatusProcessing, models.OrderStatusPending)).
		Where("(claimed_at IS NOT NULL AND claimed_at < ?) OR (claimed_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Updates(map[string]interface{}{
			"status":         models.OrderStatusPending,
			"failure_reason": models.ReasonStaleProcessingReset,
			"claimed_at":     nil,
		})
	return res.RowsAffected, res.Error
}

// Claim moves the order from PENDING to PROCESSING and returns the row as
// stored after the claim. It returns nil when the order was no longer PENDING,
// i.e. another runner got there first.
func (s *OrderStore) Claim(ctx context.Context, id uint, now time.Time) (*models.Order, error) {
	var claimed *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ?", id).
			Scopes(transition(models.OrderStatusPending, models.OrderStatusProcessing)).
			Updates(map[string]interface{}{
				"status":     models.OrderStatusProcessing,
				"claimed_at": now,
			})
		if res.Error != nil || res.RowsAffected != 1 {
			return res.Error
		}
		var o models.Order
		if err := tx.First(&o, id).Error; err != nil {
			return err
		}
		claimed = &o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim order %d: %w", id, err)
	}
	return claimed, nil
}

// Unclaim returns a claimed order to PENDING without counting an attempt,
// for orders whose trigger no longer holds once claimed.
func (s *OrderStore) Unclaim(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Scopes(transition(models.OrderStatusProcessing, models.OrderStatusPending)).
		Updates(map[string]interface{}{
			"status":     models.OrderStatusPending,
			"claimed_at": nil,
		}).Error
}

// EnsureReferenceID assigns a reference id to a claimed order that lacks one and
// persists it. The order's ReferenceID is updated in place.
func (s *OrderStore) EnsureReferenceID(ctx context.Context, o *models.Order) error {
	if o.ReferenceID != nil && *o.ReferenceID != "" {
		return nil
	}
	ref := uuid.NewString()
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND (reference_id IS NULL OR reference_id = '')", o.ID).
		Update("reference_id", ref)
	if res.Error != nil {
		return fmt.Errorf("failed to persist reference id: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		o.ReferenceID = &ref
		return nil
	}

	var stored []string
	if err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", o.ID).Pluck("reference_id", &stored).Error; err != nil {
		return err
	}
	if len(stored) == 0 || stored[0] == "" {
		return fmt.Errorf("reference id missing for order %d", o.ID)
	}
	o.ReferenceID = &stored[0]
	return nil
}

// CompleteExecution marks a PROCESSING order EXECUTED and cancels its PENDING
// OCO siblings in one transaction. It returns the number of siblings cancelled.
func (s *OrderStore) CompleteExecution(ctx context.Context, o *models.Order, fillID *int64, executedAt time.Time) (int64, error) {
	var cancelled int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ?", o.ID).
			Scopes(transition(models.OrderStatusProcessing, models.OrderStatusExecuted)).
			Updates(map[string]interface{}{
				"status":          models.OrderStatusExecuted,
				"fill_id":         fillID,
				"executed_at":     executedAt,
				"failure_reason":  nil,
				"next_attempt_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("order %d is no longer PROCESSING", o.ID)
		}

		if o.OCOGroupID == nil || *o.OCOGroupID == "" {
			return nil
		}
		res = tx.Model(&models.Order{}).
			Where("user_id = ? AND oco_group_id = ? AND id <> ?", o.UserID, *o.OCOGroupID, o.ID).
			Scopes(transition(models.OrderStatusPending, models.OrderStatusCancelled)).
			Updates(map[string]interface{}{
				"status":         models.OrderStatusCancelled,
				"failure_reason": models.ReasonOCOSiblingExecuted,
			})
		cancelled = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to complete execution: %w", err)
	}
	return cancelled, nil
}

// MarkFailed moves a PROCESSING order to the terminal FAILED status.
func (s *OrderStore) MarkFailed(ctx context.Context, id uint, reason string) error {
	return s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Scopes(transition(models.OrderStatusProcessing, models.OrderStatusFailed)).
		Updates(map[string]interface{}{
			"status":          models.OrderStatusFailed,
			"failure_reason":  reason,
			"executed_at":     nil,
			"next_attempt_at": nil,
		}).Error
}

// Release returns a PROCESSING order to PENDING after a transient failure,
// counting the attempt and deferring the next one until nextAttemptAt.
func (s *OrderStore) Release(ctx context.Context, id uint, reason string, nextAttemptAt time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Scopes(transition(models.OrderStatusProcessing, models.OrderStatusPending)).
		Updates(map[string]interface{}{
			"status":          models.OrderStatusPending,
			"failure_reason":  reason,
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": nextAttemptAt,
			"claimed_at":      nil,
		}).Error
}

// Cancel moves a user's PENDING order to CANCELLED. It returns false when the
// order exists but is not PENDING any more.
func (s *OrderStore) Cancel(ctx context.Context, userID string, id uint, reason string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND user_id = ?", id, userID).
		Scopes(transition(models.OrderStatusPending, models.OrderStatusCancelled)).
		Updates(map[string]interface{}{
			"status":         models.OrderStatusCancelled,
			"failure_reason": reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ? AND user_id = ?", id, userID).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrOrderNotFound
	}
	return false, nil
}

// Amend changes the qty and/or price of a user's PENDING order. Nil fields are
// left untouched. ErrOrderNotFound covers both a missing order and one that is
// no longer PENDING.
func (s *OrderStore) Amend(ctx context.Context, userID string, id uint, qty, price *string) (*models.Order, error) {
	updates := map[string]interface{}{}
	for col, v := range map[string]*string{"qty": qty, "price": price} {
		if v == nil {
			continue
		}
		a, err := amount.Parse(strings.TrimSpace(*v))
		if err != nil || !a.IsPositive() {
			return nil, fmt.Errorf("%w: invalid %s %q", models.ErrInvalidOrder, col, *v)
		}
		updates[col] = strings.TrimSpace(*v)
	}

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.Order{}).
			Where("id = ? AND user_id = ? AND status = ?", id, userID, models.OrderStatusPending).
			Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to amend order %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrOrderNotFound
		}
	}

	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID || o.Status != models.OrderStatusPending {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// transition scopes a status update to rows currently in from. Edges outside
// the order lifecycle fail with ErrInvalidTransition before any SQL runs.
func transition(from, to models.OrderStatus) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if !models.CanTransition(from, to) {
			_ = db.AddError(fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to))
			return db
		}
		return db.Where("status = ?", from)
	}
}
