// Package reconcile repairs the local trade projection from the settlement
// gateway's fill history, one user at a time.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-settlement-engine/internal/config"
	"order-settlement-engine/internal/database"
	"order-settlement-engine/internal/gateway"
	"order-settlement-engine/internal/metrics"
	"order-settlement-engine/internal/models"
	"order-settlement-engine/internal/scheduler"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errNotOK is returned when the gateway answers 2xx with ok=false.
var errNotOK = errors.New("gateway list fills not ok")

// RunReport summarises one reconciliation pass.
type RunReport struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Users       int           `json:"users"`
	FailedUsers int           `json:"failed_users"`
	Upserted    int           `json:"upserted"`
	Corrections int           `json:"corrections"`
}

// userResult is the outcome of reconciling one user.
type userResult struct {
	upserted    int
	corrections int
	pages       int
}

// Reconciler pulls fills from the gateway and merges them into the trade
// projection. It keeps a per-user backfill cursor so deep history sync resumes
// across restarts.
type Reconciler struct {
	logger  *zap.Logger
	cfg     config.Reconcile
	db      *gorm.DB
	orders  *database.OrderStore
	trades  *database.TradeStore
	syncs   *database.SyncStore
	gateway gateway.Client
	clock   clock.Clock

	mu      sync.Mutex
	lastRun *RunReport
}

// NewReconciler creates a new Reconciler.
func NewReconciler(logger *zap.Logger, cfg config.Reconcile, db *gorm.DB, gw gateway.Client, clk clock.Clock) *Reconciler {
	return &Reconciler{
		logger:  logger.Named("reconcile"),
		cfg:     cfg,
		db:      db,
		orders:  database.NewOrderStore(db),
		trades:  database.NewTradeStore(db),
		syncs:   database.NewSyncStore(db),
		gateway: gw,
		clock:   clk,
	}
}

// Run reconciles on the configured interval until ctx is done. The first pass
// waits for the startup delay.
func (r *Reconciler) Run(ctx context.Context) error {
	s := scheduler.New("reconcile", r.cfg.Interval,
		func(ctx context.Context) error {
			_, err := r.RunOnce(ctx)
			return err
		},
		scheduler.WithClock(r.clock),
		scheduler.WithInitialDelay(r.cfg.StartupDelay),
		scheduler.WithLogger(r.logger),
	)
	if err := s.Start(ctx); err != nil {
		return err
	}
	r.logger.Info("Trade resync job started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("page_size", r.cfg.PageSize),
		zap.Bool("backfill", r.cfg.Backfill),
		zap.Int("backfill_pages", r.cfg.BackfillPages))
	<-ctx.Done()
	s.Stop()
	return nil
}

// RunOnce reconciles every known user in turn. A failing user is recorded in
// its sync state and does not stop the pass; only failing to list users is
// returned as an error.
func (r *Reconciler) RunOnce(ctx context.Context) (RunReport, error) {
	started := r.clock.Now()
	report := RunReport{StartedAt: started}
	defer func() {
		report.Duration = r.clock.Since(started)
		r.mu.Lock()
		rep := report
		r.lastRun = &rep
		r.mu.Unlock()
	}()

	userIDs, err := database.KnownUserIDs(ctx, r.db)
	if err != nil {
		return report, fmt.Errorf("could not list users: %w", err)
	}

	for _, userID := range userIDs {
		if ctx.Err() != nil {
			break
		}
		report.Users++

		res, err := r.syncUser(ctx, userID)
		report.Upserted += res.upserted
		report.Corrections += res.corrections

		result := "ok"
		if err != nil {
			result = "error"
			report.FailedUsers++
			r.logger.Warn("User reconciliation failed", zap.String("user_id", userID), zap.Error(err))
		}
		metrics.ReconcileRuns.WithLabelValues(result).Inc()

		if recErr := r.syncs.RecordRun(ctx, userID, r.clock.Now(), err); recErr != nil {
			r.logger.Error("Failed to record sync state", zap.String("user_id", userID), zap.Error(recErr))
		}
	}

	if report.Users > 0 {
		r.logger.Info("Reconciliation pass complete",
			zap.Int("users", report.Users),
			zap.Int("failed_users", report.FailedUsers),
			zap.Int("upserted", report.Upserted),
			zap.Int("corrections", report.Corrections))
	}
	return report, nil
}

// LastRun returns the report of the most recent pass, if any.
func (r *Reconciler) LastRun() (RunReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastRun == nil {
		return RunReport{}, false
	}
	return *r.lastRun, true
}

// Name implements trader.Reporter.
func (r *Reconciler) Name() string { return "reconcile" }

// Report implements trader.Reporter.
func (r *Reconciler) Report() interface{} {
	out := map[string]interface{}{
		"interval":       r.cfg.Interval.String(),
		"page_size":      r.cfg.PageSize,
		"backfill":       r.cfg.Backfill,
		"backfill_pages": r.cfg.BackfillPages,
	}
	if last, ok := r.LastRun(); ok {
		out["last_run"] = last
	}
	return out
}

// syncUser runs the latest sync and, when enabled, a bounded backfill.
func (r *Reconciler) syncUser(ctx context.Context, userID string) (res userResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during reconciliation: %v", p)
		}
	}()

	latestCursor, err := r.syncLatest(ctx, userID, &res)
	if err != nil {
		return res, err
	}
	if !r.cfg.Backfill || latestCursor == nil {
		return res, nil
	}
	return res, r.backfill(ctx, userID, *latestCursor, &res)
}

// syncLatest merges the newest page of fills and returns the oldest id seen.
func (r *Reconciler) syncLatest(ctx context.Context, userID string, res *userResult) (*int64, error) {
	resp, err := r.gateway.ListFills(ctx, gateway.ListFillsRequest{UserID: userID, Limit: r.cfg.PageSize})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("%w for user %s", errNotOK, userID)
	}
	if err := r.upsertRows(ctx, userID, resp.Rows, "latest", res); err != nil {
		return nil, err
	}
	return nextCursor(resp), nil
}

// backfill walks older pages from the stored cursor, persisting the cursor
// after every page so a restart resumes where this run stopped.
func (r *Reconciler) backfill(ctx context.Context, userID string, latestCursor int64, res *userResult) error {
	state, err := r.syncs.Get(ctx, userID)
	if err != nil {
		return err
	}
	var cursor int64
	if state != nil && state.BackfillCursorID != nil && *state.BackfillCursorID > 0 {
		cursor = *state.BackfillCursorID
	} else {
		cursor = latestCursor
		if err := r.syncs.SetBackfillCursor(ctx, userID, cursor); err != nil {
			return err
		}
	}

	for res.pages < r.cfg.BackfillPages {
		from := cursor
		resp, err := r.gateway.ListFills(ctx, gateway.ListFillsRequest{UserID: userID, Limit: r.cfg.PageSize, CursorID: &from})
		if err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("%w during backfill for user %s", errNotOK, userID)
		}
		if len(resp.Rows) == 0 {
			break
		}
		if err := r.upsertRows(ctx, userID, resp.Rows, "backfill", res); err != nil {
			return err
		}
		res.pages++

		next := nextCursor(resp)
		if next == nil || *next <= 0 || *next >= cursor {
			break
		}
		cursor = *next
		if err := r.syncs.SetBackfillCursor(ctx, userID, cursor); err != nil {
			return err
		}
		if resp.NextCursorID == nil && len(resp.Rows) < r.cfg.PageSize {
			break
		}
	}

	r.logger.Debug("Backfill progress", zap.String("user_id", userID), zap.Int64("cursor", cursor), zap.Int("pages", res.pages))
	return nil
}

func (r *Reconciler) upsertRows(ctx context.Context, userID string, rows []gateway.Fill, phase string, res *userResult) error {
	now := r.clock.Now()
	for i := range rows {
		row := &rows[i]
		if row.ReferenceID == "" {
			continue
		}
		orderID, err := r.orders.FindByReference(ctx, userID, row.ReferenceID)
		if err != nil {
			return err
		}
		result, err := r.trades.Upsert(ctx, models.TradeIdentity{
			UserID:      userID,
			ReferenceID: row.ReferenceID,
			OrderID:     orderID,
			Source:      models.TradeSourceResync,
		}, row.TradeFill(now))
		if err != nil {
			return err
		}
		res.upserted++
		metrics.FillsUpserted.WithLabelValues(phase).Inc()
		if result.StatusChanged {
			res.corrections++
			metrics.ProjectionCorrections.Inc()
		}
	}
	return nil
}

// nextCursor is the gateway's cursor, or the id of the oldest row on the page.
func nextCursor(resp *gateway.ListFillsResponse) *int64 {
	if resp.NextCursorID != nil {
		return resp.NextCursorID.Int64()
	}
	if n := len(resp.Rows); n > 0 {
		id := int64(resp.Rows[n-1].ID)
		return &id
	}
	return nil
}
