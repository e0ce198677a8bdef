package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"order-settlement-engine/internal/config"
	"order-settlement-engine/internal/database"
	"order-settlement-engine/internal/gateway"
	"order-settlement-engine/internal/metrics"
	"order-settlement-engine/internal/models"
	"order-settlement-engine/internal/pricefeed"
	"order-settlement-engine/internal/scheduler"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type outcome string

const (
	outcomeSkipped       outcome = "skipped"
	outcomeClaimConflict outcome = "claim_conflict"
	outcomeExecuted      outcome = "executed"
	outcomeFailed        outcome = "failed"
	outcomeRetry         outcome = "retry"
	outcomeMaxRetries    outcome = "max_retries"
	outcomeError         outcome = "error"
)

// CycleReport summarises one execution cycle.
type CycleReport struct {
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	StaleReset    int64         `json:"stale_reset"`
	Scanned       int           `json:"scanned"`
	Skipped       int           `json:"skipped"`
	ClaimConflict int           `json:"claim_conflict"`
	Executed      int           `json:"executed"`
	Failed        int           `json:"failed"`
	Retried       int           `json:"retried"`
	Errors        int           `json:"errors"`
	OCOCancelled  int64         `json:"oco_cancelled"`
}

func (r *CycleReport) record(o outcome) {
	switch o {
	case outcomeSkipped:
		r.Skipped++
	case outcomeClaimConflict:
		r.ClaimConflict++
	case outcomeExecuted:
		r.Executed++
	case outcomeFailed, outcomeMaxRetries:
		r.Failed++
	case outcomeRetry:
		r.Retried++
	case outcomeError:
		r.Errors++
	}
}

// Engine drives pending orders through claim, settlement and projection.
// All coordination with other engine instances goes through the order store's
// conditional updates.
type Engine struct {
	UUID      string
	StartTime time.Time

	logger        *zap.Logger
	orders        *database.OrderStore
	trades        *database.TradeStore
	gateway       gateway.Client
	prices        pricefeed.Provider
	clock         clock.Clock
	retry         RetryPolicy
	settleTimeout time.Duration
	scanLimit     int
	staleAfter    time.Duration

	mu        sync.Mutex
	lastCycle *CycleReport
}

// NewEngine creates a new execution engine.
func NewEngine(
	logger *zap.Logger,
	cfg *config.Config,
	orders *database.OrderStore,
	trades *database.TradeStore,
	gw gateway.Client,
	prices pricefeed.Provider,
	clk clock.Clock,
) *Engine {
	attempts := cfg.Gateway.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	return &Engine{
		UUID:          uuid.NewString(),
		StartTime:     clk.Now(),
		logger:        logger.Named("executor"),
		orders:        orders,
		trades:        trades,
		gateway:       gw,
		prices:        prices,
		clock:         clk,
		retry:         NewRetryPolicy(cfg.Execution),
		settleTimeout: cfg.Gateway.Timeout * time.Duration(attempts),
		scanLimit:     config.ExecutionScanLimit,
		staleAfter:    config.StaleProcessingAfter,
	}
}

// Run starts the engine's main loop and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	s := scheduler.New("executor", config.ExecutionInterval,
		func(ctx context.Context) error {
			_, err := e.RunCycle(ctx)
			return err
		},
		scheduler.WithClock(e.clock),
		scheduler.WithLogger(e.logger),
	)
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.logger.Info("Stopping execution engine...")
	s.Stop()
	return nil
}

// RunCycle performs one pass: watchdog, scan, then each due order in turn.
// Errors from individual orders are absorbed; only a failed watchdog or scan
// is returned.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	now := e.clock.Now()
	report := CycleReport{StartedAt: now}
	defer func() {
		report.Duration = e.clock.Since(now)
		metrics.ExecutionCycles.Inc()
		e.mu.Lock()
		r := report
		e.lastCycle = &r
		e.mu.Unlock()
	}()

	reset, err := e.orders.ResetStale(ctx, now.Add(-e.staleAfter))
	if err != nil {
		return report, fmt.Errorf("stale processing reset failed: %w", err)
	}
	if reset > 0 {
		report.StaleReset = reset
		metrics.StaleResets.Add(float64(reset))
		e.logger.Warn("Reset stale PROCESSING orders", zap.Int64("count", reset))
	}

	pending, err := e.orders.ListPending(ctx, now, e.scanLimit)
	if err != nil {
		return report, fmt.Errorf("could not scan pending orders: %w", err)
	}
	report.Scanned = len(pending)

	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		o := pending[i]
		res, cancelled := e.processOrder(ctx, &o)
		report.record(res)
		report.OCOCancelled += cancelled
		if res != outcomeSkipped {
			metrics.OrderOutcomes.WithLabelValues(string(res)).Inc()
		}
	}

	if report.Scanned > 0 {
		e.logger.Debug("Execution cycle complete",
			zap.Int("scanned", report.Scanned),
			zap.Int("executed", report.Executed),
			zap.Int("failed", report.Failed),
			zap.Int("retried", report.Retried))
	}
	return report, nil
}

// LastCycle returns the report of the most recent cycle, if any.
func (e *Engine) LastCycle() (CycleReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastCycle == nil {
		return CycleReport{}, false
	}
	return *e.lastCycle, true
}

// processOrder handles one order in isolation. A panic is contained to the order.
func (e *Engine) processOrder(ctx context.Context, o *models.Order) (res outcome, cancelled int64) {
	l := e.logger.With(zap.Uint("order_id", o.ID), zap.String("user_id", o.UserID), zap.String("symbol", o.Symbol))
	defer func() {
		if r := recover(); r != nil {
			l.Error("Order processing panicked", zap.Any("panic", r), zap.Stack("stack"))
			res, cancelled = outcomeError, 0
		}
	}()

	price, ok := e.prices.Price(o.Symbol)
	if !ok || !ShouldExecute(o, price) {
		return outcomeSkipped, 0
	}

	claimed, err := e.orders.Claim(ctx, o.ID, e.clock.Now())
	if err != nil {
		l.Error("Failed to claim order", zap.Error(err))
		return outcomeError, 0
	}
	if claimed == nil {
		return outcomeClaimConflict, 0
	}
	// The scanned row may have been amended before the claim; settle what is stored.
	o = claimed
	if !ShouldExecute(o, price) {
		if err := e.orders.Unclaim(ctx, o.ID); err != nil {
			l.Error("Failed to release order after trigger re-check", zap.Error(err))
			return outcomeError, 0
		}
		return outcomeSkipped, 0
	}

	if err := e.orders.EnsureReferenceID(ctx, o); err != nil {
		l.Error("Failed to assign reference id", zap.Error(err))
		return e.retryLater(ctx, l, o, "reference_id_unavailable"), 0
	}
	l = l.With(zap.String("reference_id", o.Ref()))

	return e.settle(ctx, l, o, price)
}

func (e *Engine) settle(ctx context.Context, l *zap.Logger, o *models.Order, marketPrice string) (outcome, int64) {
	req := gateway.ExecuteRequest{
		UserID:      o.UserID,
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		Qty:         o.Qty,
		ReferenceID: o.Ref(),
	}
	if o.ExpectedPrice != nil && *o.ExpectedPrice != "" {
		req.ExpectedPrice = o.ExpectedPrice
	}
	slippage := o.MaxSlippageBps
	if slippage <= 0 {
		slippage = config.DefaultMaxSlippageBps
	}
	req.MaxSlippageBps = &slippage

	resp, err := e.execute(ctx, req)
	if err != nil {
		kind, msg := classify(err)
		if kind == failureBusiness {
			l.Warn("Settlement rejected, failing order", zap.String("reason", msg))
			if err := e.orders.MarkFailed(ctx, o.ID, msg); err != nil {
				l.Error("Failed to mark order failed", zap.Error(err))
				return outcomeError, 0
			}
			return outcomeFailed, 0
		}
		l.Warn("Settlement failed transiently", zap.Error(err))
		return e.retryLater(ctx, l, o, msg), 0
	}
	if resp == nil || !resp.OK {
		return e.retryLater(ctx, l, o, "execution_failed_no_ok"), 0
	}

	now := e.clock.Now()
	fill := resp.TradeFill(o, now)
	orderID := o.ID
	identity := models.TradeIdentity{
		UserID:      o.UserID,
		ReferenceID: o.Ref(),
		OrderID:     &orderID,
		Source:      models.TradeSourceExecutor,
	}
	if _, err := e.trades.Upsert(ctx, identity, fill); err != nil {
		// Settlement already happened; reconciliation repairs the projection.
		l.Error("Failed to project trade", zap.Error(err))
	}

	cancelled, err := e.orders.CompleteExecution(ctx, o, resp.FillID(), now)
	if err != nil {
		l.Error("Failed to mark order executed", zap.Error(err))
		return outcomeError, 0
	}
	if cancelled > 0 {
		metrics.OCOCancellations.Add(float64(cancelled))
		l.Info("Cancelled OCO siblings", zap.Int64("count", cancelled))
	}

	l.Info("Executed order",
		zap.String("side", string(o.Side)),
		zap.String("qty", o.Qty),
		zap.String("market_price", marketPrice),
		zap.String("execution_price", fill.Price))
	return outcomeExecuted, cancelled
}

// execute calls the gateway bounded by the settlement timeout.
func (e *Engine) execute(ctx context.Context, req gateway.ExecuteRequest) (*gateway.ExecuteResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.settleTimeout)
	defer cancel()

	started := e.clock.Now()
	resp, err := e.gateway.ExecuteTrade(ctx, req)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.SettlementLatency.WithLabelValues(result).Observe(float64(e.clock.Since(started).Milliseconds()))
	return resp, err
}

// retryLater returns the order to PENDING with a TEMP: reason and the next
// attempt deferred by the retry policy, or fails it once attempts run out.
func (e *Engine) retryLater(ctx context.Context, l *zap.Logger, o *models.Order, msg string) outcome {
	attempt := o.Attempts + 1
	if e.retry.Exhausted(attempt) {
		reason := fmt.Sprintf("%s: %s", models.ReasonMaxRetriesExceeded, msg)
		l.Warn("Giving up on order", zap.Int("attempts", attempt), zap.String("reason", reason))
		if err := e.orders.MarkFailed(ctx, o.ID, reason); err != nil {
			l.Error("Failed to mark order failed", zap.Error(err))
			return outcomeError
		}
		return outcomeMaxRetries
	}

	next := e.clock.Now().Add(e.retry.Delay(attempt))
	if err := e.orders.Release(ctx, o.ID, models.TransientReasonPrefix+msg, next); err != nil {
		l.Error("Failed to release order", zap.Error(err))
		return outcomeError
	}
	return outcomeRetry
}
