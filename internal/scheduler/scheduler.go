package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-settlement-engine/internal/metrics"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Job is one run of a periodic task. A returned error is logged; it never
// stops the schedule.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a fixed interval. Runs never overlap: a tick that
// arrives while the job is still running is dropped.
type Scheduler struct {
	name         string
	interval     time.Duration
	initialDelay time.Duration
	job          Job
	clock        clock.Clock
	logger       *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clock = clk }
}

// WithInitialDelay delays the first run. Without it the first run starts immediately.
func WithInitialDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.initialDelay = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New creates a stopped scheduler.
func New(name string, interval time.Duration, job Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		clock:    clock.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("job", name))
	return s
}

// Start begins running the job in the background until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}
	if s.interval <= 0 {
		return fmt.Errorf("scheduler %s: interval must be positive", s.name)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("initial_delay", s.initialDelay))
	return nil
}

// Stop cancels the schedule and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if s.initialDelay > 0 {
		timer := s.clock.Timer(s.initialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce runs the job once, turning a panic into a logged failure.
func (s *Scheduler) runOnce(ctx context.Context) {
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			s.logger.Error("Scheduled job panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		metrics.JobRuns.WithLabelValues(s.name, result).Inc()
	}()

	if err := s.job(ctx); err != nil {
		result = "error"
		if ctx.Err() == nil {
			s.logger.Error("Scheduled job failed", zap.Error(err))
		}
	}
}
