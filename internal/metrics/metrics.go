package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Execution loop ============

// ExecutionCycles counts completed execution cycles.
var ExecutionCycles = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "executor",
		Name:      "cycles_total",
		Help:      "Total number of execution cycles run",
	},
)

// OrderOutcomes counts per-order results by outcome
// (executed, failed, retry, max_retries, claim_conflict, error).
var OrderOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "executor",
		Name:      "order_outcomes_total",
		Help:      "Total number of processed orders by outcome",
	},
	[]string{"outcome"},
)

// StaleResets counts PROCESSING orders returned to PENDING by the watchdog.
var StaleResets = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "executor",
		Name:      "stale_resets_total",
		Help:      "Total number of stale PROCESSING orders reset to PENDING",
	},
)

// OCOCancellations counts siblings cancelled because another order in the group executed.
var OCOCancellations = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "executor",
		Name:      "oco_cancellations_total",
		Help:      "Total number of OCO siblings cancelled",
	},
)

// SettlementLatency is the duration of gateway execute calls in milliseconds.
var SettlementLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "settlement",
		Subsystem: "gateway",
		Name:      "execute_latency_ms",
		Help:      "Latency of settlement gateway execute calls in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
	},
	[]string{"result"},
)

// ============ Reconciliation ============

// ReconcileRuns counts reconciliation passes per user by result (ok, error).
var ReconcileRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "reconcile",
		Name:      "user_runs_total",
		Help:      "Total number of per-user reconciliation runs by result",
	},
	[]string{"result"},
)

// FillsUpserted counts fills merged into the projection by phase (latest, backfill).
var FillsUpserted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "reconcile",
		Name:      "fills_upserted_total",
		Help:      "Total number of gateway fills merged into the trade projection",
	},
	[]string{"phase"},
)

// ProjectionCorrections counts trade status changes observed during merges.
var ProjectionCorrections = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "reconcile",
		Name:      "status_corrections_total",
		Help:      "Total number of trade status corrections applied",
	},
)

// ============ Price feed ============

// PriceUpdates counts accepted price updates by source (poll, stream).
var PriceUpdates = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "pricefeed",
		Name:      "updates_total",
		Help:      "Total number of price updates accepted into the cache",
	},
	[]string{"source"},
)

// StreamReconnects counts websocket reconnects.
var StreamReconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "pricefeed",
		Name:      "stream_reconnects_total",
		Help:      "Total number of price stream reconnects",
	},
)

// ============ Scheduler ============

// JobRuns counts scheduled job runs by job and result (ok, error, panic).
var JobRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Total number of scheduled job runs by result",
	},
	[]string{"job", "result"},
)
