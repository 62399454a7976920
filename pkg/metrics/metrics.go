package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global metric variables. 'promauto' registers them with the default
// registry at init time, so importing packages can update them without
// any wiring. Callers that want to expose them mount promhttp.Handler
// themselves; this library deliberately has no HTTP surface.

var (
	// CommitsTotal counts committed transactions, labeled by how the
	// transaction read its keys ("optimistic", "pessimistic", "mixed",
	// "readonly").
	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verlock_commits_total",
			Help: "Total number of committed transactions",
		},
		[]string{"mode"},
	)

	// RollbacksTotal counts rolled-back transactions, labeled by cause
	// ("explicit", "conflict", "lock", "evicted", "error").
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verlock_rollbacks_total",
			Help: "Total number of rolled back transactions",
		},
		[]string{"cause"},
	)

	// VersionConflictsTotal counts optimistic commit attempts that failed
	// the version check.
	VersionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verlock_version_conflicts_total",
			Help: "Total number of optimistic version check failures",
		},
	)

	// LockTimeoutsTotal counts pessimistic acquires that waited out their
	// timeout budget.
	LockTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verlock_lock_timeouts_total",
			Help: "Total number of lock acquisitions that timed out",
		},
	)

	// LockWaitSeconds measures how long granted acquisitions waited.
	// Buckets span the immediate-grant case to multi-second contention.
	LockWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verlock_lock_wait_seconds",
			Help:    "Time spent waiting for granted locks",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
	)

	// ActiveTransactions tracks the number of currently active contexts.
	ActiveTransactions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verlock_active_transactions",
			Help: "Number of transactions currently in the Active state",
		},
	)

	// RecordsTotal tracks the number of records in the store.
	RecordsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verlock_records_total",
			Help: "Number of records currently in the store",
		},
	)
)
