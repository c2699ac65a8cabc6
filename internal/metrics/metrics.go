// Package metrics provides Prometheus metrics for the storage engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine exposes. Each *Engine
// owns its own Metrics backed by a private Registry, so opening more than
// one engine in the same process (as the test suite does) never collides
// with "duplicate metrics collector registration" panics from the default
// global registry.
type Metrics struct {
	Registry *prometheus.Registry

	// Page cache
	CacheHitsTotal    prometheus.Counter
	CacheMissesTotal  prometheus.Counter
	CacheEvictions    prometheus.Counter
	CacheSizePages    prometheus.Gauge
	PageFlushesTotal  prometheus.Counter

	// Write-ahead log
	WalAppendsTotal     prometheus.Counter
	WalFsyncTotal       prometheus.Counter
	WalFsyncDuration    prometheus.Histogram
	WalRotationsTotal   prometheus.Counter
	WalGroupCommitSize  prometheus.Histogram

	// B+tree
	BtreeSplitsTotal prometheus.Counter
	BtreeMergesTotal prometheus.Counter

	// Lock manager
	LockWaitsTotal    prometheus.Counter
	LockTimeoutsTotal prometheus.Counter
	LocksHeld         prometheus.Gauge

	// Transaction manager
	TxnCommitsTotal   prometheus.Counter
	TxnRollbacksTotal prometheus.Counter
	TxnCommitDuration prometheus.Histogram
	TxnActive         prometheus.Gauge

	// Query executor
	QueriesTotal       *prometheus.CounterVec
	QueryIndexSeeks    prometheus.Counter
	QueryFullScans     prometheus.Counter
}

// New creates a fresh, independently-registered set of collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CacheHitsTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_cache_hits_total", Help: "Page cache hits.",
		}),
		CacheMissesTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_cache_misses_total", Help: "Page cache misses.",
		}),
		CacheEvictions: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_cache_evictions_total", Help: "Pages evicted from cache.",
		}),
		CacheSizePages: fac.NewGauge(prometheus.GaugeOpts{
			Name: "tdb_cache_size_pages", Help: "Pages currently resident in cache.",
		}),
		PageFlushesTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_page_flushes_total", Help: "Dirty pages written to disk.",
		}),

		WalAppendsTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_wal_appends_total", Help: "WAL records appended.",
		}),
		WalFsyncTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_wal_fsync_total", Help: "WAL fsync calls.",
		}),
		WalFsyncDuration: fac.NewHistogram(prometheus.HistogramOpts{
			Name:    "tdb_wal_fsync_duration_seconds",
			Help:    "WAL fsync latency.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		WalRotationsTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_wal_rotations_total", Help: "WAL segment rotations.",
		}),
		WalGroupCommitSize: fac.NewHistogram(prometheus.HistogramOpts{
			Name:    "tdb_wal_group_commit_size",
			Help:    "Number of transactions sharing a single fsync.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),

		BtreeSplitsTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_btree_splits_total", Help: "B+tree node splits.",
		}),
		BtreeMergesTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_btree_merges_total", Help: "B+tree node merges.",
		}),

		LockWaitsTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_lock_waits_total", Help: "Lock acquisitions that had to wait.",
		}),
		LockTimeoutsTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_lock_timeouts_total", Help: "Lock acquisitions that timed out.",
		}),
		LocksHeld: fac.NewGauge(prometheus.GaugeOpts{
			Name: "tdb_locks_held", Help: "Locks currently held.",
		}),

		TxnCommitsTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_txn_commits_total", Help: "Committed transactions.",
		}),
		TxnRollbacksTotal: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_txn_rollbacks_total", Help: "Rolled-back transactions.",
		}),
		TxnCommitDuration: fac.NewHistogram(prometheus.HistogramOpts{
			Name:    "tdb_txn_commit_duration_seconds",
			Help:    "Time spent in Commit().",
			Buckets: prometheus.DefBuckets,
		}),
		TxnActive: fac.NewGauge(prometheus.GaugeOpts{
			Name: "tdb_txn_active", Help: "Currently active transactions.",
		}),

		QueriesTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "tdb_queries_total", Help: "Queries executed, by chosen plan.",
		}, []string{"plan"}),
		QueryIndexSeeks: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_query_index_seeks_total", Help: "Queries that used an index seek or range.",
		}),
		QueryFullScans: fac.NewCounter(prometheus.CounterOpts{
			Name: "tdb_query_full_scans_total", Help: "Queries that fell back to a full scan.",
		}),
	}
}

// ObserveFsync times a WAL fsync call.
func (m *Metrics) ObserveFsync(d time.Duration) {
	m.WalFsyncTotal.Inc()
	m.WalFsyncDuration.Observe(d.Seconds())
}

// ObserveCommit times a transaction commit.
func (m *Metrics) ObserveCommit(d time.Duration, ok bool) {
	m.TxnCommitDuration.Observe(d.Seconds())
	if ok {
		m.TxnCommitsTotal.Inc()
	} else {
		m.TxnRollbacksTotal.Inc()
	}
}
