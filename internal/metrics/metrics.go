// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionsRecorded counts history records by action kind.
	ActionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rdb_actions_recorded_total",
		Help: "History records written, by action kind",
	}, []string{"kind"})

	// CascadeDepth tracks how deep each history call tree went.
	CascadeDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rdb_action_cascade_depth",
		Help:    "Deepest cascade level reached per recorded operation",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
	})

	// Repairs counts repair outcomes by tree kind.
	Repairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rdb_repairs_total",
		Help: "Repair outcomes raised while recording history, by tree kind",
	}, []string{"tree"})

	// TreeRebuilds tracks nested-set rebuild latency by tree kind.
	TreeRebuilds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rdb_tree_rebuild_duration_seconds",
		Help:    "Tree rebuild duration in seconds, by tree kind",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"tree"})

	// Jobs counts background jobs by type and result.
	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rdb_jobs_total",
		Help: "Background jobs processed, by job type and result",
	}, []string{"type", "result"})

	// SnapshotsSkipped counts subtrees left out of a copy for lack of a slot.
	SnapshotsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdb_snapshot_skipped_subtrees_total",
		Help: "Subtrees skipped while copying because no matching slot existed",
	})

	// HTTPRequests tracks API latency by route pattern and status.
	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rdb_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds, by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)
