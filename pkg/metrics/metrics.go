// Package metrics defines the Prometheus collectors exported by the engine.
// They register themselves via promauto; an observability sink scrapes them
// on its own schedule, the engine never pushes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InsertsTotal counts insert attempts by outcome ("ok", "rejected",
	// "busy", "backpressure", "error").
	InsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patterndb_inserts_total",
			Help: "Total number of insert operations processed",
		},
		[]string{"outcome"},
	)

	// InsertDuration measures time spent inside the writer critical section.
	InsertDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "patterndb_insert_duration_seconds",
			Help:    "Duration of applied insert operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	// SearchesTotal counts search operations by outcome ("ok", "cancelled",
	// "error").
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patterndb_searches_total",
			Help: "Total number of search operations processed",
		},
		[]string{"outcome"},
	)

	// SearchDuration measures end-to-end query latency.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "patterndb_search_duration_seconds",
			Help:    "Duration of search operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	// VectorsTotal tracks the number of live vectors in the index.
	VectorsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "patterndb_vectors_total",
			Help: "Number of live indexed vectors",
		},
	)

	// EvictionsTotal counts nodes tombstoned by the emergency eviction pass.
	EvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "patterndb_evictions_total",
			Help: "Total number of nodes evicted under memory pressure",
		},
	)

	// SnapshotDuration measures how long a full snapshot save takes.
	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "patterndb_snapshot_duration_seconds",
			Help:    "Duration of snapshot saves in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	// SnapshotFailures counts failed snapshot saves.
	SnapshotFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "patterndb_snapshot_failures_total",
			Help: "Total number of failed snapshot saves",
		},
	)

	// DegradedMode is 1 while the engine serves queries from the brute-force
	// fallback after an unrecoverable snapshot load.
	DegradedMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "patterndb_degraded_mode",
			Help: "1 when serving from the linear-scan fallback, 0 otherwise",
		},
	)
)
