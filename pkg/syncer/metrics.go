package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns tracks finished runs by mode and result
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvd_sync_runs_total",
			Help: "Total number of sync runs",
		},
		[]string{"mode", "result"}, // "full"/"incremental", "success"/"failed"
	)

	// RecordsPersisted tracks records accepted by the store
	RecordsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvd_records_persisted_total",
			Help: "Total number of records persisted",
		},
		[]string{"mode"},
	)

	// StoreErrors tracks store and checkpoint failures seen by the syncer
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvd_store_errors_total",
			Help: "Total number of store operation failures",
		},
		[]string{"operation"}, // "insert", "upsert", "ensure_index", "read_checkpoint", "write_checkpoint"
	)

	// SyncDuration tracks run duration by mode
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nvd_sync_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"mode"},
	)
)
