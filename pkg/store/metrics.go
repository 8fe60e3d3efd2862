package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsWritten tracks records handed to a backend by driver and operation
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvd_store_records_written_total",
			Help: "Total number of records written to the store",
		},
		[]string{"driver", "operation"}, // "insert", "upsert"
	)

	// OperationDuration tracks backend latency by driver and operation
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nvd_store_operation_duration_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver", "operation"},
	)

	// OperationErrors tracks failed backend calls
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvd_store_driver_errors_total",
			Help: "Total number of failed store driver calls",
		},
		[]string{"driver", "operation"},
	)
)

// Observe records the outcome of one backend call started at start.
func Observe(driver, op string, start time.Time, records int, err error) {
	OperationDuration.WithLabelValues(driver, op).Observe(time.Since(start).Seconds())
	if err != nil {
		OperationErrors.WithLabelValues(driver, op).Inc()
		return
	}
	if records > 0 {
		RecordsWritten.WithLabelValues(driver, op).Add(float64(records))
	}
}
