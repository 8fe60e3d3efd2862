// Package metrics exposes the Prometheus metrics of the sync engine.
// Metrics are defined in their respective packages (ratelimit, client,
// pagination, syncer, store) and registered via promauto on the default
// registry; this package serves them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Handler returns the /metrics handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics and /health on addr.
func NewServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve runs a metrics server for the default registry, where promauto
// registers every engine metric, until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := NewServer(addr, prometheus.DefaultGatherer)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - nvd_rate_limit_waits_total (Counter): Acquire calls that had to wait
//   - nvd_rate_limit_wait_seconds (Histogram): Time spent waiting in Acquire
//   - nvd_rate_limit_calls_in_window (Gauge): Calls started in the trailing window
//
// Request Metrics (pkg/client):
//   - nvd_requests_total{status} (Counter): Requests by HTTP status
//   - nvd_request_duration_seconds (Histogram): Request duration
//   - nvd_errors_total{class} (Counter): Errors by class (client, server, network, parse)
//
// Retry Metrics (pkg/client):
//   - nvd_retries_total{error_class} (Counter): Retry attempts by error class
//   - nvd_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - nvd_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Pagination Metrics (pkg/pagination):
//   - nvd_pages_fetched_total (Counter): Pages fetched and handled
//   - nvd_pagination_inflight (Gauge): Page fetches in flight
//
// Sync Metrics (pkg/syncer):
//   - nvd_sync_runs_total{mode, result} (Counter): Finished runs
//   - nvd_records_persisted_total{mode} (Counter): Records accepted by the store
//   - nvd_store_errors_total{operation} (Counter): Store and checkpoint failures
//   - nvd_sync_duration_seconds{mode} (Histogram): Run duration
//
// Store Metrics (pkg/store):
//   - nvd_store_records_written_total{driver, operation} (Counter)
//   - nvd_store_operation_duration_seconds{driver, operation} (Histogram)
//   - nvd_store_driver_errors_total{driver, operation} (Counter)
//
// Example Prometheus Queries:
//
//   # Failed runs in the last day
//   increase(nvd_sync_runs_total{result="failed"}[1d])
//
//   # Time spent throttled by the rate limiter
//   rate(nvd_rate_limit_wait_seconds_sum[5m])
//
//   # Request Error Rate
//   rate(nvd_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(nvd_request_duration_seconds_bucket[5m]))
