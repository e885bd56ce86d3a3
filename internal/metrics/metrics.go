// Package metrics provides Prometheus metrics for the tile predictor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tile predictor.
type Metrics struct {
	// Tile outcome metrics
	TilesProcessed *prometheus.CounterVec // by status: written | blank | error
	TilesSkipped   prometheus.Counter
	TilesPending   prometheus.Gauge

	// Read metrics
	ReadRetries  prometheus.Counter
	ReadFailures prometheus.Counter
	ReadDuration prometheus.Histogram

	// Batch timing metrics
	BatchReadDuration        prometheus.Histogram
	BatchInferenceDuration   prometheus.Histogram
	BatchPostprocessDuration prometheus.Histogram
	BatchesCompleted         prometheus.Counter

	// Throughput
	TilesPerHour          prometheus.Gauge
	TilesPerHourLastBatch prometheus.Gauge
	ETASeconds            prometheus.Gauge

	// Error metrics
	LedgerErrors prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tile_predictor"
	}

	m := &Metrics{
		TilesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tiles_processed_total",
				Help:      "Total number of tiles that reached a terminal state",
			},
			[]string{"status"},
		),
		TilesSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tiles_skipped_total",
				Help:      "Tiles skipped because the resume ledger already lists them",
			},
		),
		TilesPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tiles_pending",
				Help:      "Tiles left to process in the current run",
			},
		),
		ReadRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "read_retries_total",
				Help:      "Total number of tile read retries",
			},
		),
		ReadFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "read_failures_total",
				Help:      "Tiles whose read failed after all attempts",
			},
		),
		ReadDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tile_read_duration_seconds",
				Help:      "Time to read and decode a single tile",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
		),
		BatchReadDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_read_duration_seconds",
				Help:      "Time to read all tiles of a batch",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		BatchInferenceDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_inference_duration_seconds",
				Help:      "Time spent in the model for one batch",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		BatchPostprocessDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_postprocess_duration_seconds",
				Help:      "Time to clean, save and record all tiles of a batch",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		BatchesCompleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_completed_total",
				Help:      "Total number of batches flushed through the pipeline",
			},
		),
		TilesPerHour: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tiles_per_hour",
				Help:      "Overall processing rate since the first non-skipped tile",
			},
		),
		TilesPerHourLastBatch: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tiles_per_hour_last_batch",
				Help:      "Processing rate of the most recent batch",
			},
		),
		ETASeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "eta_seconds",
				Help:      "Estimated time remaining based on the overall rate",
			},
		),
		LedgerErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_errors_total",
				Help:      "Failed appends to the resume ledger",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncTiles increments the terminal-state counter for status.
func (m *Metrics) IncTiles(status string) {
	m.TilesProcessed.WithLabelValues(status).Inc()
}

// AddSkipped adds to the skipped tiles counter.
func (m *Metrics) AddSkipped(n int) {
	m.TilesSkipped.Add(float64(n))
}

// SetPending sets the number of tiles left in the run.
func (m *Metrics) SetPending(n int) {
	m.TilesPending.Set(float64(n))
}

// IncReadRetries increments the read retry counter.
func (m *Metrics) IncReadRetries() {
	m.ReadRetries.Inc()
}

// IncReadFailures increments the failed read counter.
func (m *Metrics) IncReadFailures() {
	m.ReadFailures.Inc()
}

// ObserveRead records a single tile read time.
func (m *Metrics) ObserveRead(seconds float64) {
	m.ReadDuration.Observe(seconds)
}

// ObserveBatch records the stage timings of one batch.
func (m *Metrics) ObserveBatch(read, inference, postprocess float64) {
	m.BatchReadDuration.Observe(read)
	m.BatchInferenceDuration.Observe(inference)
	m.BatchPostprocessDuration.Observe(postprocess)
	m.BatchesCompleted.Inc()
}

// SetThroughput publishes the progress tracker's latest estimate.
func (m *Metrics) SetThroughput(perHour, perHourLastBatch, etaSeconds float64) {
	m.TilesPerHour.Set(perHour)
	m.TilesPerHourLastBatch.Set(perHourLastBatch)
	m.ETASeconds.Set(etaSeconds)
}

// IncLedgerErrors increments the ledger error counter.
func (m *Metrics) IncLedgerErrors() {
	m.LedgerErrors.Inc()
}
