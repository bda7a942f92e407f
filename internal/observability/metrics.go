// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	CandlesFetched   *prometheus.CounterVec
	CandlesInserted  *prometheus.CounterVec
	CandlesUnchanged *prometheus.CounterVec
	MalformedSkipped *prometheus.CounterVec
	FetchErrors      *prometheus.CounterVec

	// Gap metrics
	GapsDetected   *prometheus.CounterVec
	GapsUnresolved *prometheus.GaugeVec

	// Latency metrics
	FetchLatency     *prometheus.HistogramVec
	ReconcileLatency *prometheus.HistogramVec

	// Dataset metrics
	ExamplesBuilt   *prometheus.CounterVec
	ExamplesSkipped *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulReconcile prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tykee"
	}

	return &Metrics{
		CandlesFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "candles_fetched_total",
			Help:      "Total number of candles fetched from the source",
		}, []string{"symbol", "timeframe"}),
		CandlesInserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "candles_inserted_total",
			Help:      "Total number of new candles written to the store",
		}, []string{"symbol", "timeframe"}),
		CandlesUnchanged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "candles_unchanged_total",
			Help:      "Total number of identical candles skipped as no-ops",
		}, []string{"symbol", "timeframe"}),
		MalformedSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "malformed_skipped_total",
			Help:      "Total number of malformed source candles discarded",
		}, []string{"symbol", "timeframe"}),
		FetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fetch_errors_total",
			Help:      "Total number of source fetch failures",
		}, []string{"symbol", "timeframe"}),

		GapsDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "gaps_detected_total",
			Help:      "Total number of gaps detected against the expected grid",
		}, []string{"symbol", "timeframe"}),
		GapsUnresolved: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "gaps_unresolved",
			Help:      "Gaps left unresolved after the most recent reconcile pass",
		}, []string{"symbol", "timeframe"}),

		FetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fetch_latency_seconds",
			Help:      "Source fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"symbol", "timeframe"}),
		ReconcileLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Reconcile pass duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"symbol", "timeframe"}),

		ExamplesBuilt: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dataset",
			Name:      "examples_built_total",
			Help:      "Total number of training examples built",
		}, []string{"symbol", "timeframe"}),
		ExamplesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dataset",
			Name:      "examples_skipped_total",
			Help:      "Total number of grid points skipped by reason",
		}, []string{"symbol", "timeframe", "reason"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulReconcile: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_reconcile_timestamp",
			Help:      "Unix timestamp of last fully resolved reconcile pass",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFetch records one source fetch with its outcome.
func RecordFetch(symbol, timeframe string, candles int, seconds float64, err error) {
	DefaultMetrics.FetchLatency.WithLabelValues(symbol, timeframe).Observe(seconds)
	if err != nil {
		DefaultMetrics.FetchErrors.WithLabelValues(symbol, timeframe).Inc()
		return
	}
	DefaultMetrics.CandlesFetched.WithLabelValues(symbol, timeframe).Add(float64(candles))
}

// RecordUpsert records store writes from one reconcile step.
func RecordUpsert(symbol, timeframe string, inserted, unchanged int) {
	DefaultMetrics.CandlesInserted.WithLabelValues(symbol, timeframe).Add(float64(inserted))
	DefaultMetrics.CandlesUnchanged.WithLabelValues(symbol, timeframe).Add(float64(unchanged))
}

// RecordMalformed records discarded source candles.
func RecordMalformed(symbol, timeframe string, n int) {
	DefaultMetrics.MalformedSkipped.WithLabelValues(symbol, timeframe).Add(float64(n))
}

// RecordReconcile records the outcome of one reconcile pass.
func RecordReconcile(symbol, timeframe string, gapsDetected, gapsUnresolved int, seconds float64) {
	DefaultMetrics.GapsDetected.WithLabelValues(symbol, timeframe).Add(float64(gapsDetected))
	DefaultMetrics.GapsUnresolved.WithLabelValues(symbol, timeframe).Set(float64(gapsUnresolved))
	DefaultMetrics.ReconcileLatency.WithLabelValues(symbol, timeframe).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordDataset records dataset build counts.
func RecordDataset(symbol, timeframe string, built, skippedHistory, skippedFuture int) {
	DefaultMetrics.ExamplesBuilt.WithLabelValues(symbol, timeframe).Add(float64(built))
	DefaultMetrics.ExamplesSkipped.WithLabelValues(symbol, timeframe, "history").Add(float64(skippedHistory))
	DefaultMetrics.ExamplesSkipped.WithLabelValues(symbol, timeframe, "future").Add(float64(skippedFuture))
}
