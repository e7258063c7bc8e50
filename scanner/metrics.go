package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of a scan
type Metrics struct {
	// Gauges (current values)
	InFlightFetches prometheus.Gauge
	Progress        prometheus.Gauge
	LastBlock       prometheus.Gauge

	// Counters (cumulative values)
	BlocksScannedTotal prometheus.Counter
	BlocksFailedTotal  prometheus.Counter
	MatchesTotal       prometheus.Counter
	DecodeErrorsTotal  prometheus.Counter
	BatchesTotal       prometheus.Counter

	// Histograms (distributions)
	FetchDuration *prometheus.HistogramVec
	BatchDuration prometheus.Histogram
}

// NewMetrics creates the scan metrics and registers them with reg.
// A nil reg creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	if namespace == "" {
		namespace = "selector_scan"
	}
	if subsystem == "" {
		subsystem = "scanner"
	}

	factory := promauto.With(reg)

	return &Metrics{
		// Gauges
		InFlightFetches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "inflight_fetches",
			Help:      "Current number of block fetches in flight",
		}),
		Progress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "progress_ratio",
			Help:      "Share of the requested blocks processed so far (0..1)",
		}),
		LastBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_block",
			Help:      "Highest block number of the last committed batch",
		}),

		// Counters
		BlocksScannedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "blocks_scanned_total",
			Help:      "Total number of blocks fetched and filtered",
		}),
		BlocksFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "blocks_failed_total",
			Help:      "Total number of blocks that could not be fetched",
		}),
		MatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "matches_total",
			Help:      "Total number of transactions matching the target",
		}),
		DecodeErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decode_errors_total",
			Help:      "Total number of transactions skipped because they could not be decoded",
		}),
		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_total",
			Help:      "Total number of committed batches",
		}),

		// Histograms
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetch_duration_seconds",
			Help:      "Block fetch duration in seconds, including retries",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}, // 10ms to 30s
		}, []string{"result"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_duration_seconds",
			Help:      "Wall time to fetch and commit one batch in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
	}
}
