package enrichment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricCacheTotal     = "enrichment_cache_total"
	MetricUpstreamErrors = "enrichment_upstream_errors_total"
	MetricFetchDuration  = "enrichment_fetch_duration_seconds"
	MetricStoreErrors    = "enrichment_store_errors_total"
)

// Cache result labels.
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultShared = "shared"
)

// Metrics contains Prometheus metrics for enrichment lookups.
// All operations are thread-safe.
type Metrics struct {
	cacheTotal     *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	storeErrors    prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		cacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheTotal,
				Help: "Total enrichment cache lookups by result (hit, miss, shared)",
			},
			[]string{"result"},
		),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricUpstreamErrors,
				Help: "Total failed enrichment upstream calls by reason",
			},
			[]string{"reason"},
		),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricFetchDuration,
			Help:    "Histogram of enrichment upstream fetch duration in seconds, retries included",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStoreErrors,
			Help: "Total enrichment cache store read/write errors",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cacheTotal,
		m.upstreamErrors,
		m.fetchDuration,
		m.storeErrors,
	}
}

func (m *Metrics) incCache(result string) {
	if m != nil {
		m.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) incUpstreamError(reason string) {
	if m != nil {
		m.upstreamErrors.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) observeFetch(seconds float64) {
	if m != nil {
		m.fetchDuration.Observe(seconds)
	}
}

func (m *Metrics) incStoreError() {
	if m != nil {
		m.storeErrors.Inc()
	}
}
