package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRankRequests     = "ranking_requests_total"
	MetricCandidates       = "ranking_candidates_total"
	MetricRankDuration     = "ranking_duration_seconds"
	MetricPresetFallbacks  = "ranking_preset_fallbacks_total"
	MetricFairScore        = "ranking_fair_score"
	CandidateEvaluated     = "evaluated"
	CandidateFailed        = "failed"
	RequestOutcomeOK       = "ok"
	RequestOutcomeInvalid  = "invalid"
	RequestOutcomeCanceled = "canceled"
)

// Metrics contains Prometheus metrics for ranking requests.
// All operations are thread-safe.
type Metrics struct {
	requests        *prometheus.CounterVec
	candidates      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	presetFallbacks prometheus.Counter
	fairScore       *prometheus.HistogramVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankRequests,
				Help: "Total ranking requests by preset and outcome",
			},
			[]string{"preset", "outcome"},
		),
		candidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCandidates,
				Help: "Total candidates processed by outcome (evaluated, failed)",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRankDuration,
				Help:    "Histogram of ranking request duration in seconds, enrichment included",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"preset"},
		),
		presetFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPresetFallbacks,
			Help: "Total requests that named an unknown preset and fell back to balanced",
		}),
		fairScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricFairScore,
				Help:    "Distribution of fair scores of returned candidates",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"preset"},
		),
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
		m.requests,
		m.candidates,
		m.duration,
		m.presetFallbacks,
		m.fairScore,
	}
}

func (m *Metrics) observeRequest(preset, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(preset, outcome).Inc()
	if outcome == RequestOutcomeOK {
		m.duration.WithLabelValues(preset).Observe(seconds)
	}
}

func (m *Metrics) addCandidates(evaluated, failed int) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(CandidateEvaluated).Add(float64(evaluated))
	m.candidates.WithLabelValues(CandidateFailed).Add(float64(failed))
}

func (m *Metrics) incPresetFallback() {
	if m != nil {
		m.presetFallbacks.Inc()
	}
}

func (m *Metrics) observeFairScores(preset string, results []MatchResult) {
	if m == nil {
		return
	}
	h := m.fairScore.WithLabelValues(preset)
	for _, r := range results {
		h.Observe(r.FairScore)
	}
}
