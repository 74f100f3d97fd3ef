package drift

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricOverallScore      = "drift_overall_score"
	MetricFeatureDivergence = "drift_feature_divergence"
	MetricAnomalyRate       = "drift_prediction_anomaly_rate"
	MetricDetectedTotal     = "drift_detected_total"
	MetricSamplesDropped    = "drift_samples_dropped_total"
	MetricArchiveErrors     = "drift_archive_errors_total"
)

// Metrics contains Prometheus metrics for drift monitoring.
// All operations are thread-safe.
type Metrics struct {
	overall        *prometheus.GaugeVec
	featureDiv     *prometheus.GaugeVec
	anomalyRate    *prometheus.GaugeVec
	detected       *prometheus.CounterVec
	samplesDropped prometheus.Counter
	archiveErrors  prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		overall: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricOverallScore,
				Help: "Latest mean KL divergence across features by model",
			},
			[]string{"model"},
		),
		featureDiv: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricFeatureDivergence,
				Help: "Latest KL divergence per feature by model",
			},
			[]string{"model", "feature"},
		),
		anomalyRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricAnomalyRate,
				Help: "Latest fraction of predictions beyond the anomaly band by model",
			},
			[]string{"model"},
		),
		detected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDetectedTotal,
				Help: "Total drift detections by model and kind",
			},
			[]string{"model", "kind"},
		),
		samplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSamplesDropped,
			Help: "Total samples dropped because the sampler buffer was full",
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricArchiveErrors,
			Help: "Total failed drift report archive uploads",
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
		m.overall,
		m.featureDiv,
		m.anomalyRate,
		m.detected,
		m.samplesDropped,
		m.archiveErrors,
	}
}

func (m *Metrics) observeReport(r Report) {
	if m == nil || r.InsufficientData {
		return
	}
	m.overall.WithLabelValues(r.Model).Set(r.OverallScore)
	for code, d := range r.FeatureDivergence {
		m.featureDiv.WithLabelValues(r.Model, code).Set(d)
	}
	m.anomalyRate.WithLabelValues(r.Model).Set(r.AnomalyRate)
	if r.DriftDetected {
		m.detected.WithLabelValues(r.Model, "data_drift").Inc()
	}
	if r.AnomalyDetected {
		m.detected.WithLabelValues(r.Model, "prediction_anomaly").Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.samplesDropped.Inc()
	}
}

func (m *Metrics) incArchiveError() {
	if m != nil {
		m.archiveErrors.Inc()
	}
}
