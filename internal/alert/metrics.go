package alert

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricAlertsEmitted = "model_alerts_total"
	MetricSinkErrors    = "model_alert_sink_errors_total"
)

// Metrics contains Prometheus metrics for alert delivery.
type Metrics struct {
	emitted    *prometheus.CounterVec
	sinkErrors prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
func NewMetrics() *Metrics {
	return &Metrics{
		emitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAlertsEmitted,
				Help: "Total model alerts emitted by type and severity",
			},
			[]string{"type", "severity"},
		),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSinkErrors,
			Help: "Total alert deliveries that failed in a sink",
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
	return []prometheus.Collector{m.emitted, m.sinkErrors}
}

func (m *Metrics) incEmitted(t Type, s Severity) {
	if m != nil {
		m.emitted.WithLabelValues(string(t), string(s)).Inc()
	}
}

func (m *Metrics) incSinkError() {
	if m != nil {
		m.sinkErrors.Inc()
	}
}
