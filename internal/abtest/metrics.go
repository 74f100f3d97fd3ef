package abtest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricExposures     = "abtest_exposures_total"
	MetricConversions   = "abtest_conversions_total"
	MetricEventsDropped = "abtest_events_dropped_total"
	MetricFlushErrors   = "abtest_flush_errors_total"
	MetricTransitions   = "abtest_status_transitions_total"
	MetricLift          = "abtest_lift_percent"
	MetricPValue        = "abtest_p_value"
)

// Metrics contains Prometheus metrics for A/B tests.
// All operations are thread-safe.
type Metrics struct {
	exposures     *prometheus.CounterVec
	conversions   *prometheus.CounterVec
	eventsDropped prometheus.Counter
	flushErrors   prometheus.Counter
	transitions   *prometheus.CounterVec
	lift          *prometheus.GaugeVec
	pValue        *prometheus.GaugeVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		exposures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricExposures,
				Help: "Total exposures recorded by test and group",
			},
			[]string{"test_id", "group"},
		),
		conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricConversions,
				Help: "Total conversions recorded by test and group",
			},
			[]string{"test_id", "group"},
		),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsDropped,
			Help: "Total exposure/conversion events dropped because the buffer was full",
		}),
		flushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFlushErrors,
			Help: "Total failed count flushes to the registry",
		}),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTransitions,
				Help: "Total test status transitions by target status",
			},
			[]string{"to"},
		),
		lift: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricLift,
				Help: "Latest analyzed lift of the treatment over control, in percent",
			},
			[]string{"test_id"},
		),
		pValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricPValue,
				Help: "Latest analyzed two-tailed p-value",
			},
			[]string{"test_id"},
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
		m.exposures,
		m.conversions,
		m.eventsDropped,
		m.flushErrors,
		m.transitions,
		m.lift,
		m.pValue,
	}
}

func (m *Metrics) observeEvent(ev Event) {
	if m == nil {
		return
	}
	switch ev.Kind {
	case KindExposure:
		m.exposures.WithLabelValues(ev.TestID, string(ev.Group)).Inc()
	case KindConversion:
		m.conversions.WithLabelValues(ev.TestID, string(ev.Group)).Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.eventsDropped.Inc()
	}
}

func (m *Metrics) incFlushError() {
	if m != nil {
		m.flushErrors.Inc()
	}
}

func (m *Metrics) incTransition(to Status) {
	if m != nil {
		m.transitions.WithLabelValues(string(to)).Inc()
	}
}

func (m *Metrics) observeResult(r Result) {
	if m == nil {
		return
	}
	m.lift.WithLabelValues(r.TestID).Set(r.Lift)
	m.pValue.WithLabelValues(r.TestID).Set(r.PValue)
}
