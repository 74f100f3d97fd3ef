package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/onnwee/casematch/internal/alert"
	"github.com/onnwee/casematch/internal/feature"
	"github.com/onnwee/casematch/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// Monitor defaults.
const (
	DefaultWindow               = time.Hour
	DefaultThreshold            = 0.3
	DefaultRetrainThreshold     = 0.5
	DefaultAnomalySigmas        = 2.0
	DefaultAnomalyRateThreshold = 0.05
	DefaultMinSamples           = 30
)

// ErrUnknownModel is returned when no samples were ever recorded for a model.
var ErrUnknownModel = errors.New("no samples recorded for model")

// Report is the outcome of one drift check. A newer report supersedes the
// previous one for the same model.
type Report struct {
	Model                string             `json:"model"`
	WindowSeconds        float64            `json:"window_seconds"`
	BaselineSamples      int                `json:"baseline_samples"`
	CurrentSamples       int                `json:"current_samples"`
	FeatureDivergence    map[string]float64 `json:"feature_divergence"`
	PredictionDivergence float64            `json:"prediction_divergence"`
	OverallScore         float64            `json:"overall_score"`
	DriftDetected        bool               `json:"drift_detected"`
	AnomalyRate          float64            `json:"anomaly_rate"`
	AnomalyDetected      bool               `json:"anomaly_detected"`
	InsufficientData     bool               `json:"insufficient_data"`
	Recommendations      []string           `json:"recommendations"`
	GeneratedAt          time.Time          `json:"generated_at"`
}

// Archiver persists reports outside the process.
type Archiver interface {
	Archive(ctx context.Context, r Report) error
}

// MonitorConfig configures a Monitor. Zero values take the defaults.
type MonitorConfig struct {
	Store                *Store
	Bins                 int
	Threshold            float64
	RetrainThreshold     float64
	AnomalySigmas        float64
	AnomalyRateThreshold float64
	MinSamples           int
	// Alerts receives data_drift and prediction_anomaly alerts. Optional.
	Alerts alert.Sink
	// Archiver stores every complete report. Optional.
	Archiver Archiver
	Logger   *slog.Logger
	Metrics  *Metrics
	Now      func() time.Time
}

// Monitor detects drift between the recent window of samples and the
// baseline for a model.
type Monitor struct {
	cfg MonitorConfig

	mu     sync.RWMutex
	latest map[string]Report
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Store == nil {
		cfg.Store = NewStore(0)
	}
	if cfg.Bins <= 0 {
		cfg.Bins = DefaultBins
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.RetrainThreshold <= 0 {
		cfg.RetrainThreshold = DefaultRetrainThreshold
	}
	if cfg.AnomalySigmas <= 0 {
		cfg.AnomalySigmas = DefaultAnomalySigmas
	}
	if cfg.AnomalyRateThreshold <= 0 {
		cfg.AnomalyRateThreshold = DefaultAnomalyRateThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{cfg: cfg, latest: make(map[string]Report)}
}

// Store returns the sample store the monitor reads from.
func (m *Monitor) Store() *Store { return m.cfg.Store }

// DetectDrift compares the samples of model recorded within the last window
// against its baseline: the pinned baseline if one exists, otherwise all
// older samples.
func (m *Monitor) DetectDrift(ctx context.Context, model string, window time.Duration) (Report, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	ctx, end := tracing.StartSpan(ctx, "drift.detect",
		attribute.String("drift.model", model),
		attribute.Float64("drift.window_seconds", window.Seconds()))
	report, err := m.detect(ctx, model, window)
	end(err)
	return report, err
}

func (m *Monitor) detect(ctx context.Context, model string, window time.Duration) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	samples := m.cfg.Store.Snapshot(model)
	pinned, hasPinned := m.cfg.Store.Baseline(model)
	if len(samples) == 0 && !hasPinned {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}

	now := m.cfg.Now()
	cutoff := now.Add(-window)
	var baseline, current []Sample
	for _, s := range samples {
		if s.At.Before(cutoff) {
			baseline = append(baseline, s)
		} else {
			current = append(current, s)
		}
	}
	if hasPinned {
		baseline = pinned
	}

	report := Report{
		Model:             model,
		WindowSeconds:     window.Seconds(),
		BaselineSamples:   len(baseline),
		CurrentSamples:    len(current),
		FeatureDivergence: make(map[string]float64, feature.NumCodes),
		GeneratedAt:       now.UTC(),
	}

	if len(baseline) < m.cfg.MinSamples || len(current) < m.cfg.MinSamples {
		report.InsufficientData = true
		report.Recommendations = []string{
			fmt.Sprintf("collect more samples: need %d in both windows", m.cfg.MinSamples),
		}
		m.store(report)
		return report, nil
	}

	var sum float64
	for _, c := range feature.Codes() {
		d := Divergence(column(current, c), column(baseline, c), m.cfg.Bins)
		report.FeatureDivergence[c.String()] = d
		sum += d
	}
	report.OverallScore = sum / float64(feature.NumCodes)
	report.DriftDetected = report.OverallScore > m.cfg.Threshold

	curPred, basePred := predictions(current), predictions(baseline)
	report.PredictionDivergence = Divergence(curPred, basePred, m.cfg.Bins)
	mean, std := MeanStd(basePred)
	report.AnomalyRate = AnomalyRate(curPred, mean, std, m.cfg.AnomalySigmas)
	report.AnomalyDetected = report.AnomalyRate > m.cfg.AnomalyRateThreshold

	report.Recommendations = m.recommend(report)

	m.store(report)
	m.cfg.Metrics.observeReport(report)
	m.alert(ctx, report)
	m.archive(ctx, report)

	m.cfg.Logger.InfoContext(ctx, "drift check completed",
		"model", model,
		"overall_score", report.OverallScore,
		"drift_detected", report.DriftDetected,
		"anomaly_rate", report.AnomalyRate,
		"baseline_samples", report.BaselineSamples,
		"current_samples", report.CurrentSamples)

	return report, nil
}

func (m *Monitor) recommend(r Report) []string {
	var recs []string
	if r.OverallScore > m.cfg.RetrainThreshold {
		recs = append(recs, fmt.Sprintf("retrain model: overall divergence %.3f exceeds %.2f", r.OverallScore, m.cfg.RetrainThreshold))
	}
	for _, c := range feature.Codes() {
		if d := r.FeatureDivergence[c.String()]; d > m.cfg.Threshold {
			recs = append(recs, fmt.Sprintf("review feature %s (%s): divergence %.3f", c, c.Name(), d))
		}
	}
	if r.AnomalyDetected {
		recs = append(recs, fmt.Sprintf("investigate predictions: %.1f%% outside %.0f sigma", r.AnomalyRate*100, m.cfg.AnomalySigmas))
	}
	return recs
}

func (m *Monitor) alert(ctx context.Context, r Report) {
	if m.cfg.Alerts == nil {
		return
	}
	var alerts []alert.ModelAlert
	if r.DriftDetected {
		severity := alert.SeverityWarning
		if r.OverallScore > m.cfg.RetrainThreshold {
			severity = alert.SeverityCritical
		}
		metrics := map[string]float64{"overall_score": r.OverallScore}
		for code, d := range r.FeatureDivergence {
			metrics["divergence_"+code] = d
		}
		alerts = append(alerts, alert.New(r.Model, alert.TypeDataDrift, severity,
			fmt.Sprintf("data drift detected for %s: overall divergence %.3f", r.Model, r.OverallScore), metrics))
	}
	if r.AnomalyDetected {
		alerts = append(alerts, alert.New(r.Model, alert.TypePredictionAnomaly, alert.SeverityWarning,
			fmt.Sprintf("prediction anomaly rate %.1f%% for %s", r.AnomalyRate*100, r.Model),
			map[string]float64{"anomaly_rate": r.AnomalyRate, "prediction_divergence": r.PredictionDivergence}))
	}
	for _, a := range alerts {
		if err := m.cfg.Alerts.Emit(ctx, a); err != nil {
			m.cfg.Logger.WarnContext(ctx, "failed to emit drift alert",
				"model", r.Model,
				"type", string(a.Type),
				"error", err)
		}
	}
}

func (m *Monitor) archive(ctx context.Context, r Report) {
	if m.cfg.Archiver == nil {
		return
	}
	if err := m.cfg.Archiver.Archive(ctx, r); err != nil {
		m.cfg.Metrics.incArchiveError()
		m.cfg.Logger.WarnContext(ctx, "failed to archive drift report",
			"model", r.Model,
			"error", err)
	}
}

func (m *Monitor) store(r Report) {
	m.mu.Lock()
	m.latest[r.Model] = r
	m.mu.Unlock()
}

// Latest returns the most recent report for model.
func (m *Monitor) Latest(model string) (Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.latest[model]
	return r, ok
}

// DetectAll runs DetectDrift for every model with samples. Errors for
// individual models are joined.
func (m *Monitor) DetectAll(ctx context.Context, window time.Duration) error {
	models := m.cfg.Store.Models()
	slices.Sort(models)

	var errs []error
	for _, model := range models {
		if _, err := m.DetectDrift(ctx, model, window); err != nil {
			errs = append(errs, fmt.Errorf("detect drift for %s: %w", model, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func column(samples []Sample, c feature.Code) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Features[c]
	}
	return out
}

func predictions(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Prediction
	}
	return out
}
