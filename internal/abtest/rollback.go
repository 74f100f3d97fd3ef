package abtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/casematch/internal/alert"
)

var transitions = map[Status][]Status{
	StatusActive: {StatusPaused, StatusCompleted, StatusRolledBack},
	StatusPaused: {StatusActive, StatusCompleted, StatusRolledBack},
}

// CanTransition reports whether a test may move from one status to another.
// Completed and rolled-back tests are terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Registry Registry
	// Recorder receives conversions. Optional.
	Recorder *Recorder
	// Alerts receives one alert per status transition. Optional.
	Alerts  alert.Sink
	Logger  *slog.Logger
	Metrics *Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager owns the test lifecycle: status transitions, on-demand analysis
// and automatic rollback.
type Manager struct {
	registry Registry
	recorder *Recorder
	alerts   alert.Sink
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		registry: cfg.Registry,
		recorder: cfg.Recorder,
		alerts:   cfg.Alerts,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
}

// Transition moves test id to status to. reason is recorded on the alert.
func (m *Manager) Transition(ctx context.Context, id string, to Status, reason string) (Config, error) {
	cfg, err := m.registry.Get(ctx, id)
	if err != nil {
		return Config{}, err
	}
	return m.transition(ctx, cfg, to, reason, nil)
}

func (m *Manager) transition(ctx context.Context, cfg Config, to Status, reason string, metrics map[string]float64) (Config, error) {
	if !CanTransition(cfg.Status, to) {
		return Config{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cfg.Status, to)
	}
	updated, err := m.registry.UpdateStatus(ctx, cfg.ID, cfg.Status, to)
	if err != nil {
		return Config{}, err
	}
	m.metrics.incTransition(to)

	m.logger.InfoContext(ctx, "a/b test status changed",
		"test_id", cfg.ID,
		"from", string(cfg.Status),
		"to", string(to),
		"reason", reason)

	typ, severity := alert.TypeStatusChange, alert.SeverityInfo
	if to == StatusRolledBack {
		typ, severity = alert.TypePerformanceDegradation, alert.SeverityCritical
	}
	msg := fmt.Sprintf("a/b test %s moved from %s to %s: %s", cfg.ID, cfg.Status, to, reason)
	m.emit(ctx, alert.New(cfg.TreatmentModel, typ, severity, msg, metrics))

	return updated, nil
}

func (m *Manager) emit(ctx context.Context, a alert.ModelAlert) {
	if m.alerts == nil {
		return
	}
	if err := m.alerts.Emit(ctx, a); err != nil {
		m.logger.WarnContext(ctx, "failed to emit a/b test alert",
			"alert_id", a.ID,
			"error", err)
	}
}

// Result analyzes test id from its current counts.
func (m *Manager) Result(ctx context.Context, id string) (Result, error) {
	cfg, err := m.registry.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	counts, err := m.registry.Counts(ctx, id)
	if err != nil {
		return Result{}, err
	}
	res := Analyze(cfg, counts)
	m.metrics.observeResult(res)
	return res, nil
}

// Evaluate analyzes test id and rolls it back if the treatment is
// significantly worse than allowed. It reports whether a rollback happened.
func (m *Manager) Evaluate(ctx context.Context, id string) (Result, bool, error) {
	cfg, err := m.registry.Get(ctx, id)
	if err != nil {
		return Result{}, false, err
	}
	counts, err := m.registry.Counts(ctx, id)
	if err != nil {
		return Result{}, false, err
	}
	res := Analyze(cfg, counts)
	m.metrics.observeResult(res)

	if cfg.Status != StatusActive || !ShouldRollback(cfg, res) {
		return res, false, nil
	}

	reason := fmt.Sprintf("treatment lift %.2f%% below %.2f%% (p=%.4f)", res.Lift, cfg.WithDefaults().MaxDegradation, res.PValue)
	_, err = m.transition(ctx, cfg, StatusRolledBack, reason, map[string]float64{
		"lift":                res.Lift,
		"p_value":             res.PValue,
		"treatment_exposures": float64(res.TreatmentExposures),
		"control_exposures":   float64(res.ControlExposures),
	})
	if errors.Is(err, ErrStatusConflict) {
		// Someone else changed the status first; nothing to roll back.
		return res, false, nil
	}
	if err != nil {
		return res, false, fmt.Errorf("roll back %s: %w", id, err)
	}
	return res, true, nil
}

// EvaluateAll evaluates every active test. Errors for individual tests are
// joined; one failing test does not stop the others.
func (m *Manager) EvaluateAll(ctx context.Context) error {
	tests, err := m.registry.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active tests: %w", err)
	}

	var errs []error
	for _, t := range tests {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, rolledBack, err := m.Evaluate(ctx, t.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("evaluate %s: %w", t.ID, err))
			continue
		}
		m.logger.DebugContext(ctx, "a/b test analyzed",
			"test_id", t.ID,
			"lift", res.Lift,
			"p_value", res.PValue,
			"recommendation", string(res.Recommendation),
			"rolled_back", rolledBack)
	}
	return errors.Join(errs...)
}

// RecordConversion records a conversion for userID in test testID. The
// group is recomputed from the stable hash, so no per-user state is kept.
// Only active or paused tests inside their window accept conversions;
// others return ErrTestNotRunning.
func (m *Manager) RecordConversion(ctx context.Context, testID, userID string) (Group, error) {
	cfg, err := m.registry.Get(ctx, testID)
	if err != nil {
		return "", err
	}
	if cfg.Status != StatusActive && cfg.Status != StatusPaused {
		return "", fmt.Errorf("%w: %s is %s", ErrTestNotRunning, testID, cfg.Status)
	}
	if now := m.now(); !cfg.InWindow(now) {
		return "", fmt.Errorf("%w: %s is outside its window at %s", ErrTestNotRunning, testID, now.UTC().Format(time.RFC3339))
	}
	g := GroupFor(userID, cfg)
	if m.recorder != nil {
		m.recorder.RecordConversion(testID, g)
	}
	return g, nil
}
