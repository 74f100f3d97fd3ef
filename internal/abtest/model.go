// Package abtest routes traffic between ranking model variants, records
// exposures and conversions, analyzes the outcome with a two-proportion
// Z-test and rolls a degrading treatment back automatically.
package abtest

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Status of an A/B test.
type Status string

// Statuses.
const (
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusRolledBack Status = "rolled_back"
)

// Group is the arm a request is assigned to.
type Group string

// Groups.
const (
	GroupControl   Group = "control"
	GroupTreatment Group = "treatment"
)

// Defaults for a test configuration.
const (
	DefaultSignificanceLevel = 0.05
	DefaultMinSampleSize     = 1000
	DefaultMaxDegradation    = -10.0
	DefaultSuccessMetric     = "conversion"
)

// Errors.
var (
	ErrConfig            = errors.New("invalid a/b test configuration")
	ErrNotFound          = errors.New("a/b test not found")
	ErrInvalidTransition = errors.New("invalid a/b test status transition")
	ErrStatusConflict    = errors.New("a/b test status changed concurrently")
	ErrTestNotRunning    = errors.New("a/b test is not running")
)

// Config describes one A/B test. It changes only through status
// transitions.
type Config struct {
	ID             string `json:"id"`
	ControlModel   string `json:"control_model"`
	TreatmentModel string `json:"treatment_model"`
	// TrafficSplit is the fraction of users sent to treatment (0.0 to 1.0).
	TrafficSplit float64   `json:"traffic_split"`
	StartAt      time.Time `json:"start_at"`
	// EndAt is the end of the validity window. Zero means open-ended.
	EndAt time.Time `json:"end_at,omitempty"`
	// MinSampleSize is the per-group exposure count required before a
	// result is acted on. Zero means DefaultMinSampleSize; use 1 for no
	// minimum.
	MinSampleSize     int64   `json:"min_sample_size"`
	SignificanceLevel float64 `json:"significance_level"`
	SuccessMetric     string  `json:"success_metric"`
	// MaxDegradation is the lift, in percent, below which a significant
	// result triggers rollback. Zero means DefaultMaxDegradation; a small
	// negative value such as -0.01 rolls back on any significant drop.
	MaxDegradation float64   `json:"max_degradation"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WithDefaults fills unset optional fields. Zero is unset for every numeric
// field, so an explicit SignificanceLevel, MinSampleSize or MaxDegradation
// of 0 is replaced by its default.
func (c Config) WithDefaults() Config {
	if c.SignificanceLevel == 0 {
		c.SignificanceLevel = DefaultSignificanceLevel
	}
	if c.MinSampleSize == 0 {
		c.MinSampleSize = DefaultMinSampleSize
	}
	if c.MaxDegradation == 0 {
		c.MaxDegradation = DefaultMaxDegradation
	}
	if c.SuccessMetric == "" {
		c.SuccessMetric = DefaultSuccessMetric
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	return c
}

// Validate checks the configuration. All problems are reported together,
// each wrapping ErrConfig.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...))
	}

	if strings.TrimSpace(c.ID) == "" {
		add("id is required")
	}
	if c.ControlModel == "" || c.TreatmentModel == "" {
		add("control and treatment models are required")
	} else if c.ControlModel == c.TreatmentModel {
		add("control and treatment models must differ")
	}
	if math.IsNaN(c.TrafficSplit) || c.TrafficSplit < 0 || c.TrafficSplit > 1 {
		add("traffic split %v must be between 0 and 1", c.TrafficSplit)
	}
	if !c.EndAt.IsZero() && !c.EndAt.After(c.StartAt) {
		add("end must be after start")
	}
	if c.MinSampleSize < 0 {
		add("min sample size must not be negative")
	}
	if c.SignificanceLevel <= 0 || c.SignificanceLevel >= 1 {
		add("significance level %v must be between 0 and 1", c.SignificanceLevel)
	}
	if c.MaxDegradation > 0 {
		add("max degradation %v must not be positive", c.MaxDegradation)
	}
	switch c.Status {
	case StatusActive, StatusPaused, StatusCompleted, StatusRolledBack:
	default:
		add("unknown status %q", c.Status)
	}
	return errors.Join(errs...)
}

// InWindow reports whether t is inside the validity window.
func (c Config) InWindow(t time.Time) bool {
	if t.Before(c.StartAt) {
		return false
	}
	return c.EndAt.IsZero() || t.Before(c.EndAt)
}

// ModelFor returns the model serving group g.
func (c Config) ModelFor(g Group) string {
	if g == GroupTreatment {
		return c.TreatmentModel
	}
	return c.ControlModel
}

// Counts are the raw exposure and conversion tallies of a test.
type Counts struct {
	ControlExposures     int64 `json:"control_exposures"`
	ControlConversions   int64 `json:"control_conversions"`
	TreatmentExposures   int64 `json:"treatment_exposures"`
	TreatmentConversions int64 `json:"treatment_conversions"`
}

// Add returns the sum of c and d.
func (c Counts) Add(d Counts) Counts {
	return Counts{
		ControlExposures:     c.ControlExposures + d.ControlExposures,
		ControlConversions:   c.ControlConversions + d.ControlConversions,
		TreatmentExposures:   c.TreatmentExposures + d.TreatmentExposures,
		TreatmentConversions: c.TreatmentConversions + d.TreatmentConversions,
	}
}

// IsZero reports whether no events are counted.
func (c Counts) IsZero() bool {
	return c == Counts{}
}

// Recommendation is the analyzer's advice for a test.
type Recommendation string

// Recommendations.
const (
	RecommendContinue         Recommendation = "continue"
	RecommendAdoptTreatment   Recommendation = "adopt_treatment"
	RecommendKeepControl      Recommendation = "keep_control"
	RecommendWeighOther       Recommendation = "weigh_other_factors"
	RecommendInsufficientData Recommendation = "insufficient_data"
)

// Result is the derived outcome of a test, recomputed on demand.
type Result struct {
	TestID string `json:"test_id"`
	Counts
	ControlRate   float64 `json:"control_rate"`
	TreatmentRate float64 `json:"treatment_rate"`
	// Lift is the relative change of the treatment rate, in percent.
	Lift   float64 `json:"lift"`
	ZScore float64 `json:"z_score"`
	PValue float64 `json:"p_value"`
	// CILow and CIHigh bound the difference treatment − control at
	// confidence 1 − significance level.
	CILow            float64        `json:"ci_low"`
	CIHigh           float64        `json:"ci_high"`
	Significant      bool           `json:"significant"`
	SampleSufficient bool           `json:"sample_sufficient"`
	Recommendation   Recommendation `json:"recommendation"`
	ComputedAt       time.Time      `json:"computed_at"`
}
