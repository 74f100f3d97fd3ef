package ranking

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/onnwee/casematch/internal/feature"
)

// SumTolerance is the allowed deviation of a weight vector's sum from 1.
const SumTolerance = 1e-6

// ErrConfig marks an invalid weight configuration.
var ErrConfig = errors.New("invalid ranking configuration")

// Weights holds one weight per feature code.
type Weights = feature.Vector

// Preset is a named business use-case with its own weight vector.
type Preset uint8

// Presets. PresetBalanced is the fallback for unknown names.
const (
	PresetBalanced Preset = iota
	PresetFast
	PresetExpert
	PresetEconomic
	PresetB2B
	PresetCorrespondent
	PresetExpertOpinion

	numPresets
)

var presetNames = [numPresets]string{
	"balanced",
	"fast",
	"expert",
	"economic",
	"b2b",
	"correspondent",
	"expert_opinion",
}

// defaultWeights is the built-in catalog, in A S T G Q U R C order.
//
//   - fast over-weights urgency capacity and proximity
//   - expert over-weights qualification and success rate
//   - economic over-weights proximity and capacity
//   - correspondent is almost entirely about being nearby and available
//   - expert_opinion ignores location and capacity
var defaultWeights = [numPresets]Weights{
	PresetBalanced:      {0.20, 0.15, 0.15, 0.10, 0.10, 0.10, 0.10, 0.10},
	PresetFast:          {0.10, 0.05, 0.10, 0.25, 0.05, 0.30, 0.10, 0.05},
	PresetExpert:        {0.20, 0.15, 0.25, 0.02, 0.25, 0.03, 0.07, 0.03},
	PresetEconomic:      {0.15, 0.10, 0.10, 0.25, 0.05, 0.20, 0.10, 0.05},
	PresetB2B:           {0.20, 0.15, 0.20, 0.05, 0.15, 0.10, 0.10, 0.05},
	PresetCorrespondent: {0.15, 0.05, 0.10, 0.35, 0.05, 0.20, 0.05, 0.05},
	PresetExpertOpinion: {0.25, 0.20, 0.10, 0.00, 0.35, 0.00, 0.05, 0.05},
}

// Presets returns every preset in catalog order.
func Presets() []Preset {
	out := make([]Preset, numPresets)
	for i := range out {
		out[i] = Preset(i)
	}
	return out
}

// String returns the preset name.
func (p Preset) String() string {
	if p >= numPresets {
		return fmt.Sprintf("Preset(%d)", uint8(p))
	}
	return presetNames[p]
}

// ParsePreset resolves a preset name, ignoring case and surrounding space.
func ParsePreset(name string) (Preset, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range presetNames {
		if n == name {
			return Preset(i), true
		}
	}
	return PresetBalanced, false
}

// MarshalText implements encoding.TextMarshaler.
func (p Preset) MarshalText() ([]byte, error) {
	if p >= numPresets {
		return nil, fmt.Errorf("%w: unknown preset %d", ErrConfig, uint8(p))
	}
	return []byte(presetNames[p]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names are an
// error here; request handling uses Catalog.WeightsFor, which falls back.
func (p *Preset) UnmarshalText(text []byte) error {
	preset, ok := ParsePreset(string(text))
	if !ok {
		return fmt.Errorf("%w: unknown preset %q", ErrConfig, text)
	}
	*p = preset
	return nil
}

// ValidateWeights checks that every weight is in [0, 1] and that they sum to
// 1 within SumTolerance.
func ValidateWeights(w Weights) error {
	for i, x := range w {
		if math.IsNaN(x) || x < 0 || x > 1 {
			return fmt.Errorf("%w: weight %s=%v out of range", ErrConfig, feature.Code(i), x)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > SumTolerance {
		return fmt.Errorf("%w: weights sum to %.6f, want 1", ErrConfig, sum)
	}
	return nil
}

// Catalog maps every preset to a validated weight vector, optionally with a
// separate calibration per model variant. It is immutable after construction
// and safe for concurrent use.
type Catalog struct {
	weights [numPresets]Weights
	models  map[string]*Catalog
	logger  *slog.Logger
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{weights: defaultWeights, logger: slog.Default()}
}

// NewCatalog builds a catalog from the defaults with overrides applied.
// Every resulting vector is validated.
func NewCatalog(overrides map[Preset]Weights, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return (&Catalog{weights: defaultWeights, logger: logger}).derive(overrides)
}

// derive returns a model-less catalog with overrides applied over c's presets.
func (c *Catalog) derive(overrides map[Preset]Weights) (*Catalog, error) {
	out := &Catalog{weights: c.weights, logger: c.logger}
	for p, w := range overrides {
		if p >= numPresets {
			return nil, fmt.Errorf("%w: unknown preset %d", ErrConfig, uint8(p))
		}
		out.weights[p] = w
	}
	for i, w := range out.weights {
		if err := ValidateWeights(w); err != nil {
			return nil, fmt.Errorf("preset %s: %w", Preset(i), err)
		}
	}
	return out, nil
}

// WithModel returns a copy of c in which requests served by model use
// overrides layered over c's presets. c is not modified.
func (c *Catalog) WithModel(model string, overrides map[Preset]Weights) (*Catalog, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: empty model name", ErrConfig)
	}
	m, err := c.derive(overrides)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", model, err)
	}
	out := &Catalog{weights: c.weights, logger: c.logger, models: maps.Clone(c.models)}
	if out.models == nil {
		out.models = make(map[string]*Catalog, 1)
	}
	out.models[model] = m
	return out, nil
}

// ForModel returns the catalog for model, or c when the model has no
// calibration of its own.
func (c *Catalog) ForModel(model string) *Catalog {
	if m, ok := c.models[model]; ok {
		return m
	}
	return c
}

// Models returns the names of the separately calibrated models, sorted.
func (c *Catalog) Models() []string {
	return slices.Sorted(maps.Keys(c.models))
}

// Weights returns the weight vector for p.
func (c *Catalog) Weights(p Preset) Weights {
	if p >= numPresets {
		p = PresetBalanced
	}
	return c.weights[p]
}

// WeightsFor resolves a preset name. An unknown name falls back to
// PresetBalanced with a warning; it never fails the request.
// An empty name selects PresetBalanced silently.
func (c *Catalog) WeightsFor(name string) (Preset, Weights) {
	p, w, _ := c.resolve(name)
	return p, w
}

func (c *Catalog) resolve(name string) (Preset, Weights, bool) {
	if strings.TrimSpace(name) == "" {
		return PresetBalanced, c.weights[PresetBalanced], true
	}
	p, ok := ParsePreset(name)
	if !ok {
		c.logger.Warn("unknown ranking preset, using balanced", "preset", name)
	}
	return p, c.weights[p], ok
}
