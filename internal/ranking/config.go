package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/onnwee/casematch/internal/feature"
)

// CalibrationConfig is the JSON structure of the calibration file.
//
//	{
//	  "version": "2026-03",
//	  "presets": {
//	    "fast": {"A": 0.1, "S": 0.05, "T": 0.1, "G": 0.3, "Q": 0.05, "U": 0.25, "R": 0.1, "C": 0.05}
//	  },
//	  "models": {
//	    "ranker-v2": {
//	      "balanced": {"A": 0.25, "S": 0.15, "T": 0.2, "G": 0.05, "Q": 0.1, "U": 0.1, "R": 0.1, "C": 0.05}
//	    }
//	  }
//	}
//
// Models holds per-variant preset overrides, layered over the top-level
// presets, for the algorithm variants compared by A/B tests.
type CalibrationConfig struct {
	Version string                        `json:"version"`
	Presets map[string]Weights            `json:"presets"`
	Models  map[string]map[string]Weights `json:"models,omitempty"`
}

// LoadCalibration loads preset weight overrides from a JSON calibration file.
// Presets absent from the file keep their built-in weights; a preset listed
// in the file replaces its whole vector.
//
// An empty path returns the default catalog. If the file can't be read or
// parsed, the default catalog is returned together with the error so callers
// can degrade gracefully. Overrides that name an unknown preset or break the
// sum-to-one invariant return a nil catalog and an error wrapping ErrConfig.
func LoadCalibration(filePath string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := &Catalog{weights: defaultWeights, logger: logger}
	if filePath == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		logger.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return defaults, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		logger.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return defaults, fmt.Errorf("failed to parse calibration file: %w", err)
	}

	overrides, err := parseOverrides(config.Presets)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalog(overrides, logger)
	if err != nil {
		return nil, err
	}
	logCalibrationOverrides(logger, config.Version, defaults, catalog)

	for model, raw := range config.Models {
		overrides, err := parseOverrides(raw)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", model, err)
		}
		if catalog, err = catalog.WithModel(model, overrides); err != nil {
			return nil, err
		}
	}
	if models := catalog.Models(); len(models) > 0 {
		logger.Info("loaded model calibrations", "version", config.Version, "models", models)
	}
	return catalog, nil
}

func parseOverrides(raw map[string]Weights) (map[Preset]Weights, error) {
	overrides := make(map[Preset]Weights, len(raw))
	for name, w := range raw {
		p, ok := ParsePreset(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown preset %q in calibration", ErrConfig, name)
		}
		overrides[p] = w
	}
	return overrides, nil
}

// logCalibrationOverrides logs which weights differ from the defaults.
func logCalibrationOverrides(logger *slog.Logger, version string, defaults, loaded *Catalog) {
	var overrides []string
	for _, p := range Presets() {
		before, after := defaults.Weights(p), loaded.Weights(p)
		for i := range before {
			if before[i] != after[i] {
				overrides = append(overrides, fmt.Sprintf("%s.%s: %.2f -> %.2f",
					p, feature.Code(i), before[i], after[i]))
			}
		}
	}

	if len(overrides) > 0 {
		logger.Info("loaded ranking calibration with overrides",
			"version", version,
			"overrides", overrides)
	} else {
		logger.Info("loaded ranking calibration (using all defaults)", "version", version)
	}
}
