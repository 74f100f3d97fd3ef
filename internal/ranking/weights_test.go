package ranking

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/onnwee/casematch/internal/feature"
)

func TestDefaultWeights_SumToOne(t *testing.T) {
	catalog := DefaultCatalog()
	for _, p := range Presets() {
		t.Run(p.String(), func(t *testing.T) {
			w := catalog.Weights(p)
			if math.Abs(w.Sum()-1) > SumTolerance {
				t.Errorf("weights sum to %v, want 1", w.Sum())
			}
			if err := ValidateWeights(w); err != nil {
				t.Errorf("ValidateWeights() = %v", err)
			}
		})
	}
}

func TestPresetEmphasis(t *testing.T) {
	catalog := DefaultCatalog()
	fast := catalog.Weights(PresetFast)
	expert := catalog.Weights(PresetExpert)

	if fast.Get(feature.CodeUrgency)+fast.Get(feature.CodeGeo) <= expert.Get(feature.CodeUrgency)+expert.Get(feature.CodeGeo) {
		t.Error("fast should weigh urgency and geo above expert")
	}
	if expert.Get(feature.CodeQualification)+expert.Get(feature.CodeSuccess) <= fast.Get(feature.CodeQualification)+fast.Get(feature.CodeSuccess) {
		t.Error("expert should weigh qualification and success above fast")
	}
}

func TestParsePreset(t *testing.T) {
	tests := []struct {
		input  string
		want   Preset
		wantOK bool
	}{
		{"fast", PresetFast, true},
		{"  Expert ", PresetExpert, true},
		{"expert_opinion", PresetExpertOpinion, true},
		{"B2B", PresetB2B, true},
		{"cheapest", PresetBalanced, false},
		{"", PresetBalanced, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParsePreset(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParsePreset(%q) = %v, %v; want %v, %v", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPreset_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		P Preset `json:"p"`
	}{PresetCorrespondent})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"p":"correspondent"}` {
		t.Errorf("Marshal() = %s", data)
	}

	var out struct {
		P Preset `json:"p"`
	}
	if err := json.Unmarshal([]byte(`{"p":"economic"}`), &out); err != nil || out.P != PresetEconomic {
		t.Errorf("Unmarshal() = %v, %v", out.P, err)
	}
	if err := json.Unmarshal([]byte(`{"p":"nope"}`), &out); !errors.Is(err, ErrConfig) {
		t.Errorf("Unmarshal(unknown) error = %v, want ErrConfig", err)
	}
}

func TestCatalog_WeightsFor(t *testing.T) {
	catalog := DefaultCatalog()

	p, w := catalog.WeightsFor("fast")
	if p != PresetFast || w != catalog.Weights(PresetFast) {
		t.Errorf("WeightsFor(fast) = %v", p)
	}

	p, w = catalog.WeightsFor("does-not-exist")
	if p != PresetBalanced || w != catalog.Weights(PresetBalanced) {
		t.Errorf("WeightsFor(unknown) = %v, want balanced", p)
	}

	p, _ = catalog.WeightsFor("")
	if p != PresetBalanced {
		t.Errorf("WeightsFor(\"\") = %v, want balanced", p)
	}
}

func TestValidateWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"uniform", Weights{0.125, 0.125, 0.125, 0.125, 0.125, 0.125, 0.125, 0.125}, false},
		{"all on one", Weights{1, 0, 0, 0, 0, 0, 0, 0}, false},
		{"within tolerance", Weights{0.5, 0.5 + 5e-7, 0, 0, 0, 0, 0, 0}, false},
		{"sum too low", Weights{0.5, 0.4, 0, 0, 0, 0, 0, 0}, true},
		{"sum too high", Weights{0.5, 0.6, 0, 0, 0, 0, 0, 0}, true},
		{"negative", Weights{1.2, -0.2, 0, 0, 0, 0, 0, 0}, true},
		{"nan", Weights{math.NaN(), 1, 0, 0, 0, 0, 0, 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWeights(tt.weights)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWeights() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestNewCatalog(t *testing.T) {
	override := Weights{0.1, 0.1, 0.1, 0.3, 0.1, 0.2, 0.05, 0.05}
	catalog, err := NewCatalog(map[Preset]Weights{PresetFast: override}, nil)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	if catalog.Weights(PresetFast) != override {
		t.Error("override not applied")
	}
	if catalog.Weights(PresetExpert) != DefaultCatalog().Weights(PresetExpert) {
		t.Error("untouched preset should keep defaults")
	}

	_, err = NewCatalog(map[Preset]Weights{PresetExpert: {0.5}}, nil)
	if !errors.Is(err, ErrConfig) {
		t.Errorf("NewCatalog(bad sum) error = %v, want ErrConfig", err)
	}
}

func TestCatalog_WithModel(t *testing.T) {
	base := DefaultCatalog()
	fast := base.Weights(PresetFast)

	catalog, err := base.WithModel("ranker-v2", map[Preset]Weights{PresetBalanced: fast})
	if err != nil {
		t.Fatalf("WithModel() error = %v", err)
	}
	if got := catalog.ForModel("ranker-v2").Weights(PresetBalanced); got != fast {
		t.Errorf("ranker-v2 balanced = %v, want %v", got, fast)
	}
	if got := catalog.ForModel("ranker-v2").Weights(PresetExpert); got != base.Weights(PresetExpert) {
		t.Error("ranker-v2 should inherit presets it does not override")
	}
	if catalog.ForModel("ranker-v1") != catalog {
		t.Error("an uncalibrated model should use the base catalog")
	}
	if base.ForModel("ranker-v2") != base {
		t.Error("WithModel must not modify the receiver")
	}
	if got := catalog.Models(); len(got) != 1 || got[0] != "ranker-v2" {
		t.Errorf("Models() = %v, want [ranker-v2]", got)
	}

	if _, err := base.WithModel("", nil); !errors.Is(err, ErrConfig) {
		t.Errorf("empty model error = %v, want ErrConfig", err)
	}
	if _, err := base.WithModel("ranker-v3", map[Preset]Weights{PresetFast: {1, 1}}); !errors.Is(err, ErrConfig) {
		t.Errorf("invalid weights error = %v, want ErrConfig", err)
	}
}
