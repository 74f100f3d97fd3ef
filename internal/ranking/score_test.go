package ranking

import (
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/onnwee/casematch/internal/feature"
)

const epsilon = 1e-9

func TestScore_DeltasSumToRaw(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	catalog := DefaultCatalog()

	for _, p := range Presets() {
		for i := 0; i < 50; i++ {
			var f feature.Vector
			for j := range f {
				f[j] = rng.Float64()
			}
			r := Score("l", f, catalog.Weights(p), rng.Float64(), rng.Float64())
			if math.Abs(r.Deltas.Sum()-r.RawScore) > epsilon {
				t.Fatalf("%s: Σdelta = %v, raw = %v", p, r.Deltas.Sum(), r.RawScore)
			}
			if r.RawScore < 0 || r.RawScore > 1 || r.FairScore < 0 || r.FairScore > 1 {
				t.Fatalf("%s: scores out of range: raw %v fair %v", p, r.RawScore, r.FairScore)
			}
		}
	}
}

func TestScore_EquityAdjustment(t *testing.T) {
	w := DefaultCatalog().Weights(PresetBalanced)
	f := feature.Vector{1, 1, 1, 1, 1, 1, 1, 1}

	tests := []struct {
		name     string
		equity   float64
		lambda   float64
		wantFair float64
	}{
		{"lambda zero ignores equity", 0.2, 0, 1},
		{"full lambda scales by equity", 0.2, 1, 0.2},
		{"half lambda", 0.5, 0.5, 0.75},
		{"equity one is neutral", 1, 0.7, 1},
		{"out of range equity clamps", 3, 1, 1},
		{"out of range lambda clamps", 0, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Score("l", f, w, tt.equity, tt.lambda)
			if math.Abs(r.RawScore-1) > epsilon {
				t.Fatalf("raw = %v, want 1", r.RawScore)
			}
			if math.Abs(r.FairScore-tt.wantFair) > epsilon {
				t.Errorf("fair = %v, want %v", r.FairScore, tt.wantFair)
			}
		})
	}
}

func TestScore_ClampsFeatures(t *testing.T) {
	w := Weights{1, 0, 0, 0, 0, 0, 0, 0}
	r := Score("l", feature.Vector{1.7, -1, math.NaN()}, w, 1, 0)
	if r.RawScore != 1 {
		t.Errorf("raw = %v, want 1", r.RawScore)
	}
	if r.Features[1] != 0 || r.Features[2] != 0 {
		t.Errorf("features not clamped: %v", r.Features)
	}
}

// Lawyer A matches the subarea, has a strong record and is far away.
// Lawyer B is outside the subarea, less qualified and nearby with spare
// capacity.
var (
	regressionLawyerA = feature.Vector{1.0, 0.8, 0.9, 0.0, 0.8, 0.3, 0.8, 0.6}
	regressionLawyerB = feature.Vector{0.6, 0.4, 0.5, 1.0, 0.3, 0.9, 0.6, 0.5}
)

func TestRank_FastVersusExpertRegression(t *testing.T) {
	catalog := DefaultCatalog()

	tests := []struct {
		preset    Preset
		wantFirst string
		wantA     float64
		wantB     float64
	}{
		{PresetFast, "lawyer-b", 0.47, 0.75},
		{PresetExpert, "lawyer-a", 0.828, 0.484},
	}

	for _, tt := range tests {
		t.Run(tt.preset.String(), func(t *testing.T) {
			w := catalog.Weights(tt.preset)
			a := Score("lawyer-a", regressionLawyerA, w, 1, 0)
			b := Score("lawyer-b", regressionLawyerB, w, 1, 0)

			if math.Abs(a.RawScore-tt.wantA) > 1e-9 {
				t.Errorf("lawyer-a raw = %v, want %v", a.RawScore, tt.wantA)
			}
			if math.Abs(b.RawScore-tt.wantB) > 1e-9 {
				t.Errorf("lawyer-b raw = %v, want %v", b.RawScore, tt.wantB)
			}

			ranked := Rank([]MatchResult{a, b}, 10)
			if ranked[0].LawyerID != tt.wantFirst {
				t.Errorf("first = %s, want %s", ranked[0].LawyerID, tt.wantFirst)
			}
		})
	}
}

func TestRank_TieBreaks(t *testing.T) {
	results := []MatchResult{
		{LawyerID: "c", FairScore: 0.5, RawScore: 0.5},
		{LawyerID: "b", FairScore: 0.5, RawScore: 0.6},
		{LawyerID: "a", FairScore: 0.5, RawScore: 0.5},
		{LawyerID: "d", FairScore: 0.9, RawScore: 0.1},
	}

	ranked := Rank(results, 0)
	var got []string
	for _, r := range ranked {
		got = append(got, r.LawyerID)
	}
	want := []string{"d", "b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	for i, r := range ranked {
		if r.Rank != i+1 {
			t.Errorf("%s rank = %d, want %d", r.LawyerID, r.Rank, i+1)
		}
	}
	if results[0].Rank != 0 {
		t.Error("Rank must not modify its input")
	}
}

func TestRank_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	w := DefaultCatalog().Weights(PresetBalanced)

	var results []MatchResult
	for i := 0; i < 200; i++ {
		var f feature.Vector
		for j := range f {
			// Coarse values so ties are common.
			f[j] = float64(rng.Intn(3)) / 2
		}
		results = append(results, Score(fmt.Sprintf("lawyer-%03d", i), f, w, 1, 0))
	}

	first := Rank(results, 50)
	for run := 0; run < 20; run++ {
		shuffled := append([]MatchResult(nil), results...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if got := Rank(shuffled, 50); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: ordering differs", run)
		}
	}
}

func TestRank_TopN(t *testing.T) {
	results := []MatchResult{
		{LawyerID: "a", FairScore: 0.1},
		{LawyerID: "b", FairScore: 0.2},
		{LawyerID: "c", FairScore: 0.3},
	}

	tests := []struct {
		name string
		topN int
		want int
	}{
		{"fewer than candidates", 2, 2},
		{"more than candidates", 10, 3},
		{"zero returns all", 0, 3},
		{"negative returns all", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(Rank(results, tt.topN)); got != tt.want {
				t.Errorf("len = %d, want %d", got, tt.want)
			}
		})
	}

	if got := Rank(nil, 5); len(got) != 0 {
		t.Errorf("Rank(nil) = %v, want empty", got)
	}
}

func TestTopContributors(t *testing.T) {
	w := DefaultCatalog().Weights(PresetFast)
	r := Score("lawyer-b", regressionLawyerB, w, 1, 0)

	top := TopContributors(r, 3)
	if len(top) != 3 {
		t.Fatalf("len = %d, want 3", len(top))
	}
	// U 0.27, G 0.25, then A and R tie at 0.06; A comes first in code order.
	wantCodes := []string{"U", "G", "A"}
	for i, c := range top {
		if c.Code != wantCodes[i] {
			t.Errorf("top[%d] = %s, want %s", i, c.Code, wantCodes[i])
		}
	}
	if top[0].Name != "urgency_capacity" {
		t.Errorf("name = %s", top[0].Name)
	}
	if math.Abs(top[0].Share-0.27/0.75) > 1e-9 {
		t.Errorf("share = %v", top[0].Share)
	}

	zero := Score("z", feature.Vector{}, w, 1, 0)
	if got := TopContributors(zero, 3); len(got) != 0 {
		t.Errorf("zero score contributors = %v, want none", got)
	}
}
