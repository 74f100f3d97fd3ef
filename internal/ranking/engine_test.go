package ranking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/onnwee/casematch/internal/equity"
	"github.com/onnwee/casematch/internal/feature"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeComputer struct {
	vectors  map[string]feature.Vector
	failures map[string]error
	block    bool
	active   atomic.Int32
	peak     atomic.Int32
}

func (f *fakeComputer) Compute(ctx context.Context, _ *feature.Case, l *feature.Lawyer) (feature.Vector, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.block {
		<-ctx.Done()
		return feature.Vector{}, ctx.Err()
	}
	time.Sleep(time.Millisecond)
	if err := f.failures[l.ID]; err != nil {
		return feature.Vector{}, err
	}
	return f.vectors[l.ID], nil
}

type recordingObserver struct {
	mu    sync.Mutex
	model string
	count int
}

func (o *recordingObserver) Observe(model string, _ feature.Vector, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.model = model
	o.count++
}

func getCounterVecValue(vec *prometheus.CounterVec, labels ...string) float64 {
	var m dto.Metric
	if err := vec.WithLabelValues(labels...).Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func regressionRequest(preset string) Request {
	return Request{
		Case: &feature.Case{ID: "case-1", Area: "trabalhista", UrgencyHours: 24},
		Candidates: []*feature.Lawyer{
			{ID: "lawyer-a"},
			{ID: "lawyer-b"},
		},
		Preset: preset,
		TopN:   5,
	}
}

func regressionComputer() *fakeComputer {
	return &fakeComputer{vectors: map[string]feature.Vector{
		"lawyer-a": regressionLawyerA,
		"lawyer-b": regressionLawyerB,
	}}
}

func TestEngine_PresetChangesWinner(t *testing.T) {
	engine := NewEngine(EngineConfig{Features: regressionComputer(), Logger: newTestLogger()})

	tests := []struct {
		preset string
		want   string
	}{
		{"fast", "lawyer-b"},
		{"expert", "lawyer-a"},
	}
	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			resp, err := engine.Rank(context.Background(), regressionRequest(tt.preset))
			if err != nil {
				t.Fatalf("Rank() error = %v", err)
			}
			if resp.Results[0].LawyerID != tt.want {
				t.Errorf("winner = %s, want %s", resp.Results[0].LawyerID, tt.want)
			}
			if resp.Requested != 2 || resp.Evaluated != 2 || resp.Failed != 0 {
				t.Errorf("counts = %d/%d/%d", resp.Requested, resp.Evaluated, resp.Failed)
			}
		})
	}
}

func TestEngine_InvalidCase(t *testing.T) {
	engine := NewEngine(EngineConfig{Features: regressionComputer(), Logger: newTestLogger()})

	for _, c := range []*feature.Case{nil, {ID: " "}} {
		req := regressionRequest("fast")
		req.Case = c
		_, err := engine.Rank(context.Background(), req)
		if !errors.Is(err, feature.ErrInvalidInput) {
			t.Errorf("Rank(%v) error = %v, want ErrInvalidInput", c, err)
		}
	}
}

func TestEngine_FailedCandidatesAreExcluded(t *testing.T) {
	computer := regressionComputer()
	computer.failures = map[string]error{"lawyer-a": errors.New("corrupt history")}
	metrics := NewMetrics()
	engine := NewEngine(EngineConfig{Features: computer, Logger: newTestLogger(), Metrics: metrics})

	req := regressionRequest("expert")
	req.Candidates = append(req.Candidates, nil, &feature.Lawyer{ID: ""})

	resp, err := engine.Rank(context.Background(), req)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if resp.Requested != 4 || resp.Evaluated != 1 || resp.Failed != 3 {
		t.Errorf("counts = requested %d evaluated %d failed %d; want 4/1/3",
			resp.Requested, resp.Evaluated, resp.Failed)
	}
	if len(resp.Results) != 1 || resp.Results[0].LawyerID != "lawyer-b" {
		t.Errorf("results = %+v", resp.Results)
	}
	if got := getCounterVecValue(metrics.candidates, CandidateFailed); got != 3 {
		t.Errorf("failed candidates metric = %v, want 3", got)
	}
}

func TestEngine_UnknownPresetFallsBack(t *testing.T) {
	metrics := NewMetrics()
	engine := NewEngine(EngineConfig{Features: regressionComputer(), Logger: newTestLogger(), Metrics: metrics})

	resp, err := engine.Rank(context.Background(), regressionRequest("cheapest"))
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if resp.Preset != PresetBalanced {
		t.Errorf("preset = %v, want balanced", resp.Preset)
	}
	var m dto.Metric
	_ = metrics.presetFallbacks.Write(&m)
	if m.GetCounter().GetValue() != 1 {
		t.Errorf("fallback counter = %v, want 1", m.GetCounter().GetValue())
	}
}

func TestEngine_EquityAdjustment(t *testing.T) {
	weights := equity.NewMemoryStore()
	_ = weights.Set("lawyer-b", 0.1)

	engine := NewEngine(EngineConfig{
		Features: regressionComputer(),
		Equity:   weights,
		Lambda:   1,
		Logger:   newTestLogger(),
	})

	resp, err := engine.Rank(context.Background(), regressionRequest("fast"))
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	// B's fair score drops to 0.075, below A's unadjusted 0.47.
	if resp.Results[0].LawyerID != "lawyer-a" {
		t.Errorf("winner = %s, want lawyer-a", resp.Results[0].LawyerID)
	}
	for _, r := range resp.Results {
		if r.LawyerID == "lawyer-a" && r.EquityWeight != equity.DefaultWeight {
			t.Errorf("lawyer-a equity = %v, want default", r.EquityWeight)
		}
	}
}

func TestEngine_BoundedConcurrency(t *testing.T) {
	computer := &fakeComputer{vectors: map[string]feature.Vector{}}
	engine := NewEngine(EngineConfig{Features: computer, Workers: 3, Logger: newTestLogger()})

	req := Request{Case: &feature.Case{ID: "case-1"}}
	for i := 0; i < 30; i++ {
		req.Candidates = append(req.Candidates, &feature.Lawyer{ID: string(rune('a' + i))})
	}

	resp, err := engine.Rank(context.Background(), req)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if resp.Evaluated != 30 {
		t.Errorf("evaluated = %d, want 30", resp.Evaluated)
	}
	if len(resp.Results) != DefaultTopN {
		t.Errorf("results = %d, want default top %d", len(resp.Results), DefaultTopN)
	}
	if peak := computer.peak.Load(); peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestEngine_Cancellation(t *testing.T) {
	computer := &fakeComputer{block: true}
	engine := NewEngine(EngineConfig{Features: computer, Logger: newTestLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := engine.Rank(ctx, regressionRequest("fast"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Rank() error = %v, want DeadlineExceeded", err)
	}
}

func TestEngine_ObserverSeesEvaluatedCandidates(t *testing.T) {
	obs := &recordingObserver{}
	engine := NewEngine(EngineConfig{Features: regressionComputer(), Observer: obs, Logger: newTestLogger()})

	req := regressionRequest("fast")
	req.Model = "ranker-v2"
	req.TopN = 1
	resp, err := engine.Rank(context.Background(), req)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if resp.Model != "ranker-v2" {
		t.Errorf("model = %s", resp.Model)
	}
	if obs.count != 2 || obs.model != "ranker-v2" {
		t.Errorf("observer saw %d candidates for %q, want 2 for ranker-v2", obs.count, obs.model)
	}
}

func TestEngine_DefaultModel(t *testing.T) {
	engine := NewEngine(EngineConfig{Features: regressionComputer(), Logger: newTestLogger()})
	resp, err := engine.Rank(context.Background(), regressionRequest("balanced"))
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if resp.Model != DefaultModel {
		t.Errorf("model = %s, want %s", resp.Model, DefaultModel)
	}
}

func TestEngine_ModelCalibrationChangesWinner(t *testing.T) {
	base := DefaultCatalog()
	catalog, err := base.WithModel("ranker-v1", map[Preset]Weights{PresetBalanced: base.Weights(PresetExpert)})
	if err != nil {
		t.Fatalf("WithModel(ranker-v1) error = %v", err)
	}
	catalog, err = catalog.WithModel("ranker-v2", map[Preset]Weights{PresetBalanced: base.Weights(PresetFast)})
	if err != nil {
		t.Fatalf("WithModel(ranker-v2) error = %v", err)
	}
	engine := NewEngine(EngineConfig{Features: regressionComputer(), Catalog: catalog, Logger: newTestLogger()})

	tests := []struct {
		model string
		want  string
	}{
		{"ranker-v1", "lawyer-a"},
		{"ranker-v2", "lawyer-b"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			req := regressionRequest("balanced")
			req.Model = tt.model
			resp, err := engine.Rank(context.Background(), req)
			if err != nil {
				t.Fatalf("Rank() error = %v", err)
			}
			if resp.Results[0].LawyerID != tt.want {
				t.Errorf("winner = %s, want %s", resp.Results[0].LawyerID, tt.want)
			}
			if resp.Model != tt.model || resp.Preset != PresetBalanced {
				t.Errorf("served %s/%s, want %s/balanced", resp.Model, resp.Preset, tt.model)
			}
		})
	}
}
