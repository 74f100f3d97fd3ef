package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/casematch/internal/equity"
	"github.com/onnwee/casematch/internal/feature"
	"github.com/onnwee/casematch/internal/geo"
	"github.com/onnwee/casematch/internal/tracing"
)

// Engine defaults.
const (
	DefaultTopN    = 10
	DefaultWorkers = 8
	DefaultModel   = "default"
)

// FeatureComputer computes the feature vector for a (case, lawyer) pair.
type FeatureComputer interface {
	Compute(ctx context.Context, c *feature.Case, l *feature.Lawyer) (feature.Vector, error)
}

// Observer receives every evaluated candidate, keyed by the model variant
// that served the request. Implementations must not block.
type Observer interface {
	Observe(model string, features feature.Vector, prediction float64)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Features FeatureComputer
	// Catalog supplies the preset weights. Models calibrated in it rank
	// with their own weights; see Catalog.WithModel.
	Catalog *Catalog
	// Equity supplies per-lawyer equity weights. nil uses equity.DefaultWeight.
	Equity equity.Provider
	// Lambda is the equity influence in [0, 1]. 0 disables the adjustment.
	Lambda      float64
	DefaultTopN int
	// Workers bounds concurrent feature computations per request.
	Workers  int
	Observer Observer
	Logger   *slog.Logger
	Metrics  *Metrics
}

// Request is one ranking call.
type Request struct {
	Case       *feature.Case     `json:"case"`
	Candidates []*feature.Lawyer `json:"candidates"`
	Preset     string            `json:"preset"`
	TopN       int               `json:"top_n"`
	// Model is the algorithm variant serving the request, as assigned by the
	// A/B router. Empty means DefaultModel.
	Model string `json:"model,omitempty"`
}

// Response is the ranked result of a Request.
type Response struct {
	Preset    Preset        `json:"preset"`
	Model     string        `json:"model"`
	Results   []MatchResult `json:"results"`
	Requested int           `json:"requested"`
	Evaluated int           `json:"evaluated"`
	Failed    int           `json:"failed"`
}

// Engine ranks candidate lawyers for a case. It is safe for concurrent use.
type Engine struct {
	features FeatureComputer
	catalog  *Catalog
	equity   equity.Provider
	lambda   float64
	topN     int
	workers  int
	observer Observer
	logger   *slog.Logger
	metrics  *Metrics
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.Equity == nil {
		cfg.Equity = equity.Static(equity.DefaultWeight)
	}
	if cfg.DefaultTopN <= 0 {
		cfg.DefaultTopN = DefaultTopN
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		features: cfg.Features,
		catalog:  cfg.Catalog,
		equity:   cfg.Equity,
		lambda:   feature.Clamp01(cfg.Lambda),
		topN:     cfg.DefaultTopN,
		workers:  cfg.Workers,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Rank scores and ranks the candidates of req. The weights come from the
// catalog's calibration for req.Model when it has one.
//
// An invalid case fails the whole request with feature.ErrInvalidInput. A
// candidate whose features cannot be computed is left out of the results and
// counted in Failed. If ctx is cancelled the in-flight computations are
// abandoned and ctx's error is returned.
func (e *Engine) Rank(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	preset, weights, known := e.catalog.ForModel(model).resolve(req.Preset)
	if !known {
		e.metrics.incPresetFallback()
	}

	ctx, endSpan := tracing.StartSpan(ctx, "ranking.rank",
		attribute.String("ranking.preset", preset.String()),
		attribute.String("ranking.model", model),
		attribute.Int("ranking.requested", len(req.Candidates)),
	)
	defer func() { endSpan(err) }()

	if err := req.Case.Validate(); err != nil {
		e.metrics.observeRequest(preset.String(), RequestOutcomeInvalid, 0)
		return nil, err
	}

	topN := req.TopN
	if topN <= 0 {
		topN = e.topN
	}

	scored, failed := e.scoreAll(ctx, req.Case, req.Candidates, weights)
	if ctxErr := ctx.Err(); ctxErr != nil {
		e.metrics.observeRequest(preset.String(), RequestOutcomeCanceled, 0)
		return nil, fmt.Errorf("ranking case %s: %w", req.Case.ID, ctxErr)
	}

	if e.observer != nil {
		for _, r := range scored {
			e.observer.Observe(model, r.Features, r.FairScore)
		}
	}

	ranked := Rank(scored, topN)

	e.metrics.addCandidates(len(scored), failed)
	e.metrics.observeFairScores(preset.String(), ranked)
	e.metrics.observeRequest(preset.String(), RequestOutcomeOK, time.Since(start).Seconds())
	tracing.SetAttributes(ctx,
		attribute.Int("ranking.evaluated", len(scored)),
		attribute.Int("ranking.failed", failed),
	)

	e.logger.InfoContext(ctx, "ranked candidates",
		"case_id", req.Case.ID,
		"area", req.Case.Area,
		"location", geo.Coarse(req.Case.Location),
		"preset", preset.String(),
		"model", model,
		"requested", len(req.Candidates),
		"evaluated", len(scored),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{
		Preset:    preset,
		Model:     model,
		Results:   ranked,
		Requested: len(req.Candidates),
		Evaluated: len(scored),
		Failed:    failed,
	}, nil
}

// scoreAll computes every candidate on a bounded pool. Results keep the
// candidate order; failures are counted, not returned.
func (e *Engine) scoreAll(ctx context.Context, c *feature.Case, candidates []*feature.Lawyer, weights Weights) ([]MatchResult, int) {
	slots := make([]*MatchResult, len(candidates))

	var (
		mu       sync.Mutex
		failures []string
	)
	fail := func(id string) {
		mu.Lock()
		failures = append(failures, id)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, l := range candidates {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			r, err := e.scoreOne(gctx, c, l, weights)
			if err != nil {
				id := ""
				if l != nil {
					id = l.ID
				}
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					e.logger.WarnContext(gctx, "candidate excluded from ranking",
						"case_id", c.ID,
						"lawyer_id", id,
						"error", err)
				}
				fail(id)
				return nil
			}
			slots[i] = &r
			return nil
		})
	}
	// Workers never return errors; the group only bounds concurrency.
	_ = g.Wait()

	out := make([]MatchResult, 0, len(candidates))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	if len(failures) > 0 {
		e.logger.DebugContext(ctx, "candidate failures",
			"case_id", c.ID,
			"lawyer_ids", strings.Join(failures, ","))
	}
	return out, len(candidates) - len(out)
}

func (e *Engine) scoreOne(ctx context.Context, c *feature.Case, l *feature.Lawyer, weights Weights) (MatchResult, error) {
	if err := l.Validate(); err != nil {
		return MatchResult{}, err
	}
	if e.features == nil {
		return MatchResult{}, errors.New("no feature computer configured")
	}
	features, err := e.features.Compute(ctx, c, l)
	if err != nil {
		return MatchResult{}, err
	}

	w, err := e.equity.Weight(ctx, l.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "equity weight unavailable, using default",
			"lawyer_id", l.ID,
			"error", err)
		w = equity.DefaultWeight
	}

	return Score(l.ID, features, weights, w, e.lambda), nil
}
