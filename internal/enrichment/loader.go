package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/onnwee/casematch/internal/feature"
	"github.com/onnwee/casematch/internal/retry"
	"github.com/onnwee/casematch/internal/tracing"
)

// Default loader timings.
const (
	DefaultTimeout        = 500 * time.Millisecond
	DefaultAttemptTimeout = 200 * time.Millisecond
)

// ErrRateLimited is returned when the upstream budget cannot be acquired
// before the load deadline.
var ErrRateLimited = errors.New("enrichment upstream rate limited")

// Source is the external feature store.
type Source interface {
	Fetch(ctx context.Context, lawyerID string) feature.Enrichment
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, lawyerID string) feature.Enrichment

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context, lawyerID string) feature.Enrichment {
	return f(ctx, lawyerID)
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Timeout bounds how long a ranking call waits for enrichment.
	Timeout time.Duration
	// AttemptTimeout bounds one upstream call.
	AttemptTimeout time.Duration
	// LoadTimeout bounds a shared load, retries included.
	LoadTimeout time.Duration
	CacheTTL    time.Duration
	Retry       retry.Policy
	// RateLimit is the upstream budget in calls per second. 0 disables it.
	RateLimit float64
	Burst     int
	Store     Store
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Loader resolves enrichment through the cache, de-duplicating concurrent
// lookups and retrying failed upstream calls. It implements feature.Enricher.
type Loader struct {
	source         Source
	cache          *Cache
	limiter        *rate.Limiter
	policy         retry.Policy
	timeout        time.Duration
	attemptTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics
	now            func() time.Time
}

// NewLoader creates a Loader for source. A nil Store uses a MemoryStore.
func NewLoader(source Source, cfg LoaderConfig) *Loader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Retry.Validate() != nil {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Loader{
		source:         source,
		cache:          NewCache(cfg.Store, cfg.CacheTTL, cfg.LoadTimeout, cfg.Metrics, cfg.Logger),
		limiter:        limiter,
		policy:         cfg.Retry,
		timeout:        cfg.Timeout,
		attemptTimeout: cfg.AttemptTimeout,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		now:            time.Now,
	}
}

// Enrich implements feature.Enricher. Failures are reported in the Err field
// wrapped with feature.ErrEnrichmentUnavailable.
func (l *Loader) Enrich(ctx context.Context, lawyerID string) feature.Enrichment {
	ctx, endSpan := tracing.StartSpan(ctx, "enrichment.lookup", attribute.String("lawyer.id", lawyerID))

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	entry, err := l.cache.Get(ctx, KeyPrefix+lawyerID, func(ctx context.Context) (Entry, error) {
		return l.load(ctx, lawyerID)
	})
	endSpan(err)
	if err != nil {
		return feature.Enrichment{Err: errors.Join(feature.ErrEnrichmentUnavailable, err)}
	}
	return feature.Enrichment{Data: entry.Profile, Confidence: entry.Confidence}
}

func (l *Loader) load(ctx context.Context, lawyerID string) (Entry, error) {
	start := time.Now()
	defer func() { l.metrics.observeFetch(time.Since(start).Seconds()) }()

	return retry.DoValue(ctx, l.policy, func(ctx context.Context) (Entry, error) {
		if err := l.limiter.Wait(ctx); err != nil {
			l.metrics.incUpstreamError("rate_limited")
			return Entry{}, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return l.attempt(ctx, lawyerID)
	})
}

// attempt runs one upstream call. The call runs in its own goroutine so a
// source that ignores ctx still cannot hold the load past the attempt
// timeout.
func (l *Loader) attempt(ctx context.Context, lawyerID string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, l.attemptTimeout)
	defer cancel()

	done := make(chan feature.Enrichment, 1)
	go func() {
		done <- l.source.Fetch(ctx, lawyerID)
	}()

	select {
	case <-ctx.Done():
		l.metrics.incUpstreamError("timeout")
		l.logger.DebugContext(ctx, "enrichment attempt timed out", "lawyer_id", lawyerID)
		return Entry{}, fmt.Errorf("fetch %s: %w", lawyerID, ctx.Err())
	case res := <-done:
		if res.Err != nil {
			l.metrics.incUpstreamError("error")
			return Entry{}, fmt.Errorf("fetch %s: %w", lawyerID, res.Err)
		}
		return Entry{
			Profile:    res.Data,
			Confidence: feature.Clamp01(res.Confidence),
			FetchedAt:  l.now(),
		}, nil
	}
}
