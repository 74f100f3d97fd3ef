package enrichment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/onnwee/casematch/internal/feature"
	"github.com/onnwee/casematch/internal/retry"
)

func getCounterVecValue(vec *prometheus.CounterVec, labels ...string) float64 {
	var m dto.Metric
	if err := vec.WithLabelValues(labels...).Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

// fakeSource counts calls and returns a fixed profile. When gate is non-nil
// each call blocks until gate is closed, ignoring ctx.
type fakeSource struct {
	calls    atomic.Int32
	gate     chan struct{}
	failures int32
}

func (s *fakeSource) Fetch(_ context.Context, lawyerID string) feature.Enrichment {
	n := s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if n <= s.failures {
		return feature.Enrichment{Err: errors.New("feature store unavailable")}
	}
	soft := 0.8
	return feature.Enrichment{
		Data:       &feature.Profile{SoftSkill: &soft},
		Confidence: 0.9,
	}
}

func testPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:  attempts,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0,
	}
}

func TestLoader_CachesResult(t *testing.T) {
	src := &fakeSource{}
	metrics := NewMetrics()
	l := NewLoader(src, LoaderConfig{Retry: testPolicy(1), Metrics: metrics})
	ctx := context.Background()

	first := l.Enrich(ctx, "lawyer-1")
	if first.Err != nil {
		t.Fatalf("Enrich() error = %v", first.Err)
	}
	if first.Data == nil || *first.Data.SoftSkill != 0.8 || first.Confidence != 0.9 {
		t.Errorf("Enrich() = %+v", first)
	}

	second := l.Enrich(ctx, "lawyer-1")
	if second.Err != nil || second.Data == nil {
		t.Fatalf("second Enrich() = %+v", second)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
	if got := getCounterVecValue(metrics.cacheTotal, ResultHit); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := getCounterVecValue(metrics.cacheTotal, ResultMiss); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
}

func TestLoader_CachesEmptyResult(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc(func(context.Context, string) feature.Enrichment {
		calls.Add(1)
		return feature.Enrichment{}
	})
	l := NewLoader(src, LoaderConfig{Retry: testPolicy(1)})

	for i := 0; i < 3; i++ {
		res := l.Enrich(context.Background(), "lawyer-unknown")
		if res.Err != nil || res.Data != nil {
			t.Fatalf("Enrich() = %+v, want empty result", res)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestLoader_DeduplicatesConcurrentLookups(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	l := NewLoader(src, LoaderConfig{
		Timeout:        2 * time.Second,
		AttemptTimeout: 2 * time.Second,
		Retry:          testPolicy(1),
	})

	const callers = 20
	var wg sync.WaitGroup
	results := make([]feature.Enrichment, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.Enrich(context.Background(), "lawyer-1")
		}(i)
	}

	// Let the callers pile up on the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	if got := src.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
	for i, res := range results {
		if res.Err != nil || res.Data == nil {
			t.Errorf("caller %d got %+v", i, res)
		}
	}
}

func TestLoader_CancelledCallerDoesNotPoisonCache(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	l := NewLoader(src, LoaderConfig{
		Timeout:        2 * time.Second,
		AttemptTimeout: 2 * time.Second,
		LoadTimeout:    2 * time.Second,
		Retry:          testPolicy(1),
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := l.Enrich(ctx, "lawyer-1")
	if !errors.Is(res.Err, feature.ErrEnrichmentUnavailable) {
		t.Fatalf("cancelled Enrich() err = %v, want ErrEnrichmentUnavailable", res.Err)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("cancelled Enrich() err = %v, want context.Canceled", res.Err)
	}

	close(src.gate)

	res = l.Enrich(context.Background(), "lawyer-1")
	if res.Err != nil || res.Data == nil {
		t.Fatalf("Enrich() after cancel = %+v, want data", res)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestLoader_TimeoutFallsBack(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	t.Cleanup(func() { close(src.gate) })

	metrics := NewMetrics()
	l := NewLoader(src, LoaderConfig{
		Timeout:        30 * time.Millisecond,
		AttemptTimeout: 10 * time.Millisecond,
		Retry:          testPolicy(1),
		Metrics:        metrics,
	})

	start := time.Now()
	res := l.Enrich(context.Background(), "lawyer-slow")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Enrich() took %v, want bounded by timeout", elapsed)
	}
	if !errors.Is(res.Err, feature.ErrEnrichmentUnavailable) {
		t.Fatalf("Enrich() err = %v, want ErrEnrichmentUnavailable", res.Err)
	}
	if res.Data != nil {
		t.Error("expected no data on timeout")
	}
}

func TestLoader_RetriesTransientFailures(t *testing.T) {
	src := &fakeSource{failures: 2}
	metrics := NewMetrics()
	l := NewLoader(src, LoaderConfig{Retry: testPolicy(3), Metrics: metrics})

	res := l.Enrich(context.Background(), "lawyer-1")
	if res.Err != nil || res.Data == nil {
		t.Fatalf("Enrich() = %+v, want data after retries", res)
	}
	if got := src.calls.Load(); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
	if got := getCounterVecValue(metrics.upstreamErrors, "error"); got != 2 {
		t.Errorf("upstream errors = %v, want 2", got)
	}
}

func TestLoader_FailureIsNotCached(t *testing.T) {
	src := &fakeSource{failures: 1}
	l := NewLoader(src, LoaderConfig{Retry: testPolicy(1)})

	if res := l.Enrich(context.Background(), "lawyer-1"); res.Err == nil {
		t.Fatal("expected first Enrich() to fail")
	}
	if res := l.Enrich(context.Background(), "lawyer-1"); res.Err != nil || res.Data == nil {
		t.Fatalf("second Enrich() = %+v, want data", res)
	}
}

func TestLoader_SatisfiesEnricher(t *testing.T) {
	var _ feature.Enricher = (*Loader)(nil)
}
