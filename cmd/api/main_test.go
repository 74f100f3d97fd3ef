// Package main contains integration tests for the API server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/casematch/internal/config"
	"github.com/onnwee/casematch/internal/feature"
	"github.com/onnwee/casematch/internal/middleware"
	"github.com/onnwee/casematch/internal/ranking"
)

// syncBuffer lets handlers log while the test reads the output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "ENRICHMENT_URL", "R2_BUCKET_NAME", "CALIBRATION_FILE", "TRACING_ENABLED"} {
		t.Setenv(key, "")
	}
	cfg, errs := config.Load("")
	if len(errs) > 0 {
		t.Fatalf("config.Load() errors: %v", errs)
	}
	return cfg
}

func newTestApp(t *testing.T) (*app, *syncBuffer) {
	t.Helper()
	logBuf := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logBuf, nil))

	a, err := newApp(context.Background(), testConfig(t), logger)
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	if err := a.start(context.Background()); err != nil {
		t.Fatalf("start() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.stop(ctx); err != nil {
			t.Errorf("stop() error: %v", err)
		}
	})
	return a, logBuf
}

func rankRequestBody(t *testing.T) io.Reader {
	t.Helper()
	req := ranking.Request{
		Case: &feature.Case{ID: "case-1", Area: "labor", Subarea: "dismissal", UrgencyHours: 48},
		Candidates: []*feature.Lawyer{
			{ID: "lawyer-a", Expertise: []string{"labor"}, KPI: feature.KPI{SuccessRate: 0.8, AvgRating: 4.5, ReviewCount: 40, MonthlyCapacity: 20, CasesLast30d: 5, ResponseTimeHours: 4}},
			{ID: "lawyer-b", Expertise: []string{"tax"}, KPI: feature.KPI{SuccessRate: 0.4, AvgRating: 3.0, ReviewCount: 2, MonthlyCapacity: 10, CasesLast30d: 9, ResponseTimeHours: 40}},
		},
		Preset: "balanced",
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewReader(data)
}

func TestApp_InMemoryStack(t *testing.T) {
	a, logBuf := newTestApp(t)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
		if resp.Header.Get(middleware.RequestIDHeader) == "" {
			t.Error("expected a request ID header")
		}
	})

	t.Run("ready without external dependencies", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/ready")
		if err != nil {
			t.Fatalf("GET /ready: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("rank", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/rank", rankRequestBody(t))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.UserIDHeader, "user-1")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST /v1/rank: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}
		var out struct {
			Results []struct {
				LawyerID string `json:"lawyer_id"`
			} `json:"results"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(out.Results) != 2 || out.Results[0].LawyerID != "lawyer-a" {
			t.Errorf("results = %+v, want lawyer-a first", out.Results)
		}
		if resp.Header.Get("X-RateLimit-Limit") == "" {
			t.Error("expected rate limit headers on /v1/rank")
		}
	})

	t.Run("variant falls back to default model", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/variant?user_id=user-1")
		if err != nil {
			t.Fatalf("GET /v1/variant: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var out struct {
			ModelID string `json:"model_id"`
			Group   string `json:"group"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.ModelID != config.DefaultModel || out.Group != "control" {
			t.Errorf("assignment = %+v, want %s/control", out, config.DefaultModel)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/unknown")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		for _, name := range []string{"http_requests_total", "ranking_requests_total", "go_goroutines"} {
			if !strings.Contains(string(body), name) {
				t.Errorf("metrics output missing %s", name)
			}
		}
	})

	if !strings.Contains(logBuf.String(), "request completed") {
		t.Errorf("expected request logs, got %s", logBuf.String())
	}
}

func TestApp_RunsJobs(t *testing.T) {
	a, _ := newTestApp(t)

	names := make(map[string]bool)
	for _, r := range a.runners {
		names[r.Name()] = true
		if !r.IsRunning() {
			t.Errorf("job %s not running after start", r.Name())
		}
	}
	for _, want := range []string{"ab_analysis", "drift_detection", "cache_purge"} {
		if !names[want] {
			t.Errorf("missing job %s", want)
		}
	}
}

func TestApp_InvalidRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "not-a-redis-url"

	if _, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for invalid REDIS_URL")
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	logBuf := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logBuf, nil))
	a, err := newApp(context.Background(), testConfig(t), logger)
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	if err := a.start(context.Background()); err != nil {
		t.Fatalf("start() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, addr, logger) }()

	// Wait for the listener.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error: %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}

	for _, r := range a.runners {
		if r.IsRunning() {
			t.Errorf("job %s still running after shutdown", r.Name())
		}
	}
	if !strings.Contains(logBuf.String(), "shutting down server") {
		t.Error("expected shutdown log")
	}
}
