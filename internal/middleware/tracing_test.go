package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return recorder
}

func TestTracing_SpanNamedByRoutePattern(t *testing.T) {
	recorder := newSpanRecorder(t)

	handler := Tracing("casematch")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/drift/ranker-v2", nil)
	req.Pattern = "GET /v1/drift/{model}"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got := spans[0].Name(); got != "GET /v1/drift/{model}" {
		t.Errorf("span name = %q, want GET /v1/drift/{model}", got)
	}
}

func TestTracing_FallsBackToNormalizedPath(t *testing.T) {
	recorder := newSpanRecorder(t)

	handler := Tracing("casematch")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/abtests/t-1/status", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got := spans[0].Name(); got != "POST /v1/abtests/{id}/status" {
		t.Errorf("span name = %q, want POST /v1/abtests/{id}/status", got)
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	recorder := newSpanRecorder(t)

	var traceID, spanID string
	handler := Tracing("casematch")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = GetTraceID(r)
		spanID = GetSpanID(r)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/rank", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != traceID {
		t.Errorf("trace id = %q, handler saw %q", got, traceID)
	}
	if got := spans[0].SpanContext().SpanID().String(); got != spanID {
		t.Errorf("span id = %q, handler saw %q", got, spanID)
	}
}

func TestTracing_SkipsHealthAndMetrics(t *testing.T) {
	recorder := newSpanRecorder(t)

	handler := Tracing("casematch")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if n := len(recorder.Ended()); n != 0 {
		t.Errorf("got %d spans for health/metrics, want 0", n)
	}
}

func TestGetTraceID_NoActiveSpan(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/variant", nil)
	if id := GetTraceID(req); id != "" {
		t.Errorf("GetTraceID() = %q, want empty", id)
	}
	if id := GetSpanID(req); id != "" {
		t.Errorf("GetSpanID() = %q, want empty", id)
	}
}
