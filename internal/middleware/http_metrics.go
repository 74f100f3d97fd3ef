package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are recorded under their own path.
var staticRoutes = map[string]bool{
	"/":               true,
	"/v1/rank":        true,
	"/v1/variant":     true,
	"/v1/conversions": true,
	"/v1/abtests":     true,
	"/v1/drift":       true,
	"/health":         true,
	"/ready":          true,
	"/metrics":        true,
}

// normalizePath maps paths with ids to their route pattern so test ids and
// model names do not become label values: /v1/abtests/t-1/result becomes
// /v1/abtests/{id}/result.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(path, "/")
	if len(parts) < 4 || parts[1] != "v1" || parts[3] == "" {
		if len(parts) > 2 && parts[1] == "v1" {
			return "/v1/other"
		}
		return "other"
	}

	switch parts[2] {
	case "abtests":
		if len(parts) == 4 {
			return "/v1/abtests/{id}"
		}
		if len(parts) == 5 {
			switch parts[4] {
			case "result", "status", "evaluate":
				return "/v1/abtests/{id}/" + parts[4]
			}
		}
	case "drift":
		if len(parts) == 4 {
			return "/v1/drift/{model}"
		}
		if len(parts) == 5 && parts[4] == "baseline" {
			return "/v1/drift/{model}/baseline"
		}
	}
	return "/v1/other"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	mrw.wroteHeader = true
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// Health and metrics endpoints are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
