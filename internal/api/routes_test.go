package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/casematch/internal/abtest"
	"github.com/onnwee/casematch/internal/drift"
)

func newTestMux(t *testing.T) http.Handler {
	t.Helper()
	router, reg := newTestRouter(t, runningTest("t-1", 0.5))
	manager := abtest.NewManager(abtest.ManagerConfig{Registry: reg})
	monitor := drift.NewMonitor(drift.MonitorConfig{})

	return NewMux(Handlers{
		Rank:   NewRankHandlers(newTestEngine(), router, nil),
		ABTest: NewABTestHandlers(reg, manager, nil),
		Drift:  NewDriftHandlers(monitor, time.Hour, nil),
		Health: NewHealthHandlers(HealthHandlersConfig{}),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	})
}

func TestNewMux_Routes(t *testing.T) {
	mux := newTestMux(t)

	tests := []struct {
		method   string
		path     string
		body     string
		wantCode int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/ready", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/v1/variant?user_id=u-1", "", http.StatusOK},
		{http.MethodGet, "/v1/abtests", "", http.StatusOK},
		{http.MethodGet, "/v1/abtests/t-1", "", http.StatusOK},
		{http.MethodGet, "/v1/abtests/t-1/result", "", http.StatusOK},
		{http.MethodGet, "/v1/abtests/missing/result", "", http.StatusNotFound},
		{http.MethodPost, "/v1/abtests/t-1/status", `{"status":"paused"}`, http.StatusOK},
		{http.MethodPost, "/v1/conversions", `{"test_id":"t-1","user_id":"u-1"}`, http.StatusAccepted},
		{http.MethodGet, "/v1/drift/ranker-v2", "", http.StatusNotFound},
		{http.MethodPost, "/v1/rank", `{"case":{"id":"c"},"candidates":[{"id":"l"}]}`, http.StatusOK},
		{http.MethodGet, "/v1/rank", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}
