package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPChecker(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "no content", status: http.StatusNoContent},
		{name: "server error", status: http.StatusServiceUnavailable, wantErr: true},
		{name: "redirect is not healthy", status: http.StatusNotModified, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewHTTPChecker("enrichment", srv.URL+"/health").HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "enrichment") {
				t.Errorf("error %q should name the dependency", err)
			}
		})
	}
}

func TestHTTPChecker_NotConfigured(t *testing.T) {
	if err := NewHTTPChecker("enrichment", "").HealthCheck(context.Background()); err == nil {
		t.Error("expected error for empty url")
	}
}

func TestHTTPChecker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := NewHTTPChecker("enrichment", url).HealthCheck(context.Background()); err == nil {
		t.Error("expected error for closed server")
	}
}
