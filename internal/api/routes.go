package api

import (
	"net/http"
)

// Handlers groups the handler sets mounted by NewMux. Nil sets are not
// mounted.
type Handlers struct {
	Rank   *RankHandlers
	ABTest *ABTestHandlers
	Drift  *DriftHandlers
	Health *HealthHandlers
	// Metrics serves /metrics, usually promhttp.HandlerFor.
	Metrics http.Handler
}

// NewMux registers every route on a new ServeMux.
func NewMux(h Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	if h.Rank != nil {
		mux.HandleFunc("POST /v1/rank", h.Rank.Rank)
		mux.HandleFunc("GET /v1/variant", h.Rank.Variant)
	}
	if h.ABTest != nil {
		mux.HandleFunc("POST /v1/conversions", h.ABTest.RecordConversion)
		mux.HandleFunc("POST /v1/abtests", h.ABTest.Create)
		mux.HandleFunc("GET /v1/abtests", h.ABTest.List)
		mux.HandleFunc("GET /v1/abtests/{id}", h.ABTest.Get)
		mux.HandleFunc("GET /v1/abtests/{id}/result", h.ABTest.Result)
		mux.HandleFunc("POST /v1/abtests/{id}/status", h.ABTest.SetStatus)
		mux.HandleFunc("POST /v1/abtests/{id}/evaluate", h.ABTest.Evaluate)
	}
	if h.Drift != nil {
		mux.HandleFunc("GET /v1/drift/{model}", h.Drift.Report)
		mux.HandleFunc("PUT /v1/drift/{model}/baseline", h.Drift.PinBaseline)
		mux.HandleFunc("DELETE /v1/drift/{model}/baseline", h.Drift.UnpinBaseline)
	}
	if h.Health != nil {
		mux.HandleFunc("GET /health", h.Health.Health)
		mux.HandleFunc("GET /ready", h.Health.Ready)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	return mux
}
