package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/casematch/internal/drift"
)

// MaxDriftWindow bounds the window query parameter.
const MaxDriftWindow = 30 * 24 * time.Hour

// BaselineResponse is the body of PUT /v1/drift/{model}/baseline.
type BaselineResponse struct {
	Model   string `json:"model"`
	Samples int    `json:"samples"`
}

// DriftHandlers serves drift reports.
type DriftHandlers struct {
	monitor       *drift.Monitor
	defaultWindow time.Duration
	logger        *slog.Logger
}

// NewDriftHandlers creates DriftHandlers. defaultWindow is used when a
// request does not pass ?window=.
func NewDriftHandlers(monitor *drift.Monitor, defaultWindow time.Duration, logger *slog.Logger) *DriftHandlers {
	if defaultWindow <= 0 {
		defaultWindow = drift.DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DriftHandlers{monitor: monitor, defaultWindow: defaultWindow, logger: logger}
}

// Report handles GET /v1/drift/{model}. ?window= takes a Go duration
// ("30m", "2h"). ?cached=true returns the last computed report instead of
// running a new check.
func (h *DriftHandlers) Report(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")

	if r.URL.Query().Get("cached") == "true" {
		report, ok := h.monitor.Latest(model)
		if !ok {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "No drift report for model "+model)
			return
		}
		writeJSON(w, r.Context(), http.StatusOK, report)
		return
	}

	window := h.defaultWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > MaxDriftWindow {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "window must be a positive duration up to 720h")
			return
		}
		window = d
	}

	report, err := h.monitor.DetectDrift(r.Context(), model, window)
	switch {
	case errors.Is(err, drift.ErrUnknownModel):
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "No samples recorded for model "+model)
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "drift detection failed", "model", model, "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to compute drift report")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, report)
}

// PinBaseline handles PUT /v1/drift/{model}/baseline: the samples held for
// model right now become its reference distribution until unpinned.
func (h *DriftHandlers) PinBaseline(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	store := h.monitor.Store()

	snapshot := store.Snapshot(model)
	if len(snapshot) == 0 {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "No samples recorded for model "+model)
		return
	}
	store.PinBaseline(model, snapshot)
	h.logger.InfoContext(r.Context(), "drift baseline pinned", "model", model, "samples", len(snapshot))
	writeJSON(w, r.Context(), http.StatusOK, BaselineResponse{Model: model, Samples: len(snapshot)})
}

// UnpinBaseline handles DELETE /v1/drift/{model}/baseline.
func (h *DriftHandlers) UnpinBaseline(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	h.monitor.Store().PinBaseline(model, nil)
	h.logger.InfoContext(r.Context(), "drift baseline unpinned", "model", model)
	w.WriteHeader(http.StatusNoContent)
}
