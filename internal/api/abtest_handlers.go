package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/casematch/internal/abtest"
	"github.com/onnwee/casematch/internal/middleware"
)

const maxABTestBodyBytes = 64 << 10

// ConversionRequest is the body of POST /v1/conversions.
type ConversionRequest struct {
	TestID string `json:"test_id"`
	UserID string `json:"user_id"`
}

// ConversionResponse reports the group the conversion was counted for.
type ConversionResponse struct {
	TestID string       `json:"test_id"`
	Group  abtest.Group `json:"group"`
}

// StatusRequest is the body of POST /v1/abtests/{id}/status.
type StatusRequest struct {
	Status abtest.Status `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// EvaluateResponse is the body of POST /v1/abtests/{id}/evaluate.
type EvaluateResponse struct {
	Result     abtest.Result `json:"result"`
	RolledBack bool          `json:"rolled_back"`
}

// ABTestHandlers serves the A/B test lifecycle.
type ABTestHandlers struct {
	registry abtest.Registry
	manager  *abtest.Manager
	logger   *slog.Logger
}

// NewABTestHandlers creates ABTestHandlers.
func NewABTestHandlers(registry abtest.Registry, manager *abtest.Manager, logger *slog.Logger) *ABTestHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &ABTestHandlers{registry: registry, manager: manager, logger: logger}
}

// Create handles POST /v1/abtests.
func (h *ABTestHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var cfg abtest.Config
	if !decodeJSON(w, r, maxABTestBodyBytes, &cfg) {
		return
	}
	cfg = cfg.WithDefaults()
	if err := h.registry.Create(r.Context(), cfg); err != nil {
		h.writeError(w, r, err, "create a/b test")
		return
	}
	created, err := h.registry.Get(r.Context(), cfg.ID)
	if err != nil {
		h.writeError(w, r, err, "load created a/b test")
		return
	}
	h.logger.InfoContext(r.Context(), "a/b test created",
		"test_id", created.ID,
		"control_model", created.ControlModel,
		"treatment_model", created.TreatmentModel,
		"traffic_split", created.TrafficSplit)
	writeJSON(w, r.Context(), http.StatusCreated, created)
}

// List handles GET /v1/abtests.
func (h *ABTestHandlers) List(w http.ResponseWriter, r *http.Request) {
	tests, err := h.registry.List(r.Context())
	if err != nil {
		h.writeError(w, r, err, "list a/b tests")
		return
	}
	if tests == nil {
		tests = []abtest.Config{}
	}
	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"tests": tests})
}

// Get handles GET /v1/abtests/{id}.
func (h *ABTestHandlers) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err, "get a/b test")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, cfg)
}

// Result handles GET /v1/abtests/{id}/result.
func (h *ABTestHandlers) Result(w http.ResponseWriter, r *http.Request) {
	res, err := h.manager.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err, "analyze a/b test")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, res)
}

// SetStatus handles POST /v1/abtests/{id}/status.
func (h *ABTestHandlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decodeJSON(w, r, maxABTestBodyBytes, &req) {
		return
	}
	switch req.Status {
	case abtest.StatusActive, abtest.StatusPaused, abtest.StatusCompleted, abtest.StatusRolledBack:
	default:
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "status must be one of active, paused, completed, rolled_back")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}

	cfg, err := h.manager.Transition(r.Context(), r.PathValue("id"), req.Status, reason)
	if err != nil {
		h.writeError(w, r, err, "change a/b test status")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, cfg)
}

// Evaluate handles POST /v1/abtests/{id}/evaluate: analyze now and roll
// back if the treatment degrades beyond the configured limit.
func (h *ABTestHandlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	res, rolledBack, err := h.manager.Evaluate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err, "evaluate a/b test")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, EvaluateResponse{Result: res, RolledBack: rolledBack})
}

// RecordConversion handles POST /v1/conversions.
func (h *ABTestHandlers) RecordConversion(w http.ResponseWriter, r *http.Request) {
	var req ConversionRequest
	if !decodeJSON(w, r, maxABTestBodyBytes, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = middleware.GetUserID(r.Context())
	}
	if req.TestID == "" || req.UserID == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "test_id and user_id are required")
		return
	}

	g, err := h.manager.RecordConversion(r.Context(), req.TestID, req.UserID)
	if err != nil {
		h.writeError(w, r, err, "record conversion")
		return
	}
	writeJSON(w, r.Context(), http.StatusAccepted, ConversionResponse{TestID: req.TestID, Group: g})
}

func (h *ABTestHandlers) writeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, abtest.ErrNotFound):
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "A/B test not found")
	case errors.Is(err, abtest.ErrInvalidTransition):
		WriteError(w, r.Context(), http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, abtest.ErrTestNotRunning):
		WriteError(w, r.Context(), http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, abtest.ErrStatusConflict):
		WriteError(w, r.Context(), http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, abtest.ErrConfig):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "a/b test request failed", "op", op, "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to "+op)
	}
}
