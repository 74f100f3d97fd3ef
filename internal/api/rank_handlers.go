package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/casematch/internal/abtest"
	"github.com/onnwee/casematch/internal/feature"
	"github.com/onnwee/casematch/internal/middleware"
	"github.com/onnwee/casematch/internal/ranking"
)

const (
	// MaxRankBodyBytes bounds a POST /v1/rank body.
	MaxRankBodyBytes = 8 << 20
	// MaxCandidates bounds the candidates ranked in one request.
	MaxCandidates = 5000
)

// Ranker ranks candidates for a case.
type Ranker interface {
	Rank(ctx context.Context, req ranking.Request) (*ranking.Response, error)
}

// VariantAssigner picks the model variant serving a user.
type VariantAssigner interface {
	AssignVariant(ctx context.Context, userID string) (abtest.Assignment, error)
}

// RankResponse is the body of a successful POST /v1/rank.
type RankResponse struct {
	*ranking.Response
	Assignment *abtest.Assignment `json:"assignment,omitempty"`
}

// RankHandlers serves ranking and variant assignment.
type RankHandlers struct {
	ranker   Ranker
	assigner VariantAssigner
	logger   *slog.Logger
}

// NewRankHandlers creates RankHandlers. assigner may be nil, in which case
// every request is served by the model named in the request or the default.
func NewRankHandlers(ranker Ranker, assigner VariantAssigner, logger *slog.Logger) *RankHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &RankHandlers{ranker: ranker, assigner: assigner, logger: logger}
}

// Rank handles POST /v1/rank.
//
// When the request names no model and the caller is identified by
// X-User-ID, the A/B router chooses the variant and the assignment is
// returned with the ranking.
func (h *RankHandlers) Rank(w http.ResponseWriter, r *http.Request) {
	var req ranking.Request
	if !decodeJSON(w, r, MaxRankBodyBytes, &req) {
		return
	}
	if len(req.Candidates) > MaxCandidates {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation,
			fmt.Sprintf("at most %d candidates per request", MaxCandidates))
		return
	}

	var assignment *abtest.Assignment
	if req.Model == "" && h.assigner != nil {
		if userID := middleware.GetUserID(r.Context()); userID != "" {
			a, err := h.assigner.AssignVariant(r.Context(), userID)
			if err != nil {
				h.logger.WarnContext(r.Context(), "variant assignment degraded", "error", err)
			}
			req.Model = a.ModelID
			assignment = &a
		}
	}

	resp, err := h.ranker.Rank(r.Context(), req)
	if err != nil {
		h.writeRankError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, RankResponse{Response: resp, Assignment: assignment})
}

func (h *RankHandlers) writeRankError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, feature.ErrInvalidInput):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeUnavailable, "Ranking did not finish in time")
	default:
		h.logger.ErrorContext(r.Context(), "ranking failed", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to rank candidates")
	}
}

// Variant handles GET /v1/variant. The user comes from the user_id query
// parameter or the X-User-ID header. A registry failure still answers with
// the default model.
func (h *RankHandlers) Variant(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = middleware.GetUserID(r.Context())
	}
	if userID == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "user_id is required")
		return
	}

	if h.assigner == nil {
		writeJSON(w, r.Context(), http.StatusOK, abtest.Assignment{ModelID: ranking.DefaultModel, Group: abtest.GroupControl})
		return
	}
	a, err := h.assigner.AssignVariant(r.Context(), userID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "variant assignment degraded", "error", err)
	}
	writeJSON(w, r.Context(), http.StatusOK, a)
}
