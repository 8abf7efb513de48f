package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/churngym/internal/adapters/repository"
)

// AtRiskDependencies defines the interface for at-risk listings.
type AtRiskDependencies interface {
	TopN(ctx context.Context, n int) ([]repository.Entry, error)
}

// AtRiskHandler handles at-risk requests.
type AtRiskHandler struct {
	deps     AtRiskDependencies
	maxLimit int
}

// NewAtRiskHandler creates a new at-risk handler.
func NewAtRiskHandler(deps AtRiskDependencies, maxLimit int) *AtRiskHandler {
	return &AtRiskHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetAtRisk handles GET /at-risk?limit=N requests.
func (h *AtRiskHandler) HandleGetAtRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest))
		return
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", fmt.Errorf("%w: limit must be at most %d", ErrLimitExceeded, h.maxLimit))
		return
	}
	entries, err := h.deps.TopN(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	out := make([]rankedPrediction, len(entries))
	for i, e := range entries {
		out[i] = rankedPrediction{Rank: e.Rank, Prediction: e.Prediction}
	}
	writeJSON(w, http.StatusOK, out)
}
