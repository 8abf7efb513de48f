package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/churngym/internal/domain/model"
)

// MemberDependencies defines the interface for member lookups.
type MemberDependencies interface {
	Latest(ctx context.Context, memberID string) (model.Prediction, error)
}

// MemberHandler handles member requests.
type MemberHandler struct {
	deps MemberDependencies
}

// NewMemberHandler creates a new member handler.
func NewMemberHandler(deps MemberDependencies) *MemberHandler {
	return &MemberHandler{deps: deps}
}

// HandleGetMember handles GET /members/{member_id} requests.
func (h *MemberHandler) HandleGetMember(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/members/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	p, err := h.deps.Latest(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
