// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/churngym/internal/adapters/repository"
	"github.com/okian/churngym/internal/domain/model"
)

// DefaultMaxLimit caps GET /at-risk when no limit is configured.
const DefaultMaxLimit = 100

// Dependencies required by HTTP handlers.
type Dependencies interface {
	PredictDependencies
	AtRiskDependencies
	MemberDependencies
}

// Server wires HTTP routes for the churn API.
type Server struct {
	healthHandler  *HealthHandler
	predictHandler *PredictHandler
	atRiskHandler  *AtRiskHandler
	memberHandler  *MemberHandler
}

// NewServer creates a new API server with all handlers. maxLimit bounds the
// at-risk listing; values below 1 select DefaultMaxLimit.
func NewServer(deps Dependencies, maxLimit int) *Server {
	if maxLimit < 1 {
		maxLimit = DefaultMaxLimit
	}
	return &Server{
		healthHandler:  NewHealthHandler(),
		predictHandler: NewPredictHandler(deps),
		atRiskHandler:  NewAtRiskHandler(deps, maxLimit),
		memberHandler:  NewMemberHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/predict", MetricsMiddleware(s.predictHandler.HandlePredict, "predict"))
	mux.HandleFunc("/at-risk", MetricsMiddleware(s.atRiskHandler.HandleGetAtRisk, "at_risk"))
	mux.HandleFunc("/members/", MetricsMiddleware(s.memberHandler.HandleGetMember, "members"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rankedPrediction is the wire shape of a ranked member.
type rankedPrediction struct {
	Rank int `json:"rank"`
	model.Prediction
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	if rec, ok := w.(*statusRecorder); ok {
		rec.code = code
	}
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
