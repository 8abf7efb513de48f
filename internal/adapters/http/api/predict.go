package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/metrics"
)

const maxPredictBody = 10 << 20

// PredictDependencies defines the interface for scoring posted members.
type PredictDependencies interface {
	PredictRecords(ctx context.Context, records []model.RawMemberRecord) ([]model.Prediction, error)
}

// PredictHandler handles prediction requests.
type PredictHandler struct {
	deps PredictDependencies
}

// NewPredictHandler creates a new predict handler.
func NewPredictHandler(deps PredictDependencies) *PredictHandler {
	return &PredictHandler{deps: deps}
}

// memberRequest mirrors one dataset row. Dates use YYYY-MM-DD. A field with
// the wrong type or an unparsable date is read as missing, like a bad CSV
// cell, so one malformed field never rejects the batch.
type memberRequest struct {
	MemberID              string `json:"member_id"`
	Name                  text   `json:"name"`
	Age                   number `json:"age"`
	Gender                text   `json:"gender"`
	Address               text   `json:"address"`
	PhoneNumber           text   `json:"phone_number"`
	MembershipType        text   `json:"membership_type"`
	JoinDate              text   `json:"join_date"`
	LastVisitDate         text   `json:"last_visit_date"`
	FavoriteExercise      text   `json:"favorite_exercise"`
	AvgWorkoutDurationMin number `json:"avg_workout_duration_min"`
	AvgCaloriesBurned     number `json:"avg_calories_burned"`
	TotalWeightLiftedKg   number `json:"total_weight_lifted_kg"`
	VisitsPerMonth        number `json:"visits_per_month"`
	Churn                 text   `json:"churn"`
}

type predictRequest struct {
	Records []memberRequest `json:"records"`
}

type predictResponse struct {
	Predictions []model.Prediction `json:"predictions"`
}

// number decodes a JSON number or numeric string. Anything else is missing.
type number struct {
	v       *float64
	invalid bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		n.v = &f
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			n.v = &f
			return nil
		}
	}
	n.invalid = true
	return nil
}

// text decodes a JSON string. Anything else is missing.
type text struct {
	v       *string
	invalid bool
}

func (t *text) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		t.invalid = true
		return nil
	}
	t.v = &s
	return nil
}

func (m memberRequest) toRaw() (model.RawMemberRecord, error) {
	if strings.TrimSpace(m.MemberID) == "" {
		return model.RawMemberRecord{}, fmt.Errorf("%w: missing member_id", ErrBadRequest)
	}
	return model.RawMemberRecord{
		MemberID:              strings.TrimSpace(m.MemberID),
		Name:                  m.Name.get("name"),
		Age:                   m.Age.get("age"),
		Gender:                m.Gender.get("gender"),
		Address:               m.Address.get("address"),
		PhoneNumber:           m.PhoneNumber.get("phone_number"),
		MembershipType:        m.MembershipType.get("membership_type"),
		JoinDate:              date("join_date", m.JoinDate),
		LastVisitDate:         date("last_visit_date", m.LastVisitDate),
		FavoriteExercise:      m.FavoriteExercise.get("favorite_exercise"),
		AvgWorkoutDurationMin: m.AvgWorkoutDurationMin.get("avg_workout_duration_min"),
		AvgCaloriesBurned:     m.AvgCaloriesBurned.get("avg_calories_burned"),
		TotalWeightLiftedKg:   m.TotalWeightLiftedKg.get("total_weight_lifted_kg"),
		VisitsPerMonth:        m.VisitsPerMonth.get("visits_per_month"),
		Churn:                 m.Churn.get("churn"),
	}, nil
}

func (n number) get(field string) *float64 {
	if n.invalid {
		metrics.RecordFieldDefaulted(field)
	}
	return n.v
}

func (t text) get(field string) *string {
	if t.invalid {
		metrics.RecordFieldDefaulted(field)
	}
	return t.v
}

// date reads a blank value as missing. Unparsable dates are missing too.
func date(field string, t text) *time.Time {
	s := t.get(field)
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	d := model.ParseDate(*s)
	if d == nil {
		metrics.RecordFieldDefaulted(field)
	}
	return d
}

// HandlePredict handles POST /predict requests.
func (h *PredictHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req predictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: no records", ErrBadRequest))
		return
	}

	records := make([]model.RawMemberRecord, len(req.Records))
	for i, m := range req.Records {
		rec, err := m.toRaw()
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("record %d: %w", i, err))
			return
		}
		records[i] = rec
	}

	predictions, err := h.deps.PredictRecords(r.Context(), records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, predictResponse{Predictions: predictions})
}
