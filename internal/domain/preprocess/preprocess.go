// Package preprocess normalizes raw member records into canonical records.
//
// Normalization never fails: a malformed or absent field degrades to the
// missing state (numerics) or model.Unknown (categoricals) and the batch
// continues.
package preprocess

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/metrics"
)

// Kind selects a pipeline variant.
type Kind string

const (
	KindRobust Kind = "robust"
	KindBasic  Kind = "basic"
)

// Pipeline converts raw records to canonical records, one output per input, in order.
type Pipeline interface {
	Run(ctx context.Context, raw []model.RawMemberRecord) []model.MemberRecord
}

// New returns the pipeline for kind. An empty kind selects KindRobust.
func New(kind Kind) (Pipeline, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(string(kind)))) {
	case KindRobust, "":
		return Robust{}, nil
	case KindBasic:
		return Basic{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Robust trims, lower-cases gender, drops non-finite numerics and
// canonicalizes the missing marker so that re-running it is a no-op.
type Robust struct{}

// Run implements Pipeline.
func (Robust) Run(_ context.Context, raw []model.RawMemberRecord) []model.MemberRecord {
	out := make([]model.MemberRecord, len(raw))
	for i := range raw {
		out[i] = robustRecord(&raw[i])
	}
	metrics.RecordNormalized(string(KindRobust), len(out))
	return out
}

func robustRecord(r *model.RawMemberRecord) model.MemberRecord {
	churn := model.None[int]()
	if r.Churn != nil {
		if strings.EqualFold(strings.TrimSpace(*r.Churn), "yes") {
			churn = model.Some(1)
		} else {
			churn = model.Some(0)
		}
	}

	return model.MemberRecord{
		MemberID:         strings.TrimSpace(r.MemberID),
		Age:              numeric("age", r.Age),
		Gender:           categorical("gender", r.Gender, strings.ToLower),
		MembershipType:   categorical("membership_type", r.MembershipType, nil),
		JoinDate:         r.JoinDate,
		LastVisitDate:    r.LastVisitDate,
		FavoriteExercise: categorical("favorite_exercise", r.FavoriteExercise, nil),

		AvgWorkoutDurationMin: numeric("avg_workout_duration_min", r.AvgWorkoutDurationMin),
		AvgCaloriesBurned:     numeric("avg_calories_burned", r.AvgCaloriesBurned),
		TotalWeightLiftedKg:   numeric("total_weight_lifted_kg", r.TotalWeightLiftedKg),
		VisitsPerMonth:        numeric("visits_per_month", r.VisitsPerMonth),

		Churn: churn,
	}
}

// Basic is the lenient variant: values are copied without trimming, only
// gender is lower-cased, and absent values still map to the missing state.
type Basic struct{}

// Run implements Pipeline.
func (Basic) Run(_ context.Context, raw []model.RawMemberRecord) []model.MemberRecord {
	out := make([]model.MemberRecord, len(raw))
	for i := range raw {
		r := &raw[i]
		churn := model.None[int]()
		if r.Churn != nil {
			if strings.ToLower(*r.Churn) == "yes" {
				churn = model.Some(1)
			} else {
				churn = model.Some(0)
			}
		}
		out[i] = model.MemberRecord{
			MemberID:         r.MemberID,
			Age:              numeric("age", r.Age),
			Gender:           lenient("gender", r.Gender, strings.ToLower),
			MembershipType:   lenient("membership_type", r.MembershipType, nil),
			JoinDate:         r.JoinDate,
			LastVisitDate:    r.LastVisitDate,
			FavoriteExercise: lenient("favorite_exercise", r.FavoriteExercise, nil),

			AvgWorkoutDurationMin: numeric("avg_workout_duration_min", r.AvgWorkoutDurationMin),
			AvgCaloriesBurned:     numeric("avg_calories_burned", r.AvgCaloriesBurned),
			TotalWeightLiftedKg:   numeric("total_weight_lifted_kg", r.TotalWeightLiftedKg),
			VisitsPerMonth:        numeric("visits_per_month", r.VisitsPerMonth),

			Churn: churn,
		}
	}
	metrics.RecordNormalized(string(KindBasic), len(out))
	return out
}

// numeric keeps finite values; nil, NaN and infinities become missing.
func numeric(field string, v *float64) model.Optional[float64] {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		metrics.RecordFieldDefaulted(field)
		return model.None[float64]()
	}
	return model.Some(*v)
}

// categorical trims v and applies transform. Blank values and any spelling
// of the sentinel map to model.Unknown.
func categorical(field string, v *string, transform func(string) string) string {
	if v == nil {
		metrics.RecordFieldDefaulted(field)
		return model.Unknown
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		metrics.RecordFieldDefaulted(field)
		return model.Unknown
	}
	if strings.EqualFold(s, model.Unknown) {
		return model.Unknown
	}
	if transform != nil {
		s = transform(s)
	}
	return s
}

func lenient(field string, v *string, transform func(string) string) string {
	if v == nil || *v == "" {
		metrics.RecordFieldDefaulted(field)
		return model.Unknown
	}
	if *v == model.Unknown {
		return model.Unknown
	}
	if transform != nil {
		return transform(*v)
	}
	return *v
}

// Canonical converts a canonical record back to the raw shape so it can be
// fed through a Pipeline again.
func Canonical(m model.MemberRecord) model.RawMemberRecord {
	var churn *string
	if v, ok := m.Churn.Get(); ok {
		s := "no"
		if v == 1 {
			s = "yes"
		}
		churn = &s
	}
	return model.RawMemberRecord{
		MemberID:         m.MemberID,
		Age:              m.Age.Ptr(),
		Gender:           strPtr(m.Gender),
		MembershipType:   strPtr(m.MembershipType),
		JoinDate:         m.JoinDate,
		LastVisitDate:    m.LastVisitDate,
		FavoriteExercise: strPtr(m.FavoriteExercise),

		AvgWorkoutDurationMin: m.AvgWorkoutDurationMin.Ptr(),
		AvgCaloriesBurned:     m.AvgCaloriesBurned.Ptr(),
		TotalWeightLiftedKg:   m.TotalWeightLiftedKg.Ptr(),
		VisitsPerMonth:        m.VisitsPerMonth.Ptr(),

		Churn: churn,
	}
}

func strPtr(s string) *string { return &s }
