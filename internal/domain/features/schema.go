package features

import "github.com/okian/churngym/internal/domain/model"

// Column names shared with the external scorer. The order of FeaturesAll is
// the wire order of every feature row.
const (
	IDColumn     = "member_id"
	TargetColumn = "churn"
)

var (
	NumericalFeatures = []string{
		"age",
		"avg_workout_duration_min",
		"avg_calories_burned",
		"total_weight_lifted_kg",
		"visits_per_month",
		"tenure_days",
		"days_since_last_visit",
		"calories_per_minute",
		"weight_per_visit",
		"attendance_rate",
		"recency_frequency_score",
		"weight_intensity",
	}

	CategoricalFeatures = []string{
		"gender",
		"membership_type",
		"favorite_exercise",
		"visit_recency_bucket",
		"tenure_bucket",
	}

	FeaturesAll = append(append([]string{}, NumericalFeatures...), CategoricalFeatures...)
)

// Row returns the vector's values in FeaturesAll order. Missing numerics are nil.
func Row(v model.FeatureVector) []any {
	return []any{
		optional(v.Age),
		optional(v.AvgWorkoutDurationMin),
		optional(v.AvgCaloriesBurned),
		optional(v.TotalWeightLiftedKg),
		optional(v.VisitsPerMonth),
		optional(v.TenureDays),
		optional(v.DaysSinceLastVisit),
		v.CaloriesPerMinute,
		v.WeightPerVisit,
		v.AttendanceRate,
		v.RecencyFrequencyScore,
		v.WeightIntensity,
		v.Gender,
		v.MembershipType,
		v.FavoriteExercise,
		v.VisitRecencyBucket,
		v.TenureBucket,
	}
}

func optional(o model.Optional[float64]) any {
	if v, ok := o.Get(); ok {
		return v
	}
	return nil
}
