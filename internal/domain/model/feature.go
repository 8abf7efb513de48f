package model

import "time"

// FeatureVector is the model-ready form of one member.
type FeatureVector struct {
	MemberID string `json:"member_id" yaml:"member_id"`

	Age                   Optional[float64] `json:"age" yaml:"age"`
	AvgWorkoutDurationMin Optional[float64] `json:"avg_workout_duration_min" yaml:"avg_workout_duration_min"`
	AvgCaloriesBurned     Optional[float64] `json:"avg_calories_burned" yaml:"avg_calories_burned"`
	TotalWeightLiftedKg   Optional[float64] `json:"total_weight_lifted_kg" yaml:"total_weight_lifted_kg"`
	VisitsPerMonth        Optional[float64] `json:"visits_per_month" yaml:"visits_per_month"`

	Gender           string `json:"gender" yaml:"gender"`
	MembershipType   string `json:"membership_type" yaml:"membership_type"`
	FavoriteExercise string `json:"favorite_exercise" yaml:"favorite_exercise"`

	TenureDays         Optional[float64] `json:"tenure_days" yaml:"tenure_days"`
	DaysSinceLastVisit Optional[float64] `json:"days_since_last_visit" yaml:"days_since_last_visit"`
	TenureBucket       string            `json:"tenure_bucket" yaml:"tenure_bucket"`
	VisitRecencyBucket string            `json:"visit_recency_bucket" yaml:"visit_recency_bucket"`

	// Ratios are always finite and non-negative.
	CaloriesPerMinute     float64 `json:"calories_per_minute" yaml:"calories_per_minute"`
	WeightPerVisit        float64 `json:"weight_per_visit" yaml:"weight_per_visit"`
	AttendanceRate        float64 `json:"attendance_rate" yaml:"attendance_rate"`
	RecencyFrequencyScore float64 `json:"recency_frequency_score" yaml:"recency_frequency_score"`
	WeightIntensity       float64 `json:"weight_intensity" yaml:"weight_intensity"`

	Churn Optional[int] `json:"churn" yaml:"churn"`
}

// ModelArtifact describes a trained model and the columns it was trained on.
type ModelArtifact struct {
	ModelPath           string              `json:"model_path" yaml:"model_path"`
	RunID               string              `json:"run_id" yaml:"run_id"`
	NumericalFeatures   []string            `json:"numerical_features" yaml:"numerical_features"`
	CategoricalFeatures []string            `json:"categorical_features" yaml:"categorical_features"`
	FeatureNames        []string            `json:"feature_names" yaml:"feature_names"`
	Importances         []FeatureImportance `json:"importances,omitempty" yaml:"importances,omitempty"`
	// Curves holds per-iteration training metrics keyed by metric name.
	Curves    map[string][]float64 `json:"curves,omitempty" yaml:"curves,omitempty"`
	TrainedAt time.Time            `json:"trained_at" yaml:"trained_at"`
}

// FeatureImportance is one feature's weight in a trained model.
type FeatureImportance struct {
	Feature    string  `json:"feature" yaml:"feature"`
	Importance float64 `json:"importance" yaml:"importance"`
}
