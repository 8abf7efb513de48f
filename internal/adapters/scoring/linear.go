package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/okian/churngym/internal/domain/features"
)

// linearModel is a logistic model over standardized numerics and one-hot
// categorical levels. It is stored as JSON next to the run's artifacts.
type linearModel struct {
	Columns     []string           `json:"columns"`
	Categorical []string           `json:"categorical"`
	Bias        float64            `json:"bias"`
	Weights     map[string]float64 `json:"weights"`
	Means       map[string]float64 `json:"means"`
	Scales      map[string]float64 `json:"scales"`
}

// priorModel scores members before any model has been trained. The weights
// follow the usual churn signals: long gaps and few visits raise the risk,
// long tenure lowers it.
func priorModel() linearModel {
	return linearModel{
		Columns:     features.FeaturesAll,
		Categorical: features.CategoricalFeatures,
		Bias:        -0.6,
		Weights: map[string]float64{
			"days_since_last_visit":        1.1,
			"recency_frequency_score":      0.8,
			"attendance_rate":              -0.9,
			"tenure_days":                  -0.4,
			"visit_recency_bucket=stale":   0.5,
			"visit_recency_bucket=unknown": 0.3,
			"tenure_bucket=short":          0.3,
			"membership_type=Basic":        0.2,
		},
		Means: map[string]float64{
			"days_since_last_visit":   30,
			"recency_frequency_score": 4,
			"attendance_rate":         0.35,
			"tenure_days":             400,
		},
		Scales: map[string]float64{
			"days_since_last_visit":   30,
			"recency_frequency_score": 4,
			"attendance_rate":         0.2,
			"tenure_days":             300,
		},
	}
}

func loadModel(path string) (linearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return linearModel{}, fmt.Errorf("%w: %w", ErrLoadModel, err)
	}
	var m linearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return linearModel{}, fmt.Errorf("%w: decode %s: %w", ErrLoadModel, path, err)
	}
	if len(m.Columns) == 0 {
		return linearModel{}, fmt.Errorf("%w: %s has no columns", ErrLoadModel, path)
	}
	return m, nil
}

func (m linearModel) check(columns []string) error {
	if !slices.Equal(m.Columns, columns) {
		return fmt.Errorf("%w: model has %d columns, table has %d", ErrFeatureMismatch, len(m.Columns), len(columns))
	}
	return nil
}

// probability scores one row laid out in m.Columns order. A model with
// non-finite weights yields an error instead of a NaN probability.
func (m linearModel) probability(row []any) (float64, error) {
	z := m.Bias
	for i, col := range m.Columns {
		if slices.Contains(m.Categorical, col) {
			z += m.Weights[level(col, row[i])]
			continue
		}
		z += m.Weights[col] * m.standardize(col, row[i])
	}
	p := sigmoid(z)
	if math.IsNaN(p) {
		return 0, fmt.Errorf("%w: non-finite score", ErrPredict)
	}
	return math.Max(0, math.Min(1, p)), nil
}

// standardize maps a missing value to the column mean. Values too large to
// standardize are treated as missing.
func (m linearModel) standardize(col string, v any) float64 {
	x, ok := v.(float64)
	if !ok {
		return 0
	}
	scale := m.Scales[col]
	if scale == 0 {
		scale = 1
	}
	z := (x - m.Means[col]) / scale
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0
	}
	return z
}

// finite reports whether every weight and the bias are finite.
func (m linearModel) finite() bool {
	if math.IsNaN(m.Bias) || math.IsInf(m.Bias, 0) {
		return false
	}
	for _, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return false
		}
	}
	return true
}

func level(col string, v any) string {
	return fmt.Sprintf("%s=%v", col, v)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
