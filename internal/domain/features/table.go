package features

import "github.com/okian/churngym/internal/domain/model"

// Table is a dense feature matrix in FeaturesAll column order.
type Table struct {
	Columns     []string
	Categorical []string
	IDs         []string
	Rows        [][]any
	// Labels is nil for scoring tables.
	Labels []int
	// DefaultedTargets counts rows whose absent target was set to 0.
	DefaultedTargets int
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// ScoringTable builds a table without labels.
func ScoringTable(vectors []model.FeatureVector) Table {
	t := newTable(len(vectors))
	for _, v := range vectors {
		t.IDs = append(t.IDs, v.MemberID)
		t.Rows = append(t.Rows, Row(v))
	}
	return t
}

// TrainingTable builds a labelled table. Rows without a target are labelled 0
// and counted in DefaultedTargets.
func TrainingTable(vectors []model.FeatureVector) Table {
	t := ScoringTable(vectors)
	t.Labels = make([]int, len(vectors))
	for i, v := range vectors {
		label, ok := v.Churn.Get()
		if !ok {
			t.DefaultedTargets++
		}
		t.Labels[i] = label
	}
	return t
}

func newTable(n int) Table {
	return Table{
		Columns:     FeaturesAll,
		Categorical: CategoricalFeatures,
		IDs:         make([]string, 0, n),
		Rows:        make([][]any, 0, n),
	}
}
