package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/churngym/internal/domain/features"
	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/logger"
	"github.com/okian/churngym/pkg/metrics"
)

// Baseline hyperparameter defaults.
const (
	defaultIterations   = 200
	defaultLearningRate = 0.1
	logLossEpsilon      = 1e-12
	importanceTotal     = 100
	modelDirPerm        = 0o750
	modelFilePerm       = 0o600
	// CurveLogLoss is the per-iteration training loss curve.
	CurveLogLoss = "Logloss"
)

// BaselineScorer scores feature vectors with a local logistic model.
type BaselineScorer struct {
	model linearModel
	log   logger.Logger
}

// NewBaselineScorer creates a scorer. With WithModelPath the model is loaded
// from a file written by BaselineTrainer; otherwise a fixed prior is used,
// optionally overridden by WithWeights.
func NewBaselineScorer(opts ...Option) (*BaselineScorer, error) {
	o := newOptions(opts)
	s := &BaselineScorer{model: priorModel(), log: o.log}

	if o.modelPath != "" {
		m, err := loadModel(o.modelPath)
		if err != nil {
			return nil, err
		}
		s.model = m
	} else if o.hasWeights {
		s.model.Weights = o.weights
		s.model.Bias = o.bias
	}
	return s, nil
}

// Score returns one churn probability per vector, in input order.
func (s *BaselineScorer) Score(ctx context.Context, vectors []model.FeatureVector) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPredict, err)
	}
	start := time.Now()

	table := features.ScoringTable(vectors)
	if err := s.model.check(table.Columns); err != nil {
		return nil, err
	}
	out := make([]float64, table.Len())
	for i, row := range table.Rows {
		p, err := s.model.probability(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = p
	}

	metrics.RecordStageLatency("score", float64(time.Since(start).Microseconds())/1000)
	s.log.Debug(ctx, "baseline scored", logger.Int("rows", len(out)))
	return out, nil
}

// BaselineTrainer fits a logistic model by batch gradient descent. Numeric
// columns are standardized, missing values are imputed with the column mean
// and categorical columns are one-hot encoded.
type BaselineTrainer struct {
	dir  string
	opts options
}

// NewBaselineTrainer creates a trainer that writes models under dir.
// Recognized params: iterations, learning_rate, l2.
func NewBaselineTrainer(dir string, opts ...Option) *BaselineTrainer {
	return &BaselineTrainer{dir: dir, opts: newOptions(opts)}
}

// Train fits a model on table and saves it as <dir>/<name>.json, with name
// lower-cased.
func (t *BaselineTrainer) Train(ctx context.Context, name string, table features.Table) (model.ModelArtifact, error) {
	if table.Len() == 0 {
		return model.ModelArtifact{}, fmt.Errorf("%w: empty training table", ErrTrain)
	}
	if len(table.Labels) != table.Len() {
		return model.ModelArtifact{}, fmt.Errorf("%w: %d labels for %d rows", ErrTrain, len(table.Labels), table.Len())
	}
	start := time.Now()

	iterations := int(param(t.opts.params, "iterations", defaultIterations))
	lr := param(t.opts.params, "learning_rate", defaultLearningRate)
	l2 := param(t.opts.params, "l2", 0)
	if iterations <= 0 || lr <= 0 || l2 < 0 {
		return model.ModelArtifact{}, fmt.Errorf("%w: invalid params iterations=%d learning_rate=%g l2=%g", ErrTrain, iterations, lr, l2)
	}

	m, keys, x := encode(table)
	y := make([]float64, len(table.Labels))
	for i, label := range table.Labels {
		y[i] = float64(label)
	}

	w := make([]float64, len(keys))
	grad := make([]float64, len(keys))
	var bias float64
	curve := make([]float64, 0, iterations)
	n := float64(len(x))

	for it := 0; it < iterations; it++ {
		if err := ctx.Err(); err != nil {
			return model.ModelArtifact{}, fmt.Errorf("%w: %w", ErrTrain, err)
		}
		clear(grad)
		var gradBias, loss float64
		for i, row := range x {
			z := bias
			for j, v := range row {
				z += w[j] * v
			}
			p := sigmoid(z)
			loss -= y[i]*math.Log(p+logLossEpsilon) + (1-y[i])*math.Log(1-p+logLossEpsilon)
			diff := p - y[i]
			for j, v := range row {
				grad[j] += diff * v
			}
			gradBias += diff
		}
		curve = append(curve, loss/n)
		for j := range w {
			w[j] -= lr * (grad[j]/n + l2*w[j])
		}
		bias -= lr * gradBias / n

		if (it+1)%50 == 0 {
			t.opts.log.Debug(ctx, "training progress", logger.Int("iteration", it+1), logger.Float64("logloss", loss/n))
		}
	}

	m.Bias = bias
	for j, k := range keys {
		m.Weights[k] = w[j]
	}
	if !m.finite() {
		return model.ModelArtifact{}, fmt.Errorf("%w: training diverged; lower learning_rate", ErrTrain)
	}

	path, err := t.save(name, m)
	if err != nil {
		return model.ModelArtifact{}, err
	}

	numerical := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		if !slices.Contains(table.Categorical, col) {
			numerical = append(numerical, col)
		}
	}

	metrics.RecordStageLatency("train", float64(time.Since(start).Microseconds())/1000)
	t.opts.log.Info(ctx, "baseline model trained",
		logger.String("model_path", path),
		logger.Int("rows", table.Len()),
		logger.Int("iterations", iterations),
		logger.Float64("final_logloss", curve[len(curve)-1]))

	return model.ModelArtifact{
		ModelPath:           path,
		NumericalFeatures:   numerical,
		CategoricalFeatures: slices.Clone(table.Categorical),
		FeatureNames:        slices.Clone(table.Columns),
		Importances:         importances(m, table),
		Curves:              map[string][]float64{CurveLogLoss: curve},
		TrainedAt:           t.opts.now().UTC(),
	}, nil
}

func (t *BaselineTrainer) save(name string, m linearModel) (string, error) {
	if err := os.MkdirAll(t.dir, modelDirPerm); err != nil {
		return "", fmt.Errorf("%w: create model dir: %w", ErrTrain, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode model: %w", ErrTrain, err)
	}
	path := filepath.Join(t.dir, strings.ToLower(name)+".json")
	if err := os.WriteFile(path, data, modelFilePerm); err != nil {
		return "", fmt.Errorf("%w: write model: %w", ErrTrain, err)
	}
	return path, nil
}

// encode fits the standardization and vocabulary on table and returns the
// design matrix with its column keys.
func encode(table features.Table) (linearModel, []string, [][]float64) {
	m := linearModel{
		Columns:     slices.Clone(table.Columns),
		Categorical: slices.Clone(table.Categorical),
		Weights:     make(map[string]float64),
		Means:       make(map[string]float64),
		Scales:      make(map[string]float64),
	}

	var keys []string
	var levels []string
	for i, col := range table.Columns {
		if slices.Contains(table.Categorical, col) {
			seen := make(map[string]struct{})
			for _, row := range table.Rows {
				seen[level(col, row[i])] = struct{}{}
			}
			for k := range seen {
				levels = append(levels, k)
			}
			continue
		}
		m.Means[col], m.Scales[col] = moments(table.Rows, i)
		keys = append(keys, col)
	}
	sort.Strings(levels)
	keys = append(keys, levels...)

	index := make(map[string]int, len(keys))
	for j, k := range keys {
		index[k] = j
	}

	x := make([][]float64, len(table.Rows))
	for r, row := range table.Rows {
		x[r] = make([]float64, len(keys))
		for i, col := range table.Columns {
			if slices.Contains(table.Categorical, col) {
				x[r][index[level(col, row[i])]] = 1
				continue
			}
			x[r][index[col]] = m.standardize(col, row[i])
		}
	}
	return m, keys, x
}

// moments returns the mean and standard deviation of column i using a
// running mean, skipping missing values. Columns whose spread overflows fall
// back to a zero mean scaled by the largest magnitude.
func moments(rows [][]any, i int) (mean, scale float64) {
	var m2, maxAbs float64
	var count int
	for _, row := range rows {
		v, ok := row[i].(float64)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		count++
		delta := v - mean
		mean += delta / float64(count)
		m2 += delta * (v - mean)
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}

	scale = 1
	if count > 1 && m2 > 0 {
		scale = math.Sqrt(m2 / float64(count))
	}
	if math.IsNaN(mean) || math.IsInf(mean, 0) || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return 0, math.Max(maxAbs, 1)
	}
	return mean, scale
}

// importances sums absolute weights per source column and scales them to a
// total of 100, sorted descending.
func importances(m linearModel, table features.Table) []model.FeatureImportance {
	raw := make(map[string]float64, len(table.Columns))
	var total float64
	for k, w := range m.Weights {
		col, _, _ := strings.Cut(k, "=")
		raw[col] += math.Abs(w)
		total += math.Abs(w)
	}

	out := make([]model.FeatureImportance, 0, len(table.Columns))
	for _, col := range table.Columns {
		v := raw[col]
		if total > 0 {
			v = v / total * importanceTotal
		}
		out = append(out, model.FeatureImportance{Feature: col, Importance: v})
	}
	sortImportances(out)
	return out
}

func sortImportances(imp []model.FeatureImportance) {
	sort.SliceStable(imp, func(i, j int) bool {
		if imp[i].Importance != imp[j].Importance {
			return imp[i].Importance > imp[j].Importance
		}
		return imp[i].Feature < imp[j].Feature
	})
}

// param reads a numeric hyperparameter. Config layers may deliver numbers as
// ints, floats or strings.
func param(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}
