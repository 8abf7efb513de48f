package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/okian/churngym/internal/domain/features"
	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/logger"
	"github.com/okian/churngym/pkg/metrics"
)

// Scorer request outcomes.
const (
	outcomeSuccess = "success"
	outcomeRetry   = "retry"
	outcomeFailure = "failure"
)

const maxErrorBody = 512

// table is the wire form of a feature table. Rows follow Columns order.
type table struct {
	Columns     []string `json:"columns"`
	Categorical []string `json:"categorical"`
	Rows        [][]any  `json:"rows"`
}

type trainRequest struct {
	table
	Labels    []int          `json:"labels"`
	Params    map[string]any `json:"params,omitempty"`
	ModelName string         `json:"model_name"`
}

type trainResponse struct {
	ModelPath    string                    `json:"model_path"`
	FeatureNames []string                  `json:"feature_names"`
	Importances  []model.FeatureImportance `json:"importances"`
	Curves       map[string][]float64      `json:"curves"`
}

type predictRequest struct {
	table
	ModelPath string `json:"model_path,omitempty"`
}

type predictResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

// statusError is a non-2xx answer from the scoring service.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("scorer returned %d: %s", e.code, e.body)
}

// client posts JSON to the scoring service. Network errors and 5xx answers
// are retried; 4xx answers are not.
type client struct {
	baseURL string
	opts    options
}

func newClient(baseURL string, opts []Option) client {
	return client{baseURL: strings.TrimSuffix(baseURL, "/"), opts: newOptions(opts)}
}

func (c client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordScorerRequest(outcomeRetry)
			c.opts.log.Warn(ctx, "retrying scorer request",
				logger.String("path", path),
				logger.Int("attempt", attempt),
				logger.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opts.backoff * time.Duration(attempt)):
			}
		}

		lastErr = c.do(ctx, path, body, out)
		if lastErr == nil {
			metrics.RecordScorerRequest(outcomeSuccess)
			return nil
		}
		if !retryable(ctx, lastErr) {
			break
		}
	}
	metrics.RecordScorerRequest(outcomeFailure)
	metrics.RecordErrorByComponent("scoring", "request")
	return lastErr
}

func (c client) do(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= http.StatusInternalServerError
	}
	return true
}

// HTTPTrainer trains models on an external scoring service.
type HTTPTrainer struct {
	client
}

// NewHTTPTrainer creates a trainer for the service at baseURL.
func NewHTTPTrainer(baseURL string, opts ...Option) *HTTPTrainer {
	return &HTTPTrainer{client: newClient(baseURL, opts)}
}

// Train posts the labelled table to /train. The service must report the
// same feature names it was sent.
func (t *HTTPTrainer) Train(ctx context.Context, name string, tbl features.Table) (model.ModelArtifact, error) {
	if tbl.Len() == 0 || len(tbl.Labels) != tbl.Len() {
		return model.ModelArtifact{}, fmt.Errorf("%w: %d rows with %d labels", ErrTrain, tbl.Len(), len(tbl.Labels))
	}
	start := time.Now()

	req := trainRequest{
		table:     table{Columns: tbl.Columns, Categorical: tbl.Categorical, Rows: tbl.Rows},
		Labels:    tbl.Labels,
		Params:    t.opts.params,
		ModelName: strings.ToLower(name),
	}
	var resp trainResponse
	if err := t.post(ctx, "/train", req, &resp); err != nil {
		return model.ModelArtifact{}, fmt.Errorf("%w: %w", ErrTrain, err)
	}

	if len(resp.FeatureNames) == 0 {
		resp.FeatureNames = tbl.Columns
	}
	if !slices.Equal(resp.FeatureNames, tbl.Columns) {
		return model.ModelArtifact{}, fmt.Errorf("%w: trained on %v, sent %v", ErrFeatureMismatch, resp.FeatureNames, tbl.Columns)
	}
	sortImportances(resp.Importances)

	numerical := make([]string, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		if !slices.Contains(tbl.Categorical, col) {
			numerical = append(numerical, col)
		}
	}

	metrics.RecordStageLatency("train", float64(time.Since(start).Microseconds())/1000)
	t.opts.log.Info(ctx, "remote model trained", logger.String("model_path", resp.ModelPath), logger.Int("rows", tbl.Len()))

	return model.ModelArtifact{
		ModelPath:           resp.ModelPath,
		NumericalFeatures:   numerical,
		CategoricalFeatures: slices.Clone(tbl.Categorical),
		FeatureNames:        resp.FeatureNames,
		Importances:         resp.Importances,
		Curves:              resp.Curves,
		TrainedAt:           t.opts.now().UTC(),
	}, nil
}

// HTTPPredictor scores feature vectors on an external scoring service.
type HTTPPredictor struct {
	client
}

// NewHTTPPredictor creates a predictor for the service at baseURL. The model
// is chosen with WithModelPath; without it the service uses its default.
func NewHTTPPredictor(baseURL string, opts ...Option) *HTTPPredictor {
	return &HTTPPredictor{client: newClient(baseURL, opts)}
}

// Score posts the scoring table to /predict and returns one probability per
// vector, in input order.
func (p *HTTPPredictor) Score(ctx context.Context, vectors []model.FeatureVector) ([]float64, error) {
	if len(vectors) == 0 {
		return []float64{}, nil
	}
	start := time.Now()

	tbl := features.ScoringTable(vectors)
	req := predictRequest{
		table:     table{Columns: tbl.Columns, Categorical: tbl.Categorical, Rows: tbl.Rows},
		ModelPath: p.opts.modelPath,
	}
	var resp predictResponse
	if err := p.post(ctx, "/predict", req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPredict, err)
	}

	if len(resp.Probabilities) != len(vectors) {
		return nil, fmt.Errorf("%w: got %d probabilities for %d rows", ErrPredict, len(resp.Probabilities), len(vectors))
	}
	for i, v := range resp.Probabilities {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: probability %g for %s out of range", ErrPredict, v, tbl.IDs[i])
		}
	}

	metrics.RecordStageLatency("score", float64(time.Since(start).Microseconds())/1000)
	return resp.Probabilities, nil
}
