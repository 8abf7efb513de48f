// Package service provides the churn use cases on top of the domain
// pipeline and implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/okian/churngym/internal/adapters/repository"
	"github.com/okian/churngym/internal/domain/decision"
	"github.com/okian/churngym/internal/domain/features"
	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/internal/domain/preprocess"
	"github.com/okian/churngym/pkg/logger"
)

// DatasetRepository loads raw member records.
type DatasetRepository interface {
	LoadRaw(ctx context.Context) ([]model.RawMemberRecord, error)
}

// ModelTrainer fits a model on a labelled table. name identifies the run.
type ModelTrainer interface {
	Train(ctx context.Context, name string, table features.Table) (model.ModelArtifact, error)
}

// ModelPredictor returns one churn probability per vector, in order.
type ModelPredictor interface {
	Score(ctx context.Context, vectors []model.FeatureVector) ([]float64, error)
}

// ExperimentTracker records runs with their params, metrics and artifacts.
type ExperimentTracker interface {
	SetupExperiment(ctx context.Context, name string) (string, error)
	StartRun(ctx context.Context, name string, nested bool) (string, error)
	EndRun(ctx context.Context, status string) error
	LogParams(ctx context.Context, params map[string]any) error
	LogMetrics(ctx context.Context, values map[string]float64) error
	LogMetric(ctx context.Context, key string, value float64, step int) error
	LogArtifact(ctx context.Context, path string) error
	ActiveRun() (string, bool)
}

// PredictionStore persists predictions and ranks members.
type PredictionStore interface {
	Save(ctx context.Context, predictions []model.Prediction) error
	Get(ctx context.Context, memberID string) (model.Prediction, error)
	TopN(ctx context.Context, n int) ([]repository.Entry, error)
	Count(ctx context.Context) (int, error)
}

// Notifier alerts about high-risk members.
type Notifier interface {
	NotifyHighRisk(ctx context.Context, predictions []model.Prediction) error
}

// Service runs the feature, training and prediction use cases.
type Service struct {
	dataset    DatasetRepository
	normalizer preprocess.Pipeline
	deriver    features.Pipeline
	decider    *decision.Service
	trainer    ModelTrainer
	predictor  ModelPredictor
	tracker    ExperimentTracker
	store      PredictionStore
	notifier   Notifier

	experiment string
	params     map[string]any
	workDir    string
	now        func() time.Time
	logger     logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDataset sets the source of raw records for the batch use cases.
func WithDataset(d DatasetRepository) Option {
	return func(s *Service) { s.dataset = d }
}

// WithNormalizer sets the preprocessing pipeline.
func WithNormalizer(p preprocess.Pipeline) Option {
	return func(s *Service) {
		if p != nil {
			s.normalizer = p
		}
	}
}

// WithDeriver sets the feature pipeline.
func WithDeriver(p features.Pipeline) Option {
	return func(s *Service) {
		if p != nil {
			s.deriver = p
		}
	}
}

// WithDecider sets the threshold and risk tier policy.
func WithDecider(d *decision.Service) Option {
	return func(s *Service) {
		if d != nil {
			s.decider = d
		}
	}
}

// WithTrainer sets the model trainer.
func WithTrainer(t ModelTrainer) Option {
	return func(s *Service) { s.trainer = t }
}

// WithPredictor sets the model predictor.
func WithPredictor(p ModelPredictor) Option {
	return func(s *Service) { s.predictor = p }
}

// WithTracker sets the experiment tracker.
func WithTracker(t ExperimentTracker) Option {
	return func(s *Service) { s.tracker = t }
}

// WithStore sets the prediction store.
func WithStore(st PredictionStore) Option {
	return func(s *Service) { s.store = st }
}

// WithNotifier sets the high-risk notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithExperiment sets the experiment that training runs are recorded under.
func WithExperiment(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.experiment = name
		}
	}
}

// WithModelParams sets the params passed to the trainer and logged on the run.
func WithModelParams(params map[string]any) Option {
	return func(s *Service) { s.params = params }
}

// WithWorkDir sets the directory where artifact files are staged.
func WithWorkDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.workDir = dir
		}
	}
}

// WithClock sets the time source used for run names and prediction timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Without options it normalizes with the robust
// pipeline, derives on a single worker and decides with the default thresholds.
func New(opts ...Option) *Service {
	cfg, _ := decision.NewConfig()
	s := &Service{
		normalizer: preprocess.Robust{},
		deriver:    features.NewDeriver(),
		decider:    decision.NewService(cfg),
		experiment: "churn-gym",
		workDir:    os.TempDir(),
		now:        time.Now,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Derive normalizes raw records and derives one feature vector per record.
func (s *Service) Derive(ctx context.Context, raw []model.RawMemberRecord) ([]model.FeatureVector, error) {
	records := s.normalizer.Run(ctx, raw)
	vectors, err := s.deriver.Run(ctx, records)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// Features loads the dataset and derives its feature vectors.
func (s *Service) Features(ctx context.Context) ([]model.FeatureVector, error) {
	raw, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := s.Derive(ctx, raw)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "features built", logger.Int("rows", len(vectors)))
	return vectors, nil
}

// TopN returns the members with the highest latest churn probability.
func (s *Service) TopN(ctx context.Context, n int) ([]repository.Entry, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: prediction store", ErrNotConfigured)
	}
	return s.store.TopN(ctx, n)
}

// Latest returns the latest prediction stored for memberID.
func (s *Service) Latest(ctx context.Context, memberID string) (model.Prediction, error) {
	if s.store == nil {
		return model.Prediction{}, fmt.Errorf("%w: prediction store", ErrNotConfigured)
	}
	return s.store.Get(ctx, memberID)
}

func (s *Service) load(ctx context.Context) ([]model.RawMemberRecord, error) {
	if s.dataset == nil {
		return nil, fmt.Errorf("%w: dataset", ErrNotConfigured)
	}
	raw, err := s.dataset.LoadRaw(ctx)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptyDataset
	}
	return raw, nil
}
