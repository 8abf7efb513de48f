package main

import (
	"context"
	"strings"
	"time"

	"github.com/okian/churngym/internal/adapters/dataset"
	"github.com/okian/churngym/internal/adapters/notify"
	"github.com/okian/churngym/internal/adapters/repository"
	"github.com/okian/churngym/internal/adapters/scoring"
	"github.com/okian/churngym/internal/adapters/tracking"
	service "github.com/okian/churngym/internal/app"
	"github.com/okian/churngym/internal/config"
	"github.com/okian/churngym/internal/domain/decision"
	"github.com/okian/churngym/internal/domain/features"
	"github.com/okian/churngym/internal/domain/preprocess"
)

const scorerBackoff = 500 * time.Millisecond

// newService builds a Service with the pipeline stages every command shares.
func (a *app) newService(extra ...service.Option) (*service.Service, error) {
	normalizer, err := preprocess.New(preprocess.Kind(a.cfg.Preprocessing))
	if err != nil {
		return nil, err
	}
	cfg, err := a.cfg.Decision()
	if err != nil {
		return nil, err
	}

	opts := []service.Option{
		service.WithLogger(a.log.Named("service")),
		service.WithNormalizer(normalizer),
		service.WithDeriver(features.NewDeriver(
			features.WithWorkers(a.cfg.FeatureWorkers),
			features.WithLogger(a.log.Named("features")),
		)),
		service.WithDecider(decision.NewService(cfg)),
		service.WithExperiment(a.cfg.ExperimentName),
		service.WithModelParams(a.cfg.ModelParams),
	}
	return service.New(append(opts, extra...)...), nil
}

func (a *app) dataset(path string) *dataset.CSVRepository {
	if path == "" {
		path = a.cfg.DatasetPath
	}
	return dataset.NewCSVRepository(path, dataset.WithLogger(a.log.Named("dataset")))
}

func (a *app) scoringOptions(modelPath string) []scoring.Option {
	opts := []scoring.Option{
		scoring.WithLogger(a.log.Named("scoring")),
		scoring.WithTimeout(a.cfg.ScorerTimeout()),
		scoring.WithRetry(a.cfg.ScorerMaxRetries, scorerBackoff),
		scoring.WithParams(a.cfg.ModelParams),
	}
	if modelPath == "" {
		modelPath = a.cfg.ModelPath
	}
	if modelPath != "" {
		opts = append(opts, scoring.WithModelPath(modelPath))
	}
	return opts
}

func (a *app) predictor(modelPath string) (service.ModelPredictor, error) {
	if strings.EqualFold(a.cfg.Scorer, config.ScorerHTTP) {
		return scoring.NewHTTPPredictor(a.cfg.ScorerURL, a.scoringOptions(modelPath)...), nil
	}
	return scoring.NewBaselineScorer(a.scoringOptions(modelPath)...)
}

func (a *app) trainer(modelDir string) service.ModelTrainer {
	if strings.EqualFold(a.cfg.Scorer, config.ScorerHTTP) {
		return scoring.NewHTTPTrainer(a.cfg.ScorerURL, a.scoringOptions("")...)
	}
	return scoring.NewBaselineTrainer(modelDir, a.scoringOptions("")...)
}

func (a *app) tracker(ctx context.Context) (*tracking.SQLiteTracker, error) {
	return tracking.New(ctx, a.cfg.TrackingDSN, a.cfg.ArtifactRoot, tracking.WithLogger(a.log.Named("tracking")))
}

func (a *app) store(ctx context.Context) (*repository.SQLiteStore, error) {
	return repository.NewSQLiteStore(ctx, a.cfg.PredictionsDSN, repository.WithLogger(a.log.Named("repository")))
}

// notifier returns nil when alerts are disabled.
func (a *app) notifier() (*notify.TelegramNotifier, error) {
	if !a.cfg.TelegramEnabled {
		return nil, nil
	}
	return notify.NewTelegramNotifier(a.cfg.TelegramToken, a.cfg.TelegramChatID,
		notify.WithLogger(a.log.Named("telegram")),
		notify.WithLimit(a.cfg.AlertLimit),
	)
}
