package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/okian/churngym/internal/adapters/dataset"
	"github.com/okian/churngym/internal/adapters/tracking"
	"github.com/okian/churngym/internal/domain/features"
	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/logger"
	"github.com/okian/churngym/pkg/metrics"
)

// TrainResult is the outcome of a training run.
type TrainResult struct {
	RunID            string              `json:"run_id" yaml:"run_id"`
	RunName          string              `json:"run_name" yaml:"run_name"`
	Rows             int                 `json:"rows" yaml:"rows"`
	DefaultedTargets int                 `json:"defaulted_targets" yaml:"defaulted_targets"`
	Artifact         model.ModelArtifact `json:"artifact" yaml:"artifact"`
}

// Train builds the training table, fits the model and records the run.
// The run ends FAILED when any step after it started fails.
func (s *Service) Train(ctx context.Context) (_ TrainResult, err error) {
	if s.trainer == nil {
		return TrainResult{}, fmt.Errorf("%w: trainer", ErrNotConfigured)
	}
	if s.tracker == nil {
		return TrainResult{}, fmt.Errorf("%w: tracker", ErrNotConfigured)
	}
	start := time.Now()

	vectors, err := s.Features(ctx)
	if err != nil {
		return TrainResult{}, err
	}
	table := features.TrainingTable(vectors)
	if table.DefaultedTargets > 0 {
		s.logger.Warn(ctx, "rows without a churn target labelled 0",
			logger.Int("rows", table.DefaultedTargets))
	}

	if _, err := s.tracker.SetupExperiment(ctx, s.experiment); err != nil {
		return TrainResult{}, err
	}
	name := tracking.RunName("TRAIN", s.now())
	runID, err := s.tracker.StartRun(ctx, name, false)
	if err != nil {
		return TrainResult{}, err
	}
	defer func() {
		status := tracking.StatusFinished
		if err != nil {
			status = tracking.StatusFailed
			metrics.RecordErrorByComponent("train", "run_failed")
		}
		if endErr := s.tracker.EndRun(context.WithoutCancel(ctx), status); endErr != nil {
			err = errors.Join(err, endErr)
		}
	}()

	if err = s.tracker.LogParams(ctx, s.runParams(table)); err != nil {
		return TrainResult{}, err
	}

	artifact, err := s.trainer.Train(ctx, name, table)
	if err != nil {
		return TrainResult{}, err
	}
	artifact.RunID = runID

	if err = s.logCurves(ctx, artifact.Curves); err != nil {
		return TrainResult{}, err
	}
	if err = s.tracker.LogMetrics(ctx, map[string]float64{
		"rows":          float64(table.Len()),
		"positive_rate": positiveRate(table.Labels),
	}); err != nil {
		return TrainResult{}, err
	}
	if err = s.logArtifacts(ctx, runID, table, artifact); err != nil {
		return TrainResult{}, err
	}

	metrics.RecordStageLatency("train", float64(time.Since(start).Microseconds())/1000)
	s.logger.Info(ctx, "training finished",
		logger.String("run", name),
		logger.String("run_id", runID),
		logger.String("model_path", artifact.ModelPath),
		logger.Duration("elapsed", time.Since(start)),
	)
	return TrainResult{
		RunID:            runID,
		RunName:          name,
		Rows:             table.Len(),
		DefaultedTargets: table.DefaultedTargets,
		Artifact:         artifact,
	}, nil
}

func (s *Service) runParams(table features.Table) map[string]any {
	cfg := s.decider.Config()
	params := make(map[string]any, len(s.params)+6)
	for k, v := range s.params {
		params[k] = v
	}
	params["threshold"] = cfg.Threshold
	params["medium_risk"] = cfg.MediumRisk
	params["high_risk"] = cfg.HighRisk
	params["rows"] = table.Len()
	params["features"] = len(table.Columns)
	params["defaulted_targets"] = table.DefaultedTargets
	return params
}

func (s *Service) logCurves(ctx context.Context, curves map[string][]float64) error {
	names := make([]string, 0, len(curves))
	for k := range curves {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, metric := range names {
		key := "train_" + strings.ToLower(metric)
		for step, v := range curves[metric] {
			if err := s.tracker.LogMetric(ctx, key, v, step); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) logArtifacts(ctx context.Context, runID string, table features.Table, artifact model.ModelArtifact) error {
	dir := filepath.Join(s.workDir, runID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("stage artifacts: %w", err)
	}
	defer os.RemoveAll(dir)

	tablePath := filepath.Join(dir, "features.csv")
	if err := writeFile(tablePath, func(f *os.File) error { return dataset.WriteTable(f, table) }); err != nil {
		return err
	}
	if err := s.tracker.LogArtifact(ctx, tablePath); err != nil {
		return err
	}

	if len(artifact.Importances) > 0 {
		impPath := filepath.Join(dir, "feature_importances.csv")
		if err := writeFile(impPath, func(f *os.File) error { return dataset.WriteImportances(f, artifact.Importances) }); err != nil {
			return err
		}
		if err := s.tracker.LogArtifact(ctx, impPath); err != nil {
			return err
		}
	}

	// Remote trainers may report a path that only exists on their side.
	if _, err := os.Stat(artifact.ModelPath); err == nil {
		if err := s.tracker.LogArtifact(ctx, artifact.ModelPath); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func positiveRate(labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	pos := 0
	for _, l := range labels {
		pos += l
	}
	return float64(pos) / float64(len(labels))
}
