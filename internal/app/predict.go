package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/churngym/internal/adapters/tracking"
	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/logger"
	"github.com/okian/churngym/pkg/metrics"
)

// Predict scores the whole dataset as one tracked run.
func (s *Service) Predict(ctx context.Context) (preds []model.Prediction, err error) {
	raw, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if s.tracker == nil {
		return s.predict(ctx, raw, uuid.NewString())
	}

	if _, err := s.tracker.SetupExperiment(ctx, s.experiment); err != nil {
		return nil, err
	}
	runID, err := s.tracker.StartRun(ctx, tracking.RunName("PREDICT", s.now()), false)
	if err != nil {
		return nil, err
	}
	defer func() {
		status := tracking.StatusFinished
		if err != nil {
			status = tracking.StatusFailed
		}
		if endErr := s.tracker.EndRun(context.WithoutCancel(ctx), status); endErr != nil && err == nil {
			err = endErr
		}
	}()

	preds, err = s.predict(ctx, raw, runID)
	if err != nil {
		return nil, err
	}
	if err := s.tracker.LogMetrics(ctx, riskCounts(preds)); err != nil {
		return nil, err
	}
	return preds, nil
}

// PredictRecords scores raw records submitted by a caller. Each call gets its
// own batch id as run id.
func (s *Service) PredictRecords(ctx context.Context, raw []model.RawMemberRecord) ([]model.Prediction, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyDataset
	}
	return s.predict(ctx, raw, uuid.NewString())
}

func (s *Service) predict(ctx context.Context, raw []model.RawMemberRecord, runID string) ([]model.Prediction, error) {
	if s.predictor == nil {
		return nil, fmt.Errorf("%w: predictor", ErrNotConfigured)
	}
	start := time.Now()

	vectors, err := s.Derive(ctx, raw)
	if err != nil {
		return nil, err
	}
	scores, err := s.predictor.Score(ctx, vectors)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(vectors) {
		return nil, fmt.Errorf("%w: %d scores for %d rows", ErrScoreMismatch, len(scores), len(vectors))
	}

	now := s.now()
	preds := make([]model.Prediction, len(vectors))
	for i, v := range vectors {
		preds[i] = s.decider.Predict(v.MemberID, scores[i], runID, now)
		metrics.RecordPrediction(preds[i].RiskLevel.String(), strconv.Itoa(preds[i].ChurnLabel))
	}

	if s.store != nil {
		if err := s.store.Save(ctx, preds); err != nil {
			return nil, err
		}
	}
	if s.notifier != nil {
		// Alert delivery never fails a prediction.
		if err := s.notifier.NotifyHighRisk(ctx, preds); err != nil {
			metrics.RecordErrorByComponent("notify", "alert_failed")
			s.logger.Warn(ctx, "high-risk alert failed", logger.String("run_id", runID), logger.Error(err))
		}
	}

	metrics.RecordStageLatency("predict", float64(time.Since(start).Microseconds())/1000)
	s.logger.Info(ctx, "predictions made",
		logger.String("run_id", runID),
		logger.Int("rows", len(preds)),
	)
	return preds, nil
}

func riskCounts(preds []model.Prediction) map[string]float64 {
	counts := map[string]float64{
		"predicted_rows": float64(len(preds)),
		"churn_labelled": 0,
	}
	for _, r := range []model.RiskLevel{model.RiskLow, model.RiskMedium, model.RiskHigh} {
		counts["risk_"+r.String()] = 0
	}
	for _, p := range preds {
		counts["risk_"+p.RiskLevel.String()]++
		counts["churn_labelled"] += float64(p.ChurnLabel)
	}
	return counts
}
