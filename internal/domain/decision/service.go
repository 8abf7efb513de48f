package decision

import (
	"time"

	"github.com/okian/churngym/internal/domain/model"
)

// Risk tiers, re-exported for callers that only deal with decisions.
var (
	RiskLow    = model.RiskLow
	RiskMedium = model.RiskMedium
	RiskHigh   = model.RiskHigh
)

// Decision is the outcome for a single probability.
type Decision struct {
	Label         int
	Risk          model.RiskLevel
	ThresholdUsed float64
}

// Service applies a fixed Config. It is stateless and safe for concurrent use.
type Service struct {
	cfg Config
}

// NewService creates a decision service for cfg.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// Config returns the configuration in effect.
func (s *Service) Config() Config { return s.cfg }

// Decide labels p and assigns its tier. The label and the tier are computed
// independently; p is not range checked.
func (s *Service) Decide(p float64) Decision {
	label := 0
	if p >= s.cfg.Threshold {
		label = 1
	}

	risk := RiskLow
	switch {
	case p >= s.cfg.HighRisk:
		risk = RiskHigh
	case p >= s.cfg.MediumRisk:
		risk = RiskMedium
	}

	return Decision{Label: label, Risk: risk, ThresholdUsed: s.cfg.Threshold}
}

// Predict decides p and records it for memberID.
func (s *Service) Predict(memberID string, p float64, runID string, now time.Time) model.Prediction {
	d := s.Decide(p)
	return model.Prediction{
		MemberID:         memberID,
		ChurnProbability: p,
		ChurnLabel:       d.Label,
		RiskLevel:        d.Risk,
		ThresholdUsed:    d.ThresholdUsed,
		RunID:            runID,
		PredictedAt:      now.UTC(),
	}
}
