package model

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel is the coarse churn risk tier of a member.
type RiskLevel struct {
	value string
}

var (
	RiskLow    = RiskLevel{"low"}
	RiskMedium = RiskLevel{"medium"}
	RiskHigh   = RiskLevel{"high"}
)

// RiskLevelFromString parses a tier name case-insensitively.
func RiskLevelFromString(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return RiskLevel{}, fmt.Errorf("unknown risk level: %q", s)
	}
}

func (r RiskLevel) String() string { return r.value }

// IsZero reports whether r is the unset tier.
func (r RiskLevel) IsZero() bool { return r.value == "" }

func (r RiskLevel) Equal(other RiskLevel) bool { return r.value == other.value }

// MarshalText implements encoding.TextMarshaler.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLevel) UnmarshalText(text []byte) error {
	level, err := RiskLevelFromString(string(text))
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// Prediction is the decision recorded for one member. It is never rewritten.
type Prediction struct {
	MemberID         string    `json:"member_id" yaml:"member_id"`
	ChurnProbability float64   `json:"churn_probability" yaml:"churn_probability"`
	ChurnLabel       int       `json:"churn_label" yaml:"churn_label"`
	RiskLevel        RiskLevel `json:"risk_level" yaml:"risk_level"`
	ThresholdUsed    float64   `json:"threshold_used" yaml:"threshold_used"`
	RunID            string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	PredictedAt      time.Time `json:"predicted_at" yaml:"predicted_at"`
}
