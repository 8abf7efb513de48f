// Package synth generates synthetic gym members and replays them against a
// running churn API.
package synth

import (
	"time"

	"github.com/okian/churngym/pkg/logger"
)

// Config holds generation settings.
type Config struct {
	Rows    int       // Number of members to generate
	Seed    uint64    // Same seed, same members
	Workers int       // Number of concurrent generators
	Missing float64   // Probability that an optional field is left blank
	Now     time.Time // Reference date for join and visit dates
	// Unlabelled omits the churn column, as in inference data.
	Unlabelled bool
	Logger     logger.Logger
}

// SubmitConfig holds replay settings.
type SubmitConfig struct {
	BaseURL   string        // Base URL of the service
	BatchSize int           // Members per POST /predict
	Workers   int           // Number of concurrent submitters
	Timeout   time.Duration // HTTP request timeout
	TopN      int           // Number of at-risk members fetched after the replay
	Logger    logger.Logger
}

// Stats summarizes a replay.
type Stats struct {
	Generated   int           `json:"generated" yaml:"generated"`
	Batches     int           `json:"batches" yaml:"batches"`
	Failed      int           `json:"failed_batches" yaml:"failed_batches"`
	Predictions int           `json:"predictions" yaml:"predictions"`
	HighRisk    int           `json:"high_risk" yaml:"high_risk"`
	AtRisk      []AtRiskEntry `json:"at_risk" yaml:"at_risk"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}

// AtRiskEntry is one row of GET /at-risk.
type AtRiskEntry struct {
	Rank             int     `json:"rank" yaml:"rank"`
	MemberID         string  `json:"member_id" yaml:"member_id"`
	ChurnProbability float64 `json:"churn_probability" yaml:"churn_probability"`
	RiskLevel        string  `json:"risk_level" yaml:"risk_level"`
}

func orNop(l logger.Logger) logger.Logger {
	if l == nil {
		return logger.Nop()
	}
	return l
}
