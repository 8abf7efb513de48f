// Package config defines process configuration and its loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Loading layers a YAML file and CHURNGYM_* env vars over the defaults.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/okian/churngym/internal/domain/decision"
	"github.com/okian/churngym/internal/domain/preprocess"
)

// Scorer kinds.
const (
	ScorerBaseline = "baseline"
	ScorerHTTP     = "http"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`
	// LogFile adds a JSON log file next to the console output when set.
	LogFile string `koanf:"log_file"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DatasetPath is the member CSV read by the batch commands.
	DatasetPath string `koanf:"dataset_path"`

	// Preprocessing selects the normalizer variant: robust or basic.
	Preprocessing string `koanf:"preprocessing"`

	// FeatureWorkers sets how many goroutines derive features.
	FeatureWorkers int `koanf:"feature_workers"`

	Threshold  float64 `koanf:"threshold"`
	MediumRisk float64 `koanf:"medium_risk"`
	HighRisk   float64 `koanf:"high_risk"`

	// TrackingDSN is the SQLite database holding experiments and runs.
	TrackingDSN string `koanf:"tracking_dsn"`
	// ArtifactRoot is where run artifacts and trained models are written.
	ArtifactRoot   string `koanf:"artifact_root"`
	ExperimentName string `koanf:"experiment_name"`

	// PredictionsDSN is the SQLite database holding scored members.
	PredictionsDSN string `koanf:"predictions_dsn"`

	// Scorer selects the model backend: baseline or http.
	Scorer           string `koanf:"scorer"`
	ScorerURL        string `koanf:"scorer_url"`
	ScorerTimeoutMS  int    `koanf:"scorer_timeout_ms"`
	ScorerMaxRetries int    `koanf:"scorer_max_retries"`
	// ModelPath selects a trained model for scoring. Empty uses the
	// baseline prior or the remote service default.
	ModelPath string `koanf:"model_path"`
	// ModelParams is passed to the trainer and logged as run params.
	ModelParams map[string]any `koanf:"model_params"`

	TelegramEnabled bool   `koanf:"telegram_enabled"`
	TelegramToken   string `koanf:"telegram_token"`
	TelegramChatID  string `koanf:"telegram_chat_id"`
	// AlertLimit caps how many members one alert lists.
	AlertLimit int `koanf:"alert_limit"`
	// AlertWorkers and AlertQueueSize size the background alert pool of serve.
	AlertWorkers   int `koanf:"alert_workers"`
	AlertQueueSize int `koanf:"alert_queue_size"`
	// AlertCooldownMinutes suppresses repeat alerts for the same member.
	// Zero disables suppression.
	AlertCooldownMinutes int `koanf:"alert_cooldown_minutes"`
	AlertDedupeSize      int `koanf:"alert_dedupe_size"`

	// MaxAtRiskLimit caps GET /at-risk?limit.
	MaxAtRiskLimit int `koanf:"max_at_risk_limit"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		DatasetPath:      "data/members.csv",
		Preprocessing:    string(preprocess.KindRobust),
		FeatureWorkers:   runtime.NumCPU(),
		Threshold:        decision.DefaultThreshold,
		MediumRisk:       decision.DefaultMediumRisk,
		HighRisk:         decision.DefaultHighRisk,
		TrackingDSN:      "tracking.db",
		ArtifactRoot:     "mlruns",
		ExperimentName:   "churn-gym",
		PredictionsDSN:   "predictions.db",
		Scorer:           ScorerBaseline,
		ScorerTimeoutMS:  30_000,
		ScorerMaxRetries: 2,
		ModelParams: map[string]any{
			"iterations":    200,
			"learning_rate": 0.1,
		},
		AlertLimit:     10,
		AlertWorkers:   2,
		AlertQueueSize: 64,
		MaxAtRiskLimit: 100,

		AlertCooldownMinutes: 24 * 60,
		AlertDedupeSize:      10_000,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.FeatureWorkers < 1:
		return fmt.Errorf("%w: feature_workers must be at least 1", ErrInvalidConfig)
	case c.ScorerTimeoutMS < 1:
		return fmt.Errorf("%w: scorer_timeout_ms must be positive", ErrInvalidConfig)
	case c.ScorerMaxRetries < 0:
		return fmt.Errorf("%w: scorer_max_retries must not be negative", ErrInvalidConfig)
	case c.AlertLimit < 1:
		return fmt.Errorf("%w: alert_limit must be at least 1", ErrInvalidConfig)
	case c.AlertWorkers < 1:
		return fmt.Errorf("%w: alert_workers must be at least 1", ErrInvalidConfig)
	case c.AlertQueueSize < 1:
		return fmt.Errorf("%w: alert_queue_size must be at least 1", ErrInvalidConfig)
	case c.AlertCooldownMinutes < 0:
		return fmt.Errorf("%w: alert_cooldown_minutes must not be negative", ErrInvalidConfig)
	case c.AlertDedupeSize < 1:
		return fmt.Errorf("%w: alert_dedupe_size must be at least 1", ErrInvalidConfig)
	case c.MaxAtRiskLimit < 1:
		return fmt.Errorf("%w: max_at_risk_limit must be at least 1", ErrInvalidConfig)
	}
	if _, err := preprocess.New(preprocess.Kind(c.Preprocessing)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Decision(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch strings.ToLower(c.Scorer) {
	case ScorerBaseline:
	case ScorerHTTP:
		if strings.TrimSpace(c.ScorerURL) == "" {
			return fmt.Errorf("%w: scorer_url is required for the http scorer", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown scorer %q", ErrInvalidConfig, c.Scorer)
	}

	if c.TelegramEnabled && (strings.TrimSpace(c.TelegramToken) == "" || strings.TrimSpace(c.TelegramChatID) == "") {
		return fmt.Errorf("%w: telegram_token and telegram_chat_id are required when telegram is enabled", ErrInvalidConfig)
	}
	return nil
}

// Decision returns the threshold configuration.
func (c *Config) Decision() (decision.Config, error) {
	return decision.NewConfig(
		decision.WithThreshold(c.Threshold),
		decision.WithMediumRisk(c.MediumRisk),
		decision.WithHighRisk(c.HighRisk),
	)
}

// ScorerTimeout returns the scorer request timeout.
func (c *Config) ScorerTimeout() time.Duration {
	return time.Duration(c.ScorerTimeoutMS) * time.Millisecond
}
