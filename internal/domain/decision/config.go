// Package decision turns churn probabilities into labels and risk tiers.
package decision

import (
	"fmt"
	"math"
)

// Default threshold configuration constants.
const (
	DefaultThreshold  = 0.5
	DefaultMediumRisk = 0.35
	DefaultHighRisk   = 0.7
)

// Config holds the classification threshold and the risk tier boundaries.
type Config struct {
	Threshold  float64
	MediumRisk float64
	HighRisk   float64
}

// Option applies a configuration option to the Config.
type Option func(*Config)

// WithThreshold sets the probability at or above which a member is labelled churned.
func WithThreshold(v float64) Option {
	return func(c *Config) { c.Threshold = v }
}

// WithMediumRisk sets the lower bound of the medium tier.
func WithMediumRisk(v float64) Option {
	return func(c *Config) { c.MediumRisk = v }
}

// WithHighRisk sets the lower bound of the high tier.
func WithHighRisk(v float64) Option {
	return func(c *Config) { c.HighRisk = v }
}

// NewConfig builds a validated Config starting from the defaults.
func NewConfig(opts ...Option) (Config, error) {
	c := Config{
		Threshold:  DefaultThreshold,
		MediumRisk: DefaultMediumRisk,
		HighRisk:   DefaultHighRisk,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks that all boundaries are in [0,1] and tiers are ordered.
func (c Config) Validate() error {
	bounds := []struct {
		name  string
		value float64
	}{
		{"threshold", c.Threshold},
		{"medium_risk", c.MediumRisk},
		{"high_risk", c.HighRisk},
	}
	for _, b := range bounds {
		if math.IsNaN(b.value) || b.value < 0 || b.value > 1 {
			return fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidConfig, b.name, b.value)
		}
	}
	if c.MediumRisk > c.HighRisk {
		return fmt.Errorf("%w: medium_risk %v above high_risk %v", ErrInvalidConfig, c.MediumRisk, c.HighRisk)
	}
	return nil
}
