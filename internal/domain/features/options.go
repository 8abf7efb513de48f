package features

import (
	"time"

	"github.com/okian/churngym/pkg/logger"
)

// Option applies a configuration option to the Deriver.
type Option func(*Deriver)

// WithClock sets the source of the current date used for recency features.
func WithClock(now func() time.Time) Option {
	return func(d *Deriver) {
		if now != nil {
			d.now = now
		}
	}
}

// WithWorkers sets how many chunks are derived in parallel.
func WithWorkers(n int) Option {
	return func(d *Deriver) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Deriver) {
		if l != nil {
			d.log = l
		}
	}
}
