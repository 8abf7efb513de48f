package tracking

import (
	"time"

	"github.com/okian/churngym/pkg/logger"
)

// Option applies a configuration option to the SQLiteTracker.
type Option func(*SQLiteTracker)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(t *SQLiteTracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithClock sets the time source for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *SQLiteTracker) {
		if now != nil {
			t.now = now
		}
	}
}
