// Package worker delivers queued alert batches in the background.
package worker

import (
	"github.com/okian/churngym/internal/domain/dedupe"
	"github.com/okian/churngym/pkg/logger"
)

type options struct {
	name    string
	logger  logger.Logger
	deduper dedupe.Deduper
}

// Option applies a configuration option to workers and pools.
type Option func(*options)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDeduper suppresses repeat alerts for members the deduper has already seen.
// Only pools use it.
func WithDeduper(d dedupe.Deduper) Option {
	return func(o *options) {
		o.deduper = d
	}
}

func newOptions(opts []Option) options {
	o := options{name: "alert-worker", logger: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
