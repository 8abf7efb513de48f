package scoring

import (
	"net/http"
	"time"

	"github.com/okian/churngym/pkg/logger"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	defaultBackoff    = 500 * time.Millisecond
)

type options struct {
	log        logger.Logger
	now        func() time.Time
	params     map[string]any
	modelPath  string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	weights    map[string]float64
	bias       float64
	hasWeights bool
}

func newOptions(opts []Option) options {
	o := options{
		log:        logger.Nop(),
		now:        time.Now,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}
	return o
}

// Option applies a configuration option to trainers and scorers.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock sets the time source used to stamp trained models.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithParams sets the model hyperparameters passed to the trainer.
func WithParams(params map[string]any) Option {
	return func(o *options) {
		o.params = make(map[string]any, len(params))
		for k, v := range params {
			o.params[k] = v
		}
	}
}

// WithModelPath selects the trained model used for scoring.
func WithModelPath(path string) Option {
	return func(o *options) {
		o.modelPath = path
	}
}

// WithHTTPClient replaces the HTTP client. It takes precedence over WithTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetry sets how many times a transient failure is retried and the base
// delay between attempts. The delay grows linearly with the attempt number.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(o *options) {
		if maxRetries >= 0 {
			o.maxRetries = maxRetries
		}
		if backoff >= 0 {
			o.backoff = backoff
		}
	}
}

// WithWeights sets the baseline scorer's weights. Numeric features are keyed
// by column name, categorical levels by "column=value".
func WithWeights(weights map[string]float64, bias float64) Option {
	return func(o *options) {
		o.weights = make(map[string]float64, len(weights))
		for k, w := range weights {
			o.weights[k] = w
		}
		o.bias = bias
		o.hasWeights = true
	}
}
