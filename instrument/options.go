package instrument

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option is a functional option for configuring a [Store].
type Option func(*Options)

// Options holds the configuration for a [Store].
type Options struct {
	namespace  string
	registerer prometheus.Registerer
	breaker    *BreakerSettings
	logger     *zap.Logger
}

// BreakerSettings configures the circuit breaker.
type BreakerSettings struct {
	// MinRequests is the number of calls in the current interval before the
	// failure ratio is evaluated.
	MinRequests uint32

	// FailureRatio trips the breaker once reached.
	FailureRatio float64

	// Interval is the cyclic period after which closed-state counts reset.
	Interval time.Duration

	// Timeout is how long the breaker stays open before letting trial calls
	// through.
	Timeout time.Duration

	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
}

// DefaultBreakerSettings returns the default circuit breaker settings.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:  10,
		FailureRatio: 0.5,
		Interval:     30 * time.Second,
		Timeout:      15 * time.Second,
		MaxRequests:  3,
	}
}

func newOptions() *Options {
	return &Options{
		namespace: "docstore",
		logger:    zap.NewNop(),
	}
}

func (o *Options) validate() error {
	if o.namespace == "" {
		return errors.New("metrics namespace cannot be empty")
	}

	if o.logger == nil {
		return errors.New("logger cannot be nil")
	}

	if b := o.breaker; b != nil {
		if b.MinRequests == 0 || b.MaxRequests == 0 {
			return errors.New("circuit breaker request counts must be greater than zero")
		}

		if b.FailureRatio <= 0 || b.FailureRatio > 1 {
			return errors.New("circuit breaker failure ratio must be in (0, 1]")
		}

		if b.Interval < 0 || b.Timeout <= 0 {
			return errors.New("circuit breaker interval cannot be negative and timeout must be positive")
		}
	}

	return nil
}

// WithNamespace sets the metric namespace. Defaults to "docstore".
func WithNamespace(namespace string) Option {
	return func(o *Options) {
		o.namespace = namespace
	}
}

// WithRegisterer registers the metrics with r. Without it the metrics are
// collected but not registered anywhere.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *Options) {
		o.registerer = r
	}
}

// WithCircuitBreaker enables the circuit breaker. It is disabled by default.
func WithCircuitBreaker(settings BreakerSettings) Option {
	return func(o *Options) {
		o.breaker = &settings
	}
}

// WithLogger sets the logger used for breaker state changes. Defaults to a
// no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}
