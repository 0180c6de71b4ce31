package documents

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Option is a functional option for configuring a [Service].
type Option func(*Options)

// Options holds the configuration for a [Service].
type Options struct {
	strictDates    bool
	maxConcurrency int
	clock          func() time.Time
	logger         *zap.Logger
}

func newOptions() *Options {
	return &Options{
		maxConcurrency: 4,
		clock:          time.Now,
		logger:         zap.NewNop(),
	}
}

func (o *Options) validate() error {
	if o.maxConcurrency < 1 {
		return errors.New("max concurrency must be at least one")
	}

	if o.clock == nil {
		return errors.New("clock cannot be nil")
	}

	if o.logger == nil {
		return errors.New("logger cannot be nil")
	}

	return nil
}

// WithStrictDates rejects stored dates that cannot be parsed instead of
// treating them as unset.
func WithStrictDates(strict bool) Option {
	return func(o *Options) {
		o.strictDates = strict
	}
}

// WithMaxConcurrency limits how many batch reads of one call run at the same
// time. The default is 4.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) {
		o.maxConcurrency = n
	}
}

// WithClock sets the time source used to stamp inserted and modified dates.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}
