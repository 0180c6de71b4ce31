package search

import (
	"errors"

	"go.uber.org/zap"
)

// Option is a functional option for configuring an [Engine].
type Option func(*Options)

// Options holds the configuration for an [Engine].
type Options struct {
	strictDates bool
	logger      *zap.Logger
}

func newOptions() *Options {
	return &Options{
		logger: zap.NewNop(),
	}
}

func (o *Options) validate() error {
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

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}
