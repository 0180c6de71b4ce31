package lock

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option is a functional option for configuring a [Manager].
type Option func(*Options)

// Options holds the configuration for a [Manager].
type Options struct {
	owner       string
	pollInitial time.Duration
	pollMax     time.Duration
	clock       func() time.Time
	logger      *zap.Logger
}

func newOptions() *Options {
	return &Options{
		owner:       uuid.NewString(),
		pollInitial: 100 * time.Millisecond,
		pollMax:     time.Second,
		clock:       time.Now,
		logger:      zap.NewNop(),
	}
}

func (o *Options) validate() error {
	if o.owner == "" {
		return errors.New("lock owner cannot be empty")
	}

	if o.pollInitial <= 0 || o.pollMax < o.pollInitial {
		return errors.New("poll interval must be positive and not exceed its maximum")
	}

	if o.clock == nil {
		return errors.New("clock cannot be nil")
	}

	if o.logger == nil {
		return errors.New("logger cannot be nil")
	}

	return nil
}

// WithOwner sets the owner id written into lock records. The default is a
// random UUID, unique per manager.
func WithOwner(owner string) Option {
	return func(o *Options) {
		o.owner = owner
	}
}

// WithPollInterval sets the delay between acquisition attempts on a held
// lock. The delay starts at initial and grows by half on every attempt up to
// maxInterval. The defaults are 100ms and 1s.
func WithPollInterval(initial, maxInterval time.Duration) Option {
	return func(o *Options) {
		o.pollInitial = initial
		o.pollMax = maxInterval
	}
}

// WithClock sets the time source used to stamp and expire lock records.
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
