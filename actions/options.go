package actions

import (
	"errors"
	"time"

	"github.com/docmgr/docstore/lock"
	"go.uber.org/zap"
)

// Option is a functional option for configuring a [Service].
type Option func(*Options)

// Options holds the configuration for a [Service].
type Options struct {
	lockTimeout time.Duration
	lockLease   time.Duration
	locks       *lock.Manager
	strictDates bool
	clock       func() time.Time
	logger      *zap.Logger
}

func newOptions() *Options {
	return &Options{
		lockTimeout: 10 * time.Second,
		lockLease:   30 * time.Second,
		clock:       time.Now,
		logger:      zap.NewNop(),
	}
}

func (o *Options) validate() error {
	if o.lockTimeout < 0 {
		return errors.New("lock timeout cannot be negative")
	}

	if o.lockLease <= 0 {
		return errors.New("lock lease must be greater than zero")
	}

	if o.clock == nil {
		return errors.New("clock cannot be nil")
	}

	if o.logger == nil {
		return errors.New("logger cannot be nil")
	}

	return nil
}

// WithLockTimeout sets how long writers of a document's action list wait
// for its lock. The default is 10 seconds.
func WithLockTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.lockTimeout = d
	}
}

// WithLockLease sets the lease of a document's action list lock. The
// default is 30 seconds.
func WithLockLease(d time.Duration) Option {
	return func(o *Options) {
		o.lockLease = d
	}
}

// WithLockManager sets the lock manager guarding action list writes. By
// default the service creates its own on the same store.
func WithLockManager(m *lock.Manager) Option {
	return func(o *Options) {
		o.locks = m
	}
}

// WithStrictDates rejects stored dates that cannot be parsed instead of
// treating them as unset.
func WithStrictDates(strict bool) Option {
	return func(o *Options) {
		o.strictDates = strict
	}
}

// WithClock sets the time source used to stamp action dates.
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
