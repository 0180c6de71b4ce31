package instrument

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docmgr/docstore/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Call results recorded in the result label.
const (
	ResultOK                 = "ok"
	ResultPreconditionFailed = "precondition_failed"
	ResultInvalid            = "invalid"
	ResultCanceled           = "canceled"
	ResultTransient          = "transient"
	ResultRejected           = "rejected"
	ResultError              = "error"
)

// Store is a [store.Store] that records metrics for, and optionally guards
// with a circuit breaker, every call to the store it wraps.
type Store struct {
	next     store.Store
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	breaker  *gobreaker.CircuitBreaker
	opts     *Options
}

var _ store.Store = (*Store)(nil)

// New wraps next.
func New(next store.Store, opts ...Option) (*Store, error) {
	if next == nil {
		return nil, errors.New("store cannot be nil")
	}

	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("invalid instrument options: %w", err)
	}

	calls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: "store",
			Name:      "calls_total",
			Help:      "Total number of store calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: o.namespace,
			Subsystem: "store",
			Name:      "call_duration_seconds",
			Help:      "Store call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	if o.registerer != nil {
		var err error

		if calls, err = register(o.registerer, calls); err != nil {
			return nil, err
		}

		if duration, err = register(o.registerer, duration); err != nil {
			return nil, err
		}
	}

	s := &Store{
		next:     next,
		calls:    calls,
		duration: duration,
		opts:     o,
	}

	if b := o.breaker; b != nil {
		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        o.namespace + "-store",
			MaxRequests: b.MaxRequests,
			Interval:    b.Interval,
			Timeout:     b.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < b.MinRequests {
					return false
				}

				return float64(counts.TotalFailures)/float64(counts.Requests) >= b.FailureRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				o.logger.Warn("Store circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
			IsSuccessful: func(err error) bool {
				switch classify(err) {
				case ResultOK, ResultPreconditionFailed, ResultInvalid, ResultCanceled:
					return true
				default:
					return false
				}
			},
		})
	}

	return s, nil
}

// register registers c with r, or returns the collector already registered
// under the same descriptor.
func register[C prometheus.Collector](r prometheus.Registerer, c C) (C, error) {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}

		return c, fmt.Errorf("failed to register store metrics: %w", err)
	}

	return c, nil
}

// BreakerState returns the circuit breaker state, or "disabled".
func (s *Store) BreakerState() string {
	if s.breaker == nil {
		return "disabled"
	}

	return s.breaker.State().String()
}

func classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, store.ErrPreconditionFailed):
		return ResultPreconditionFailed
	case errors.Is(err, store.ErrInvalidKey), errors.Is(err, store.ErrEncoding):
		return ResultInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCanceled
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ResultRejected
	case errors.Is(err, store.ErrTransient):
		return ResultTransient
	default:
		return ResultError
	}
}

func observe[T any](s *Store, op string, fn func() (T, error)) (T, error) {
	start := time.Now()

	var (
		value T
		err   error
	)

	if s.breaker == nil {
		value, err = fn()
	} else {
		var v any

		v, err = s.breaker.Execute(func() (any, error) {
			return fn()
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %s rejected by circuit breaker: %w", store.ErrTransient, op, err)
		} else if v != nil {
			value = v.(T)
		}
	}

	s.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	s.calls.WithLabelValues(op, classify(err)).Inc()

	return value, err
}

func observeErr(s *Store, op string, fn func() error) error {
	_, err := observe(s, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})

	return err
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, key store.Key) (store.Item, error) {
	return observe(s, "Get", func() (store.Item, error) {
		return s.next.Get(ctx, key)
	})
}

// Exists implements [store.Store].
func (s *Store) Exists(ctx context.Context, key store.Key) (bool, error) {
	return observe(s, "Exists", func() (bool, error) {
		return s.next.Exists(ctx, key)
	})
}

// BatchGet implements [store.Store].
func (s *Store) BatchGet(ctx context.Context, keys []store.Key) ([]store.Item, error) {
	return observe(s, "BatchGet", func() ([]store.Item, error) {
		return s.next.BatchGet(ctx, keys)
	})
}

// Put implements [store.Store].
func (s *Store) Put(ctx context.Context, item store.Item) error {
	return observeErr(s, "Put", func() error {
		return s.next.Put(ctx, item)
	})
}

// PutBatch implements [store.Store].
func (s *Store) PutBatch(ctx context.Context, items []store.Item) error {
	return observeErr(s, "PutBatch", func() error {
		return s.next.PutBatch(ctx, items)
	})
}

// PutIf implements [store.Store].
func (s *Store) PutIf(ctx context.Context, item store.Item, cond store.Condition) error {
	return observeErr(s, "PutIf", func() error {
		return s.next.PutIf(ctx, item, cond)
	})
}

// Increment implements [store.Store].
func (s *Store) Increment(ctx context.Context, key store.Key, attr string, delta int64) (int64, error) {
	return observe(s, "Increment", func() (int64, error) {
		return s.next.Increment(ctx, key, attr, delta)
	})
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, key store.Key) error {
	return observeErr(s, "Delete", func() error {
		return s.next.Delete(ctx, key)
	})
}

// DeleteIf implements [store.Store].
func (s *Store) DeleteIf(ctx context.Context, key store.Key, cond store.Condition) error {
	return observeErr(s, "DeleteIf", func() error {
		return s.next.DeleteIf(ctx, key, cond)
	})
}

// DeleteBatch implements [store.Store].
func (s *Store) DeleteBatch(ctx context.Context, keys []store.Key) error {
	return observeErr(s, "DeleteBatch", func() error {
		return s.next.DeleteBatch(ctx, keys)
	})
}

// DeleteBeginsWith implements [store.Store].
func (s *Store) DeleteBeginsWith(ctx context.Context, pk, skPrefix string) error {
	return observeErr(s, "DeleteBeginsWith", func() error {
		return s.next.DeleteBeginsWith(ctx, pk, skPrefix)
	})
}

// Query implements [store.Store].
func (s *Store) Query(ctx context.Context, q store.Query) (*store.Page, error) {
	return observe(s, "Query", func() (*store.Page, error) {
		return s.next.Query(ctx, q)
	})
}
