package instrument_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docmgr/docstore/instrument"
	"github.com/docmgr/docstore/memory"
	"github.com/docmgr/docstore/store"
	"github.com/docmgr/docstore/store/storetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, next store.Store, opts ...instrument.Option) *instrument.Store {
	t.Helper()

	s, err := instrument.New(next, opts...)
	require.NoError(t, err)

	return s
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := instrument.New(nil)
	require.Error(t, err)

	tests := []struct {
		name string
		opt  instrument.Option
	}{
		{name: "empty namespace", opt: instrument.WithNamespace("")},
		{name: "nil logger", opt: instrument.WithLogger(nil)},
		{name: "zero min requests", opt: instrument.WithCircuitBreaker(instrument.BreakerSettings{FailureRatio: 0.5, Timeout: time.Second, MaxRequests: 1})},
		{name: "ratio above one", opt: instrument.WithCircuitBreaker(instrument.BreakerSettings{MinRequests: 1, FailureRatio: 2, Timeout: time.Second, MaxRequests: 1})},
		{name: "zero timeout", opt: instrument.WithCircuitBreaker(instrument.BreakerSettings{MinRequests: 1, FailureRatio: 0.5, MaxRequests: 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := instrument.New(memory.New(), tt.opt)
			require.Error(t, err)
		})
	}
}

func TestStore_Conformance(t *testing.T) {
	t.Parallel()

	s := newStore(t, memory.New(), instrument.WithCircuitBreaker(instrument.DefaultBreakerSettings()))

	t.Run("get put delete", func(t *testing.T) { storetest.TestGetPutDelete(t, s) })
	t.Run("query", func(t *testing.T) { storetest.TestQuery(t, s) })
	t.Run("conditional writes", func(t *testing.T) { storetest.TestConditionalWrites(t, s) })
	t.Run("increment", func(t *testing.T) { storetest.TestIncrement(t, s) })
	t.Run("batch", func(t *testing.T) { storetest.TestBatch(t, s) })
	t.Run("delete begins with", func(t *testing.T) { storetest.TestDeleteBeginsWith(t, s) })
	assert.Equal(t, "closed", s.BreakerState())
}

func TestStore_Metrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	s := newStore(t, memory.New(), instrument.WithRegisterer(reg))

	key := store.Key{PK: "documents#a", SK: "document"}

	require.NoError(t, s.Put(ctx, key.Item()))

	_, err := s.Get(ctx, key)
	require.NoError(t, err)

	_, err = s.Get(ctx, key)
	require.NoError(t, err)

	err = s.PutIf(ctx, key.Item(), store.AttributeNotExists(store.PartitionKey))
	require.ErrorIs(t, err, store.ErrPreconditionFailed)

	_, err = s.Increment(ctx, store.Key{}, "value", 1)
	require.ErrorIs(t, err, store.ErrInvalidKey)

	expected := `
# HELP docstore_store_calls_total Total number of store calls by operation and result.
# TYPE docstore_store_calls_total counter
docstore_store_calls_total{operation="Get",result="ok"} 2
docstore_store_calls_total{operation="Increment",result="invalid"} 1
docstore_store_calls_total{operation="Put",result="ok"} 1
docstore_store_calls_total{operation="PutIf",result="precondition_failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "docstore_store_calls_total"))

	n, err := testutil.GatherAndCount(reg, "docstore_store_call_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStore_SharedRegistry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := prometheus.NewRegistry()

	a := newStore(t, memory.New(), instrument.WithRegisterer(reg))
	b := newStore(t, memory.New(), instrument.WithRegisterer(reg))

	require.NoError(t, a.Put(ctx, store.Key{PK: "p", SK: "a"}.Item()))
	require.NoError(t, b.Put(ctx, store.Key{PK: "p", SK: "b"}.Item()))

	expected := `
# HELP docstore_store_calls_total Total number of store calls by operation and result.
# TYPE docstore_store_calls_total counter
docstore_store_calls_total{operation="Put",result="ok"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "docstore_store_calls_total"))
}

// flakyStore fails every call with err and counts the calls that reach it.
type flakyStore struct {
	*memory.Store
	err   error
	calls atomic.Int32
}

func (f *flakyStore) Get(context.Context, store.Key) (store.Item, error) {
	f.calls.Add(1)
	return nil, f.err
}

func breakerSettings() instrument.BreakerSettings {
	return instrument.BreakerSettings{
		MinRequests:  2,
		FailureRatio: 0.5,
		Timeout:      time.Minute,
		MaxRequests:  1,
	}
}

func TestStore_CircuitBreaker_OpensOnTransientFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	next := &flakyStore{Store: memory.New(), err: store.ErrTransient}
	s := newStore(t, next, instrument.WithRegisterer(reg), instrument.WithCircuitBreaker(breakerSettings()))

	assert.Equal(t, "closed", s.BreakerState())

	for range 2 {
		_, err := s.Get(ctx, store.Key{PK: "p", SK: "s"})
		require.ErrorIs(t, err, store.ErrTransient)
	}

	assert.Equal(t, "open", s.BreakerState())

	_, err := s.Get(ctx, store.Key{PK: "p", SK: "s"})
	require.ErrorIs(t, err, store.ErrTransient)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), next.calls.Load(), "open breaker must not reach the store")

	expected := `
# HELP docstore_store_calls_total Total number of store calls by operation and result.
# TYPE docstore_store_calls_total counter
docstore_store_calls_total{operation="Get",result="rejected"} 1
docstore_store_calls_total{operation="Get",result="transient"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "docstore_store_calls_total"))
}

func TestStore_CircuitBreaker_IgnoresCallerErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for _, callerErr := range []error{store.ErrPreconditionFailed, store.ErrInvalidKey, context.Canceled} {
		next := &flakyStore{Store: memory.New(), err: callerErr}
		s := newStore(t, next, instrument.WithCircuitBreaker(breakerSettings()))

		for range 5 {
			_, err := s.Get(ctx, store.Key{PK: "p", SK: "s"})
			require.ErrorIs(t, err, callerErr)
		}

		assert.Equal(t, "closed", s.BreakerState(), callerErr.Error())
		assert.Equal(t, int32(5), next.calls.Load())
	}
}

func TestStore_BreakerDisabled(t *testing.T) {
	t.Parallel()

	s := newStore(t, memory.New())
	assert.Equal(t, "disabled", s.BreakerState())
}
