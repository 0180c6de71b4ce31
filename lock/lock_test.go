package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docmgr/docstore/lock"
	"github.com/docmgr/docstore/memory"
	"github.com/docmgr/docstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lockKey = store.Key{PK: "documents#a", SK: "lock#actions"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newManager(t *testing.T, s store.Store, opts ...lock.Option) *lock.Manager {
	t.Helper()

	opts = append([]lock.Option{lock.WithPollInterval(time.Millisecond, 5*time.Millisecond)}, opts...)

	m, err := lock.New(s, opts...)
	require.NoError(t, err)

	return m
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil store", func(t *testing.T) {
		t.Parallel()

		_, err := lock.New(nil)
		require.Error(t, err)
	})

	t.Run("invalid options", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			opt  lock.Option
		}{
			{"empty owner", lock.WithOwner("")},
			{"zero poll interval", lock.WithPollInterval(0, time.Second)},
			{"inverted poll interval", lock.WithPollInterval(time.Second, time.Millisecond)},
			{"nil clock", lock.WithClock(nil)},
			{"nil logger", lock.WithLogger(nil)},
		}

		for _, tt := range tests {
			_, err := lock.New(memory.New(), tt.opt)
			require.Error(t, err, tt.name)
		}
	})

	t.Run("random owners", func(t *testing.T) {
		t.Parallel()

		a, err := lock.New(memory.New())
		require.NoError(t, err)

		b, err := lock.New(memory.New())
		require.NoError(t, err)

		assert.NotEmpty(t, a.Owner())
		assert.NotEqual(t, a.Owner(), b.Owner())
	})
}

func TestAcquireReleaseInspect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	m := newManager(t, memory.New(), lock.WithOwner("worker-1"), lock.WithClock(clock.Now))

	held, err := m.Inspect(ctx, lockKey)
	require.NoError(t, err)
	assert.Nil(t, held)

	ok, err := m.Acquire(ctx, lockKey, 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	held, err = m.Inspect(ctx, lockKey)
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, "worker-1", held.Owner)
	assert.Equal(t, clock.Now(), held.AcquiredAt)
	assert.Equal(t, clock.Now().Add(time.Minute), held.ExpiresAt)
	assert.False(t, held.Expired(clock.Now()))

	ok, err = m.Release(ctx, lockKey)
	require.NoError(t, err)
	assert.True(t, ok)

	held, err = m.Inspect(ctx, lockKey)
	require.NoError(t, err)
	assert.Nil(t, held)

	ok, err = m.Release(ctx, lockKey)
	require.NoError(t, err)
	assert.True(t, ok, "releasing an absent lock succeeds")

	ok, err = m.Acquire(ctx, lockKey, 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock can be re-acquired after release")
}

func TestAcquire_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)

	for range 10 {
		m := newManager(t, s)

		wg.Add(1)

		go func() {
			defer wg.Done()

			ok, err := m.Acquire(ctx, lockKey, 0, time.Minute)
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestAcquire_TimesOutWhileHeld(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	holder := newManager(t, s)
	waiter := newManager(t, s)

	ok, err := holder.Acquire(ctx, lockKey, 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	ok, err = waiter.Acquire(ctx, lockKey, 30*time.Millisecond, time.Minute)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquire_SucceedsOnceHolderReleases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	holder := newManager(t, s)
	waiter := newManager(t, s)

	ok, err := holder.Acquire(ctx, lockKey, 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = holder.Release(ctx, lockKey)
	}()

	ok, err = waiter.Acquire(ctx, lockKey, 5*time.Second, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquire_TakesOverExpiredLease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	clock := newFakeClock()
	crashed := newManager(t, s, lock.WithClock(clock.Now))
	next := newManager(t, s, lock.WithClock(clock.Now))

	ok, err := crashed.Acquire(ctx, lockKey, 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = next.Acquire(ctx, lockKey, 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(2 * time.Minute)

	ok, err = next.Acquire(ctx, lockKey, 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	held, err := next.Inspect(ctx, lockKey)
	require.NoError(t, err)
	assert.Equal(t, next.Owner(), held.Owner)
}

func TestRelease_LeavesLiveLockOfOtherOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	clock := newFakeClock()
	holder := newManager(t, s, lock.WithClock(clock.Now))
	other := newManager(t, s, lock.WithClock(clock.Now))

	ok, err := holder.Acquire(ctx, lockKey, 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = other.Release(ctx, lockKey)
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := holder.Inspect(ctx, lockKey)
	require.NoError(t, err)
	require.NotNil(t, held)

	clock.Advance(time.Hour)

	ok, err = other.Release(ctx, lockKey)
	require.NoError(t, err)
	assert.True(t, ok, "expired locks can be released by anyone")
}

func TestAcquire_ContextCancelled(t *testing.T) {
	t.Parallel()

	s := memory.New()
	holder := newManager(t, s)
	waiter := newManager(t, s)

	ok, err := holder.Acquire(context.Background(), lockKey, 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err = waiter.Acquire(ctx, lockKey, time.Minute, time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ok)
}

func TestAcquire_InvalidArguments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager(t, memory.New())

	_, err := m.Acquire(ctx, store.Key{}, 0, time.Minute)
	require.ErrorIs(t, err, store.ErrInvalidKey)

	_, err = m.Acquire(ctx, lockKey, 0, 0)
	require.Error(t, err)

	_, err = m.Acquire(ctx, lockKey, -time.Second, time.Minute)
	require.Error(t, err)

	_, err = m.Release(ctx, store.Key{PK: "documents#a"})
	require.ErrorIs(t, err, store.ErrInvalidKey)

	_, err = m.Inspect(ctx, store.Key{SK: "lock#actions"})
	require.ErrorIs(t, err, store.ErrInvalidKey)
}

func TestWithLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("runs and releases", func(t *testing.T) {
		t.Parallel()

		m := newManager(t, memory.New())
		ran := false

		err := m.WithLock(ctx, lockKey, 0, time.Minute, func(ctx context.Context) error {
			held, err := m.Inspect(ctx, lockKey)
			require.NoError(t, err)
			require.NotNil(t, held)

			ran = true

			return nil
		})

		require.NoError(t, err)
		assert.True(t, ran)

		held, err := m.Inspect(ctx, lockKey)
		require.NoError(t, err)
		assert.Nil(t, held)
	})

	t.Run("returns fn error and releases", func(t *testing.T) {
		t.Parallel()

		m := newManager(t, memory.New())
		boom := errors.New("boom")

		err := m.WithLock(ctx, lockKey, 0, time.Minute, func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)

		held, err := m.Inspect(ctx, lockKey)
		require.NoError(t, err)
		assert.Nil(t, held)
	})

	t.Run("unavailable", func(t *testing.T) {
		t.Parallel()

		s := memory.New()
		holder := newManager(t, s)
		m := newManager(t, s)

		ok, err := holder.Acquire(ctx, lockKey, 0, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		err = m.WithLock(ctx, lockKey, 5*time.Millisecond, time.Minute, func(context.Context) error {
			t.Fatal("fn must not run without the lock")
			return nil
		})

		require.ErrorIs(t, err, store.ErrLockUnavailable)
	})
}
