package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/docmgr/docstore/model"
	"github.com/docmgr/docstore/store"
	"go.uber.org/zap"
)

const (
	attrOwner      = "owner"
	attrAcquiredAt = "acquiredAt"
	attrExpiresAt  = "expiresAt"
)

// Lock describes a lock record as currently stored.
type Lock struct {
	Key        store.Key
	Owner      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lease has run out at time now.
func (l *Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// record is the stored form of a lock. Timestamps are Unix milliseconds so
// that expiry compares numerically.
type record struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Kind       string `dynamodbav:"kind"`
	Owner      string `dynamodbav:"owner"`
	AcquiredAt int64  `dynamodbav:"acquiredAt"`
	ExpiresAt  int64  `dynamodbav:"expiresAt"`
	TTL        int64  `dynamodbav:"TTL"`
}

// Manager acquires and releases locks on behalf of one owner. It is safe for
// concurrent use, but two calls of the same manager contend like any other
// pair of callers: locks are not re-entrant.
type Manager struct {
	store store.Store
	opts  *Options
}

// New returns a Manager writing lock records to s.
func New(s store.Store, opts ...Option) (*Manager, error) {
	if s == nil {
		return nil, errors.New("store cannot be nil")
	}

	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("invalid lock options: %w", err)
	}

	return &Manager{store: s, opts: o}, nil
}

// Owner returns the owner id written into the records of this manager.
func (m *Manager) Owner() string {
	return m.opts.owner
}

// Acquire tries to take the lock at key for lease. While another owner
// holds an unexpired lock it retries with growing sleeps until
// acquireTimeout has elapsed, then returns false. A zero acquireTimeout
// makes a single attempt. Acquire never blocks beyond acquireTimeout, and
// returns the context error when ctx ends first.
func (m *Manager) Acquire(ctx context.Context, key store.Key, acquireTimeout, lease time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	if lease <= 0 {
		return false, errors.New("lock lease must be positive")
	}

	if acquireTimeout < 0 {
		return false, errors.New("lock acquire timeout cannot be negative")
	}

	deadline := time.Now().Add(acquireTimeout)
	interval := m.opts.pollInitial

	for attempt := 1; ; attempt++ {
		ok, err := m.tryAcquire(ctx, key, lease)
		if err != nil {
			return false, err
		}

		if ok {
			m.opts.logger.Debug("Lock acquired",
				zap.Stringer("key", key),
				zap.String("owner", m.opts.owner),
				zap.Duration("lease", lease),
				zap.Int("attempts", attempt),
			)

			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.opts.logger.Debug("Lock acquire timed out",
				zap.Stringer("key", key),
				zap.String("owner", m.opts.owner),
				zap.Duration("timeout", acquireTimeout),
				zap.Int("attempts", attempt),
			)

			return false, nil
		}

		timer := time.NewTimer(min(interval, remaining))

		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}

		interval = min(interval*3/2, m.opts.pollMax)
	}
}

func (m *Manager) tryAcquire(ctx context.Context, key store.Key, lease time.Duration) (bool, error) {
	now := m.opts.clock()
	expires := now.Add(lease)

	item, err := attributevalue.MarshalMap(record{
		PK:         key.PK,
		SK:         key.SK,
		Kind:       model.KindLock,
		Owner:      m.opts.owner,
		AcquiredAt: now.UnixMilli(),
		ExpiresAt:  expires.UnixMilli(),
		TTL:        ttl(expires),
	})
	if err != nil {
		return false, fmt.Errorf("%w: failed to marshal lock record: %w", store.ErrEncoding, err)
	}

	cond := store.Or(
		store.AttributeNotExists(store.PartitionKey),
		store.LessThan(attrExpiresAt, now.UnixMilli()),
	)

	err = m.store.PutIf(ctx, item, cond)
	if errors.Is(err, store.ErrPreconditionFailed) {
		m.opts.logger.Debug("Lock held by another owner", zap.Stringer("key", key))
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	return true, nil
}

// Release deletes the lock at key. It succeeds when the lock is absent,
// expired, or held by this manager, and returns false without error when
// another owner holds an unexpired lease.
func (m *Manager) Release(ctx context.Context, key store.Key) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	cond := store.Or(
		store.AttributeNotExists(store.PartitionKey),
		store.Equal(attrOwner, m.opts.owner),
		store.LessThan(attrExpiresAt, m.opts.clock().UnixMilli()),
	)

	err := m.store.DeleteIf(ctx, key, cond)
	if errors.Is(err, store.ErrPreconditionFailed) {
		m.opts.logger.Warn("Lock owned by someone else, not released",
			zap.Stringer("key", key),
			zap.String("owner", m.opts.owner),
		)

		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}

	m.opts.logger.Debug("Lock released", zap.Stringer("key", key), zap.String("owner", m.opts.owner))

	return true, nil
}

// Inspect returns the lock record at key, or nil if there is none. Expired
// records are returned as they are; use [Lock.Expired] to tell.
func (m *Manager) Inspect(ctx context.Context, key store.Key) (*Lock, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	item, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock %s: %w", key, err)
	}

	if item == nil {
		return nil, nil //nolint:nilnil
	}

	var r record

	if err := attributevalue.UnmarshalMap(item, &r); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal lock record %s: %w", store.ErrEncoding, key, err)
	}

	return &Lock{
		Key:        key,
		Owner:      r.Owner,
		AcquiredAt: time.UnixMilli(r.AcquiredAt).UTC(),
		ExpiresAt:  time.UnixMilli(r.ExpiresAt).UTC(),
	}, nil
}

// WithLock runs fn while holding the lock at key. It returns an error
// wrapping [store.ErrLockUnavailable] when the lock cannot be acquired
// within acquireTimeout. The lock is released when fn returns, even if ctx
// has been cancelled meanwhile.
func (m *Manager) WithLock(ctx context.Context, key store.Key, acquireTimeout, lease time.Duration, fn func(ctx context.Context) error) error {
	ok, err := m.Acquire(ctx, key, acquireTimeout, lease)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s not acquired within %s", store.ErrLockUnavailable, key, acquireTimeout)
	}

	fnErr := fn(ctx)

	if _, err := m.Release(context.WithoutCancel(ctx), key); err != nil {
		return errors.Join(fnErr, err)
	}

	return fnErr
}

// ttl rounds up to whole seconds so that backends expiring by TTL never
// drop a record before its lease ends.
func ttl(expires time.Time) int64 {
	secs := expires.Unix()
	if expires.Nanosecond() > 0 {
		secs++
	}

	return secs
}

func validateKey(key store.Key) error {
	if key.PK == "" || key.SK == "" {
		return fmt.Errorf("%w: lock key cannot be empty", store.ErrInvalidKey)
	}

	return nil
}
