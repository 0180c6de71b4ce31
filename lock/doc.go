// Package lock implements an advisory, lease-bounded lock on top of
// [store.Store] conditional writes.
//
// A lock is a single record holding its owner and an expiry timestamp. It is
// acquired with a conditional put that succeeds when no record exists or the
// existing record has expired, and released with a conditional delete that
// succeeds when the record is absent, expired, or held by the releasing
// manager. A crashed holder's lock therefore frees itself once its lease
// runs out; holders must not assume a lock outlives its lease minus clock
// skew.
//
// Lock records also carry the store's TTL attribute so that backends with
// TTL support remove abandoned records.
//
// Usage:
//
//	m, err := lock.New(s, lock.WithLogger(logger))
//	key, err := keys.Lock(documentPK, "actions")
//	err = m.WithLock(ctx, key, 5*time.Second, 30*time.Second, func(ctx context.Context) error {
//		// exclusive section
//	})
package lock
