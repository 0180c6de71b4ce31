package store

import "errors"

var (
	// ErrInvalidKey reports a malformed or missing identity field. It is a
	// caller bug and is never retried.
	ErrInvalidKey = errors.New("invalid key")

	// ErrEncoding reports a required field that was unset when a record was
	// serialized, or an attribute that could not be decoded in strict mode.
	ErrEncoding = errors.New("encoding error")

	// ErrPreconditionFailed reports a conditional write that lost a race.
	// Callers may retry with fresh state or treat the write as already done.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrLockUnavailable reports a lock that could not be acquired before the
	// acquire timeout elapsed.
	ErrLockUnavailable = errors.New("lock unavailable")

	// ErrTransient reports a throttling, timeout or connectivity failure that
	// persisted after the backend's retry budget was exhausted.
	ErrTransient = errors.New("transient store error")
)
