package store

import (
	"context"
	"fmt"
	"time"
)

// Backoff is a bounded exponential backoff policy for transient failures.
type Backoff struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the delay between retries.
	Max time.Duration

	// Retries is the number of retries after the first attempt.
	Retries int
}

// DefaultBackoff retries 5 times starting at 50ms, doubling up to 2s.
var DefaultBackoff = Backoff{
	Initial: 50 * time.Millisecond,
	Max:     2 * time.Second,
	Retries: 5,
}

// Do calls fn until it succeeds, returns an error for which transient
// reports false, or the retry budget is spent. An exhausted budget is
// reported as [ErrTransient] wrapping the last error.
func (b Backoff) Do(ctx context.Context, transient func(error) bool, fn func() error) error {
	delay := b.Initial

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if !transient(err) {
			return err
		}

		if attempt >= b.Retries {
			return fmt.Errorf("%w: giving up after %d retries: %w", ErrTransient, b.Retries, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = min(delay*2, b.Max)
	}
}
