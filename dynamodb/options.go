package dynamodb

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Option is a functional option for configuring a [Client].
type Option func(*Options)

// Options holds the configuration for a [Client]. Use [Option] functions
// (such as [WithMaxAttempts] or [WithUnprocessedRetries]) to customise the
// defaults.
type Options struct {
	maxAttempts        int
	maxBackoff         time.Duration
	unprocessedRetries int
	unprocessedBackoff time.Duration
	consistentRead     bool
	endpoint           string
	dynamoDBAPI        API
	logger             *zap.Logger
}

func newOptions() *Options {
	return &Options{
		maxAttempts:        5,
		maxBackoff:         2 * time.Second,
		unprocessedRetries: 5,
		unprocessedBackoff: 50 * time.Millisecond,
		logger:             zap.NewNop(),
	}
}

func (o *Options) validate() error {
	if o.maxAttempts < 1 {
		return errors.New("max attempts must be at least one")
	}

	if o.maxBackoff <= 0 {
		return errors.New("max backoff must be greater than zero")
	}

	if o.unprocessedRetries < 0 {
		return errors.New("unprocessed retries cannot be negative")
	}

	if o.unprocessedBackoff <= 0 {
		return errors.New("unprocessed backoff must be greater than zero")
	}

	if o.logger == nil {
		return errors.New("logger cannot be nil")
	}

	return nil
}

// WithMaxAttempts sets how many times the SDK attempts a request that fails
// with a throttling or other retryable error. The default is 5.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.maxAttempts = n
	}
}

// WithMaxBackoff caps the delay between SDK retry attempts, and between
// retries of unprocessed batch items. The default is 2 seconds.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *Options) {
		o.maxBackoff = d
	}
}

// WithUnprocessedRetries sets how many times unprocessed items of a batch
// request are resubmitted before giving up. The default is 5.
func WithUnprocessedRetries(n int) Option {
	return func(o *Options) {
		o.unprocessedRetries = n
	}
}

// WithUnprocessedBackoff sets the initial delay before unprocessed batch
// items are resubmitted. The delay doubles on every retry up to the max
// backoff. The default is 50ms.
func WithUnprocessedBackoff(d time.Duration) Option {
	return func(o *Options) {
		o.unprocessedBackoff = d
	}
}

// WithConsistentRead makes point reads and table queries strongly
// consistent. Index queries are always eventually consistent.
func WithConsistentRead(consistent bool) Option {
	return func(o *Options) {
		o.consistentRead = consistent
	}
}

// WithEndpoint overrides the DynamoDB endpoint, for example to use DynamoDB
// Local.
func WithEndpoint(endpoint string) Option {
	return func(o *Options) {
		o.endpoint = endpoint
	}
}

// WithAPI sets a custom [API] implementation. This is useful when a custom
// DynamoDB configuration is required, or for injecting mocks in tests.
func WithAPI(api API) Option {
	return func(o *Options) {
		o.dynamoDBAPI = api
	}
}

// WithLogger sets the logger used for retry diagnostics. Defaults to a no-op
// logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}
