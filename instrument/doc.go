// Package instrument decorates a [store.Store] with Prometheus metrics and an
// optional circuit breaker.
//
// Every call is counted by operation and result and timed:
//
//	docstore_store_calls_total{operation="Query",result="ok"}
//	docstore_store_call_duration_seconds{operation="Query"}
//
// With a circuit breaker configured, transient and unclassified backend
// failures trip the breaker; lost conditional writes, invalid keys and
// encoding errors do not. While the breaker is open calls fail fast with an
// error matching [store.ErrTransient].
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	s, err := instrument.New(client,
//		instrument.WithRegisterer(reg),
//		instrument.WithCircuitBreaker(instrument.DefaultBreakerSettings()),
//	)
package instrument
