// Package postgres provides a PostgreSQL-backed implementation of the
// [github.com/docmgr/docstore/store.Store] gateway.
//
// It uses pgx v5 with connection pooling (pgxpool). Every item is a row of a
// single table keyed by (pk, sk). The secondary index keys are mirrored into
// nullable columns, and the whole item is kept in an attrs JSONB column in
// DynamoDB JSON, so both backends return identical items.
//
// # Usage
//
// Create a client using [New] with functional options, call [Client.Connect]
// to establish the connection pool, and then [Client.Init] to create the
// database schema:
//
//	client := postgres.New(
//	    postgres.WithHost("localhost"),
//	    postgres.WithPort(5432),
//	    postgres.WithUser("postgres"),
//	    postgres.WithPassword("secret"),
//	    postgres.WithDatabase("docstore"),
//	)
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	if err := client.Init(ctx, false); err != nil {
//	    log.Fatal(err)
//	}
//
// # Database Tables
//
// [Client.Init] creates the items table (configurable via [WithTable]) with
// one index per secondary index, ordered by (index sort key, pk, sk). Key
// columns use the "C" collation so ranges compare bytes.
//
// # Conditional Writes
//
// PutIf and DeleteIf lock the current row with SELECT ... FOR UPDATE,
// evaluate the condition in Go, then write in the same transaction. Inserts
// of absent rows use ON CONFLICT DO NOTHING, so concurrent creators cannot
// both succeed. Serialization failures, deadlocks and connection errors are
// retried with the backoff set by [WithRetry].
//
// # Connection Pool
//
// The underlying pgxpool can be tuned with the pool-specific options:
// [WithPoolMaxConnections], [WithPoolMinConnections],
// [WithPoolMinIdleConnections], [WithPoolMaxConnectionLifetime],
// [WithPoolMaxConnectionIdleTime], [WithPoolHealthCheckPeriod], and
// [WithPoolMaxConnectionLifetimeJitter].
//
// # TTL and Cleanup
//
// Items with a numeric TTL attribute get an expires_at timestamp on write.
// Expired rows are excluded from reads, and a background goroutine
// periodically deletes them. Its interval defaults to 1 hour and can be
// changed with [WithTTLCleanupInterval] or disabled entirely with
// [WithTTLCleanupDisabled].
//
// # Schema Validation
//
// When [Client.Init] is called with skipSchemaValidation set to false, it
// queries information_schema.columns and verifies that every expected column
// exists with the correct data type and nullability.
//
// # SSL
//
// SSL behaviour is controlled by [WithSSLMode] using the [SSLMode] constants.
// The default is [SSLModePrefer].
package postgres
