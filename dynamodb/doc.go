// Package dynamodb provides a DynamoDB-backed implementation of the
// [github.com/docmgr/docstore/store.Store] gateway.
//
// # Overview
//
// The package uses a single-table DynamoDB design. Every item is keyed by a
// partition key ("PK") and a sort key ("SK"); the records of one document
// share a partition:
//
//   - Document: documents#<id> / document
//   - Tags:     documents#<id> / tag#<key>
//   - Actions:  documents#<id> / action#<index>#<type>
//
// Two Global Secondary Indexes support cross-document queries, and both must
// project all attributes:
//
//   - [store.IndexGSI1] (GSI1PK/GSI1SK) for exact tag matches and queued actions.
//   - [store.IndexGSI2] (GSI2PK/GSI2SK) for tag values by key and actions by status.
//
// # Getting Started
//
// Create a [Client] with [New], supplying an AWS config, the DynamoDB table
// name, and any [Option] values you need:
//
//	client := dynamodb.New(
//	    &awsCfg,
//	    tableName,
//	    dynamodb.WithMaxAttempts(8),
//	    dynamodb.WithLogger(logger),
//	)
//
// By default, [Client.Connect] creates an AWS SDK v2 DynamoDB client from the
// supplied [aws.Config]. Supply [WithAPI] to inject a custom or mock
// implementation.
//
// # Errors and Retries
//
// Throttling and other retryable API errors are retried by the SDK standard
// retryer. Once its budget is exhausted the error wraps
// [store.ErrTransient]. Failed condition expressions wrap
// [store.ErrPreconditionFailed]. Unprocessed batch items are resubmitted with
// exponential backoff starting at 50ms.
//
// # TTL Behaviour
//
// Items carrying a numeric TTL attribute (Unix seconds) are removed by
// DynamoDB's built-in TTL feature. [Client.Init] verifies that TTL is enabled
// on that attribute.
//
// # Concurrency
//
// [Client] is safe for concurrent use by multiple goroutines.
package dynamodb
