// Package store defines the storage gateway contract shared by every backend
// of the document store.
//
// # Overview
//
// The document store keeps every record in one wide-column table. Records
// are addressed by a partition key ([PartitionKey]) and a sort key
// ([SortKey]). Two secondary indexes ([IndexGSI1] and [IndexGSI2]) re-project
// records under alternate key pairs, which the writer maintains by setting
// the GSI attributes on the record itself:
//
//   - GSI1: [GSI1PartitionKey] / [GSI1SortKey]
//   - GSI2: [GSI2PartitionKey] / [GSI2SortKey]
//
// Because index attributes live on the same item as the record, rewriting
// an item rewrites its index rows in the same single-item write.
//
// # Backends
//
// [Store] is implemented by the dynamodb, postgres and memory packages.
// Higher layers (keys, model, lock, documents, search, actions) only talk to
// [Store].
//
// # Errors
//
// Point reads return (nil, nil) when the item is absent. Other failures are
// reported with the sentinel errors in this package, wrapped with operation
// context; test them with [errors.Is].
//
// # Cursors
//
// [EncodeCursor] and [DecodeCursor] turn a page's last evaluated key into an
// opaque string and back. Callers must pass cursors back verbatim.
package store
