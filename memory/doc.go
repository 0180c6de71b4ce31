// Package memory provides an in-process implementation of [store.Store].
//
// It keeps every item in a map keyed by (PK, SK) behind a single mutex and
// answers index queries by scanning the index attributes of stored items, so
// it honours the same ordering, pagination and conditional-write contract as
// the DynamoDB and Postgres gateways. It backs unit tests and local tooling.
//
// Items do not expire: TTL attributes are stored but ignored.
package memory
