// Package documents stores document metadata and tags, and hands out
// per-document sequence numbers.
//
// A document and its tags form one item collection under the document's
// partition key. Tag index rows are recomputed from the tag on every write,
// so rewriting a tag never leaves stale index entries behind: the value rows
// of a multi-valued tag are removed before the tag is written again.
//
// Lookups of absent records return (nil, nil).
package documents
