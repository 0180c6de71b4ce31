// Package model holds the document store entities and maps them to and from
// the untyped attribute maps the storage gateway persists.
//
// Each entity implements [Record]: it derives its own primary key and its
// secondary-index projections through package keys, so the index rows of a
// record always follow from its current state.
//
// Encoding never drops required fields; a missing one fails with
// [store.ErrEncoding]. Decoding goes through a [Decoder] and tolerates
// unknown and missing attributes.
package model
