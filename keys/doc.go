// Package keys derives the primary, sort and secondary-index keys of every
// record kind from its identity and state.
//
// All records of a document share the document's partition key and are told
// apart by sort key prefix (the "item collection" pattern):
//
//	document             metadata
//	tag#<key>            tag primary item
//	tag#<key>#idx<n>     value item of a multi-valued tag
//	action#<index>#<type>
//	lock#<name>
//	sequence#<name>
//
// Secondary-index projections are pure functions of the record's current
// state; computing them twice yields identical keys. Every function fails
// with [store.ErrInvalidKey] when a required component is missing or a
// component contains [Delimiter].
package keys
