// Package actions keeps the ordered list of processing actions of each
// document and moves actions through their lifecycle.
//
// # Lifecycle
//
// An action is created PENDING unless its creator sets another status, in
// practice IN_QUEUE. Allowed transitions are:
//
//	PENDING  -> IN_QUEUE, RUNNING, COMPLETE, FAILED
//	IN_QUEUE -> RUNNING, COMPLETE, FAILED
//	RUNNING  -> COMPLETE, FAILED
//
// COMPLETE and FAILED are final.
//
// # Index rows
//
// An action waiting IN_QUEUE is listed in its queue's partition of GSI1,
// ordered by dispatch time. Every action that is not COMPLETE is listed in
// its status partition of GSI2. Both entries are recomputed from the action
// and written together with it, so a status change is a single conditional
// write on the previous status.
//
// # Writing lists
//
// [Service.SaveActions] replaces a document's list and [Service.AddActions]
// appends to it. Both run under the document's action lock and take fresh
// indices from the document's action sequence, so indices are never reused
// even by overlapping writers.
package actions
