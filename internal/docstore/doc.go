// Package docstore provides a local, file-backed store for JSON documents that
// is safe for concurrent use by multiple processes sharing one directory tree.
//
// # Overview
//
// The package centers around [Store]. Every document carries a "type", an "id"
// and a store-managed "rev". Each document lives in exactly one file:
//
//	<dir>/<type>/<shard>/<id>.json
//
// where shard is the last two characters of the neutralized id. There is no
// index: the files are the source of truth.
//
// # Concurrency: Optimistic Revisions
//
// Unlike a pessimistic read-modify-write, [Store.Put] and [Store.Delete] only
// succeed when the caller supplies the revision currently on disk. A rejected
// write is not an error: it is reported through [Result] so callers can retry
// with fresh state.
//
// Each operation runs inside a short critical section guarded by an exclusive
// advisory lock on the document file. That lock is the only coordination
// between processes. Within a process, operations on one Store are serialized
// by a mutex; two Store values pointed at the same directory only coordinate
// through the file lock.
//
// # Queries
//
// [Store.GetMany] and [Store.Count] scan a type directory in filename order.
// Filename order may differ from id order when neutralization changed
// characters; this is not corrected.
package docstore
