// Package store is an embedded, durable key/value store for nested values.
//
// The whole state lives in memory as a map of top-level keys to immutable
// values (see package value). Durability comes from two files next to the
// path passed to Open:
//
//	<path>[.gz|.zst|.sz]   snapshot: the whole state at the last checkpoint
//	<path>.log             journal: one line per mutation since then
//
// Every mutation is appended to the journal in the order it becomes visible.
// A background scheduler periodically checkpoints: it rotates the journal
// to <path>.log.old at a consistent point, writes a new snapshot atomically
// and only then deletes the rotated journal. Open rebuilds the state from
// the snapshot and whatever journal files are present.
//
// A DB is safe for concurrent use. Reads never wait on disk I/O.
//
// Mutations are queued to the journal writer while the state lock is held,
// so their journal order matches their visible order. The queue is bounded
// (see WithQueueSize): when the disk falls behind and the queue fills, a
// writer blocks holding the state lock, and further mutations and reads
// wait behind it until the journal drains.
package store
