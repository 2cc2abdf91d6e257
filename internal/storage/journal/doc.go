// Package journal provides the append-only mutation journal for nestkv.
//
// The journal makes in-memory mutations durable between snapshots. A
// single worker goroutine owns the journal file and processes append
// requests strictly in the order they were submitted, so the file order
// is the commit order of the store.
//
// Files:
//
//	<name>.log      active journal, appended to until rotated
//	<name>.log.old  retired journal, removed once a snapshot covers it
//
// Record format, one record per line:
//
//	["assoc","key",<value>]
//	["assoc-in",["a","b"],<value>]
//	["dissoc","key",null]
//	["dissoc-in",["a","b"],"key"]
//
// Values use the JSON text of package value. Lines are flushed one at a
// time; a crash can tear at most the final line, which readers treat as
// the end of the journal. The journal is never compressed.
//
// Sync Modes:
//
//   - async: Append returns once the record is queued; the file is
//     fsynced every SyncInterval and on rotation and close
//   - write: the returned Ack fires once the record reached the OS
//   - sync:  the returned Ack fires once the record was fsynced
package journal
