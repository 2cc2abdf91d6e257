// Package memory holds the live state of the store.
//
// The state is a root map of top-level keys. Nested values are immutable:
// every mutation rebuilds the containers along the modified path, so a
// value handed to a reader is never changed afterwards. The root map itself
// is owned by the Store and only touched under its write lock.
//
// Mutations are described as journal records. Store.Apply computes the
// change a record makes, hands the record to a commit hook while still
// holding the write lock, and installs the change only when the hook
// succeeds. Hooks run in lock order, so the order in which records reach
// the journal equals the order in which they became visible.
package memory
