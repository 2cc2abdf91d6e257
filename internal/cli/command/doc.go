// Package command defines the nestkv command line.
//
// One-shot commands (get, set, del, dump, checkpoint) open the database,
// act on it and close it again, which leaves a fresh snapshot behind.
// The journal and stat commands only read files and never take the lock.
// serve keeps the database open until SIGINT or SIGTERM.
package command
