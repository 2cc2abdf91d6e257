// Package snapshot reads and writes whole-state snapshot files.
//
// A snapshot is the JSON encoding of the root map, optionally wrapped in a
// compression codec. The file for a base path is named after its codec:
//
//	<base>       uncompressed
//	<base>.gz    gzip
//	<base>.zst   zstd
//	<base>.sz    snappy (framed)
//
// Writes go to a temporary file in the same directory which is fsynced and
// renamed over the final name, so a reader only ever observes a complete
// snapshot.
package snapshot
