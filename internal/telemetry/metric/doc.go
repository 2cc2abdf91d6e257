// Package metric provides Prometheus metrics for nestkv.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: registry, process collectors and the /metrics handler
//   - storage.go: collectors for the journal, checkpoints and recovery
//
// Storage collectors are nil-safe: a nil *Storage records nothing, which
// lets the store run without any registry configured.
package metric
