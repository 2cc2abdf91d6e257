package store

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/nestkv/internal/storage/journal"
	"github.com/yndnr/nestkv/internal/storage/snapshot"
)

// Compression selects the snapshot encoding.
type Compression = snapshot.Compression

// Snapshot compressions.
const (
	CompressionNone   = snapshot.CompressionNone
	CompressionGzip   = snapshot.CompressionGzip
	CompressionZstd   = snapshot.CompressionZstd
	CompressionSnappy = snapshot.CompressionSnappy
)

// ParseCompression parses a compression name such as "gzip".
func ParseCompression(s string) (Compression, error) {
	return snapshot.ParseCompression(s)
}

// SyncMode selects when a mutation is acknowledged.
type SyncMode = journal.SyncMode

// Journal sync modes.
const (
	// SyncModeAsync acknowledges once the record is queued. Records are
	// fsynced every sync interval.
	SyncModeAsync = journal.SyncModeAsync
	// SyncModeWrite acknowledges once the record is written to the OS.
	SyncModeWrite = journal.SyncModeWrite
	// SyncModeSync acknowledges once the record is fsynced.
	SyncModeSync = journal.SyncModeSync
)

// ParseSyncMode parses a sync mode name.
func ParseSyncMode(s string) (SyncMode, error) {
	return journal.ParseSyncMode(s)
}

type options struct {
	compression  Compression
	syncMode     SyncMode
	syncInterval time.Duration
	queueSize    int
	logger       *slog.Logger
	registerer   prometheus.Registerer
	errorHandler func(error)
}

func defaultOptions() options {
	return options{
		compression:  CompressionNone,
		syncMode:     SyncModeWrite,
		syncInterval: journal.DefaultSyncInterval,
		queueSize:    journal.DefaultQueueSize,
		logger:       slog.Default(),
	}
}

// Option configures a DB.
type Option func(*options)

// WithCompression sets the snapshot compression.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithCompressed enables gzip snapshot compression when compressed is true.
func WithCompressed(compressed bool) Option {
	return func(o *options) {
		if compressed {
			o.compression = CompressionGzip
		} else {
			o.compression = CompressionNone
		}
	}
}

// WithSyncMode sets the journal sync mode.
func WithSyncMode(m SyncMode) Option {
	return func(o *options) {
		o.syncMode = m
	}
}

// WithSyncInterval sets how often unsynced journal records are fsynced in
// async and write modes.
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) {
		o.syncInterval = d
	}
}

// WithQueueSize bounds the number of journal requests waiting to be
// written. A mutation that finds the queue full blocks with the state lock
// held, stalling reads and other writers until the journal catches up.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegisterer registers the store metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithErrorHandler sets a callback for failures of background checkpoints.
// It is called from the scheduler goroutine.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}
