package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/nestkv/internal/telemetry/metric"
)

// File naming constants.
const (
	ActiveSuffix    = ".log"
	RetiredSuffix   = ".log.old"
	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750
)

// Default configuration values.
const (
	DefaultQueueSize    = 1024
	DefaultSyncInterval = time.Second
)

// SyncMode defines when an appended record counts as written.
type SyncMode string

const (
	SyncModeAsync SyncMode = "async"
	SyncModeWrite SyncMode = "write"
	SyncModeSync  SyncMode = "sync"
)

// ParseSyncMode validates a sync mode name.
func ParseSyncMode(s string) (SyncMode, error) {
	switch m := SyncMode(s); m {
	case SyncModeAsync, SyncModeWrite, SyncModeSync:
		return m, nil
	case "":
		return SyncModeWrite, nil
	default:
		return "", fmt.Errorf("journal: unknown sync mode %q", s)
	}
}

// Config configures the journal writer.
type Config struct {
	// Path is the base path; the journal files are Path+".log" and
	// Path+".log.old".
	Path string

	SyncMode SyncMode
	// SyncInterval is how often written but unsynced records are fsynced
	// in async and write modes.
	SyncInterval time.Duration

	// QueueSize bounds the number of requests waiting for the worker.
	QueueSize int

	Logger  *slog.Logger
	Metrics *metric.Storage
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		SyncMode:     SyncModeWrite,
		SyncInterval: DefaultSyncInterval,
		QueueSize:    DefaultQueueSize,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.SyncMode == "" {
		cfg.SyncMode = SyncModeWrite
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// ActivePath returns the path of the active journal for base.
func ActivePath(base string) string { return base + ActiveSuffix }

// RetiredPath returns the path of the retired journal for base.
func RetiredPath(base string) string { return base + RetiredSuffix }

// Ack delivers the outcome of a queued request exactly once.
type Ack <-chan error

// Wait blocks until the request has been processed.
func (a Ack) Wait() error {
	return <-a
}

type opKind uint8

const (
	opAppend opKind = iota
	opRotate
	opRetire
	opSync
)

type request struct {
	op   opKind
	line []byte
	done chan error
}

// Writer appends records to the active journal file.
//
// All file I/O happens on one worker goroutine. Append, Rotate, Retire and
// Sync enqueue requests; the worker handles them in enqueue order. The
// first I/O failure is sticky: it is returned for every later request and
// no further data is written.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	// mu orders enqueues against Close.
	mu     sync.Mutex
	closed bool
	reqCh  chan request
	doneCh chan struct{}

	// appended and rotatedAt are sequence numbers guarded by mu.
	appended  uint64
	rotatedAt uint64

	errMu sync.Mutex
	err   error

	// Owned by the worker.
	file     *os.File
	buf      *bufio.Writer
	unsynced bool

	// syncs counts completed fsyncs.
	syncs atomic.Uint64
}

// NewWriter opens (or creates) the active journal for appending and
// starts the worker.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal: path is required")
	}
	applyDefaults(&cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.Path), DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}

	w := &Writer{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "journal"),
		reqCh:  make(chan request, cfg.QueueSize),
		doneCh: make(chan struct{}),
	}
	if err := w.openActive(os.O_CREATE | os.O_WRONLY | os.O_APPEND); err != nil {
		return nil, err
	}

	go w.run()
	return w, nil
}

// Append encodes rec and queues it behind every earlier request.
//
// Encoding errors and a previously failed writer are reported directly;
// nothing is queued in that case. The returned Ack fires according to the
// sync mode: immediately after queueing in async mode, after the write in
// write mode, after fsync in sync mode.
func (w *Writer) Append(rec Record) (Ack, error) {
	line, err := EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	return w.enqueue(opAppend, line)
}

// Rotate retires the active journal and starts a fresh, empty one at the
// same path. Every record appended before Rotate is flushed and fsynced
// into the retired file before the Ack fires; every record appended after
// it lands in the new active file.
//
// When a retired file is still present (its snapshot never completed) the
// active records are appended to it, so it always holds everything not
// yet covered by a snapshot.
func (w *Writer) Rotate() (Ack, error) {
	return w.enqueue(opRotate, nil)
}

// Retire removes the retired journal. Call it only once a snapshot that
// covers the retired records is durable.
func (w *Writer) Retire() error {
	ack, err := w.enqueue(opRetire, nil)
	if err != nil {
		return err
	}
	return ack.Wait()
}

// Sync waits until every queued record is written and fsynced.
func (w *Writer) Sync() error {
	ack, err := w.enqueue(opSync, nil)
	if err != nil {
		return err
	}
	return ack.Wait()
}

// Dirty reports whether records were appended since the last Rotate.
func (w *Writer) Dirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appended != w.rotatedAt
}

// Err returns the sticky I/O error, if any.
func (w *Writer) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Close drains the queue, fsyncs and closes the journal file.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return w.Err()
	}
	w.closed = true
	close(w.reqCh)
	w.mu.Unlock()

	<-w.doneCh
	return w.Err()
}

func (w *Writer) enqueue(op opKind, line []byte) (Ack, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}
	if err := w.Err(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	w.reqCh <- request{op: op, line: line, done: done}

	switch op {
	case opAppend:
		w.appended++
		if w.cfg.SyncMode == SyncModeAsync {
			// Async callers do not wait for the worker.
			ready := make(chan error, 1)
			ready <- nil
			return ready, nil
		}
	case opRotate:
		w.rotatedAt = w.appended
	}
	return done, nil
}

func (w *Writer) run() {
	defer close(w.doneCh)

	// In sync mode every record is already fsynced.
	var tick <-chan time.Time
	if w.cfg.SyncMode != SyncModeSync {
		ticker := time.NewTicker(w.cfg.SyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case req, ok := <-w.reqCh:
			if !ok {
				w.shutdown()
				return
			}
			req.done <- w.handle(req)

		case <-tick:
			if w.unsynced && w.Err() == nil {
				if err := w.syncFile(); err != nil {
					w.fail("periodic sync", err)
				}
			}
		}
	}
}

func (w *Writer) handle(req request) error {
	if err := w.Err(); err != nil {
		return err
	}

	var err error
	switch req.op {
	case opAppend:
		err = w.writeLine(req.line)
	case opRotate:
		err = w.rotate()
	case opRetire:
		err = w.retire()
	case opSync:
		err = w.syncFile()
	}
	if err != nil {
		return w.fail(req.op.String(), err)
	}
	return nil
}

func (w *Writer) writeLine(line []byte) error {
	if _, err := w.buf.Write(line); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	w.unsynced = true
	w.cfg.Metrics.ObserveAppend(len(line))

	if w.cfg.SyncMode == SyncModeSync {
		return w.syncFile()
	}
	return nil
}

func (w *Writer) syncFile() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.unsynced = false
	w.syncs.Add(1)
	return nil
}

func (w *Writer) rotate() error {
	if err := w.syncFile(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	active := ActivePath(w.cfg.Path)
	retired := RetiredPath(w.cfg.Path)

	_, statErr := os.Stat(retired)
	switch {
	case statErr == nil:
		if err := appendFile(retired, active); err != nil {
			return err
		}
		if err := os.Remove(active); err != nil {
			return err
		}
		w.logger.Warn("retired journal still present, merged active records into it",
			"retired", retired)
	case errors.Is(statErr, os.ErrNotExist):
		if err := os.Rename(active, retired); err != nil {
			return err
		}
	default:
		return statErr
	}

	if err := syncDir(filepath.Dir(active)); err != nil {
		return err
	}
	if err := w.openActive(os.O_CREATE | os.O_TRUNC | os.O_WRONLY | os.O_APPEND); err != nil {
		return err
	}

	w.cfg.Metrics.ObserveRotation()
	w.logger.Debug("journal rotated", "retired", retired)
	return nil
}

func (w *Writer) retire() error {
	retired := RetiredPath(w.cfg.Path)
	if err := os.Remove(retired); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return syncDir(filepath.Dir(retired))
}

func (w *Writer) openActive(flag int) error {
	f, err := os.OpenFile(ActivePath(w.cfg.Path), flag, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("journal: open active: %w", err)
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.unsynced = false
	return nil
}

func (w *Writer) shutdown() {
	if w.file == nil {
		return
	}
	if w.Err() == nil {
		if err := w.syncFile(); err != nil {
			w.fail("close", err)
		}
	}
	if err := w.file.Close(); err != nil && w.Err() == nil {
		w.fail("close", err)
	}
	w.file = nil
}

// fail records err as the sticky error and returns it wrapped.
func (w *Writer) fail(op string, err error) error {
	wrapped := fmt.Errorf("journal: %s: %w", op, err)

	w.errMu.Lock()
	if w.err == nil {
		w.err = wrapped
	}
	w.errMu.Unlock()

	w.cfg.Metrics.ObserveJournalError()
	w.logger.Error("journal write failed", "op", op, "error", err)
	return wrapped
}

func (op opKind) String() string {
	switch op {
	case opAppend:
		return "append"
	case opRotate:
		return "rotate"
	case opRetire:
		return "retire"
	case opSync:
		return "sync"
	default:
		return "unknown"
	}
}

// appendFile copies src onto the end of dst and fsyncs dst.
func appendFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_APPEND, DefaultFilePerm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// syncDir fsyncs a directory so renames and removals inside it are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}
