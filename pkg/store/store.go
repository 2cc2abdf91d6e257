package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/nestkv/internal/storage/journal"
	"github.com/yndnr/nestkv/internal/storage/memory"
	"github.com/yndnr/nestkv/internal/storage/snapshot"
	"github.com/yndnr/nestkv/internal/telemetry/metric"
	"github.com/yndnr/nestkv/pkg/value"
)

var (
	ErrClosed    = errors.New("store: closed")
	ErrEmptyPath = errors.New("store: empty path")
	ErrLocked    = errors.New("store: database is locked by another process")
)

// UpdateFunc computes the new value at a path from the current one. It is
// called with the state lock held and must not use the DB.
// current is Null when nothing is stored there.
type UpdateFunc func(current value.Value, args ...value.Value) (value.Value, error)

// DB is an open database.
type DB struct {
	path     string
	interval time.Duration
	opts     options
	logger   *slog.Logger
	metrics  *metric.Storage

	lock     *fileLock
	state    *memory.Store
	snapshot *snapshot.Manager
	journal  *journal.Writer

	// cpMu serialises checkpoints, including the final one run by Close.
	cpMu sync.Mutex
	// retry forces the next scheduled checkpoint after a failed one.
	retry bool

	// closed is set under the state write lock by the final checkpoint.
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	final     value.Map

	stopCh chan struct{}
	doneCh chan struct{}

	// testHook, when set, runs between checkpoint steps; an error aborts
	// the checkpoint there.
	testHook func(checkpointHook) error

	statsMu sync.Mutex
	stats   Stats
}

// Open opens the database at path, creating it if needed.
//
// The state is recovered from the snapshot and the journal files. A
// checkpoint runs every interval; a non-positive interval disables
// periodic checkpoints, leaving only manual ones and the one run by Close.
func Open(path string, interval time.Duration, opts ...Option) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := snapshot.ParseCompression(string(o.compression)); err != nil {
		return nil, err
	}
	if _, err := journal.ParseSyncMode(string(o.syncMode)); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store: resolve path: %w", err)
	}

	db := &DB{
		path:     abs,
		interval: interval,
		opts:     o,
		logger:   o.logger.With("db", abs),
		metrics:  metric.NewStorage(o.registerer),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	if err := db.open(); err != nil {
		return nil, err
	}

	if interval > 0 {
		go db.schedule()
	} else {
		close(db.doneCh)
	}
	return db, nil
}

// Path returns the absolute base path of the database.
func (db *DB) Path() string {
	return db.path
}

// Get returns the value stored under key.
func (db *DB) Get(key string) (value.Value, bool) {
	return db.state.Get(key)
}

// GetOr returns the value stored under key, or def when there is none.
func (db *DB) GetOr(key string, def value.Value) value.Value {
	if v, ok := db.state.Get(key); ok {
		return v
	}
	return def
}

// GetIn returns the value at path. An empty path yields the whole state.
func (db *DB) GetIn(path value.Path) (value.Value, bool) {
	return db.state.GetIn(path)
}

// State returns a consistent copy of the whole state.
func (db *DB) State() value.Map {
	return db.state.State()
}

// Assoc stores v under key.
func (db *DB) Assoc(key string, v value.Value) error {
	return db.apply(journal.NewAssoc(key, v))
}

// AssocIn stores v at path, creating intermediate maps as needed. An
// intermediate value that is not a map is replaced.
func (db *DB) AssocIn(path value.Path, v value.Value) error {
	if len(path) == 0 {
		return ErrEmptyPath
	}
	return db.apply(journal.NewAssocIn(path, v))
}

// Dissoc removes key. Removing a missing key is not an error.
func (db *DB) Dissoc(key string) error {
	return db.apply(journal.NewDissoc(key))
}

// DissocIn removes key from the map at path. An empty path removes a
// top-level key. The mutation is journaled even when the map at path does
// not exist.
func (db *DB) DissocIn(path value.Path, key string) error {
	return db.apply(journal.NewDissocIn(path, key))
}

// UpdateIn replaces the value at path with fn(current, args...). No other
// mutation can run between reading the current value and storing the new
// one.
//
// fn runs with the state lock held. It must not call any method of db,
// which would deadlock, and should return quickly.
func (db *DB) UpdateIn(path value.Path, fn UpdateFunc, args ...value.Value) error {
	if len(path) == 0 {
		return ErrEmptyPath
	}
	path = path.Clone()
	return db.commit(func(root value.Map) (journal.Record, error) {
		var cur value.Value
		if top, ok := root[path[0]]; ok {
			cur, _ = value.GetIn(top, path[1:])
		}
		nv, err := fn(cur, args...)
		if err != nil {
			return journal.Record{}, err
		}
		return journal.NewAssocIn(path, nv), nil
	})
}

func (db *DB) apply(rec journal.Record) error {
	return db.commit(func(value.Map) (journal.Record, error) {
		return rec, nil
	})
}

// commit applies the record built from the current state, appends it to
// the journal under the state lock and waits for the journal outside it.
func (db *DB) commit(build memory.BuildFunc) error {
	var ack journal.Ack
	err := db.state.Update(func(root value.Map) (journal.Record, error) {
		if db.closed.Load() {
			return journal.Record{}, ErrClosed
		}
		return build(root)
	}, func(rec journal.Record) error {
		a, err := db.journal.Append(rec)
		if err != nil {
			if errors.Is(err, journal.ErrClosed) {
				return ErrClosed
			}
			return fmt.Errorf("store: journal append: %w", err)
		}
		ack = a
		return nil
	})
	if err != nil {
		if errors.Is(err, memory.ErrEmptyPath) {
			return ErrEmptyPath
		}
		return err
	}

	db.metrics.SetKeys(db.state.Len())
	if err := ack.Wait(); err != nil {
		return fmt.Errorf("store: journal write: %w", err)
	}
	return nil
}

// Sync waits until every acknowledged mutation is fsynced.
func (db *DB) Sync() error {
	if db.closed.Load() {
		return ErrClosed
	}
	if err := db.journal.Sync(); err != nil {
		if errors.Is(err, journal.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Close stops the scheduler, runs a final checkpoint, closes the journal
// and releases the lock. It returns the final state. Later calls return
// the same state and error.
func (db *DB) Close() (value.Map, error) {
	db.closeOnce.Do(func() {
		db.final, db.closeErr = db.close()
	})
	return db.final, db.closeErr
}

func (db *DB) close() (value.Map, error) {
	start := time.Now()
	db.logger.Info("closing store")

	close(db.stopCh)
	<-db.doneCh

	var errs []error
	info, final, err := db.finalCheckpoint()
	if err != nil {
		errs = append(errs, fmt.Errorf("final checkpoint: %w", err))
	}
	if err := db.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}
	if err := db.lock.release(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		db.logger.Error("store closed with errors", "error", err)
		return final, fmt.Errorf("store: close: %w", err)
	}

	attrs := []any{"keys", len(final), "elapsed", time.Since(start)}
	if info != nil {
		attrs = append(attrs, "checkpoint_id", info.ID)
	}
	db.logger.Info("store closed", attrs...)
	return final, nil
}

// finalCheckpoint marks the DB closed inside the checkpoint barrier so no
// mutation can commit after the state it snapshots.
func (db *DB) finalCheckpoint() (*CheckpointInfo, value.Map, error) {
	var final value.Map
	info, err := db.checkpoint(context.Background(), checkpointClose, func(state value.Map) {
		db.closed.Store(true)
		final = state
	})
	if final == nil {
		// The barrier never ran: the journal had already failed.
		db.closed.Store(true)
		final = db.state.State()
	}
	return info, final, err
}
