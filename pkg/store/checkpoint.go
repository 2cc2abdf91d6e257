package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yndnr/nestkv/internal/storage/journal"
	"github.com/yndnr/nestkv/internal/telemetry/metric"
	"github.com/yndnr/nestkv/pkg/value"
)

// CheckpointInfo describes a completed checkpoint.
type CheckpointInfo struct {
	ID          string        `json:"id"`
	Path        string        `json:"path"`
	Compression Compression   `json:"compression"`
	Keys        int           `json:"keys"`
	Size        int64         `json:"size" table:"bytes"`
	Duration    time.Duration `json:"duration"`
	Time        time.Time     `json:"time"`
}

type checkpointMode uint8

const (
	checkpointScheduled checkpointMode = iota
	checkpointManual
	checkpointStartup
	checkpointClose
)

func (m checkpointMode) String() string {
	switch m {
	case checkpointScheduled:
		return "scheduled"
	case checkpointManual:
		return "manual"
	case checkpointStartup:
		return "startup"
	case checkpointClose:
		return "close"
	default:
		return "unknown"
	}
}

// Checkpoint writes a snapshot of the current state and discards the
// journal records it covers. It runs even when nothing changed since the
// last checkpoint.
func (db *DB) Checkpoint(ctx context.Context) (*CheckpointInfo, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return db.checkpoint(ctx, checkpointManual, nil)
}

// schedule runs periodic checkpoints until Close.
func (db *DB) schedule() {
	defer close(db.doneCh)

	ticker := time.NewTicker(db.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), db.checkpointTimeout())
			if _, err := db.checkpoint(ctx, checkpointScheduled, nil); err != nil && db.opts.errorHandler != nil {
				db.opts.errorHandler(err)
			}
			cancel()

		case <-db.stopCh:
			return
		}
	}
}

func (db *DB) checkpointTimeout() time.Duration {
	if d := 10 * db.interval; d > time.Minute {
		return d
	}
	return time.Minute
}

// checkpoint runs one checkpoint cycle:
//
//  1. Under the state write lock, copy the state and rotate the journal.
//     Records committed before this point are in the rotated file, later
//     ones in the fresh journal.
//  2. Wait for the rotation, which fsyncs the rotated file.
//  3. Write the snapshot atomically.
//  4. Delete the rotated journal.
//
// A failure at any step leaves the rotated journal in place; the next
// rotation appends to it and recovery replays it before the active one.
// onBarrier, when set, runs inside the barrier of step 1.
func (db *DB) checkpoint(ctx context.Context, mode checkpointMode, onBarrier func(value.Map)) (*CheckpointInfo, error) {
	db.cpMu.Lock()
	defer db.cpMu.Unlock()

	if mode != checkpointClose && db.closed.Load() {
		return nil, ErrClosed
	}
	if mode == checkpointScheduled && !db.retry && !db.journal.Dirty() {
		db.metrics.ObserveCheckpoint(metric.ResultSkipped, 0, 0)
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	info, err := db.runCheckpoint(ctx, onBarrier)
	elapsed := time.Since(start)

	if err != nil {
		db.retry = true
		db.metrics.ObserveCheckpoint(metric.ResultError, elapsed, 0)
		db.recordCheckpoint(nil, err)
		db.logger.Error("checkpoint failed",
			"mode", mode,
			"error", err,
			"elapsed", elapsed)
		return nil, fmt.Errorf("store: checkpoint: %w", err)
	}

	db.retry = false
	info.Duration = elapsed
	db.metrics.ObserveCheckpoint(metric.ResultOK, elapsed, info.Size)
	db.metrics.SetKeys(info.Keys)
	db.recordCheckpoint(info, nil)
	db.logger.Info("checkpoint completed",
		"mode", mode,
		"id", info.ID,
		"keys", info.Keys,
		"size", humanize.IBytes(uint64(info.Size)),
		"compression", info.Compression,
		"elapsed", elapsed)
	return info, nil
}

func (db *DB) runCheckpoint(ctx context.Context, onBarrier func(value.Map)) (*CheckpointInfo, error) {
	var (
		state value.Map
		ack   journal.Ack
	)
	err := db.state.Barrier(func(s value.Map) error {
		a, err := db.journal.Rotate()
		if err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
		state, ack = s, a
		if onBarrier != nil {
			onBarrier(s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case err := <-ack:
		if err != nil {
			return nil, fmt.Errorf("rotate journal: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if hook := db.testHook; hook != nil {
		if err := hook(hookAfterRotate); err != nil {
			return nil, err
		}
	}

	snap, err := db.snapshot.Write(state)
	if err != nil {
		return nil, err
	}

	if hook := db.testHook; hook != nil {
		if err := hook(hookAfterSnapshot); err != nil {
			return nil, err
		}
	}

	if err := db.journal.Retire(); err != nil {
		return nil, fmt.Errorf("retire journal: %w", err)
	}

	return &CheckpointInfo{
		ID:          snap.ID,
		Path:        snap.Path,
		Compression: snap.Compression,
		Keys:        snap.Keys,
		Size:        snap.Size,
		Time:        snap.ModTime,
	}, nil
}

// checkpointHook names a point between checkpoint steps.
type checkpointHook uint8

const (
	hookAfterRotate checkpointHook = iota + 1
	hookAfterSnapshot
)
