package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/yndnr/nestkv/internal/storage/journal"
	"github.com/yndnr/nestkv/internal/storage/memory"
	"github.com/yndnr/nestkv/internal/storage/snapshot"
	"github.com/yndnr/nestkv/pkg/value"
)

// LockSuffix is appended to the base path to name the lock file.
const LockSuffix = ".lock"

// open locks the database, rebuilds the state and opens the journal.
//
// Recovery:
//  1. Load the snapshot, or start empty.
//  2. Replay <path>.log.old, then <path>.log. Each file is read up to its
//     first unreadable record; a torn tail is truncated away.
//  3. Open the journal writer.
//  4. When any journal data was found, checkpoint so the process starts
//     from a fresh snapshot and an empty journal.
func (db *DB) open() (err error) {
	start := time.Now()

	lock, err := acquireLock(db.path + LockSuffix)
	if err != nil {
		return err
	}
	db.lock = lock
	defer func() {
		if err != nil {
			db.lock.release()
		}
	}()

	snapCfg := snapshot.DefaultConfig(db.path)
	snapCfg.Compression = db.opts.compression
	snapCfg.Logger = db.logger
	db.snapshot, err = snapshot.NewManager(snapCfg)
	if err != nil {
		return err
	}

	root, info, err := db.snapshot.Load()
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		root = value.Map{}
		db.logger.Info("no snapshot found, starting with empty state")
	case err != nil:
		return fmt.Errorf("store: load snapshot: %w", err)
	default:
		db.logger.Info("snapshot loaded",
			"path", info.Path,
			"compression", info.Compression,
			"keys", info.Keys,
			"elapsed", time.Since(start))
	}
	db.state = memory.New(root)

	replayStart := time.Now()
	replayed, pending, err := db.replay()
	if err != nil {
		return err
	}
	db.metrics.ObserveRecovery(replayed)
	db.stats.RecoveredRecords = replayed
	if replayed > 0 {
		db.logger.Info("journal replayed",
			"records", replayed,
			"elapsed", time.Since(replayStart))
	}

	journalCfg := journal.DefaultConfig(db.path)
	journalCfg.SyncMode = db.opts.syncMode
	journalCfg.SyncInterval = db.opts.syncInterval
	journalCfg.QueueSize = db.opts.queueSize
	journalCfg.Logger = db.logger
	journalCfg.Metrics = db.metrics
	db.journal, err = journal.NewWriter(journalCfg)
	if err != nil {
		return fmt.Errorf("store: open journal: %w", err)
	}

	if pending {
		if _, err := db.checkpoint(context.Background(), checkpointStartup, nil); err != nil {
			db.journal.Close()
			return err
		}
	}

	db.metrics.SetKeys(db.state.Len())
	db.logger.Info("store opened",
		"keys", db.state.Len(),
		"compression", db.opts.compression,
		"sync_mode", db.opts.syncMode,
		"interval", db.interval,
		"elapsed", time.Since(start))
	return nil
}

// replay applies both journal files to the state. pending reports whether
// any journal data exists that a checkpoint should fold into the snapshot.
func (db *DB) replay() (replayed int, pending bool, err error) {
	for _, path := range []string{journal.RetiredPath(db.path), journal.ActivePath(db.path)} {
		res, err := journal.Replay(path, func(rec journal.Record) error {
			if rec.Action == journal.ActionUnknown {
				db.logger.Warn("skipping journal record with unknown action",
					"path", path,
					"tag", rec.Tag)
				return nil
			}
			if err := db.state.Apply(rec, nil); err != nil {
				db.logger.Warn("skipping journal record",
					"path", path,
					"action", rec.Action,
					"value", rec.Value.String(),
					"error", err)
				return nil
			}
			replayed++
			return nil
		})
		if err != nil {
			return replayed, pending, fmt.Errorf("store: replay journal: %w", err)
		}

		if res.TotalBytes > 0 {
			pending = true
		} else if _, statErr := os.Stat(path); statErr == nil && path == journal.RetiredPath(db.path) {
			pending = true
		}

		if res.Torn {
			db.logger.Warn("journal has an unreadable tail, discarding it",
				"path", path,
				"valid_bytes", res.ValidBytes,
				"total_bytes", res.TotalBytes)
			if err := os.Truncate(path, res.ValidBytes); err != nil {
				return replayed, pending, fmt.Errorf("store: truncate journal: %w", err)
			}
		}
	}
	return replayed, pending, nil
}
