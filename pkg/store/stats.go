package store

import (
	"time"
)

// Stats is a point-in-time view of the DB.
type Stats struct {
	Keys int `json:"keys"`

	Checkpoints       uint64    `json:"checkpoints"`
	FailedCheckpoints uint64    `json:"failed_checkpoints"`
	LastCheckpoint    time.Time `json:"last_checkpoint,omitempty"`
	LastCheckpointID  string    `json:"last_checkpoint_id,omitempty"`

	// LastCheckpointError is the error of the most recent checkpoint, nil
	// when it succeeded.
	LastCheckpointError error `json:"-"`

	// RecoveredRecords counts journal records replayed by Open.
	RecoveredRecords int `json:"recovered_records"`

	// JournalError is the sticky journal failure, if any. Once set every
	// mutation fails.
	JournalError error `json:"-"`
}

// Stats returns current statistics.
func (db *DB) Stats() Stats {
	db.statsMu.Lock()
	s := db.stats
	db.statsMu.Unlock()

	s.Keys = db.state.Len()
	s.JournalError = db.journal.Err()
	return s
}

func (db *DB) recordCheckpoint(info *CheckpointInfo, err error) {
	db.statsMu.Lock()
	defer db.statsMu.Unlock()

	if err != nil {
		db.stats.FailedCheckpoints++
		db.stats.LastCheckpointError = err
		return
	}
	db.stats.Checkpoints++
	db.stats.LastCheckpoint = info.Time
	db.stats.LastCheckpointID = info.ID
	db.stats.LastCheckpointError = nil
}
