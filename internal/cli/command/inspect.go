package command

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/nestkv/internal/storage/journal"
	"github.com/yndnr/nestkv/internal/storage/snapshot"
	"github.com/yndnr/nestkv/pkg/value"
)

// JournalCommand returns the journal command.
func JournalCommand() *cli.Command {
	return &cli.Command{
		Name:   "journal",
		Usage:  "List the records of the retired and active journals",
		Action: listJournal,
	}
}

// StatCommand returns the stat command.
func StatCommand() *cli.Command {
	return &cli.Command{
		Name:   "stat",
		Usage:  "Show snapshot and journal files",
		Action: stat,
	}
}

// JournalEntry is one journal record as listed by the journal command.
type JournalEntry struct {
	File   string      `json:"file"`
	Seq    int         `json:"seq"`
	Offset int64       `json:"offset"`
	Action string      `json:"action"`
	Target string      `json:"target"`
	Value  value.Value `json:"value"`
}

func newJournalEntry(file string, seq int, offset int64, rec journal.Record) JournalEntry {
	e := JournalEntry{
		File:   file,
		Seq:    seq,
		Offset: offset,
		Action: rec.Action.String(),
		Value:  rec.Value,
	}
	switch rec.Action {
	case journal.ActionAssoc, journal.ActionDissoc:
		e.Target = rec.Key
	case journal.ActionAssocIn:
		e.Target = rec.Path.String()
	case journal.ActionDissocIn:
		e.Target = append(rec.Path.Clone(), rec.Key).String()
	default:
		e.Action = rec.Tag
	}
	return e
}

// journalFiles lists the journals of base in replay order.
func journalFiles(base string) []string {
	return []string{journal.RetiredPath(base), journal.ActivePath(base)}
}

func listJournal(c *cli.Context) error {
	base := configFrom(c).Store.Path
	log := loggerFrom(c)

	entries := []JournalEntry{}
	for _, path := range journalFiles(base) {
		more, err := readJournal(path)
		entries = append(entries, more...)
		if errors.Is(err, journal.ErrCorruptedRecord) {
			log.Warn("journal ends with an unreadable record", "path", path, "error", err)
			continue
		}
		if err != nil {
			return err
		}
	}
	return printResult(c, entries)
}

// readJournal lists the readable records of one journal file. A missing
// file yields no entries. The entries read before an unreadable record
// are returned along with the error.
func readJournal(path string) ([]JournalEntry, error) {
	r, err := journal.OpenReader(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer r.Close()

	var entries []JournalEntry
	for {
		offset := r.Offset()
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, newJournalEntry(path, len(entries)+1, offset, rec))
	}
}

// FileStat describes one file of the database.
type FileStat struct {
	Path        string    `json:"path"`
	Kind        string    `json:"kind"`
	Compression string    `json:"compression,omitempty"`
	Size        int64     `json:"size" table:"bytes"`
	Entries     int       `json:"entries"`
	Torn        bool      `json:"torn,omitempty"`
	ModTime     time.Time `json:"mod_time"`
	Error       string    `json:"error,omitempty"`
}

func stat(c *cli.Context) error {
	base := configFrom(c).Store.Path

	stats := []FileStat{}
	for _, comp := range snapshot.Compressions {
		path := snapshot.PathFor(base, comp)
		st, ok, err := statFile(path)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		fs := FileStat{
			Path:        path,
			Kind:        "snapshot",
			Compression: comp.String(),
			Size:        st.Size(),
			ModTime:     st.ModTime(),
		}
		if state, err := snapshot.ReadFile(path, comp); err != nil {
			fs.Error = err.Error()
		} else {
			fs.Entries = len(state)
		}
		stats = append(stats, fs)
	}

	for _, path := range journalFiles(base) {
		st, ok, err := statFile(path)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		fs := FileStat{
			Path:    path,
			Kind:    "journal",
			Size:    st.Size(),
			ModTime: st.ModTime(),
		}
		res, err := journal.Replay(path, func(journal.Record) error { return nil })
		if err != nil {
			fs.Error = err.Error()
		}
		fs.Entries = res.Records
		fs.Torn = res.Torn
		stats = append(stats, fs)
	}
	return printResult(c, stats)
}

func statFile(path string) (os.FileInfo, bool, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}
	return st, !st.IsDir(), nil
}
