package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Reader reads records from one journal file in file order.
type Reader struct {
	file   *os.File
	reader *bufio.Reader
	offset int64
}

// OpenReader opens a journal file for reading.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

// Next returns the next record. It returns io.EOF at the clean end of
// the file and an error wrapping ErrCorruptedRecord at the first line
// that is incomplete or cannot be decoded; reading should stop there.
func (r *Reader) Next() (Record, error) {
	line, err := r.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(line) == 0 {
				return Record{}, io.EOF
			}
			return Record{}, fmt.Errorf("%w: torn record at offset %d", ErrCorruptedRecord, r.offset)
		}
		return Record{}, err
	}

	rec, err := DecodeRecord(line)
	if err != nil {
		return Record{}, fmt.Errorf("offset %d: %w", r.offset, err)
	}
	r.offset += int64(len(line))
	return rec, nil
}

// Offset returns the number of bytes consumed by successfully decoded
// records.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReplayResult summarises one Replay call.
type ReplayResult struct {
	Records    int
	ValidBytes int64
	TotalBytes int64

	// Torn is set when reading stopped at an unreadable record before the
	// end of the file.
	Torn bool
}

// Replay calls fn for each record of the journal at path, in file order.
// A missing file is not an error. Reading stops quietly at the first
// unreadable record; an error returned by fn aborts the replay.
func Replay(path string, fn func(Record) error) (ReplayResult, error) {
	var res ReplayResult

	r, err := OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, nil
		}
		return res, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer r.Close()

	if st, err := r.file.Stat(); err == nil {
		res.TotalBytes = st.Size()
	}

	for {
		rec, err := r.Next()
		if err != nil {
			res.ValidBytes = r.Offset()
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			if errors.Is(err, ErrCorruptedRecord) {
				res.Torn = true
				return res, nil
			}
			return res, fmt.Errorf("journal: read %s: %w", path, err)
		}
		if err := fn(rec); err != nil {
			res.ValidBytes = r.Offset()
			return res, err
		}
		res.Records++
	}
}
