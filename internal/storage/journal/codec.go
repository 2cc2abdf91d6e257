package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/yndnr/nestkv/pkg/value"
)

// EncodeRecord renders rec as one newline-terminated journal line.
func EncodeRecord(rec Record) ([]byte, error) {
	var second any
	third := value.Null()

	switch rec.Action {
	case ActionAssoc:
		second = rec.Key
		third = rec.Value
	case ActionDissoc:
		second = rec.Key
	case ActionAssocIn:
		second = pathStrings(rec.Path)
		third = rec.Value
	case ActionDissocIn:
		second = pathStrings(rec.Path)
		third = value.String(rec.Key)
	default:
		return nil, fmt.Errorf("%w: action %d", ErrInvalidRecord, rec.Action)
	}

	if err := validText(rec); err != nil {
		return nil, err
	}

	line, err := json.Marshal([]any{rec.Action.String(), second, third})
	if err != nil {
		return nil, fmt.Errorf("journal: encode %s: %w", rec.Action, err)
	}
	return append(line, '\n'), nil
}

// validText rejects keys and path segments that JSON cannot carry
// unchanged.
func validText(rec Record) error {
	if !utf8.ValidString(rec.Key) {
		return fmt.Errorf("%w: key %q", value.ErrInvalidUTF8, rec.Key)
	}
	for _, seg := range rec.Path {
		if !utf8.ValidString(seg) {
			return fmt.Errorf("%w: path segment %q", value.ErrInvalidUTF8, seg)
		}
	}
	return nil
}

func pathStrings(p value.Path) []string {
	if p == nil {
		return []string{}
	}
	return []string(p)
}

// DecodeRecord parses one journal line. Trailing whitespace, including
// the newline, is ignored. Well-formed records with an unrecognised tag
// decode as ActionUnknown without error.
func DecodeRecord(line []byte) (Record, error) {
	line = bytes.TrimSpace(line)

	var parts []json.RawMessage
	if err := json.Unmarshal(line, &parts); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptedRecord, err)
	}
	if len(parts) != 3 {
		return Record{}, fmt.Errorf("%w: want 3 fields, got %d", ErrCorruptedRecord, len(parts))
	}

	var tag string
	if err := json.Unmarshal(parts[0], &tag); err != nil {
		return Record{}, fmt.Errorf("%w: tag: %v", ErrCorruptedRecord, err)
	}

	rec := Record{Action: ParseAction(tag)}
	switch rec.Action {
	case ActionUnknown:
		rec.Tag = tag
		return rec, nil
	case ActionAssoc, ActionDissoc:
		if err := json.Unmarshal(parts[1], &rec.Key); err != nil {
			return Record{}, fmt.Errorf("%w: key: %v", ErrCorruptedRecord, err)
		}
	case ActionAssocIn, ActionDissocIn:
		var path []string
		if err := json.Unmarshal(parts[1], &path); err != nil {
			return Record{}, fmt.Errorf("%w: path: %v", ErrCorruptedRecord, err)
		}
		rec.Path = value.Path(path)
	}

	switch rec.Action {
	case ActionAssoc, ActionAssocIn:
		v, err := value.Parse(string(parts[2]))
		if err != nil {
			return Record{}, fmt.Errorf("%w: value: %v", ErrCorruptedRecord, err)
		}
		rec.Value = v
	case ActionDissocIn:
		if err := json.Unmarshal(parts[2], &rec.Key); err != nil {
			return Record{}, fmt.Errorf("%w: key: %v", ErrCorruptedRecord, err)
		}
	}
	return rec, nil
}
