package journal

import (
	"errors"

	"github.com/yndnr/nestkv/pkg/value"
)

// Errors for journal operations.
var (
	ErrCorruptedRecord = errors.New("journal: corrupted record")
	ErrInvalidRecord   = errors.New("journal: invalid record")
	ErrClosed          = errors.New("journal: writer is closed")
)

// Action identifies the state transition described by a record.
type Action uint8

const (
	ActionUnknown Action = iota
	ActionAssoc
	ActionAssocIn
	ActionDissoc
	ActionDissocIn
)

var actionTags = map[Action]string{
	ActionAssoc:    "assoc",
	ActionAssocIn:  "assoc-in",
	ActionDissoc:   "dissoc",
	ActionDissocIn: "dissoc-in",
}

// String returns the tag written to the journal.
func (a Action) String() string {
	if tag, ok := actionTags[a]; ok {
		return tag
	}
	return "unknown"
}

// ParseAction maps a journal tag to an Action. Unrecognised tags yield
// ActionUnknown.
func ParseAction(tag string) Action {
	for a, t := range actionTags {
		if t == tag {
			return a
		}
	}
	return ActionUnknown
}

// Record is one logged state transition.
//
// Assoc uses Key and Value, AssocIn uses Path and Value, Dissoc uses Key,
// DissocIn uses Path (the container) and Key (the entry removed from it).
type Record struct {
	Action Action
	Key    string
	Path   value.Path
	Value  value.Value

	// Tag holds the raw tag of records decoded as ActionUnknown.
	Tag string
}

// NewAssoc creates an assoc record.
func NewAssoc(key string, v value.Value) Record {
	return Record{Action: ActionAssoc, Key: key, Value: v}
}

// NewAssocIn creates an assoc-in record.
func NewAssocIn(path value.Path, v value.Value) Record {
	return Record{Action: ActionAssocIn, Path: path.Clone(), Value: v}
}

// NewDissoc creates a dissoc record.
func NewDissoc(key string) Record {
	return Record{Action: ActionDissoc, Key: key}
}

// NewDissocIn creates a dissoc-in record.
func NewDissocIn(path value.Path, key string) Record {
	return Record{Action: ActionDissocIn, Path: path.Clone(), Key: key}
}
