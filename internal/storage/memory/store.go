package memory

import (
	"errors"
	"sync"

	"github.com/yndnr/nestkv/internal/storage/journal"
	"github.com/yndnr/nestkv/pkg/value"
)

// ErrUnknownAction is returned by Apply for records it cannot interpret.
var ErrUnknownAction = errors.New("memory: unknown action")

// ErrEmptyPath is returned for an assoc-in or update with no path.
var ErrEmptyPath = errors.New("memory: empty path")

// Op is the effect of a record on one top-level key.
type Op uint8

const (
	// OpNone leaves the state unchanged.
	OpNone Op = iota
	// OpSet stores Change.Value under Change.Key.
	OpSet
	// OpDelete removes Change.Key.
	OpDelete
)

// Change is the top-level effect of a record.
type Change struct {
	Op    Op
	Key   string
	Value value.Value
}

// CommitFunc is called with the record of a mutation while the write lock
// is held. A non-nil error aborts the mutation.
type CommitFunc func(rec journal.Record) error

// BuildFunc derives a record from the current state. It runs under the
// write lock and must not retain root.
type BuildFunc func(root value.Map) (journal.Record, error)

// Store is the in-memory state.
type Store struct {
	mu   sync.RWMutex
	root value.Map
}

// New returns a store holding root. The store takes ownership of the map.
func New(root value.Map) *Store {
	if root == nil {
		root = value.Map{}
	}
	return &Store{root: root}
}

// Get returns the value stored under a top-level key.
func (s *Store) Get(key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.root[key]
	return v, ok
}

// GetIn returns the value at path. An empty path yields the whole state.
func (s *Store) GetIn(path value.Path) (value.Value, bool) {
	if len(path) == 0 {
		return s.State().Value(), true
	}

	s.mu.RLock()
	top, ok := s.root[path[0]]
	s.mu.RUnlock()
	if !ok {
		return value.Value{}, false
	}
	return value.GetIn(top, path[1:])
}

// Len returns the number of top-level keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.root)
}

// State returns a consistent copy of the whole state.
func (s *Store) State() value.Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root.Clone()
}

// Barrier runs fn with a consistent copy of the state while holding the
// write lock, so no mutation can commit until fn returns.
func (s *Store) Barrier(fn func(state value.Map) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.root.Clone())
}

// Apply applies rec. When commit is non-nil it is called under the write
// lock before the change is installed. Records with an unknown action are
// rejected with ErrUnknownAction.
func (s *Store) Apply(rec journal.Record, commit CommitFunc) error {
	return s.Update(func(value.Map) (journal.Record, error) {
		return rec, nil
	}, commit)
}

// Update builds a record from the current state and applies it as one
// atomic step: no other mutation can interleave between build, commit and
// install. build and commit run under the write lock; a commit that blocks
// blocks every reader too.
func (s *Store) Update(build BuildFunc, commit CommitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := build(s.root)
	if err != nil {
		return err
	}
	change, err := Compute(s.root, rec)
	if err != nil {
		return err
	}
	if commit != nil {
		if err := commit(rec); err != nil {
			return err
		}
	}
	s.install(change)
	return nil
}

func (s *Store) install(c Change) {
	switch c.Op {
	case OpSet:
		s.root[c.Key] = c.Value
	case OpDelete:
		delete(s.root, c.Key)
	}
}

// Compute returns the change rec makes to root without modifying it.
//
// assoc-in replaces non-map intermediates with fresh maps and dissoc-in
// of a missing container changes nothing, so applying the same sequence of
// records twice yields the same state as applying it once.
func Compute(root value.Map, rec journal.Record) (Change, error) {
	switch rec.Action {
	case journal.ActionAssoc:
		return Change{Op: OpSet, Key: rec.Key, Value: rec.Value}, nil

	case journal.ActionDissoc:
		if _, ok := root[rec.Key]; !ok {
			return Change{Op: OpNone, Key: rec.Key}, nil
		}
		return Change{Op: OpDelete, Key: rec.Key}, nil

	case journal.ActionAssocIn:
		if len(rec.Path) == 0 {
			return Change{}, ErrEmptyPath
		}
		top := rec.Path[0]
		return Change{
			Op:    OpSet,
			Key:   top,
			Value: value.AssocIn(root[top], rec.Path[1:], rec.Value),
		}, nil

	case journal.ActionDissocIn:
		if len(rec.Path) == 0 {
			return Compute(root, journal.NewDissoc(rec.Key))
		}
		top := rec.Path[0]
		cur, ok := root[top]
		if !ok {
			return Change{Op: OpNone, Key: top}, nil
		}
		nv, changed := value.DissocIn(cur, rec.Path[1:], rec.Key)
		if !changed {
			return Change{Op: OpNone, Key: top}, nil
		}
		return Change{Op: OpSet, Key: top, Value: nv}, nil

	default:
		return Change{}, ErrUnknownAction
	}
}
