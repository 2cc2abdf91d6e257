// Package value provides the nested value tree stored by nestkv.
//
// A Value is a closed variant over scalar, sequence and keyed-container
// forms:
//
//   - Null, Bool, Int, Float, String (scalars)
//   - List (ordered sequence of values)
//   - Map (string-keyed container)
//
// Values are treated as immutable. Every update helper (Assoc, Dissoc,
// AssocIn, DissocIn, UpdateIn) copies the containers along the modified
// path and leaves the input untouched, so a value handed out by a read
// can be shared freely between goroutines.
//
// Navigation uses Path, an ordered list of map keys:
//
//	root := value.Map{}
//	root = value.AssocIn(root.Value(), value.Path{"users", "42", "name"}, value.String("ada")).MustMap()
//	v, ok := value.GetIn(root.Value(), value.Path{"users", "42", "name"})
//
// The textual representation is JSON. Int and Float survive a round trip
// as distinct kinds.
package value
