package value

import "strings"

// Path locates a value inside nested maps.
type Path []string

// ParsePath splits a dotted path such as "users.42.name".
// An empty string yields an empty path.
func ParsePath(s string) Path {
	if s == "" {
		return Path{}
	}
	return Path(strings.Split(s, "."))
}

// String joins the path with dots.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Clone returns a copy of p.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// GetIn descends through path and returns the value found there.
// It reports false as soon as a segment is missing or a non-map is met.
func GetIn(v Value, path Path) (Value, bool) {
	cur := v
	for _, key := range path {
		m, ok := cur.AsMap()
		if !ok {
			return Value{}, false
		}
		cur, ok = m[key]
		if !ok {
			return Value{}, false
		}
	}
	return cur, true
}

// AssocIn returns a copy of v with nv stored at path. Missing
// intermediate maps are created; an intermediate that is not a map is
// replaced by a new map. An empty path yields nv.
func AssocIn(v Value, path Path, nv Value) Value {
	if len(path) == 0 {
		return nv
	}
	m, ok := v.AsMap()
	if !ok {
		m = Map{}
	}
	child := m[path[0]]
	return m.Assoc(path[0], AssocIn(child, path[1:], nv)).Value()
}

// DissocIn returns a copy of v with key removed from the map located at
// path. When that map does not exist, or does not hold key, v is
// returned unchanged and changed is false.
func DissocIn(v Value, path Path, key string) (out Value, changed bool) {
	m, ok := v.AsMap()
	if !ok {
		return v, false
	}
	if len(path) == 0 {
		if _, ok := m[key]; !ok {
			return v, false
		}
		return m.Dissoc(key).Value(), true
	}
	child, ok := m[path[0]]
	if !ok {
		return v, false
	}
	nc, changed := DissocIn(child, path[1:], key)
	if !changed {
		return v, false
	}
	return m.Assoc(path[0], nc).Value(), true
}

// UpdateFunc computes a new value from the current one. ok is false when
// nothing was stored at the path, in which case current is Null.
type UpdateFunc func(current Value, ok bool) (Value, error)

// UpdateIn applies fn to the value at path and stores the result there.
func UpdateIn(v Value, path Path, fn UpdateFunc) (Value, error) {
	cur, ok := GetIn(v, path)
	nv, err := fn(cur, ok)
	if err != nil {
		return v, err
	}
	return AssocIn(v, path, nv), nil
}
