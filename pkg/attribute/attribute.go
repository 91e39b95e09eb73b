// Package attribute defines the multi-valued attribute map that query
// results and merge operations are expressed in. Every attribute carries an
// ordered list of values, even when a backend yields a single scalar.
package attribute

import (
	"maps"
	"slices"
)

// Map associates an attribute name with its ordered values. Values are
// heterogeneous: backends may produce strings, numbers, times, or nil for a
// present-but-null column.
type Map map[string][]any

// New returns an empty attribute map.
func New() Map {
	return Map{}
}

// FromValues lifts a map of scalars into a multi-valued Map. A value that is
// already a []any is copied as-is, everything else becomes a single-element
// list. A nil value becomes a single-element list holding nil, which keeps
// present-but-null distinguishable from absent.
func FromValues(values map[string]any) Map {
	m := make(Map, len(values))
	for name, v := range values {
		if list, ok := v.([]any); ok {
			m[name] = slices.Clone(list)
			continue
		}
		m[name] = []any{v}
	}
	return m
}

// Clone returns a deep copy of m. The value lists are copied so that callers
// may append to the clone without aliasing the original.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for name, values := range m {
		out[name] = slices.Clone(values)
	}
	return out
}

// Add appends values to the list held under name, creating the entry if it
// does not exist yet. Existing values are never displaced.
func (m Map) Add(name string, values ...any) {
	m[name] = append(m[name], values...)
}

// Put replaces the values held under name.
func (m Map) Put(name string, values ...any) {
	m[name] = values
}

// Value returns the first value held under name, or nil if the attribute is
// absent or empty.
func (m Map) Value(name string) any {
	values := m[name]
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// Values returns the ordered values held under name. The returned slice is
// the map's own; callers that mutate it should Clone first.
func (m Map) Values(name string) []any {
	return m[name]
}

// Has reports whether name is present, even with an empty or nil value list.
func (m Map) Has(name string) bool {
	_, ok := m[name]
	return ok
}

// Names returns the attribute names in sorted order.
func (m Map) Names() []string {
	return slices.Sorted(maps.Keys(m))
}
