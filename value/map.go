package value

import (
	"sort"
	"strings"
)

// Map is an insertion-ordered string-keyed map, the concrete value produced
// by BuildMap/BuildKwargs and by {% set %} of a mapping literal.
type Map struct {
	base
	Kwargs bool // true when built from BuildKwargs rather than BuildMap
	keys   []string
	values map[string]Value
}

func NewMap() *Map {
	return &Map{values: map[string]Value{}}
}

func NewMapFromPairs(pairs [][2]Value) *Map {
	m := NewMap()
	for _, p := range pairs {
		m.Set(p[0].String(), p[1])
	}
	return m
}

func (m *Map) Kind() string { return "map" }

func (m *Map) String() string {
	parts := make([]string, 0, len(m.keys))
	for _, k := range m.keys {
		parts = append(parts, k+": "+m.values[k].String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (m *Map) IsTruthy() bool { return len(m.keys) > 0 }

func (m *Map) Equals(o Value) bool {
	other, ok := o.(*Map)
	if !ok || len(other.keys) != len(m.keys) {
		return false
	}
	for k, v := range m.values {
		ov, ok := other.values[k]
		if !ok || !v.Equals(ov) {
			return false
		}
	}
	return true
}

func (m *Map) Len() int { return len(m.keys) }

// Set inserts or overwrites a key, preserving first-insertion order.
func (m *Map) Set(key string, val Value) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = val
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	return m.keys
}

// SortedKeys returns the keys in lexical order, used by the json
// auto-escape encoder for deterministic output.
func (m *Map) SortedKeys() []string {
	out := append([]string(nil), m.keys...)
	sort.Strings(out)
	return out
}

func (m *Map) GetAttr(name string) (Value, bool) {
	v, ok := m.values[name]
	return v, ok
}

func (m *Map) GetItem(key Value) (Value, bool) {
	v, ok := m.values[key.String()]
	return v, ok
}

func (m *Map) SetItem(key, val Value) error {
	m.Set(key.String(), val)
	return nil
}

func (m *Map) Iter() (Iterator, error) {
	items := make([]Value, len(m.keys))
	for i, k := range m.keys {
		items[i] = NewString(k)
	}
	return &sliceIterator{items: items}, nil
}
