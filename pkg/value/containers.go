package value

import (
	"math"
	"strings"
)

// Array is an ordered, mutable sequence.
type Array struct {
	Elements []Value
}

// NewArray creates an array holding elems.
func NewArray(elems ...Value) *Array {
	return &Array{Elements: elems}
}

func (a *Array) Kind() Kind { return KindArray }
func (a *Array) AsNumber() float64 { return float64(len(a.Elements)) }
func (a *Array) Truthy() bool { return len(a.Elements) > 0 }
func (a *Array) Len() int { return len(a.Elements) }
func (a *Array) Append(v ...Value) { a.Elements = append(a.Elements, v...) }
func (*Array) sealed() {}

func (a *Array) String() string {
	parts := make([]string, len(a.Elements))
	for i, e := range a.Elements {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// GetIndex supports "length" and numeric indexing. Negative indices count from
// the end; out-of-range reads yield null.
func (a *Array) GetIndex(index Value) (Value, error) {
	if key, ok := index.(String); ok {
		if key == "length" {
			return Number(len(a.Elements)), nil
		}
		if !isNumeric(key) {
			return nil, typeErrorf("Member '%s' not found on array", key)
		}
	} else if index.Kind() != KindNumber {
		return nil, typeErrorf("Member '%s' not found on array", index)
	}
	i, ok := normalizeIndex(index.AsNumber(), len(a.Elements))
	if !ok {
		return NullValue, nil
	}
	return a.Elements[i], nil
}

// SetIndex overwrites an element; writing at exactly len appends.
func (a *Array) SetIndex(index, v Value) error {
	f := index.AsNumber()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return typeErrorf("Index out of bounds: %s", index)
	}
	i := int(f)
	switch {
	case i >= 0 && i < len(a.Elements):
		a.Elements[i] = v
	case i == len(a.Elements):
		a.Elements = append(a.Elements, v)
	default:
		return typeErrorf("Index out of bounds: %d", i)
	}
	return nil
}

// mapKey gives scalar keys value semantics and everything else identity
// semantics.
type mapKey struct {
	kind Kind
	v    any
}

func keyOf(v Value) mapKey {
	switch x := v.(type) {
	case Null:
		return mapKey{kind: KindNull}
	case Bool:
		return mapKey{kind: KindBool, v: bool(x)}
	case Number:
		f := float64(x)
		if f == 0 {
			f = 0 // fold -0 into 0
		}
		return mapKey{kind: KindNumber, v: f}
	case String:
		return mapKey{kind: KindString, v: string(x)}
	case Pointer:
		return mapKey{kind: KindPointer, v: x.Addr}
	}
	return mapKey{kind: v.Kind(), v: v}
}

// Map is a key/value table. Keys compare like EQ; iteration follows insertion
// order.
type Map struct {
	index  map[mapKey]int
	keys   []Value
	values []Value
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{index: make(map[mapKey]int)}
}

func (m *Map) Kind() Kind { return KindMap }
func (m *Map) AsNumber() float64 { return float64(len(m.keys)) }
func (m *Map) Truthy() bool { return len(m.keys) > 0 }
func (m *Map) Len() int { return len(m.keys) }
func (*Map) sealed() {}

// Get returns the value stored under key.
func (m *Map) Get(key Value) (Value, bool) {
	i, ok := m.index[keyOf(key)]
	if !ok {
		return nil, false
	}
	return m.values[i], true
}

// Set stores v under key, keeping the original position of an existing key.
func (m *Map) Set(key, v Value) {
	k := keyOf(key)
	if i, ok := m.index[k]; ok {
		m.values[i] = v
		return
	}
	m.index[k] = len(m.keys)
	m.keys = append(m.keys, key)
	m.values = append(m.values, v)
}

// Delete removes key and reports whether it was present.
func (m *Map) Delete(key Value) bool {
	k := keyOf(key)
	i, ok := m.index[k]
	if !ok {
		return false
	}
	delete(m.index, k)
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.values = append(m.values[:i], m.values[i+1:]...)
	for j := i; j < len(m.keys); j++ {
		m.index[keyOf(m.keys[j])] = j
	}
	return true
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []Value {
	return append([]Value(nil), m.keys...)
}

// Values returns the values in key insertion order.
func (m *Map) Values() []Value {
	return append([]Value(nil), m.values...)
}

// Range calls fn for each entry until it returns false.
func (m *Map) Range(fn func(k, v Value) bool) {
	for i := range m.keys {
		if !fn(m.keys[i], m.values[i]) {
			return
		}
	}
}

func (m *Map) String() string {
	parts := make([]string, len(m.keys))
	for i := range m.keys {
		parts[i] = m.keys[i].String() + ": " + m.values[i].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// GetIndex answers "length", "keys" and "values" before looking up entries;
// a missing key yields null.
func (m *Map) GetIndex(index Value) (Value, error) {
	if key, ok := index.(String); ok {
		switch key {
		case "length":
			return Number(len(m.keys)), nil
		case "keys":
			return NewArray(m.Keys()...), nil
		case "values":
			return NewArray(m.Values()...), nil
		}
	}
	if v, ok := m.Get(index); ok {
		return v, nil
	}
	return NullValue, nil
}

func (m *Map) SetIndex(index, v Value) error {
	m.Set(index, v)
	return nil
}
