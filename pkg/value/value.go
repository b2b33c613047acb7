// Package value defines the runtime values shared by the compiler's constant
// pool and the virtual machine.
//
// Value is a closed sum type: every variant lives in this package and the
// interface carries an unexported method, so a switch over Kind (or over the
// concrete types) is exhaustive.
package value

import (
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Kind identifies a Value variant.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
	KindPointer
	KindFunction
	KindClass
	KindInstance
	KindBoundMethod
)

var kindNames = [...]string{
	KindNull:        "null",
	KindBool:        "boolean",
	KindNumber:      "number",
	KindString:      "string",
	KindArray:       "array",
	KindMap:         "dict",
	KindPointer:     "pointer",
	KindFunction:    "function",
	KindClass:       "class",
	KindInstance:    "instance",
	KindBoundMethod: "method",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is a runtime value.
type Value interface {
	Kind() Kind
	// AsNumber coerces the value to a number.
	AsNumber() float64
	// Truthy coerces the value to a boolean.
	Truthy() bool
	// String renders the value as program output shows it.
	String() string
	// GetIndex reads value[index].
	GetIndex(index Value) (Value, error)
	// SetIndex writes value[index] = v.
	SetIndex(index, v Value) error

	sealed()
}

// TypeError reports an operation applied to a value that does not support it.
type TypeError struct {
	Message string
}

func (e *TypeError) Error() string { return "Runtime error: " + e.Message }

func typeErrorf(format string, args ...any) error {
	return &TypeError{Message: fmt.Sprintf(format, args...)}
}

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

// Null is the null value.
type Null struct{}

// Bool is a boolean.
type Bool bool

// Number is a double-precision number.
type Number float64

// String is an immutable string.
type String string

// Common values.
var (
	NullValue Value = Null{}
	True      Value = Bool(true)
	False     Value = Bool(false)
)

// BoolOf converts a Go bool.
func BoolOf(b bool) Value {
	if b {
		return True
	}
	return False
}

func (Null) Kind() Kind { return KindNull }
func (Null) AsNumber() float64 { return 0 }
func (Null) Truthy() bool { return false }
func (Null) String() string { return "null" }
func (Null) GetIndex(Value) (Value, error) { return nil, typeErrorf("Null cannot be indexed") }
func (Null) SetIndex(Value, Value) error { return typeErrorf("Null cannot be indexed") }
func (Null) sealed() {}

func (b Bool) Kind() Kind { return KindBool }
func (b Bool) AsNumber() float64 {
	if b {
		return 1
	}
	return 0
}
func (b Bool) Truthy() bool { return bool(b) }
func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}
func (Bool) GetIndex(Value) (Value, error) { return nil, typeErrorf("Booleans cannot be indexed") }
func (Bool) SetIndex(Value, Value) error { return typeErrorf("Booleans cannot be indexed") }
func (Bool) sealed() {}

func (n Number) Kind() Kind { return KindNumber }
func (n Number) AsNumber() float64 { return float64(n) }
func (n Number) Truthy() bool { return n != 0 }
func (n Number) String() string { return FormatNumber(float64(n)) }
func (Number) GetIndex(Value) (Value, error) {
	return nil, typeErrorf("Numbers cannot be indexed")
}
func (Number) SetIndex(Value, Value) error { return typeErrorf("Numbers cannot be indexed") }
func (Number) sealed() {}

// FormatNumber renders integral values without a fraction and everything
// else in the shortest form that round-trips.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (s String) Kind() Kind { return KindString }

// AsNumber parses the string, yielding 0 when it is not numeric.
func (s String) AsNumber() float64 {
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return 0
	}
	return f
}
func (s String) Truthy() bool { return s != "" }
func (s String) String() string { return string(s) }

// GetIndex supports "length" and rune indexing; negative indices count from
// the end and out-of-range reads yield null.
func (s String) GetIndex(index Value) (Value, error) {
	if key, ok := index.(String); ok {
		if key == "length" {
			return Number(utf8.RuneCountInString(string(s))), nil
		}
		if !isNumeric(key) {
			return nil, typeErrorf("Member '%s' not found on string", key)
		}
	} else if index.Kind() != KindNumber {
		return nil, typeErrorf("Member '%s' not found on string", index)
	}
	runes := []rune(string(s))
	i, ok := normalizeIndex(index.AsNumber(), len(runes))
	if !ok {
		return NullValue, nil
	}
	return String(runes[i]), nil
}
func (String) SetIndex(Value, Value) error { return typeErrorf("Strings are immutable") }
func (String) sealed() {}

func isNumeric(s String) bool {
	_, err := strconv.ParseFloat(string(s), 64)
	return err == nil
}

// normalizeIndex truncates f and wraps negative values from the end.
func normalizeIndex(f float64, length int) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	i := int(f)
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, false
	}
	return i, true
}
