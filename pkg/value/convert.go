package value

import (
	"fmt"
	"sort"
)

// Equal implements EQ: scalars compare by value, everything else by identity.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Null:
		return b.Kind() == KindNull
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case Number:
		y, ok := b.(Number)
		return ok && x == y
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Pointer:
		y, ok := b.(Pointer)
		return ok && x.Addr == y.Addr
	case *BoundMethod:
		y, ok := b.(*BoundMethod)
		return ok && Equal(x.Receiver, y.Receiver) && Equal(x.Method, y.Method)
	}
	return a == b
}

// TypeName returns the name the `type` builtin reports.
func TypeName(v Value) string {
	return v.Kind().String()
}

// IsCallable reports whether CALL accepts v.
func IsCallable(v Value) bool {
	switch v.(type) {
	case *Compiled, *Builtin, *Closure, *Class, *BoundMethod:
		return true
	}
	return false
}

// FromConstant wraps a constant-pool entry.
func FromConstant(c any) (Value, error) {
	switch x := c.(type) {
	case nil:
		return NullValue, nil
	case float64:
		return Number(x), nil
	case int64:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case string:
		return String(x), nil
	case bool:
		return BoolOf(x), nil
	case []byte:
		arr := &Array{Elements: make([]Value, len(x))}
		for i, b := range x {
			arr.Elements[i] = Number(b)
		}
		return arr, nil
	case []any:
		arr := &Array{Elements: make([]Value, len(x))}
		for i, e := range x {
			v, err := FromConstant(e)
			if err != nil {
				return nil, err
			}
			arr.Elements[i] = v
		}
		return arr, nil
	case map[string]any:
		m := NewMap()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := FromConstant(x[k])
			if err != nil {
				return nil, err
			}
			m.Set(String(k), v)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported constant type %T", c)
}

// ToConstant converts a value back into a constant-pool entry. Only nulls,
// scalars, arrays and string-keyed maps of those are representable.
func ToConstant(v Value) (any, error) {
	switch x := v.(type) {
	case Null:
		return nil, nil
	case Bool:
		return bool(x), nil
	case Number:
		return float64(x), nil
	case String:
		return string(x), nil
	case *Array:
		out := make([]any, len(x.Elements))
		for i, e := range x.Elements {
			c, err := ToConstant(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case *Map:
		out := make(map[string]any, x.Len())
		var err error
		x.Range(func(k, val Value) bool {
			ks, ok := k.(String)
			if !ok {
				err = fmt.Errorf("map key %s is not a string", k)
				return false
			}
			out[string(ks)], err = ToConstant(val)
			return err == nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s values cannot be stored as constants", v.Kind())
}
