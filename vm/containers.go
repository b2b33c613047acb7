package vm

import (
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
)

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func (vm *VM) stringOp(op bytecode.Opcode) error {
	switch op {
	case bytecode.OpConcat:
		b := vm.pop()
		a := vm.pop()
		vm.push(value.String(a.String() + b.String()))
	case bytecode.OpStrLen:
		vm.push(value.Number(utf8.RuneCountInString(vm.pop().String())))
	case bytecode.OpSubstr:
		length := toInt(vm.pop())
		start := toInt(vm.pop())
		vm.push(value.String(substr(vm.pop().String(), start, length)))
	case bytecode.OpFind, bytecode.OpRfind:
		sub := vm.pop().String()
		s := vm.pop().String()
		var i int
		if op == bytecode.OpFind {
			i = strings.Index(s, sub)
		} else {
			i = strings.LastIndex(s, sub)
		}
		if i >= 0 {
			i = utf8.RuneCountInString(s[:i])
		}
		vm.push(value.Number(i))
	case bytecode.OpLower:
		vm.push(value.String(strings.ToLower(vm.pop().String())))
	case bytecode.OpUpper:
		vm.push(value.String(strings.ToUpper(vm.pop().String())))
	case bytecode.OpTrim:
		vm.push(value.String(strings.TrimSpace(vm.pop().String())))
	case bytecode.OpLtrim:
		vm.push(value.String(strings.TrimLeftFunc(vm.pop().String(), unicode.IsSpace)))
	case bytecode.OpRtrim:
		vm.push(value.String(strings.TrimRightFunc(vm.pop().String(), unicode.IsSpace)))
	case bytecode.OpReplace:
		repl := vm.pop().String()
		old := vm.pop().String()
		vm.push(value.String(strings.ReplaceAll(vm.pop().String(), old, repl)))
	case bytecode.OpSplit:
		sep := vm.pop().String()
		arr := value.NewArray()
		for _, part := range strings.Split(vm.pop().String(), sep) {
			arr.Append(value.String(part))
		}
		vm.push(arr)
	case bytecode.OpJoin:
		sep := vm.pop().String()
		arr, err := asArray(vm.pop(), "JOIN")
		if err != nil {
			return err
		}
		parts := make([]string, len(arr.Elements))
		for i, e := range arr.Elements {
			parts[i] = e.String()
		}
		vm.push(value.String(strings.Join(parts, sep)))
	case bytecode.OpFormat:
		args := vm.pop()
		vm.push(value.String(format(vm.pop().String(), args)))
	case bytecode.OpEscape:
		q := strconv.Quote(vm.pop().String())
		vm.push(value.String(q[1 : len(q)-1]))
	case bytecode.OpUnescape:
		s := vm.pop().String()
		u, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`)
		if err != nil {
			return runtimeErrorf("invalid escape sequence in %q", s)
		}
		vm.push(value.String(u))
	}
	return nil
}

// substr slices by runes, clamping out-of-range bounds.
func substr(s string, start, length int64) string {
	runes := []rune(s)
	n := int64(len(runes))
	if start < 0 {
		start = max(n+start, 0)
	}
	if start >= n || length <= 0 {
		return ""
	}
	end := min(start+length, n)
	return string(runes[start:end])
}

// format replaces {0}, {1}, ... with the matching argument. A non-array
// argument fills {0}.
func format(tmpl string, args value.Value) string {
	var list []value.Value
	if arr, ok := args.(*value.Array); ok {
		list = arr.Elements
	} else {
		list = []value.Value{args}
	}
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] == '{' {
			if end := strings.IndexByte(tmpl[i:], '}'); end > 1 {
				if n, err := strconv.Atoi(tmpl[i+1 : i+end]); err == nil && n >= 0 && n < len(list) {
					b.WriteString(list[n].String())
					i += end
					continue
				}
			}
		}
		b.WriteByte(tmpl[i])
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func asArray(v value.Value, op string) (*value.Array, error) {
	arr, ok := v.(*value.Array)
	if !ok {
		return nil, runtimeErrorf("%s expects an array, got %s", op, value.TypeName(v))
	}
	return arr, nil
}

// bounds converts possibly negative indices into a clamped half-open range.
func bounds(n int, start, end int64) (int, int) {
	clamp := func(i int64) int {
		if i < 0 {
			i += int64(n)
		}
		return int(min(max(i, 0), int64(n)))
	}
	s, e := clamp(start), clamp(end)
	if e < s {
		e = s
	}
	return s, e
}

func (vm *VM) arrayOp(in bytecode.Instruction) error {
	op := in.Op
	switch op {
	case bytecode.OpNewArray:
		n := in.OperandInt()
		if n < 0 {
			return runtimeErrorf("NEW_ARRAY with negative count %d", n)
		}
		vm.push(&value.Array{Elements: vm.popN(n)})
		return nil
	case bytecode.OpNewArrayWith:
		n := toInt(vm.pop())
		if n < 0 || n > MaxStackDepth*16 {
			return runtimeErrorf("invalid array size %d", n)
		}
		arr := &value.Array{Elements: make([]value.Value, n)}
		for i := range arr.Elements {
			arr.Elements[i] = value.NullValue
		}
		vm.push(arr)
		return nil
	case bytecode.OpArrayLen:
		v := vm.pop()
		if arr, ok := v.(*value.Array); ok {
			vm.push(value.Number(arr.Len()))
		} else {
			vm.push(value.Number(v.AsNumber()))
		}
		return nil
	}

	switch op {
	case bytecode.OpArrayPush, bytecode.OpArrayUnshift:
		v := vm.pop()
		arr, err := asArray(vm.pop(), op.String())
		if err != nil {
			return err
		}
		if op == bytecode.OpArrayPush {
			arr.Append(v)
		} else {
			arr.Elements = slices.Insert(arr.Elements, 0, v)
		}
		vm.push(arr)
	case bytecode.OpArrayPop, bytecode.OpArrayShift:
		arr, err := asArray(vm.pop(), op.String())
		if err != nil {
			return err
		}
		if arr.Len() == 0 {
			vm.push(value.NullValue)
			return nil
		}
		var v value.Value
		if op == bytecode.OpArrayPop {
			v = arr.Elements[arr.Len()-1]
			arr.Elements = arr.Elements[:arr.Len()-1]
		} else {
			v = arr.Elements[0]
			arr.Elements = slices.Delete(arr.Elements, 0, 1)
		}
		vm.push(v)
	case bytecode.OpArraySlice:
		end := vm.pop()
		start := toInt(vm.pop())
		arr, err := asArray(vm.pop(), "ARRAY_SLICE")
		if err != nil {
			return err
		}
		stop := int64(arr.Len())
		if end.Kind() != value.KindNull {
			stop = toInt(end)
		}
		s, e := bounds(arr.Len(), start, stop)
		vm.push(value.NewArray(slices.Clone(arr.Elements[s:e])...))
	case bytecode.OpArraySplice:
		count := toInt(vm.pop())
		start := toInt(vm.pop())
		arr, err := asArray(vm.pop(), "ARRAY_SPLICE")
		if err != nil {
			return err
		}
		s, _ := bounds(arr.Len(), start, start)
		e := min(s+int(max(count, 0)), arr.Len())
		removed := value.NewArray(slices.Clone(arr.Elements[s:e])...)
		arr.Elements = slices.Delete(arr.Elements, s, e)
		vm.push(removed)
	case bytecode.OpArrayConcat:
		b := vm.pop()
		a, err := asArray(vm.pop(), "ARRAY_CONCAT")
		if err != nil {
			return err
		}
		out := value.NewArray(slices.Clone(a.Elements)...)
		if other, ok := b.(*value.Array); ok {
			out.Append(other.Elements...)
		} else {
			out.Append(b)
		}
		vm.push(out)
	case bytecode.OpArrayReverse:
		arr, err := asArray(vm.pop(), "ARRAY_REVERSE")
		if err != nil {
			return err
		}
		slices.Reverse(arr.Elements)
		vm.push(arr)
	case bytecode.OpArraySort:
		arr, err := asArray(vm.pop(), "ARRAY_SORT")
		if err != nil {
			return err
		}
		slices.SortStableFunc(arr.Elements, order)
		vm.push(arr)
	case bytecode.OpArrayMap, bytecode.OpArrayFilter, bytecode.OpArrayForeach:
		fn := vm.pop()
		arr, err := asArray(vm.pop(), op.String())
		if err != nil {
			return err
		}
		return vm.eachElement(op, arr, fn)
	case bytecode.OpArrayReduce:
		acc := vm.pop()
		fn := vm.pop()
		arr, err := asArray(vm.pop(), "ARRAY_REDUCE")
		if err != nil {
			return err
		}
		for _, e := range slices.Clone(arr.Elements) {
			if acc, err = vm.call(fn, []value.Value{acc, e}); err != nil {
				return err
			}
		}
		vm.push(acc)
	}
	return nil
}

// eachElement runs fn over a snapshot of arr, so callbacks may mutate it.
func (vm *VM) eachElement(op bytecode.Opcode, arr *value.Array, fn value.Value) error {
	out := value.NewArray()
	for _, e := range slices.Clone(arr.Elements) {
		r, err := vm.call(fn, []value.Value{e})
		if err != nil {
			return err
		}
		switch op {
		case bytecode.OpArrayMap:
			out.Append(r)
		case bytecode.OpArrayFilter:
			if r.Truthy() {
				out.Append(e)
			}
		}
	}
	if op != bytecode.OpArrayForeach {
		vm.push(out)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dictionaries
// ---------------------------------------------------------------------------

// asMap returns the map behind a dict or an instance's fields.
func asMap(v value.Value, op string) (*value.Map, error) {
	switch x := v.(type) {
	case *value.Map:
		return x, nil
	case *value.Instance:
		return x.Fields, nil
	}
	return nil, runtimeErrorf("%s expects a dict, got %s", op, value.TypeName(v))
}

func (vm *VM) dictOp(op bytecode.Opcode) error {
	if op == bytecode.OpNewDict {
		vm.push(value.NewMap())
		return nil
	}
	if op == bytecode.OpNewDictWith {
		m, err := dictFrom(vm.pop())
		if err != nil {
			return err
		}
		vm.push(m)
		return nil
	}

	var key value.Value
	if op == bytecode.OpDictHas || op == bytecode.OpDictMerge || op == bytecode.OpDictRemove {
		key = vm.pop()
	}
	m, err := asMap(vm.pop(), op.String())
	if err != nil {
		return err
	}
	switch op {
	case bytecode.OpDictLen:
		vm.push(value.Number(m.Len()))
	case bytecode.OpDictKeys:
		vm.push(value.NewArray(m.Keys()...))
	case bytecode.OpDictValues:
		vm.push(value.NewArray(m.Values()...))
	case bytecode.OpDictHas:
		_, ok := m.Get(key)
		vm.push(value.BoolOf(ok))
	case bytecode.OpDictMerge:
		other, err := asMap(key, "DICT_MERGE")
		if err != nil {
			return err
		}
		out := shallowClone(m).(*value.Map)
		other.Range(func(k, v value.Value) bool {
			out.Set(k, v)
			return true
		})
		vm.push(out)
	case bytecode.OpDictRemove:
		v, _ := m.Get(key)
		if v == nil {
			v = value.NullValue
		}
		m.Delete(key)
		vm.push(v)
	case bytecode.OpDictClear:
		for _, k := range m.Keys() {
			m.Delete(k)
		}
		vm.push(m)
	}
	return nil
}

// dictFrom copies a dict, or builds one from an array of [key, value] pairs.
func dictFrom(v value.Value) (*value.Map, error) {
	switch x := v.(type) {
	case *value.Map:
		return shallowClone(x).(*value.Map), nil
	case *value.Array:
		m := value.NewMap()
		for i, e := range x.Elements {
			pair, ok := e.(*value.Array)
			if !ok || pair.Len() != 2 {
				return nil, runtimeErrorf("NEW_DICT_WITH: element %d is not a [key, value] pair", i)
			}
			m.Set(pair.Elements[0], pair.Elements[1])
		}
		return m, nil
	case value.Null:
		return value.NewMap(), nil
	}
	return nil, runtimeErrorf("NEW_DICT_WITH expects a dict or an array of pairs, got %s", value.TypeName(v))
}

// deleteKey removes key from a dict, an instance or an array and returns
// the removed value.
func deleteKey(target, key value.Value) (value.Value, error) {
	if arr, ok := target.(*value.Array); ok {
		i := toInt(key)
		if i < 0 || i >= int64(arr.Len()) {
			return value.NullValue, nil
		}
		v := arr.Elements[i]
		arr.Elements = slices.Delete(arr.Elements, int(i), int(i)+1)
		return v, nil
	}
	if inst, ok := target.(*value.Instance); ok {
		key = value.String(key.String())
		target = inst.Fields
	}
	m, err := asMap(target, "DELETE_SLOT")
	if err != nil {
		return nil, err
	}
	v, ok := m.Get(key)
	if !ok {
		return value.NullValue, nil
	}
	m.Delete(key)
	return v, nil
}
