package vm

import (
	"cmp"
	"encoding/base64"
	"math"
	"math/bits"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
)

// operate executes the instructions that only transform operand-stack
// values.
func (vm *VM) operate(in bytecode.Instruction) error {
	op := in.Op
	switch {
	case op >= bytecode.OpAdd && op <= bytecode.OpSrand:
		return vm.arithmetic(op)
	case op >= bytecode.OpBand && op <= bytecode.OpRor:
		vm.bitwise(op)
		return nil
	case op >= bytecode.OpEq && op <= bytecode.OpIterPrep:
		return vm.compare(op)
	case op >= bytecode.OpConcat && op <= bytecode.OpUnescape:
		return vm.stringOp(op)
	case op >= bytecode.OpNewArray && op <= bytecode.OpArrayForeach:
		return vm.arrayOp(in)
	case op >= bytecode.OpNewDict && op <= bytecode.OpDictClear:
		return vm.dictOp(op)
	case op >= bytecode.OpToNum && op <= bytecode.OpDeepClone:
		return vm.convert(op)
	case op >= bytecode.OpAlloc && op <= bytecode.OpWrite64:
		return vm.memoryOp(op)
	}
	return vm.extended(in)
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

var unaryMath = map[bytecode.Opcode]func(float64) float64{
	bytecode.OpFloor: math.Floor,
	bytecode.OpCeil:  math.Ceil,
	bytecode.OpRound: roundHalfEven,
	bytecode.OpAbs:   math.Abs,
	bytecode.OpSqrt:  math.Sqrt,
	bytecode.OpLog:   math.Log,
	bytecode.OpLog10: math.Log10,
	bytecode.OpExp:   math.Exp,
	bytecode.OpSin:   math.Sin,
	bytecode.OpCos:   math.Cos,
	bytecode.OpTan:   math.Tan,
	bytecode.OpAsin:  math.Asin,
	bytecode.OpAcos:  math.Acos,
	bytecode.OpAtan:  math.Atan,
}

func roundHalfEven(f float64) float64 { return math.RoundToEven(f) }

func (vm *VM) arithmetic(op bytecode.Opcode) error {
	if fn, ok := unaryMath[op]; ok {
		vm.push(value.Number(fn(vm.pop().AsNumber())))
		return nil
	}
	switch op {
	case bytecode.OpUnm:
		vm.push(value.Number(-vm.pop().AsNumber()))
		return nil
	case bytecode.OpRand:
		vm.push(value.Number(vm.random().Float64()))
		return nil
	case bytecode.OpSrand:
		seed := uint64(int64(vm.pop().AsNumber()))
		vm.rng = rand.New(rand.NewPCG(seed, seed))
		return nil
	}

	b := vm.pop()
	a := vm.pop()
	switch op {
	case bytecode.OpAdd:
		vm.push(add(a, b))
	case bytecode.OpSub:
		if p, ok := a.(value.Pointer); ok && b.Kind() == value.KindNumber {
			vm.push(p.Offset(-int64(b.AsNumber())))
		} else {
			vm.push(value.Number(a.AsNumber() - b.AsNumber()))
		}
	case bytecode.OpMul:
		vm.push(value.Number(a.AsNumber() * b.AsNumber()))
	case bytecode.OpDiv:
		vm.push(value.Number(a.AsNumber() / b.AsNumber()))
	case bytecode.OpMod:
		vm.push(value.Number(math.Mod(a.AsNumber(), b.AsNumber())))
	case bytecode.OpPow:
		vm.push(value.Number(math.Pow(a.AsNumber(), b.AsNumber())))
	case bytecode.OpAtan2:
		vm.push(value.Number(math.Atan2(a.AsNumber(), b.AsNumber())))
	default:
		return runtimeErrorf("Unsupported opcode %s", op)
	}
	return nil
}

// add sums numbers, concatenates when either side is a string and offsets
// pointers.
func add(a, b value.Value) value.Value {
	x, xok := a.(value.Number)
	y, yok := b.(value.Number)
	switch {
	case xok && yok:
		return x + y
	case a.Kind() == value.KindString || b.Kind() == value.KindString:
		return value.String(a.String() + b.String())
	}
	if p, ok := a.(value.Pointer); ok && yok {
		return p.Offset(int64(y))
	}
	return value.Number(a.AsNumber() + b.AsNumber())
}

func (vm *VM) random() *rand.Rand {
	if vm.rng == nil {
		seed := uint64(time.Now().UnixNano())
		vm.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return vm.rng
}

// ---------------------------------------------------------------------------
// Bitwise (64-bit integer semantics)
// ---------------------------------------------------------------------------

func toInt(v value.Value) int64 {
	f := v.AsNumber()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(f)
}

func (vm *VM) bitwise(op bytecode.Opcode) {
	if op == bytecode.OpBnot {
		vm.push(value.Number(float64(^toInt(vm.pop()))))
		return
	}
	b := toInt(vm.pop())
	a := toInt(vm.pop())
	shift := uint(b) & 63
	var r int64
	switch op {
	case bytecode.OpBand:
		r = a & b
	case bytecode.OpBor:
		r = a | b
	case bytecode.OpBxor:
		r = a ^ b
	case bytecode.OpShl:
		r = a << shift
	case bytecode.OpShr:
		r = a >> shift
	case bytecode.OpUshr:
		r = int64(uint64(a) >> shift)
	case bytecode.OpRol:
		r = int64(bits.RotateLeft64(uint64(a), int(shift)))
	case bytecode.OpRor:
		r = int64(bits.RotateLeft64(uint64(a), -int(shift)))
	}
	vm.push(value.Number(float64(r)))
}

// ---------------------------------------------------------------------------
// Comparison and logic
// ---------------------------------------------------------------------------

// order compares two values: strings lexically, everything else by number.
func order(a, b value.Value) int {
	if x, ok := a.(value.String); ok {
		if y, ok := b.(value.String); ok {
			return strings.Compare(string(x), string(y))
		}
	}
	return cmp.Compare(a.AsNumber(), b.AsNumber())
}

// less reports a < b. NaN never orders.
func less(a, b value.Value) bool {
	if a.Kind() != value.KindString || b.Kind() != value.KindString {
		return a.AsNumber() < b.AsNumber()
	}
	return order(a, b) < 0
}

func lessEq(a, b value.Value) bool {
	if a.Kind() != value.KindString || b.Kind() != value.KindString {
		return a.AsNumber() <= b.AsNumber()
	}
	return order(a, b) <= 0
}

func compareJump(op bytecode.Opcode, a, b value.Value) bool {
	switch op {
	case bytecode.OpJmpEq:
		return value.Equal(a, b)
	case bytecode.OpJmpNe:
		return !value.Equal(a, b)
	case bytecode.OpJmpLt:
		return less(a, b)
	case bytecode.OpJmpLe:
		return lessEq(a, b)
	case bytecode.OpJmpGt:
		return less(b, a)
	case bytecode.OpJmpGe:
		return lessEq(b, a)
	}
	return false
}

func (vm *VM) compare(op bytecode.Opcode) error {
	switch op {
	case bytecode.OpTypeof:
		vm.push(value.String(value.TypeName(vm.pop())))
		return nil
	case bytecode.OpIsNull:
		vm.push(value.BoolOf(vm.pop().Kind() == value.KindNull))
		return nil
	case bytecode.OpIsNaN:
		vm.push(value.BoolOf(math.IsNaN(vm.pop().AsNumber())))
		return nil
	case bytecode.OpIsFinite:
		f := vm.pop().AsNumber()
		vm.push(value.BoolOf(!math.IsNaN(f) && !math.IsInf(f, 0)))
		return nil
	case bytecode.OpIsInt:
		v := vm.pop()
		f := v.AsNumber()
		vm.push(value.BoolOf(v.Kind() == value.KindNumber && f == math.Trunc(f) && !math.IsInf(f, 0)))
		return nil
	case bytecode.OpIsStr:
		vm.push(value.BoolOf(vm.pop().Kind() == value.KindString))
		return nil
	case bytecode.OpNot:
		vm.push(value.BoolOf(!vm.pop().Truthy()))
		return nil
	case bytecode.OpBool:
		vm.push(value.BoolOf(vm.pop().Truthy()))
		return nil
	case bytecode.OpIterPrep:
		items, err := iterable(vm.pop())
		if err != nil {
			return err
		}
		vm.push(items)
		return nil
	case bytecode.OpTernary:
		els := vm.pop()
		then := vm.pop()
		if vm.pop().Truthy() {
			vm.push(then)
		} else {
			vm.push(els)
		}
		return nil
	case bytecode.OpHalt:
		return errHalt
	}

	b := vm.pop()
	a := vm.pop()
	switch op {
	case bytecode.OpEq:
		vm.push(value.BoolOf(value.Equal(a, b)))
	case bytecode.OpNe:
		vm.push(value.BoolOf(!value.Equal(a, b)))
	case bytecode.OpLt:
		vm.push(value.BoolOf(less(a, b)))
	case bytecode.OpLe:
		vm.push(value.BoolOf(lessEq(a, b)))
	case bytecode.OpGt:
		vm.push(value.BoolOf(less(b, a)))
	case bytecode.OpGe:
		vm.push(value.BoolOf(lessEq(b, a)))
	case bytecode.OpCmp:
		vm.push(value.Number(order(a, b)))
	case bytecode.OpInstanceof:
		vm.push(value.BoolOf(instanceOf(a, b)))
	case bytecode.OpIn:
		in, err := contains(b, a)
		if err != nil {
			return err
		}
		vm.push(value.BoolOf(in))
	case bytecode.OpAnd:
		vm.push(value.BoolOf(a.Truthy() && b.Truthy()))
	case bytecode.OpOr:
		vm.push(value.BoolOf(a.Truthy() || b.Truthy()))
	case bytecode.OpCoalesce:
		if a.Kind() == value.KindNull {
			vm.push(b)
		} else {
			vm.push(a)
		}
	}
	return nil
}

func instanceOf(v, class value.Value) bool {
	inst, ok := v.(*value.Instance)
	if !ok {
		if s, ok := class.(value.String); ok {
			return value.TypeName(v) == string(s)
		}
		return false
	}
	want, ok := class.(*value.Class)
	if !ok {
		return false
	}
	for c := inst.Class; c != nil; c = c.Parent {
		if c == want {
			return true
		}
	}
	return false
}

// contains implements `needle in haystack`.
func contains(haystack, needle value.Value) (bool, error) {
	switch h := haystack.(type) {
	case *value.Array:
		for _, e := range h.Elements {
			if value.Equal(e, needle) {
				return true, nil
			}
		}
		return false, nil
	case *value.Map:
		_, ok := h.Get(needle)
		return ok, nil
	case value.String:
		return strings.Contains(string(h), needle.String()), nil
	case *value.Instance:
		if _, ok := h.Fields.Get(value.String(needle.String())); ok {
			return true, nil
		}
		_, ok := h.Class.Lookup(needle.String())
		return ok, nil
	}
	return false, runtimeErrorf("'in' is not supported on %s", value.TypeName(haystack))
}

// iterable normalizes a for-loop subject to an Array.
func iterable(v value.Value) (*value.Array, error) {
	switch x := v.(type) {
	case *value.Array:
		return x, nil
	case *value.Map:
		return value.NewArray(x.Keys()...), nil
	case value.String:
		arr := value.NewArray()
		for _, r := range string(x) {
			arr.Append(value.String(r))
		}
		return arr, nil
	case value.Null:
		return value.NewArray(), nil
	}
	return nil, runtimeErrorf("Value of type %s is not iterable", value.TypeName(v))
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func (vm *VM) convert(op bytecode.Opcode) error {
	v := vm.pop()
	switch op {
	case bytecode.OpToNum, bytecode.OpToFloat:
		vm.push(value.Number(v.AsNumber()))
	case bytecode.OpToStr:
		vm.push(value.String(v.String()))
	case bytecode.OpToBool:
		vm.push(value.BoolOf(v.Truthy()))
	case bytecode.OpToInt:
		vm.push(value.Number(math.Trunc(v.AsNumber())))
	case bytecode.OpToHex:
		vm.push(value.String(strconv.FormatInt(toInt(v), 16)))
	case bytecode.OpToBase64:
		vm.push(value.String(base64.StdEncoding.EncodeToString([]byte(v.String()))))
	case bytecode.OpFromBase64:
		b, err := base64.StdEncoding.DecodeString(v.String())
		if err != nil {
			return runtimeErrorf("invalid base64: %s", err)
		}
		vm.push(value.String(b))
	case bytecode.OpParseJSON:
		parsed, err := parseJSON(v.String())
		if err != nil {
			return err
		}
		vm.push(parsed)
	case bytecode.OpStringify:
		s, err := stringify(v)
		if err != nil {
			return err
		}
		vm.push(value.String(s))
	case bytecode.OpClone:
		vm.push(shallowClone(v))
	case bytecode.OpDeepClone:
		vm.push(deepClone(v, make(map[any]value.Value)))
	}
	return nil
}

func parseJSON(s string) (value.Value, error) {
	var raw any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, runtimeErrorf("invalid JSON: %s", err)
	}
	return value.FromConstant(raw)
}

func stringify(v value.Value) (string, error) {
	c, err := value.ToConstant(v)
	if err != nil {
		return "", runtimeErrorf("cannot stringify: %s", err)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", runtimeErrorf("cannot stringify: %s", err)
	}
	return string(b), nil
}

func shallowClone(v value.Value) value.Value {
	switch x := v.(type) {
	case *value.Array:
		return value.NewArray(slices.Clone(x.Elements)...)
	case *value.Map:
		m := value.NewMap()
		x.Range(func(k, val value.Value) bool {
			m.Set(k, val)
			return true
		})
		return m
	case *value.Instance:
		inst := value.NewInstance(x.Class)
		inst.Fields = shallowClone(x.Fields).(*value.Map)
		return inst
	}
	return v
}

// deepClone copies containers recursively. seen maps originals to their
// copies so shared and cyclic structure is preserved.
func deepClone(v value.Value, seen map[any]value.Value) value.Value {
	switch x := v.(type) {
	case *value.Array:
		if c, ok := seen[x]; ok {
			return c
		}
		arr := &value.Array{Elements: make([]value.Value, len(x.Elements))}
		seen[x] = arr
		for i, e := range x.Elements {
			arr.Elements[i] = deepClone(e, seen)
		}
		return arr
	case *value.Map:
		if c, ok := seen[x]; ok {
			return c
		}
		m := value.NewMap()
		seen[x] = m
		x.Range(func(k, val value.Value) bool {
			m.Set(k, deepClone(val, seen))
			return true
		})
		return m
	case *value.Instance:
		if c, ok := seen[x]; ok {
			return c
		}
		inst := value.NewInstance(x.Class)
		seen[x] = inst
		inst.Fields = deepClone(x.Fields, seen).(*value.Map)
		return inst
	}
	return v
}
