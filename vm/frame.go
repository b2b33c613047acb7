package vm

import (
	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
)

// handler is an installed try block.
type handler struct {
	catchIP int
	depth   int // operand stack height when the try began
}

// frame is the execution state of one bytecode function invocation.
type frame struct {
	fn       *bytecode.Function
	module   *bytecode.Module
	ip       int
	locals   []value.Value
	handlers []handler
	caught   error // last failure a handler in this frame received

	// consts holds the wrapped constant pool of fn. A nil entry is a
	// composite constant that is wrapped again on every push.
	consts []value.Value
}

// wrapConstants wraps the scalar entries of a constant pool. Arrays and
// maps are mutable, so their slots stay nil.
func wrapConstants(fn *bytecode.Function) []value.Value {
	out := make([]value.Value, len(fn.Constants))
	for i, c := range fn.Constants {
		switch c.(type) {
		case []byte, []any, map[string]any:
			continue
		}
		if v, err := value.FromConstant(c); err == nil {
			out[i] = v
		}
	}
	return out
}

func newFrame(c *value.Compiled, consts []value.Value, args []value.Value) *frame {
	fn := c.Fn
	size := max(fn.MaxLocals, len(fn.Locals), fn.Arity+1)
	locals := make([]value.Value, size)
	for i := range locals {
		locals[i] = value.NullValue
	}

	n := min(len(args), fn.Arity)
	if !fn.IsVararg {
		n = min(len(args), size)
	}
	copy(locals, args[:n])
	if fn.IsVararg {
		rest := value.NewArray()
		if len(args) > fn.Arity {
			rest.Append(args[fn.Arity:]...)
		}
		locals[fn.Arity] = rest
	}

	return &frame{fn: fn, module: c.Module, locals: locals, consts: consts}
}

// current returns the instruction being executed, or the last one.
func (f *frame) current() (bytecode.Instruction, int) {
	ip := f.ip - 1
	if ip < 0 {
		ip = 0
	}
	if ip >= len(f.fn.Instructions) {
		return bytecode.Instruction{}, ip
	}
	return f.fn.Instructions[ip], ip
}

func (f *frame) entry() StackEntry {
	in, ip := f.current()
	return StackEntry{Function: f.fn.Name, IP: ip, Line: int(in.Line), Column: int(in.Column)}
}

// constant reads a constant-pool entry.
func (f *frame) constant(i int) (value.Value, error) {
	if i < 0 || i >= len(f.fn.Constants) {
		return nil, runtimeErrorf("constant index %d out of range in %s", i, f.fn.Name)
	}
	if i < len(f.consts) && f.consts[i] != nil {
		return f.consts[i], nil
	}
	return value.FromConstant(f.fn.Constants[i])
}

// name reads a string constant.
func (f *frame) name(i int) (string, error) {
	if i < 0 || i >= len(f.fn.Constants) {
		return "", runtimeErrorf("constant index %d out of range in %s", i, f.fn.Name)
	}
	s, ok := f.fn.Constants[i].(string)
	if !ok {
		return "", runtimeErrorf("constant %d in %s is not a name", i, f.fn.Name)
	}
	return s, nil
}
