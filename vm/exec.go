package vm

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
)

// ctxCheckInterval is how many instructions run between context checks.
const ctxCheckInterval = 1024

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() value.Value {
	n := len(vm.stack) - 1
	if n < 0 {
		panic(errStackUnderflow)
	}
	v := vm.stack[n]
	vm.stack[n] = nil
	vm.stack = vm.stack[:n]
	return v
}

func (vm *VM) peek(depth int) value.Value {
	n := len(vm.stack) - 1 - depth
	if n < 0 {
		panic(errStackUnderflow)
	}
	return vm.stack[n]
}

// popN pops n values, returning them in push order.
func (vm *VM) popN(n int) []value.Value {
	if n > len(vm.stack) {
		panic(errStackUnderflow)
	}
	start := len(vm.stack) - n
	out := make([]value.Value, n)
	copy(out, vm.stack[start:])
	clear(vm.stack[start:])
	vm.stack = vm.stack[:start]
	return out
}

type stackUnderflow struct{}

func (stackUnderflow) Error() string { return "Stack underflow" }

var errStackUnderflow error = stackUnderflow{}

// errHalt stops the current execution.
var errHalt = errors.New("halt")

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

func (vm *VM) pushFrame(c *value.Compiled, args []value.Value) error {
	if len(vm.frames) >= MaxFrames {
		return fmt.Errorf("%w: maximum call depth %d exceeded", errStackOverflow, MaxFrames)
	}
	vm.frames = append(vm.frames, newFrame(c, vm.constantsFor(c.Fn), args))
	return nil
}

// constantsFor returns the wrapped constant pool of fn, building it on the
// first call.
func (vm *VM) constantsFor(fn *bytecode.Function) []value.Value {
	consts, ok := vm.constants[fn]
	if !ok {
		consts = wrapConstants(fn)
		vm.constants[fn] = consts
	}
	return consts
}

func (vm *VM) popFrame() {
	n := len(vm.frames) - 1
	vm.frames[n] = nil
	vm.frames = vm.frames[:n]
}

// ---------------------------------------------------------------------------
// Execution loop
// ---------------------------------------------------------------------------

// execute runs until the frame stack is back down to target. The outer
// loop selects the active frame; the inner loop runs it until a call or a
// return changes which frame that is.
func (vm *VM) execute(target int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok {
				panic(r)
			}
			if _, isRuntime := perr.(runtime.Error); isRuntime {
				perr = fmt.Errorf("internal error: %w", perr)
			}
			err = vm.wrap(perr, target)
		}
	}()

	for len(vm.frames) > target {
		f := vm.frames[len(vm.frames)-1]
		code := f.fn.Instructions

		for {
			if f.ip >= len(code) {
				vm.push(value.NullValue)
				vm.popFrame()
				break
			}
			in := code[f.ip]
			f.ip++
			vm.instructions++

			if vm.cfg.trace != nil {
				fmt.Fprintf(vm.cfg.trace, "[%s %04d] %-16s sp=%d\n", f.fn.Name, f.ip-1, in.Op, len(vm.stack))
			}
			if vm.instructions%ctxCheckInterval == 0 {
				if cerr := vm.ctx.Err(); cerr != nil {
					return vm.wrap(cerr, target)
				}
			}

			switched, err := vm.step(f, in)
			if err == nil && len(vm.stack) > MaxStackDepth {
				err = fmt.Errorf("%w: operand stack exceeds %d values", errStackOverflow, MaxStackDepth)
			}
			if err == errHalt {
				clear(vm.frames[target:])
				vm.frames = vm.frames[:target]
				vm.push(value.NullValue)
				return nil
			}
			if err != nil {
				if vm.handle(err, target) {
					break
				}
				return vm.wrap(err, target)
			}
			if switched {
				break
			}
		}
	}
	return nil
}

// handle unwinds to the innermost try handler above target. The stack is
// cut back to the handler's depth and the failure message pushed for the
// catch block.
func (vm *VM) handle(err error, target int) bool {
	if !catchable(err) {
		return false
	}
	for i := len(vm.frames) - 1; i >= target; i-- {
		f := vm.frames[i]
		if len(f.handlers) == 0 {
			continue
		}
		h := f.handlers[len(f.handlers)-1]
		f.handlers = f.handlers[:len(f.handlers)-1]

		clear(vm.frames[i+1:])
		vm.frames = vm.frames[:i+1]
		if h.depth < len(vm.stack) {
			clear(vm.stack[h.depth:])
			vm.stack = vm.stack[:h.depth]
		}
		vm.push(value.String(messageOf(err)))
		f.ip = h.catchIP
		f.caught = err
		vm.log.Debugf("caught in %s: %s", f.fn.Name, messageOf(err))
		return true
	}
	return false
}

// jump moves f by a relative offset.
func jump(f *frame, in bytecode.Instruction) {
	f.ip += in.OperandInt()
}

// step executes one instruction. switched reports that the active frame
// changed.
func (vm *VM) step(f *frame, in bytecode.Instruction) (switched bool, err error) {
	switch in.Op {
	// ============ Stack ============
	case bytecode.OpNop, bytecode.OpScopeBegin, bytecode.OpScopeEnd, bytecode.OpUseStrict:

	case bytecode.OpPushNull:
		vm.push(value.NullValue)
	case bytecode.OpPushTrue:
		vm.push(value.True)
	case bytecode.OpPushFalse:
		vm.push(value.False)
	case bytecode.OpPushNumConst, bytecode.OpPushStrConst, bytecode.OpPushBoolConst, bytecode.OpPushConstIdx:
		v, err := f.constant(in.OperandInt())
		if err != nil {
			return false, err
		}
		vm.push(v)

	case bytecode.OpPop:
		vm.pop()
	case bytecode.OpDup:
		vm.push(vm.peek(0))
	case bytecode.OpDupN:
		n := in.OperandByte()
		top := vm.stack[len(vm.stack)-n:]
		vm.stack = append(vm.stack, top...)
	case bytecode.OpSwap:
		n := len(vm.stack)
		vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]
	case bytecode.OpSwapN:
		n, k := len(vm.stack), in.OperandByte()
		vm.stack[n-1], vm.stack[n-1-k] = vm.stack[n-1-k], vm.stack[n-1]
	case bytecode.OpRot:
		n := len(vm.stack)
		a := vm.stack[n-3]
		vm.stack[n-3], vm.stack[n-2], vm.stack[n-1] = vm.stack[n-2], vm.stack[n-1], a
	case bytecode.OpOver:
		vm.push(vm.peek(1))
	case bytecode.OpPick:
		vm.push(vm.peek(in.OperandByte()))

	// ============ Variables ============
	case bytecode.OpLoadLocal, bytecode.OpLoadLocalN:
		slot := localSlot(in)
		if slot < 0 || slot >= len(f.locals) {
			return false, runtimeErrorf("local slot %d out of range in %s", slot, f.fn.Name)
		}
		vm.push(f.locals[slot])
	case bytecode.OpStoreLocal, bytecode.OpStoreLocalN:
		slot := localSlot(in)
		if slot < 0 || slot >= len(f.locals) {
			return false, runtimeErrorf("local slot %d out of range in %s", slot, f.fn.Name)
		}
		f.locals[slot] = vm.pop()
	case bytecode.OpLoadGlobal:
		name, err := f.name(in.OperandInt())
		if err != nil {
			return false, err
		}
		v, ok := vm.globals[name]
		if !ok {
			return false, runtimeErrorf("Global '%s' not found", name)
		}
		vm.push(v)
	case bytecode.OpStoreGlobal:
		name, err := f.name(in.OperandInt())
		if err != nil {
			return false, err
		}
		vm.globals[name] = vm.pop()
	case bytecode.OpLoadField, bytecode.OpGetSlot:
		name, err := f.name(in.OperandInt())
		if err != nil {
			return false, err
		}
		v, err := vm.pop().GetIndex(value.String(name))
		if err != nil {
			return false, err
		}
		vm.push(v)
	case bytecode.OpStoreField, bytecode.OpSetSlot, bytecode.OpDefSlot:
		name, err := f.name(in.OperandInt())
		if err != nil {
			return false, err
		}
		v := vm.pop()
		if err := vm.pop().SetIndex(value.String(name), v); err != nil {
			return false, err
		}
		vm.push(v)
	case bytecode.OpLoadIndex:
		index := vm.pop()
		v, err := vm.pop().GetIndex(index)
		if err != nil {
			return false, err
		}
		vm.push(v)
	case bytecode.OpStoreIndex, bytecode.OpNewSlot:
		v := vm.pop()
		index := vm.pop()
		if err := vm.pop().SetIndex(index, v); err != nil {
			return false, err
		}
		vm.push(v)
	case bytecode.OpDeleteSlot:
		key := vm.pop()
		v, err := deleteKey(vm.pop(), key)
		if err != nil {
			return false, err
		}
		vm.push(v)
	case bytecode.OpGetMeta:
		v := vm.pop()
		if inst, ok := v.(*value.Instance); ok {
			vm.push(inst.Class)
		} else {
			vm.push(value.String(value.TypeName(v)))
		}

	// ============ Control flow ============
	case bytecode.OpJmp:
		jump(f, in)
	case bytecode.OpJmpT:
		if vm.pop().Truthy() {
			jump(f, in)
		}
	case bytecode.OpJmpF:
		if !vm.pop().Truthy() {
			jump(f, in)
		}
	case bytecode.OpJmpNull:
		if vm.pop().Kind() == value.KindNull {
			jump(f, in)
		}
	case bytecode.OpJmpNN:
		if vm.pop().Kind() != value.KindNull {
			jump(f, in)
		}
	case bytecode.OpJmpEq, bytecode.OpJmpNe, bytecode.OpJmpLt, bytecode.OpJmpLe, bytecode.OpJmpGt, bytecode.OpJmpGe:
		b := vm.pop()
		a := vm.pop()
		if compareJump(in.Op, a, b) {
			jump(f, in)
		}
	case bytecode.OpTryBegin:
		f.handlers = append(f.handlers, handler{catchIP: f.ip + in.OperandInt(), depth: len(vm.stack)})
	case bytecode.OpTryEnd:
		if n := len(f.handlers); n > 0 {
			f.handlers = f.handlers[:n-1]
		}
	case bytecode.OpThrow:
		return false, &Thrown{Value: vm.pop()}
	case bytecode.OpRethrow:
		if f.caught == nil {
			return false, runtimeErrorf("RETHROW outside of a catch block")
		}
		return false, f.caught
	case bytecode.OpHalt:
		return false, errHalt

	// ============ Calls ============
	case bytecode.OpCall, bytecode.OpCallMethod, bytecode.OpCallTail:
		args := vm.popN(in.OperandByte())
		callee := vm.pop()
		result, entered, err := vm.invoke(callee, args)
		if err != nil {
			return false, err
		}
		if entered {
			return true, nil
		}
		vm.push(result)
	case bytecode.OpCallBuiltin:
		name, err := f.name(in.OperandInt())
		if err != nil {
			return false, err
		}
		argc := 0
		if len(in.Operands) >= 5 {
			argc = int(in.Operands[4])
		}
		callee, ok := vm.globals[name]
		if !ok || !value.IsCallable(callee) {
			return false, runtimeErrorf("Builtin function '%s' not found", name)
		}
		result, err := vm.call(callee, vm.popN(argc))
		if err != nil {
			return false, err
		}
		vm.push(result)
	case bytecode.OpReturn:
		v := vm.pop()
		vm.popFrame()
		vm.push(v)
		return true, nil
	case bytecode.OpReturnNull:
		vm.popFrame()
		vm.push(value.NullValue)
		return true, nil
	case bytecode.OpSpawn:
		fn := vm.pop()
		arg := vm.pop()
		if err := vm.spawn(fn, []value.Value{arg}); err != nil {
			return false, err
		}
		vm.push(value.True)

	// ============ Functions and classes ============
	case bytecode.OpFunc, bytecode.OpClosure, bytecode.OpLambda:
		name, err := f.name(in.OperandInt())
		if err != nil {
			return false, err
		}
		fn := f.module.Function(name)
		if fn == nil {
			return false, runtimeErrorf("Function '%s' not found", name)
		}
		vm.push(&value.Compiled{Fn: fn, Module: f.module})
	case bytecode.OpMethod:
		name, err := f.name(in.OperandInt())
		if err != nil {
			return false, err
		}
		method, ok := vm.pop().(value.Callable)
		if !ok {
			return false, runtimeErrorf("METHOD expects a function")
		}
		class, ok := vm.peek(0).(*value.Class)
		if !ok {
			return false, runtimeErrorf("METHOD expects a class on the stack")
		}
		class.Methods[name] = method
	case bytecode.OpNewClass:
		name, err := f.name(in.OperandInt())
		if err != nil {
			return false, err
		}
		parent, _ := vm.pop().(*value.Class)
		vm.push(value.NewClass(name, parent))
	case bytecode.OpNewObject, bytecode.OpInstance:
		class, ok := vm.pop().(*value.Class)
		if !ok {
			return false, runtimeErrorf("Cannot instantiate a non-class value")
		}
		vm.push(value.NewInstance(class))

	// ============ Modules ============
	case bytecode.OpImport, bytecode.OpRequire:
		path, err := f.name(in.OperandInt())
		if err != nil {
			return false, err
		}
		exports, err := vm.importModule(path)
		if err != nil {
			return false, err
		}
		vm.push(exports)
	case bytecode.OpExport:
		name, err := f.name(in.OperandInt())
		if err != nil {
			return false, err
		}
		vm.globals[name] = vm.pop()

	// ============ Native memory ============
	case bytecode.OpAlloc:
		p, err := vm.allocate(vm.pop())
		if err != nil {
			return false, err
		}
		vm.push(p)
	case bytecode.OpFree:
		if err := vm.free(vm.pop()); err != nil {
			return false, err
		}
	case bytecode.OpRead8:
		p, ok := vm.pop().(value.Pointer)
		if !ok {
			return false, runtimeErrorf("READ8 expects a pointer")
		}
		v, err := p.GetIndex(value.Number(0))
		if err != nil {
			return false, err
		}
		vm.push(v)
	case bytecode.OpWrite8:
		v := vm.pop()
		p, ok := vm.pop().(value.Pointer)
		if !ok {
			return false, runtimeErrorf("WRITE8 expects a pointer")
		}
		if err := p.SetIndex(value.Number(0), v); err != nil {
			return false, err
		}

	default:
		return false, vm.operate(in)
	}
	return false, nil
}

func localSlot(in bytecode.Instruction) int {
	if in.Op == bytecode.OpLoadLocalN || in.Op == bytecode.OpStoreLocalN {
		return in.OperandByte()
	}
	return in.OperandInt()
}
