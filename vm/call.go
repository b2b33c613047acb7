package vm

import (
	"fmt"

	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
)

// invoke starts a call. Bytecode functions get a new frame and report
// entered; everything else completes immediately and returns its result.
func (vm *VM) invoke(callee value.Value, args []value.Value) (value.Value, bool, error) {
	switch fn := callee.(type) {
	case *value.Compiled:
		if err := vm.pushFrame(fn, args); err != nil {
			return nil, false, err
		}
		return nil, true, nil

	case *value.BoundMethod:
		return vm.invoke(fn.Method, append([]value.Value{fn.Receiver}, args...))

	case *value.Builtin:
		v, err := fn.Fn(vm.context(), args)
		if err != nil {
			return nil, false, err
		}
		if v == nil {
			v = value.NullValue
		}
		return v, false, nil

	case *value.Closure:
		ev, ok := vm.cfg.frontend.(ClosureEvaluator)
		if !ok {
			return nil, false, fmt.Errorf("%w: cannot call interpreted function %s", ErrNoFrontend, fn.Name())
		}
		v, err := ev.CallClosure(vm.context(), fn, args)
		if err != nil {
			return nil, false, err
		}
		return v, false, nil

	case *value.Class:
		inst := value.NewInstance(fn)
		if init, ok := fn.Initializer(); ok {
			if _, err := vm.call(init, append([]value.Value{inst}, args...)); err != nil {
				return nil, false, err
			}
		}
		return inst, false, nil
	}
	return nil, false, runtimeErrorf("Attempt to call non-callable %s", value.TypeName(callee))
}

// extended covers the rarely used call, class and scope instructions.
func (vm *VM) extended(in bytecode.Instruction) error {
	f := vm.frames[len(vm.frames)-1]
	switch in.Op {
	case bytecode.OpCallVararg, bytecode.OpApply:
		list := vm.pop()
		fn := vm.pop()
		var args []value.Value
		switch l := list.(type) {
		case *value.Array:
			args = l.Elements
		case value.Null:
		default:
			args = []value.Value{l}
		}
		v, err := vm.call(fn, args)
		if err != nil {
			return err
		}
		vm.push(v)
	case bytecode.OpCallCtor:
		args := vm.popN(in.OperandByte())
		class, ok := vm.pop().(*value.Class)
		if !ok {
			return runtimeErrorf("Cannot instantiate a non-class value")
		}
		v, err := vm.call(class, args)
		if err != nil {
			return err
		}
		vm.push(v)
	case bytecode.OpBind:
		receiver := vm.pop()
		fn, ok := vm.pop().(value.Callable)
		if !ok {
			return runtimeErrorf("BIND expects a function")
		}
		vm.push(&value.BoundMethod{Receiver: receiver, Method: fn})
	case bytecode.OpClosureVararg:
		name, err := f.name(in.OperandInt())
		if err != nil {
			return err
		}
		fn := f.module.Function(name)
		if fn == nil {
			return runtimeErrorf("Function '%s' not found", name)
		}
		vm.push(&value.Compiled{Fn: fn, Module: f.module})
	case bytecode.OpGetter, bytecode.OpSetter:
		name, err := f.name(in.OperandInt())
		if err != nil {
			return err
		}
		prefix := "get_"
		if in.Op == bytecode.OpSetter {
			prefix = "set_"
		}
		method, ok := vm.pop().(value.Callable)
		class, isClass := vm.peek(0).(*value.Class)
		if !ok || !isClass {
			return runtimeErrorf("%s expects a function and a class", in.Op)
		}
		class.Methods[prefix+name] = method
	case bytecode.OpSuper:
		var parent value.Value = value.NullValue
		if inst, ok := f.locals[0].(*value.Instance); ok && inst.Class.Parent != nil {
			parent = inst.Class.Parent
		}
		vm.push(parent)
	case bytecode.OpInherit, bytecode.OpMixin:
		other, ok := vm.pop().(*value.Class)
		class, isClass := vm.peek(0).(*value.Class)
		if !ok || !isClass {
			return runtimeErrorf("%s expects two classes", in.Op)
		}
		if in.Op == bytecode.OpInherit {
			class.Parent = other
			return nil
		}
		for name, m := range other.Methods {
			if _, exists := class.Methods[name]; !exists {
				class.Methods[name] = m
			}
		}
	case bytecode.OpGetProto:
		switch v := vm.pop().(type) {
		case *value.Instance:
			vm.push(v.Class)
		case *value.Class:
			if v.Parent != nil {
				vm.push(v.Parent)
			} else {
				vm.push(value.NullValue)
			}
		default:
			vm.push(value.NullValue)
		}
	case bytecode.OpSetProto:
		class, ok := vm.pop().(*value.Class)
		inst, isInst := vm.peek(0).(*value.Instance)
		if !ok || !isInst {
			return runtimeErrorf("SET_PROTO expects an instance and a class")
		}
		inst.Class = class
	case bytecode.OpWithBegin:
		vm.pop()
	case bytecode.OpWithEnd, bytecode.OpModule:
	default:
		return runtimeErrorf("Unsupported opcode %s", in.Op)
	}
	return nil
}
