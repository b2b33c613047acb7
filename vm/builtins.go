package vm

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ollang/ollang/pkg/value"
	"github.com/ollang/ollang/vm/gc"
)

// ExecContext is what builtins receive from the executing VM.
type ExecContext struct {
	vm *VM
}

func (vm *VM) context() *ExecContext { return &ExecContext{vm: vm} }

// Call re-enters the VM to run callee to completion.
func (c *ExecContext) Call(callee value.Value, args ...value.Value) (value.Value, error) {
	return c.vm.call(callee, args)
}

func (c *ExecContext) Global(name string) (value.Value, bool) { return c.vm.Global(name) }
func (c *ExecContext) SetGlobal(name string, v value.Value) { c.vm.SetGlobal(name, v) }
func (c *ExecContext) Stdout() io.Writer { return c.vm.cfg.stdout }

// GC returns the collector backing Pointer values.
func (c *ExecContext) GC() *gc.Collector { return c.vm.gc }

// CallStack returns the active frames, innermost first.
func (c *ExecContext) CallStack() []StackEntry {
	out := make([]StackEntry, 0, len(c.vm.frames))
	for i := len(c.vm.frames) - 1; i >= 0; i-- {
		out = append(out, c.vm.frames[i].entry())
	}
	return out
}

// Spawn runs fn on a new VM.
func (c *ExecContext) Spawn(fn value.Value, args ...value.Value) error {
	return c.vm.spawn(fn, args)
}

var _ value.Context = (*ExecContext)(nil)

func arg(args []value.Value, i int) value.Value {
	if i < len(args) {
		return args[i]
	}
	return value.NullValue
}

func (vm *VM) registerBuiltins() {
	builtins := map[string]value.BuiltinFunc{
		"print":    builtinPrint(""),
		"println":  builtinPrint("\n"),
		"len":      builtinLen,
		"str":      builtinStr,
		"num":      builtinNum,
		"type":     builtinType,
		"alloc":    builtinAlloc,
		"free":     builtinFree,
		"gc":       builtinGC,
		"gc_stats": builtinGCStats,
		"spawn":    builtinSpawn,
	}
	for name, fn := range builtins {
		vm.globals[name] = value.NewBuiltin(name, fn)
	}
}

func builtinPrint(end string) value.BuiltinFunc {
	return func(ctx value.Context, args []value.Value) (value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		_, err := fmt.Fprint(ctx.Stdout(), strings.Join(parts, " ")+end)
		return value.NullValue, err
	}
}

func builtinLen(_ value.Context, args []value.Value) (value.Value, error) {
	switch v := arg(args, 0).(type) {
	case *value.Array:
		return value.Number(v.Len()), nil
	case *value.Map:
		return value.Number(v.Len()), nil
	case *value.Instance:
		return value.Number(v.Fields.Len()), nil
	case value.String:
		return value.Number(utf8.RuneCountInString(string(v))), nil
	case value.Null:
		return value.Number(0), nil
	default:
		return nil, runtimeErrorf("len() is not supported on %s", value.TypeName(v))
	}
}

func builtinStr(_ value.Context, args []value.Value) (value.Value, error) {
	return value.String(arg(args, 0).String()), nil
}

func builtinNum(_ value.Context, args []value.Value) (value.Value, error) {
	return value.Number(arg(args, 0).AsNumber()), nil
}

func builtinType(_ value.Context, args []value.Value) (value.Value, error) {
	return value.String(value.TypeName(arg(args, 0))), nil
}

func execContext(ctx value.Context) (*ExecContext, error) {
	ec, ok := ctx.(*ExecContext)
	if !ok {
		return nil, runtimeErrorf("builtin requires a VM context")
	}
	return ec, nil
}

func builtinAlloc(ctx value.Context, args []value.Value) (value.Value, error) {
	ec, err := execContext(ctx)
	if err != nil {
		return nil, err
	}
	return ec.vm.allocate(arg(args, 0))
}

func builtinFree(ctx value.Context, args []value.Value) (value.Value, error) {
	ec, err := execContext(ctx)
	if err != nil {
		return nil, err
	}
	return value.NullValue, ec.vm.free(arg(args, 0))
}

func builtinGC(ctx value.Context, _ []value.Value) (value.Value, error) {
	ec, err := execContext(ctx)
	if err != nil {
		return nil, err
	}
	ec.GC().CollectFull()
	return value.NullValue, nil
}

func builtinGCStats(ctx value.Context, _ []value.Value) (value.Value, error) {
	ec, err := execContext(ctx)
	if err != nil {
		return nil, err
	}
	s := ec.GC().Stats()
	m := value.NewMap()
	for _, kv := range []struct {
		key string
		val float64
	}{
		{"totalAllocated", float64(s.TotalAllocated)},
		{"allocationCount", float64(s.AllocationCount)},
		{"youngCount", float64(s.YoungCount)},
		{"oldCount", float64(s.OldCount)},
		{"minorCollections", float64(s.MinorCollections)},
		{"majorCollections", float64(s.MajorCollections)},
		{"youngThreshold", float64(s.YoungThreshold)},
		{"lastCollectionMs", float64(s.LastCollection.Microseconds()) / 1000},
		{"totalCollectionMs", float64(s.TotalCollection.Microseconds()) / 1000},
	} {
		m.Set(value.String(kv.key), value.Number(kv.val))
	}
	return m, nil
}

func builtinSpawn(ctx value.Context, args []value.Value) (value.Value, error) {
	ec, err := execContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, runtimeErrorf("spawn() expects a function")
	}
	if err := ec.Spawn(args[0], args[1:]...); err != nil {
		return nil, err
	}
	return value.True, nil
}
