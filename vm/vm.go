package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"math/rand/v2"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/ollang/ollang/compiler"
	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
	"github.com/ollang/ollang/vm/gc"
)

// Limits of one VM.
const (
	MaxFrames     = 1024
	MaxStackDepth = 65536
)

// errStackOverflow is raised when either limit is exceeded.
var errStackOverflow = errors.New("Stack overflow")

// Result is the outcome of Run.
type Result struct {
	Value        value.Value
	Instructions int64
	Elapsed      time.Duration
}

// VM executes one module. A VM is single-threaded: spawned work runs on
// separate VMs that share only a snapshot of the globals.
type VM struct {
	module *bytecode.Module
	cfg    config
	log    commonlog.Logger

	globals map[string]value.Value
	stack   []value.Value
	frames  []*frame

	// constants caches each function's wrapped constant pool.
	constants map[*bytecode.Function][]value.Value

	gc *gc.Collector

	ctx          context.Context
	instructions int64
	rng          *rand.Rand

	// Imports, keyed by resolved path. parent is the importing VM, and
	// loading holds the imports in progress along that chain.
	imports  map[string]*value.Map
	children []*VM
	parent   *VM
	loading  map[string]bool

	spawned   errgroup.Group
	spawnedMu sync.Mutex
	closed    bool
}

// New creates a VM for module. Globals are seeded from the core builtins,
// the module's global table, every module function by name, and finally
// WithGlobals.
func New(module *bytecode.Module, opts ...Option) *VM {
	cfg := config{
		globals:  make(map[string]value.Value),
		stdout:   os.Stdout,
		log:      commonlog.GetLogger("ollang.vm"),
		gcConfig: gc.DefaultConfig(),
		compile:  compiler.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	vm := &VM{
		module:  module,
		cfg:     cfg,
		log:     cfg.log,
		globals: make(map[string]value.Value),
		stack:   make([]value.Value, 0, 256),
		frames:  make([]*frame, 0, 16),
		imports: make(map[string]*value.Map),
		ctx:     context.Background(),

		constants: make(map[*bytecode.Function][]value.Value),
	}
	vm.gc = gc.New(vm, cfg.gcConfig)

	vm.registerBuiltins()
	for _, name := range slices.Sorted(maps.Keys(module.Globals)) {
		v, err := value.FromConstant(module.Globals[name])
		if err != nil {
			vm.log.Warningf("global %s: %s", name, err)
			continue
		}
		vm.globals[name] = v
	}
	for _, fn := range module.Functions {
		vm.globals[fn.Name] = &value.Compiled{Fn: fn, Module: module}
	}
	maps.Copy(vm.globals, cfg.globals)
	return vm
}

// Module returns the module the VM runs.
func (vm *VM) Module() *bytecode.Module { return vm.module }

// SetGlobal binds name.
func (vm *VM) SetGlobal(name string, v value.Value) { vm.globals[name] = v }

// Global looks up name.
func (vm *VM) Global(name string) (value.Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// Globals returns a copy of the global table.
func (vm *VM) Globals() map[string]value.Value { return maps.Clone(vm.globals) }

// GC returns the native-memory collector.
func (vm *VM) GC() *gc.Collector { return vm.gc }

// Run executes the main function to completion.
func (vm *VM) Run(ctx context.Context) (*Result, error) {
	if vm.module.Main == nil {
		return nil, errors.New("module has no main function")
	}
	vm.ctx = ctx
	start := time.Now()
	before := vm.instructions

	v, err := vm.call(&value.Compiled{Fn: vm.module.Main, Module: vm.module}, nil)
	res := &Result{
		Value:        v,
		Instructions: vm.instructions - before,
		Elapsed:      time.Since(start),
	}
	if err != nil {
		var rt *RuntimeError
		if errors.As(err, &rt) {
			vm.log.Errorf("%s: %s", vm.module.Name, rt.Error())
		}
		return res, err
	}
	vm.log.Debugf("%s finished: %d instructions in %s", vm.module.Name, res.Instructions, res.Elapsed)
	return res, nil
}

// Call invokes any callable value and returns its result. Bytecode
// functions run on this VM's stack until they return.
func (vm *VM) Call(callee value.Value, args ...value.Value) (value.Value, error) {
	return vm.call(callee, args)
}

func (vm *VM) call(callee value.Value, args []value.Value) (value.Value, error) {
	base, sp := len(vm.frames), len(vm.stack)
	result, entered, err := vm.invoke(callee, args)
	if err != nil {
		return nil, vm.wrap(err, base)
	}
	if !entered {
		return result, nil
	}
	if err := vm.execute(base); err != nil {
		vm.frames = vm.frames[:base]
		vm.stack = vm.stack[:sp]
		return nil, err
	}
	return vm.pop(), nil
}

// VisitRoots reports globals, the operand stack and frame locals to the
// collector.
func (vm *VM) VisitRoots(visit func(value.Value)) {
	for _, v := range vm.globals {
		visit(v)
	}
	for _, v := range vm.stack {
		visit(v)
	}
	for _, f := range vm.frames {
		for _, v := range f.locals {
			visit(v)
		}
	}
}

// Wait blocks until every spawned VM has finished and returns the first
// error any of them reported.
func (vm *VM) Wait() error {
	return vm.spawned.Wait()
}

// Close releases native memory held by this VM and the VMs of its imports.
func (vm *VM) Close() error {
	vm.spawnedMu.Lock()
	defer vm.spawnedMu.Unlock()
	if vm.closed {
		return nil
	}
	vm.closed = true
	var errs []error
	for _, child := range vm.children {
		errs = append(errs, child.Close())
	}
	errs = append(errs, vm.gc.Close())
	return errors.Join(errs...)
}

// Stdout is where print and println write.
func (vm *VM) Stdout() io.Writer { return vm.cfg.stdout }

// wrap converts a failure into a *RuntimeError and appends the frames from
// the innermost down to base to its call stack. Frames below base belong to
// an enclosing execution, which appends them when the error reaches it.
func (vm *VM) wrap(err error, base int) error {
	rt, ok := err.(*RuntimeError)
	if !ok {
		msg := messageOf(err)
		rt = &RuntimeError{
			Kind:    kindOf(err),
			Message: msg,
			Hint:    hintFor(msg),
			Err:     err,
		}
	}
	for i := len(vm.frames) - 1; i >= base; i-- {
		e := vm.frames[i].entry()
		if len(rt.CallStack) == 0 {
			rt.Line, rt.Column, rt.Function = e.Line, e.Column, e.Function
		}
		rt.CallStack = append(rt.CallStack, e)
	}
	return rt
}

// fork creates an independent VM over the same module sharing this VM's
// configuration.
func (vm *VM) fork(module *bytecode.Module, globals map[string]value.Value) *VM {
	cfg := vm.cfg
	cfg.globals = globals
	child := New(module, func(c *config) { *c = cfg })
	child.ctx = vm.ctx
	return child
}

func (vm *VM) String() string {
	return fmt.Sprintf("VM(%s, frames=%d, stack=%d)", vm.module.Name, len(vm.frames), len(vm.stack))
}
