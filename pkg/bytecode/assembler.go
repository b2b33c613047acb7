package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// labelContext holds label state for one function body.
type labelContext struct {
	fn      *Function
	labels  map[string]int   // label -> instruction index
	pending map[string][]int // label -> referencing instruction indices
}

// constKey identifies a scalar constant for deduplication. Floats are keyed
// by their bit pattern so -0 and NaN payloads stay distinct.
type constKey struct {
	kind byte
	bits uint64
	str  string
}

// Assembler builds a module instruction by instruction.
// Labels are scoped to the function being defined: DefineFunction pushes a
// fresh label context and RestoreLabelContext pops it.
type Assembler struct {
	module  *Module
	current *Function

	contexts []*labelContext
	ctx      *labelContext

	consts map[*Function]map[constKey]int

	line, column int32
	debugInfo    bool
}

// NewAssembler creates an assembler whose current function is the module's main.
func NewAssembler(moduleName string) *Assembler {
	m := NewModule(moduleName)
	a := &Assembler{
		module:    m,
		consts:    make(map[*Function]map[constKey]int),
		debugInfo: true,
	}
	a.current = m.Main
	a.ctx = newLabelContext(m.Main)
	return a
}

func newLabelContext(fn *Function) *labelContext {
	return &labelContext{
		fn:      fn,
		labels:  make(map[string]int),
		pending: make(map[string][]int),
	}
}

// SetDebugInfo controls whether emitted instructions carry source positions.
func (a *Assembler) SetDebugInfo(on bool) {
	a.debugInfo = on
	if on {
		a.module.Flags |= FlagDebugInfo
	} else {
		a.module.Flags &^= FlagDebugInfo
	}
}

// SetPosition sets the source position recorded on subsequent instructions.
func (a *Assembler) SetPosition(line, column int) {
	a.line, a.column = int32(line), int32(column)
}

// Current returns the function instructions are emitted into.
func (a *Assembler) Current() *Function { return a.current }

// SetCurrent switches the emission target without touching label contexts.
func (a *Assembler) SetCurrent(fn *Function) { a.current = fn }

// ModuleRef returns the module under construction without sealing it.
func (a *Assembler) ModuleRef() *Module { return a.module }

// DefineFunction registers a new function, pushes a fresh label context for
// it and makes it current. The caller restores the previous function with
// SetCurrent and the previous labels with RestoreLabelContext.
func (a *Assembler) DefineFunction(name string, arity int, vararg bool) (*Function, error) {
	if a.module.Function(name) != nil {
		return nil, fmt.Errorf("function %q already defined", name)
	}
	fn := a.module.AddFunction(name, arity, vararg)
	a.contexts = append(a.contexts, a.ctx)
	a.ctx = newLabelContext(fn)
	a.current = fn
	return fn, nil
}

// RestoreLabelContext pops the label context pushed by DefineFunction.
// Any label still pending in the popped context is an error.
func (a *Assembler) RestoreLabelContext() error {
	if len(a.contexts) == 0 {
		return fmt.Errorf("no label context to restore")
	}
	err := a.ctx.unresolved()
	a.ctx = a.contexts[len(a.contexts)-1]
	a.contexts = a.contexts[:len(a.contexts)-1]
	return err
}

func (c *labelContext) unresolved() error {
	if len(c.pending) == 0 {
		return nil
	}
	names := make([]string, 0, len(c.pending))
	for name := range c.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("unresolved labels in %s: %s", c.fn.Name, strings.Join(names, ", "))
}

// Emit appends an instruction to the current function and returns its index.
func (a *Assembler) Emit(op Opcode, operands ...byte) int {
	in := Instruction{Op: op, Operands: operands}
	if a.debugInfo {
		in.Line, in.Column = a.line, a.column
	}
	return a.current.AddInstruction(in)
}

// EmitInt emits an instruction with a 4-byte int32 operand.
func (a *Assembler) EmitInt(op Opcode, v int) int {
	return a.Emit(op, Int32Operand(v)...)
}

// EmitByte emits an instruction with a single byte operand.
func (a *Assembler) EmitByte(op Opcode, v int) (int, error) {
	if v < 0 || v > math.MaxUint8 {
		return 0, fmt.Errorf("%s operand %d out of range", op, v)
	}
	return a.Emit(op, byte(v)), nil
}

// Label marks the next instruction index as the label's target and patches
// every pending reference to it.
func (a *Assembler) Label(name string) error {
	if _, dup := a.ctx.labels[name]; dup {
		return fmt.Errorf("duplicate label %q in %s", name, a.current.Name)
	}
	target := len(a.current.Instructions)
	a.ctx.labels[name] = target
	for _, ref := range a.ctx.pending[name] {
		a.patch(ref, target)
	}
	delete(a.ctx.pending, name)
	return nil
}

func (a *Assembler) patch(ref, target int) {
	in := &a.current.Instructions[ref]
	binary.LittleEndian.PutUint32(in.Operands, uint32(int32(target-ref-1)))
}

// emitLabelRef emits op with a relative offset to label, backpatched later
// when the label is still unknown.
func (a *Assembler) emitLabelRef(op Opcode, label string) int {
	idx := len(a.current.Instructions)
	if target, ok := a.ctx.labels[label]; ok {
		return a.EmitInt(op, target-idx-1)
	}
	a.EmitInt(op, 0)
	a.ctx.pending[label] = append(a.ctx.pending[label], idx)
	return idx
}

// EmitJump emits an unconditional jump to label.
func (a *Assembler) EmitJump(label string) int { return a.emitLabelRef(OpJmp, label) }

// EmitJumpIfTrue emits a jump taken when the popped value is truthy.
func (a *Assembler) EmitJumpIfTrue(label string) int { return a.emitLabelRef(OpJmpT, label) }

// EmitJumpIfFalse emits a jump taken when the popped value is falsy.
func (a *Assembler) EmitJumpIfFalse(label string) int { return a.emitLabelRef(OpJmpF, label) }

// EmitTryBegin installs a handler whose catch block starts at label.
func (a *Assembler) EmitTryBegin(label string) int { return a.emitLabelRef(OpTryBegin, label) }

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func keyFor(v any) (constKey, bool) {
	switch c := v.(type) {
	case nil:
		return constKey{kind: constNull}, true
	case float64:
		return constKey{kind: constDouble, bits: math.Float64bits(c)}, true
	case int64:
		return constKey{kind: constInt, bits: uint64(c)}, true
	case string:
		return constKey{kind: constString, str: c}, true
	case bool:
		if c {
			return constKey{kind: constBool, bits: 1}, true
		}
		return constKey{kind: constBool}, true
	}
	return constKey{}, false
}

// ConstantIndex returns the pool index of v in the current function, adding
// it on first use. Scalars are deduplicated by value; composite constants are
// always appended.
func (a *Assembler) ConstantIndex(v any) int {
	fn := a.current
	key, ok := keyFor(v)
	if !ok {
		return fn.AddConstant(v)
	}
	cache := a.consts[fn]
	if cache == nil {
		cache = make(map[constKey]int)
		for i, c := range fn.Constants {
			if k, ok := keyFor(c); ok {
				if _, seen := cache[k]; !seen {
					cache[k] = i
				}
			}
		}
		a.consts[fn] = cache
	}
	if idx, ok := cache[key]; ok {
		return idx
	}
	idx := fn.AddConstant(v)
	cache[key] = idx
	return idx
}

// EmitPushNumber pushes a numeric constant.
func (a *Assembler) EmitPushNumber(n float64) int {
	return a.EmitInt(OpPushConstIdx, a.ConstantIndex(n))
}

// EmitPushString pushes a string constant.
func (a *Assembler) EmitPushString(s string) int {
	return a.EmitInt(OpPushConstIdx, a.ConstantIndex(s))
}

// EmitPushBool pushes true or false.
func (a *Assembler) EmitPushBool(b bool) int {
	if b {
		return a.Emit(OpPushTrue)
	}
	return a.Emit(OpPushFalse)
}

// EmitPushNull pushes null.
func (a *Assembler) EmitPushNull() int { return a.Emit(OpPushNull) }

// EmitLoadGlobal pushes the global called name.
func (a *Assembler) EmitLoadGlobal(name string) int {
	return a.EmitInt(OpLoadGlobal, a.ConstantIndex(name))
}

// EmitStoreGlobal pops into the global called name.
func (a *Assembler) EmitStoreGlobal(name string) int {
	return a.EmitInt(OpStoreGlobal, a.ConstantIndex(name))
}

// EmitLoadLocal pushes a local slot, using the short form when it fits.
func (a *Assembler) EmitLoadLocal(slot int) int {
	if slot >= 0 && slot <= math.MaxUint8 {
		return a.Emit(OpLoadLocalN, byte(slot))
	}
	return a.EmitInt(OpLoadLocal, slot)
}

// EmitStoreLocal pops into a local slot, using the short form when it fits.
func (a *Assembler) EmitStoreLocal(slot int) int {
	if slot >= 0 && slot <= math.MaxUint8 {
		return a.Emit(OpStoreLocalN, byte(slot))
	}
	return a.EmitInt(OpStoreLocal, slot)
}

// ---------------------------------------------------------------------------
// Sealing
// ---------------------------------------------------------------------------

// Seal checks that no label is left unresolved, computes stack usage for
// every function and returns the finished module.
func (a *Assembler) Seal() (*Module, error) {
	if len(a.contexts) != 0 {
		return nil, fmt.Errorf("%d function label contexts still open", len(a.contexts))
	}
	if err := a.ctx.unresolved(); err != nil {
		return nil, err
	}
	if err := a.module.CalculateStackUsage(); err != nil {
		return nil, err
	}
	return a.module, nil
}
