// Package optimizer rewrites sealed bytecode modules in place with peephole
// passes run to a fixed point.
//
// Every rewrite keeps or shrinks the instruction count. A rewrite never
// spans an instruction that some jump or catch handler targets, and
// removals remap every relative offset, so control flow is preserved.
package optimizer

import (
	"math"
	"strings"

	"github.com/ollang/ollang/pkg/bytecode"
)

// MaxPasses bounds the fixed-point loop per function.
const MaxPasses = 10

// tempPrefix marks compiler-generated local slots.
const tempPrefix = "__temp_"

// Stats counts the rewrites performed.
type Stats struct {
	Passes     int
	DeadStores int
	Folded     int
	Removed    int
	Threaded   int
	Reduced    int
}

// Optimizer applies the passes enabled by its level.
//
// Level 0 leaves modules untouched. Level 1 runs dead-store elimination,
// constant folding and redundant-op removal. Level 2 adds jump threading
// and strength reduction.
type Optimizer struct {
	level int
	stats Stats
}

// New creates an optimizer for level.
func New(level int) *Optimizer {
	return &Optimizer{level: level}
}

// Stats returns the accumulated rewrite counts.
func (o *Optimizer) Stats() Stats { return o.stats }

// Optimize rewrites every function of m and recomputes stack usage.
func (o *Optimizer) Optimize(m *bytecode.Module) error {
	if o.level <= 0 {
		return nil
	}
	for _, fn := range m.AllFunctions() {
		o.OptimizeFunction(fn)
	}
	return m.CalculateStackUsage()
}

// OptimizeFunction runs the passes over fn (and its nested functions) until
// none of them changes anything or MaxPasses is reached. Stack usage is not
// recomputed.
func (o *Optimizer) OptimizeFunction(fn *bytecode.Function) {
	if o.level <= 0 {
		return
	}
	for _, nested := range fn.NestedFunctions {
		o.OptimizeFunction(nested)
	}
	for pass := 0; pass < MaxPasses; pass++ {
		o.stats.Passes++
		changed := false
		changed = o.eliminateDeadStores(fn) || changed
		changed = o.foldConstants(fn) || changed
		changed = o.removeRedundant(fn) || changed
		if o.level >= 2 {
			changed = o.threadJumps(fn) || changed
			changed = o.reduceStrength(fn) || changed
		}
		if !changed {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// rewriter tracks which instructions a pass deletes and compacts the
// function afterwards.
type rewriter struct {
	fn      *bytecode.Function
	targets map[int]bool
	removed []bool
	changed bool
}

func newRewriter(fn *bytecode.Function) *rewriter {
	return &rewriter{
		fn:      fn,
		targets: jumpTargets(fn.Instructions),
		removed: make([]bool, len(fn.Instructions)),
	}
}

// jumpTargets returns every instruction index that a jump or a TRY_BEGIN
// handler can transfer control to.
func jumpTargets(ins []bytecode.Instruction) map[int]bool {
	targets := make(map[int]bool)
	for i, in := range ins {
		if in.Op.IsJump() || in.Op == bytecode.OpTryBegin {
			targets[i+1+in.OperandInt()] = true
		}
	}
	return targets
}

// window reports whether the k instructions starting at i exist, are all
// still live and, apart from the first, are not jump targets.
func (r *rewriter) window(i, k int) bool {
	if i+k > len(r.fn.Instructions) {
		return false
	}
	for j := i; j < i+k; j++ {
		if r.removed[j] || (j > i && r.targets[j]) {
			return false
		}
	}
	return true
}

func (r *rewriter) at(i int) bytecode.Instruction { return r.fn.Instructions[i] }

func (r *rewriter) remove(idx ...int) {
	for _, i := range idx {
		r.removed[i] = true
	}
	r.changed = true
}

// replace overwrites the instruction at i, keeping its source position.
func (r *rewriter) replace(i int, op bytecode.Opcode, operands ...byte) {
	in := &r.fn.Instructions[i]
	in.Op = op
	in.Operands = operands
	r.changed = true
}

// commit drops removed instructions and remaps every relative offset. An
// offset that pointed at a removed instruction now points at the next
// surviving one.
func (r *rewriter) commit() bool {
	if !r.changed {
		return false
	}
	old := r.fn.Instructions
	newIndex := make([]int, len(old)+1)
	n := 0
	for i := range old {
		newIndex[i] = n
		if !r.removed[i] {
			n++
		}
	}
	newIndex[len(old)] = n

	out := make([]bytecode.Instruction, 0, n)
	for i, in := range old {
		if r.removed[i] {
			continue
		}
		if in.Op.IsJump() || in.Op == bytecode.OpTryBegin {
			target := i + 1 + in.OperandInt()
			if target < 0 {
				target = 0
			}
			if target > len(old) {
				target = len(old)
			}
			in.Operands = bytecode.Int32Operand(newIndex[target] - newIndex[i] - 1)
		}
		out = append(out, in)
	}
	r.fn.Instructions = out
	return true
}

// numericConstant returns the number pushed by in, if it pushes one.
func numericConstant(fn *bytecode.Function, in bytecode.Instruction) (float64, bool) {
	switch in.Op {
	case bytecode.OpPushConstIdx, bytecode.OpPushNumConst:
		idx := in.OperandInt()
		if idx < 0 || idx >= len(fn.Constants) {
			return 0, false
		}
		switch c := fn.Constants[idx].(type) {
		case float64:
			return c, true
		case int64:
			return float64(c), true
		}
	}
	return 0, false
}

// constantIndex returns the pool index of f, appending it when absent.
func constantIndex(fn *bytecode.Function, f float64) int {
	for i, c := range fn.Constants {
		if bytecode.ConstantsEqual(c, f) {
			return i
		}
	}
	return fn.AddConstant(f)
}

func localSlot(in bytecode.Instruction) (int, bool) {
	switch in.Op {
	case bytecode.OpLoadLocal, bytecode.OpStoreLocal:
		return in.OperandInt(), true
	case bytecode.OpLoadLocalN, bytecode.OpStoreLocalN:
		return in.OperandByte(), true
	}
	return 0, false
}

func isLocalLoad(op bytecode.Opcode) bool {
	return op == bytecode.OpLoadLocal || op == bytecode.OpLoadLocalN
}

func isLocalStore(op bytecode.Opcode) bool {
	return op == bytecode.OpStoreLocal || op == bytecode.OpStoreLocalN
}

func isStore(op bytecode.Opcode) bool {
	return isLocalStore(op) || op == bytecode.OpStoreGlobal
}

// ---------------------------------------------------------------------------
// Passes
// ---------------------------------------------------------------------------

// eliminateDeadStores turns stores to compiler temporaries that are never
// loaded into plain pops.
func (o *Optimizer) eliminateDeadStores(fn *bytecode.Function) bool {
	loaded := make(map[int]bool)
	for _, in := range fn.Instructions {
		if isLocalLoad(in.Op) {
			slot, _ := localSlot(in)
			loaded[slot] = true
		}
	}
	r := newRewriter(fn)
	for i, in := range fn.Instructions {
		if !isLocalStore(in.Op) {
			continue
		}
		slot, _ := localSlot(in)
		if slot < fn.Arity || slot >= len(fn.Locals) || loaded[slot] {
			continue
		}
		if !strings.HasPrefix(fn.Locals[slot], tempPrefix) {
			continue
		}
		r.replace(i, bytecode.OpPop)
		o.stats.DeadStores++
	}
	return r.commit()
}

// foldConstants replaces `push a; push b; op` with the precomputed result.
// Results that are NaN or infinite, and divisions by zero, are left for the
// VM.
func (o *Optimizer) foldConstants(fn *bytecode.Function) bool {
	r := newRewriter(fn)
	for i := 0; i+2 < len(fn.Instructions); i++ {
		if !r.window(i, 3) || !r.at(i+2).Op.IsArithmetic() {
			continue
		}
		a, ok1 := numericConstant(fn, r.at(i))
		b, ok2 := numericConstant(fn, r.at(i+1))
		if !ok1 || !ok2 {
			continue
		}
		v, ok := fold(r.at(i+2).Op, a, b)
		if !ok {
			continue
		}
		r.replace(i, bytecode.OpPushConstIdx, bytecode.Int32Operand(constantIndex(fn, v))...)
		r.remove(i+1, i+2)
		o.stats.Folded++
		i += 2
	}
	return r.commit()
}

func fold(op bytecode.Opcode, a, b float64) (float64, bool) {
	var v float64
	switch op {
	case bytecode.OpAdd:
		v = a + b
	case bytecode.OpSub:
		v = a - b
	case bytecode.OpMul:
		v = a * b
	case bytecode.OpDiv:
		if b == 0 {
			return 0, false
		}
		v = a / b
	case bytecode.OpMod:
		if b == 0 {
			return 0, false
		}
		v = math.Mod(a, b)
	case bytecode.OpPow:
		v = math.Pow(a, b)
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// removeRedundant cancels instruction pairs that have no net effect.
func (o *Optimizer) removeRedundant(fn *bytecode.Function) bool {
	r := newRewriter(fn)
	n := len(fn.Instructions)
	for i := 0; i+1 < n; i++ {
		if !r.window(i, 2) {
			continue
		}
		a, b := r.at(i), r.at(i+1)
		switch {
		// push x; pop
		case (a.Op.IsPush() || isLocalLoad(a.Op)) && b.Op == bytecode.OpPop:
			r.remove(i, i+1)
			i++

		// dup; store; pop -> store
		case a.Op == bytecode.OpDup && isStore(b.Op) && r.window(i, 3) && r.at(i+2).Op == bytecode.OpPop:
			r.remove(i, i+2)
			i += 2

		// dup; pop
		case a.Op == bytecode.OpDup && b.Op == bytecode.OpPop:
			r.remove(i, i+1)
			i++

		// not; not -> bool, or nothing before a truthiness test
		case a.Op == bytecode.OpNot && b.Op == bytecode.OpNot:
			if r.window(i, 3) && (r.at(i+2).Op == bytecode.OpJmpT || r.at(i+2).Op == bytecode.OpJmpF) {
				r.remove(i, i+1)
			} else {
				r.replace(i, bytecode.OpBool)
				r.remove(i + 1)
			}
			i++

		// unm; unm -> numeric coercion
		case a.Op == bytecode.OpUnm && b.Op == bytecode.OpUnm:
			r.replace(i, bytecode.OpToNum)
			r.remove(i + 1)
			i++

		// a number needs no coercion
		case b.Op == bytecode.OpToNum && isNumericConstant(fn, a):
			r.remove(i + 1)
			i++

		// store n; load n -> dup; store n
		case isLocalStore(a.Op) && isLocalLoad(b.Op) && sameSlot(a, b):
			store := a
			r.replace(i, bytecode.OpDup)
			r.replace(i+1, store.Op, store.Operands...)
			i++

		case a.Op == bytecode.OpStoreGlobal && b.Op == bytecode.OpLoadGlobal && a.OperandInt() == b.OperandInt():
			store := a
			r.replace(i, bytecode.OpDup)
			r.replace(i+1, store.Op, store.Operands...)
			i++

		default:
			continue
		}
		o.stats.Removed++
	}
	return r.commit()
}

func isNumericConstant(fn *bytecode.Function, in bytecode.Instruction) bool {
	_, ok := numericConstant(fn, in)
	return ok
}

func sameSlot(a, b bytecode.Instruction) bool {
	sa, _ := localSlot(a)
	sb, _ := localSlot(b)
	return sa == sb
}

// threadJumps redirects jumps whose target is an unconditional jump to the
// final destination, and drops unconditional jumps to the next instruction.
func (o *Optimizer) threadJumps(fn *bytecode.Function) bool {
	r := newRewriter(fn)
	ins := fn.Instructions
	for i, in := range ins {
		if !in.Op.IsJump() {
			continue
		}
		target := i + 1 + in.OperandInt()
		final := target
		for hops := 0; hops < len(ins); hops++ {
			if final < 0 || final >= len(ins) || ins[final].Op != bytecode.OpJmp {
				break
			}
			next := final + 1 + ins[final].OperandInt()
			if next == final {
				break
			}
			final = next
		}
		if final != target {
			r.replace(i, in.Op, bytecode.Int32Operand(final-i-1)...)
			o.stats.Threaded++
			continue
		}
		if in.Op == bytecode.OpJmp && in.OperandInt() == 0 {
			r.remove(i)
			o.stats.Threaded++
		}
	}
	return r.commit()
}

// numericResult lists opcodes whose result is always a Number.
var numericResult = map[bytecode.Opcode]bool{
	bytecode.OpSub: true, bytecode.OpMul: true, bytecode.OpDiv: true,
	bytecode.OpMod: true, bytecode.OpPow: true, bytecode.OpUnm: true,
	bytecode.OpToNum: true, bytecode.OpFloor: true, bytecode.OpCeil: true,
	bytecode.OpRound: true, bytecode.OpAbs: true, bytecode.OpSqrt: true,
	bytecode.OpBand: true, bytecode.OpBor: true, bytecode.OpBxor: true,
	bytecode.OpBnot: true, bytecode.OpShl: true, bytecode.OpShr: true,
	bytecode.OpUshr: true, bytecode.OpStrLen: true, bytecode.OpArrayLen: true,
}

// reduceStrength rewrites `x * 2` as `x; dup; add` and `x ** 2` as
// `x; dup; mul` when x is provably a number.
func (o *Optimizer) reduceStrength(fn *bytecode.Function) bool {
	r := newRewriter(fn)
	for i := 1; i+1 < len(fn.Instructions); i++ {
		// The operand producer at i-1 must be what reaches i.
		if r.targets[i] || !r.window(i, 2) || r.removed[i-1] {
			continue
		}
		two, ok := numericConstant(fn, r.at(i))
		if !ok || two != 2 {
			continue
		}
		prev := r.at(i - 1)
		if !numericResult[prev.Op] && !isNumericConstant(fn, prev) {
			continue
		}
		switch r.at(i + 1).Op {
		case bytecode.OpMul:
			r.replace(i, bytecode.OpDup)
			r.replace(i+1, bytecode.OpAdd)
		case bytecode.OpPow:
			r.replace(i, bytecode.OpDup)
			r.replace(i+1, bytecode.OpMul)
		default:
			continue
		}
		o.stats.Reduced++
		i++
	}
	return r.commit()
}
