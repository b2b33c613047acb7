package bytecode

import "fmt"

// MaxAnalyzedDepth bounds the stack depth the analysis accepts. A loop that
// grows the stack on every iteration reaches it and is rejected.
const MaxAnalyzedDepth = 65536

// CalculateStackUsage derives MaxStackSize and MaxLocals for every function
// in the module, including nested ones.
func (m *Module) CalculateStackUsage() error {
	for _, fn := range m.AllFunctions() {
		if err := fn.CalculateStackUsage(); err != nil {
			return err
		}
	}
	return nil
}

// CalculateStackUsage walks the function's control-flow graph and records the
// deepest operand stack any path can reach, and the highest local slot
// referenced. Catch targets are entered with the handler's recorded depth plus
// the pushed error value.
func (f *Function) CalculateStackUsage() error {
	for _, nested := range f.NestedFunctions {
		if err := nested.CalculateStackUsage(); err != nil {
			return err
		}
	}

	n := len(f.Instructions)
	maxLocals := len(f.Locals)
	if f.Arity+1 > maxLocals {
		maxLocals = f.Arity + 1
	}

	depth := make([]int, n)
	for i := range depth {
		depth[i] = -1
	}
	maxDepth := 0
	work := []int{}

	visit := func(from, at, d int) error {
		if at < 0 || at > n {
			return fmt.Errorf("%s: instruction %d jumps outside the function (%d)", f.Name, from, at)
		}
		if at == n {
			return nil
		}
		if depth[at] >= d {
			return nil
		}
		if d > MaxAnalyzedDepth {
			return fmt.Errorf("%s: operand stack grows without bound at instruction %d", f.Name, at)
		}
		depth[at] = d
		if d > maxDepth {
			maxDepth = d
		}
		work = append(work, at)
		return nil
	}

	if n > 0 {
		depth[0] = 0
		work = append(work, 0)
	}

	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		in := f.Instructions[i]
		d := depth[i]

		switch in.Op {
		case OpLoadLocal, OpStoreLocal:
			if slot := in.OperandInt(); slot+1 > maxLocals {
				maxLocals = slot + 1
			}
		case OpLoadLocalN, OpStoreLocalN:
			if slot := in.OperandByte(); slot+1 > maxLocals {
				maxLocals = slot + 1
			}
		}

		pop, push := StackEffect(in.Op, in.Operands)
		if d < pop {
			// The VM reports underflow at run time; analysis treats the
			// stack as empty rather than rejecting the function.
			d = pop
		}
		after := d - pop + push
		if after > maxDepth {
			maxDepth = after
		}

		if in.Op == OpTryBegin {
			// The catch block starts with the handler's depth plus the error.
			if err := visit(i, i+1+in.OperandInt(), d+1); err != nil {
				return err
			}
		}
		if in.Op.IsJump() {
			if err := visit(i, i+1+in.OperandInt(), after); err != nil {
				return err
			}
		}
		if !in.Op.IsTerminator() {
			if err := visit(i, i+1, after); err != nil {
				return err
			}
		}
	}

	f.MaxStackSize = maxDepth
	f.MaxLocals = maxLocals
	return nil
}
