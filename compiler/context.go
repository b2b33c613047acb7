package compiler

import (
	"fmt"

	"github.com/ollang/ollang/pkg/bytecode"
)

// TempPrefix starts the name of every synthetic local slot.
const TempPrefix = "__temp_"

// loopContext holds the jump targets of one enclosing loop.
type loopContext struct {
	start, end, cont string
	// tries is the depth of the try stack when the loop was entered.
	tries int
}

// tryContext holds the labels of one enclosing try statement.
type tryContext struct {
	catch, finally, end string
}

// funcContext is the per-function part of the compilation state. It is saved
// and replaced whenever a nested function or method body is compiled, so
// inner functions never see outer locals.
type funcContext struct {
	fn     *bytecode.Function
	scope  map[string]int
	consts map[string]bool
	loops  []loopContext
	tries  []tryContext
	main   bool
}

func newFuncContext(fn *bytecode.Function, main bool) *funcContext {
	return &funcContext{
		fn:     fn,
		scope:  make(map[string]int),
		consts: make(map[string]bool),
		main:   main,
	}
}

// resolve returns the local slot bound to name in the current function.
func (f *funcContext) resolve(name string) (int, bool) {
	slot, ok := f.scope[name]
	return slot, ok
}

// declare binds name to a fresh local slot.
func (f *funcContext) declare(name string) int {
	slot := f.fn.AddLocal(name)
	f.scope[name] = slot
	return slot
}

func (f *funcContext) pushLoop(l loopContext) {
	l.tries = len(f.tries)
	f.loops = append(f.loops, l)
}

func (f *funcContext) popLoop() { f.loops = f.loops[:len(f.loops)-1] }

func (f *funcContext) currentLoop() (loopContext, bool) {
	if len(f.loops) == 0 {
		return loopContext{}, false
	}
	return f.loops[len(f.loops)-1], true
}

func (f *funcContext) pushTry(t tryContext) { f.tries = append(f.tries, t) }
func (f *funcContext) popTry()              { f.tries = f.tries[:len(f.tries)-1] }

// newLabel returns a label unique within the compilation: prefix_N.
func (c *Compiler) newLabel(prefix string) string {
	c.labels++
	return fmt.Sprintf("%s_%d", prefix, c.labels)
}

// newTemp allocates a synthetic local slot in the current function.
func (c *Compiler) newTemp() int {
	c.temps++
	return c.fc.fn.AddLocal(fmt.Sprintf("%s%d", TempPrefix, c.temps))
}
