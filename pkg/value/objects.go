package value

import (
	"fmt"
	"io"

	"github.com/ollang/ollang/pkg/ast"
	"github.com/ollang/ollang/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Pointers
// ---------------------------------------------------------------------------

// Memory gives bounds-checked byte access to native memory.
type Memory interface {
	ReadByte(addr uintptr) (byte, error)
	WriteByte(addr uintptr, b byte) error
}

// Pointer is a raw native address. Indexing reads or writes the byte at
// Addr+index through Mem.
type Pointer struct {
	Addr uintptr
	Mem  Memory
}

func (p Pointer) Kind() Kind { return KindPointer }
func (p Pointer) AsNumber() float64 { return float64(p.Addr) }
func (p Pointer) Truthy() bool { return p.Addr != 0 }
func (p Pointer) String() string { return fmt.Sprintf("0x%X", uint64(p.Addr)) }
func (Pointer) sealed() {}

// Offset returns the pointer moved by delta bytes.
func (p Pointer) Offset(delta int64) Pointer {
	return Pointer{Addr: uintptr(int64(p.Addr) + delta), Mem: p.Mem}
}

func (p Pointer) byteAddr(index Value) (uintptr, error) {
	if p.Mem == nil {
		return 0, typeErrorf("pointer 0x%X has no backing memory", uint64(p.Addr))
	}
	return uintptr(int64(p.Addr) + int64(index.AsNumber())), nil
}

// GetIndex reads one byte. "offset" yields the address itself.
func (p Pointer) GetIndex(index Value) (Value, error) {
	if key, ok := index.(String); ok && key == "offset" {
		return Number(p.Addr), nil
	}
	addr, err := p.byteAddr(index)
	if err != nil {
		return nil, err
	}
	b, err := p.Mem.ReadByte(addr)
	if err != nil {
		return nil, err
	}
	return Number(b), nil
}

// SetIndex writes the low byte of v's numeric value.
func (p Pointer) SetIndex(index, v Value) error {
	addr, err := p.byteAddr(index)
	if err != nil {
		return err
	}
	return p.Mem.WriteByte(addr, byte(int64(v.AsNumber())))
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// Callable is implemented by every value that CALL accepts.
type Callable interface {
	Value
	Name() string
}

// Context is what host builtins receive from the executing VM.
type Context interface {
	// Call invokes any callable value and returns its result.
	Call(callee Value, args ...Value) (Value, error)
	Global(name string) (Value, bool)
	SetGlobal(name string, v Value)
	Stdout() io.Writer
}

// BuiltinFunc implements a host builtin.
type BuiltinFunc func(ctx Context, args []Value) (Value, error)

// Builtin is a host-provided function.
type Builtin struct {
	name string
	Fn   BuiltinFunc
}

// NewBuiltin wraps fn as a callable value.
func NewBuiltin(name string, fn BuiltinFunc) *Builtin {
	return &Builtin{name: name, Fn: fn}
}

// Compiled is a bytecode function together with the module that defines it.
// Nested modules loaded by import keep their own function tables.
type Compiled struct {
	Fn     *bytecode.Function
	Module *bytecode.Module
}

// Closure is an interpreted function that carries its AST body.
type Closure struct {
	Def *ast.FunctionDef
	// Env is the defining environment of whichever evaluator created it.
	Env any
}

func (b *Builtin) Name() string { return b.name }
func (b *Builtin) Kind() Kind { return KindFunction }
func (b *Builtin) AsNumber() float64 { return 0 }
func (b *Builtin) Truthy() bool { return true }
func (b *Builtin) String() string { return "<builtin " + b.name + ">" }
func (b *Builtin) GetIndex(Value) (Value, error) { return nil, typeErrorf("Functions cannot be indexed") }
func (b *Builtin) SetIndex(Value, Value) error { return typeErrorf("Functions cannot be indexed") }
func (*Builtin) sealed() {}
func (c *Compiled) Name() string { return c.Fn.Name }
func (c *Compiled) Kind() Kind { return KindFunction }
func (c *Compiled) AsNumber() float64 { return 0 }
func (c *Compiled) Truthy() bool { return true }
func (c *Compiled) String() string { return "<func " + c.Fn.Name + ">" }
func (c *Compiled) GetIndex(Value) (Value, error) { return nil, typeErrorf("Functions cannot be indexed") }
func (c *Compiled) SetIndex(Value, Value) error { return typeErrorf("Functions cannot be indexed") }
func (*Compiled) sealed() {}
func (c *Closure) Name() string { return c.Def.Name }
func (c *Closure) Kind() Kind { return KindFunction }
func (c *Closure) AsNumber() float64 { return 0 }
func (c *Closure) Truthy() bool { return true }
func (c *Closure) String() string { return "<function " + c.Def.Name + ">" }
func (c *Closure) GetIndex(Value) (Value, error) { return nil, typeErrorf("Functions cannot be indexed") }
func (c *Closure) SetIndex(Value, Value) error { return typeErrorf("Functions cannot be indexed") }
func (*Closure) sealed() {}

// IsStatic reports whether the function was declared static.
func IsStatic(fn Value) bool {
	switch f := fn.(type) {
	case *Compiled:
		return f.Fn.IsStatic
	case *Closure:
		return f.Def.IsStatic
	}
	return false
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

// Class holds a method table and an optional parent.
type Class struct {
	name    string
	Parent  *Class
	Methods map[string]Callable
}

// NewClass creates a class with no methods.
func NewClass(name string, parent *Class) *Class {
	return &Class{name: name, Parent: parent, Methods: make(map[string]Callable)}
}

// Lookup finds a method on the class or its ancestors.
func (c *Class) Lookup(name string) (Callable, bool) {
	for k := c; k != nil; k = k.Parent {
		if m, ok := k.Methods[name]; ok {
			return m, true
		}
	}
	return nil, false
}

// Initializer returns the "constructor" method, falling back to "init".
func (c *Class) Initializer() (Callable, bool) {
	if m, ok := c.Lookup("constructor"); ok {
		return m, true
	}
	return c.Lookup("init")
}

func (c *Class) Name() string { return c.name }
func (c *Class) Kind() Kind { return KindClass }
func (c *Class) AsNumber() float64 { return 0 }
func (c *Class) Truthy() bool { return true }
func (c *Class) String() string { return "<class " + c.name + ">" }
func (*Class) sealed() {}

// GetIndex returns the named method (unbound), or null.
func (c *Class) GetIndex(index Value) (Value, error) {
	if m, ok := c.Lookup(index.String()); ok {
		return m, nil
	}
	return NullValue, nil
}

func (c *Class) SetIndex(Value, Value) error {
	return typeErrorf("Class methods are immutable")
}

// Instance is an object of a class.
type Instance struct {
	Class  *Class
	Fields *Map
}

// NewInstance creates an instance with no fields.
func NewInstance(class *Class) *Instance {
	return &Instance{Class: class, Fields: NewMap()}
}

func (i *Instance) Kind() Kind { return KindInstance }
func (i *Instance) AsNumber() float64 { return 0 }
func (i *Instance) Truthy() bool { return true }
func (i *Instance) String() string { return "<instance of " + i.Class.name + ">" }
func (*Instance) sealed() {}

// GetIndex reads a field, then a method. Non-static methods come back bound
// to the instance.
func (i *Instance) GetIndex(index Value) (Value, error) {
	key := String(index.String())
	if v, ok := i.Fields.Get(key); ok {
		return v, nil
	}
	m, ok := i.Class.Lookup(string(key))
	if !ok {
		return NullValue, nil
	}
	if IsStatic(m) {
		return m, nil
	}
	return &BoundMethod{Receiver: i, Method: m}, nil
}

// SetIndex stores a field under the index's string form.
func (i *Instance) SetIndex(index, v Value) error {
	i.Fields.Set(String(index.String()), v)
	return nil
}

// BoundMethod pairs a receiver with a method; calling it passes the receiver
// as the first argument.
type BoundMethod struct {
	Receiver Value
	Method   Callable
}

func (b *BoundMethod) Name() string { return b.Method.Name() }
func (b *BoundMethod) Kind() Kind { return KindBoundMethod }
func (b *BoundMethod) AsNumber() float64 { return 0 }
func (b *BoundMethod) Truthy() bool { return true }
func (b *BoundMethod) String() string { return "<method bound to " + b.Receiver.String() + ">" }
func (*BoundMethod) sealed() {}
func (b *BoundMethod) GetIndex(Value) (Value, error) {
	return nil, typeErrorf("Methods cannot be indexed")
}
func (b *BoundMethod) SetIndex(Value, Value) error {
	return typeErrorf("Methods cannot be indexed")
}
