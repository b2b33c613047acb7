package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// FunctionVersion is the version byte written after the "FUNC" tag.
const FunctionVersion byte = 1

// Format version written into module headers. Readers reject any other major.
const (
	VersionMajor byte = 1
	VersionMinor byte = 0
	VersionPatch byte = 0
)

// ModuleMagic starts every serialized module.
var ModuleMagic = []byte("OLLANG")

// FunctionMagic starts every serialized function blob.
var FunctionMagic = []byte("FUNC")

// MainFunctionName is the name of the function holding top-level statements.
const MainFunctionName = "main"

// ModuleFlags contains module-level format flags.
type ModuleFlags byte

const (
	// FlagCompressed records that the module was written gzip-compressed.
	FlagCompressed ModuleFlags = 1 << 0

	// FlagDebugInfo indicates instructions carry source positions.
	FlagDebugInfo ModuleFlags = 1 << 1
)

// Instruction is a single decoded bytecode instruction.
type Instruction struct {
	Op       Opcode
	Operands []byte
	Line     int32
	Column   int32
}

// NewInstruction builds an instruction without position information.
func NewInstruction(op Opcode, operands ...byte) Instruction {
	return Instruction{Op: op, Operands: operands}
}

// OperandInt decodes the first four operand bytes as a little-endian int32.
// Returns 0 when the instruction has fewer than four operand bytes.
func (in Instruction) OperandInt() int {
	if len(in.Operands) < 4 {
		return 0
	}
	return int(int32(binary.LittleEndian.Uint32(in.Operands)))
}

// OperandByte returns the first operand byte, or 0 when there is none.
func (in Instruction) OperandByte() int {
	if len(in.Operands) == 0 {
		return 0
	}
	return int(in.Operands[0])
}

// Size returns the encoded size of the instruction in a function blob.
func (in Instruction) Size() int {
	return 1 + 1 + len(in.Operands) + 8
}

// Int32Operand encodes v as a 4-byte little-endian operand.
func Int32Operand(v int) []byte {
	return binary.LittleEndian.AppendUint32(make([]byte, 0, 4), uint32(int32(v)))
}

// Function is a compiled function: instructions plus the tables they index.
type Function struct {
	Name     string
	Arity    int
	IsVararg bool
	IsStatic bool

	Instructions []Instruction

	// Constant pool. Entries are nil, float64, int64, string, bool, []byte,
	// []any or map[string]any (recursively of the same types).
	Constants []any

	Locals   []string // Slot index -> declared name
	Upvalues []string // Reserved

	NestedFunctions []*Function

	// Derived by CalculateStackUsage.
	MaxStackSize int
	MaxLocals    int
}

// NewFunction creates an empty function.
func NewFunction(name string, arity int, vararg bool) *Function {
	return &Function{
		Name:         name,
		Arity:        arity,
		IsVararg:     vararg,
		Instructions: make([]Instruction, 0, 16),
		Constants:    make([]any, 0, 8),
	}
}

// AddConstant appends a constant to the pool and returns its index.
// Deduplication is the assembler's job; the pool itself is append-only.
func (f *Function) AddConstant(value any) int {
	f.Constants = append(f.Constants, value)
	return len(f.Constants) - 1
}

// AddLocal registers a local slot name and returns its index.
func (f *Function) AddLocal(name string) int {
	f.Locals = append(f.Locals, name)
	return len(f.Locals) - 1
}

// LocalIndex returns the slot of the most recently declared local with the
// given name, or -1.
func (f *Function) LocalIndex(name string) int {
	for i := len(f.Locals) - 1; i >= 0; i-- {
		if f.Locals[i] == name {
			return i
		}
	}
	return -1
}

// AddInstruction appends an instruction and returns its index.
func (f *Function) AddInstruction(in Instruction) int {
	f.Instructions = append(f.Instructions, in)
	return len(f.Instructions) - 1
}

// Module is a compilation unit: a main function, named functions and metadata.
type Module struct {
	Name     string
	FilePath string
	Flags    ModuleFlags

	Main      *Function
	Functions []*Function

	Globals      map[string]any
	Exports      []string
	Imports      []string
	Dependencies map[string]string

	CustomData   []byte
	VirtualFiles map[string][]byte
}

// NewModule creates a module with an empty main function.
func NewModule(name string) *Module {
	return &Module{
		Name:         name,
		Main:         NewFunction(MainFunctionName, 0, false),
		Globals:      make(map[string]any),
		Dependencies: make(map[string]string),
		VirtualFiles: make(map[string][]byte),
	}
}

// AddFunction registers a new named function.
func (m *Module) AddFunction(name string, arity int, vararg bool) *Function {
	fn := NewFunction(name, arity, vararg)
	m.Functions = append(m.Functions, fn)
	return fn
}

// Function looks up a named function. The main function is found by its name.
func (m *Module) Function(name string) *Function {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn
		}
	}
	if m.Main != nil && m.Main.Name == name {
		return m.Main
	}
	return nil
}

// AllFunctions returns main followed by the named functions.
func (m *Module) AllFunctions() []*Function {
	fns := make([]*Function, 0, len(m.Functions)+1)
	if m.Main != nil {
		fns = append(fns, m.Main)
	}
	return append(fns, m.Functions...)
}

// ConstantsEqual reports whether two constant-pool values are equal by value.
func ConstantsEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case float64:
		bv, ok := b.(float64)
		return ok && math.Float64bits(av) == math.Float64bits(bv)
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ConstantsEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !ConstantsEqual(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// FormatConstant renders a constant for listings.
func FormatConstant(c any) string {
	switch v := c.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", v)
	case float64:
		return formatFloat(v)
	case []byte:
		return fmt.Sprintf("bytes[%d]", len(v))
	default:
		return fmt.Sprint(v)
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
