package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/klauspost/compress/gzip"
)

// ErrCorrupt is wrapped by every error returned while decoding a module or
// function blob.
var ErrCorrupt = errors.New("corrupt bytecode")

// Constant tags.
const (
	constNull   byte = 0
	constDouble byte = 1
	constInt    byte = 2
	constString byte = 3
	constBool   byte = 4
	constBytes  byte = 5
	constArray  byte = 6
	constMap    byte = 7
)

// maxConstantDepth bounds nested array/map constants while decoding.
const maxConstantDepth = 64

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendInt32(buf []byte, v int) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(int32(v)))
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendBlob(buf []byte, blob []byte) []byte {
	buf = appendInt32(buf, len(blob))
	return append(buf, blob...)
}

func appendConstant(buf []byte, c any) ([]byte, error) {
	switch v := c.(type) {
	case nil:
		return append(buf, constNull), nil
	case float64:
		buf = append(buf, constDouble)
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v)), nil
	case int64:
		buf = append(buf, constInt)
		return binary.LittleEndian.AppendUint64(buf, uint64(v)), nil
	case int:
		buf = append(buf, constInt)
		return binary.LittleEndian.AppendUint64(buf, uint64(int64(v))), nil
	case string:
		buf = append(buf, constString)
		return appendString(buf, v), nil
	case bool:
		buf = append(buf, constBool)
		return appendBool(buf, v), nil
	case []byte:
		buf = append(buf, constBytes)
		return appendBlob(buf, v), nil
	case []any:
		buf = append(buf, constArray)
		buf = appendInt32(buf, len(v))
		var err error
		for _, item := range v {
			if buf, err = appendConstant(buf, item); err != nil {
				return nil, err
			}
		}
		return buf, nil
	case map[string]any:
		buf = append(buf, constMap)
		buf = appendInt32(buf, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var err error
		for _, k := range keys {
			buf = appendString(buf, k)
			if buf, err = appendConstant(buf, v[k]); err != nil {
				return nil, err
			}
		}
		return buf, nil
	}
	return nil, fmt.Errorf("unsupported constant type %T", c)
}

// Serialize encodes the function as a "FUNC" blob.
// Format:
//
//	["FUNC"] [version:1]
//	[name:str] [arity:i32] [vararg:1] [static:1] [max_stack:i32] [max_locals:i32]
//	[const_count:i32] [constants...]
//	[local_count:i32] [locals:str...]
//	[upvalue_count:i32] [upvalues:str...]
//	[instr_count:i32] ([op:1] [operand_len:1] [operands...] [line:i32] [col:i32])...
//	[nested_count:i32] ([len:i32] [blob...])...
func (f *Function) Serialize() ([]byte, error) {
	buf := make([]byte, 0, 64+len(f.Instructions)*12+len(f.Constants)*16)
	buf = append(buf, FunctionMagic...)
	buf = append(buf, FunctionVersion)

	buf = appendString(buf, f.Name)
	buf = appendInt32(buf, f.Arity)
	buf = appendBool(buf, f.IsVararg)
	buf = appendBool(buf, f.IsStatic)
	buf = appendInt32(buf, f.MaxStackSize)
	buf = appendInt32(buf, f.MaxLocals)

	buf = appendInt32(buf, len(f.Constants))
	var err error
	for i, c := range f.Constants {
		if buf, err = appendConstant(buf, c); err != nil {
			return nil, fmt.Errorf("function %s constant %d: %w", f.Name, i, err)
		}
	}

	buf = appendInt32(buf, len(f.Locals))
	for _, name := range f.Locals {
		buf = appendString(buf, name)
	}
	buf = appendInt32(buf, len(f.Upvalues))
	for _, name := range f.Upvalues {
		buf = appendString(buf, name)
	}

	buf = appendInt32(buf, len(f.Instructions))
	for i, in := range f.Instructions {
		if len(in.Operands) > math.MaxUint8 {
			return nil, fmt.Errorf("function %s instruction %d: %d operand bytes", f.Name, i, len(in.Operands))
		}
		buf = append(buf, byte(in.Op), byte(len(in.Operands)))
		buf = append(buf, in.Operands...)
		buf = appendInt32(buf, int(in.Line))
		buf = appendInt32(buf, int(in.Column))
	}

	buf = appendInt32(buf, len(f.NestedFunctions))
	for _, nested := range f.NestedFunctions {
		blob, err := nested.Serialize()
		if err != nil {
			return nil, err
		}
		buf = appendBlob(buf, blob)
	}
	return buf, nil
}

// Serialize encodes the module.
// Format:
//
//	["OLLANG"] [major:1] [minor:1] [patch:1] [flags:1]
//	[name:str] [path:str]
//	[global_count:i32] ([name:str] [constant])...
//	[export_count:i32] [exports:str...]
//	[import_count:i32] [imports:str...]
//	[dep_count:i32] ([name:str] [version:str])...
//	[main_len:i32] [main blob]
//	[func_count:i32] ([len:i32] [blob])...
//	[custom_len:i32] [custom data]
//	[vfile_count:i32] ([name:str] [len:i32] [data])...
func (m *Module) Serialize() ([]byte, error) {
	return m.serialize(m.Flags &^ FlagCompressed)
}

// SerializeCompressed encodes the module and wraps it in a gzip stream.
func (m *Module) SerializeCompressed() ([]byte, error) {
	raw, err := m.serialize(m.Flags | FlagCompressed)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	zw := gzip.NewWriter(&out)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing module: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing module: %w", err)
	}
	return out.Bytes(), nil
}

func (m *Module) serialize(flags ModuleFlags) ([]byte, error) {
	if m.Main == nil {
		return nil, fmt.Errorf("module %s has no main function", m.Name)
	}

	buf := make([]byte, 0, 1024)
	buf = append(buf, ModuleMagic...)
	buf = append(buf, VersionMajor, VersionMinor, VersionPatch, byte(flags))

	buf = appendString(buf, m.Name)
	buf = appendString(buf, m.FilePath)

	var err error
	buf = appendInt32(buf, len(m.Globals))
	for _, name := range sortedKeys(m.Globals) {
		buf = appendString(buf, name)
		if buf, err = appendConstant(buf, m.Globals[name]); err != nil {
			return nil, fmt.Errorf("global %s: %w", name, err)
		}
	}

	buf = appendInt32(buf, len(m.Exports))
	for _, name := range m.Exports {
		buf = appendString(buf, name)
	}
	buf = appendInt32(buf, len(m.Imports))
	for _, name := range m.Imports {
		buf = appendString(buf, name)
	}
	buf = appendInt32(buf, len(m.Dependencies))
	for _, name := range sortedKeys(m.Dependencies) {
		buf = appendString(buf, name)
		buf = appendString(buf, m.Dependencies[name])
	}

	mainBlob, err := m.Main.Serialize()
	if err != nil {
		return nil, err
	}
	buf = appendBlob(buf, mainBlob)

	buf = appendInt32(buf, len(m.Functions))
	for _, fn := range m.Functions {
		blob, err := fn.Serialize()
		if err != nil {
			return nil, err
		}
		buf = appendBlob(buf, blob)
	}

	buf = appendBlob(buf, m.CustomData)

	buf = appendInt32(buf, len(m.VirtualFiles))
	for _, name := range sortedKeys(m.VirtualFiles) {
		buf = appendString(buf, name)
		buf = appendBlob(buf, m.VirtualFiles[name])
	}
	return buf, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// decoder walks a byte slice with bounds-checked reads.
type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) truncated(what string) error {
	return fmt.Errorf("unexpected end of bytecode reading %s at pos %d: %w", what, d.pos, ErrCorrupt)
}

func (d *decoder) remaining() int {
	return len(d.data) - d.pos
}

func (d *decoder) byte(what string) (byte, error) {
	if d.pos >= len(d.data) {
		return 0, d.truncated(what)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) bool(what string) (bool, error) {
	b, err := d.byte(what)
	if err != nil {
		return false, err
	}
	if b > 1 {
		return false, fmt.Errorf("invalid boolean %d reading %s: %w", b, what, ErrCorrupt)
	}
	return b == 1, nil
}

func (d *decoder) int32(what string) (int, error) {
	if d.pos+4 > len(d.data) {
		return 0, d.truncated(what)
	}
	v := int32(binary.LittleEndian.Uint32(d.data[d.pos:]))
	d.pos += 4
	return int(v), nil
}

func (d *decoder) uint64(what string) (uint64, error) {
	if d.pos+8 > len(d.data) {
		return 0, d.truncated(what)
	}
	v := binary.LittleEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

// count reads a non-negative element count; each element needs at least
// minSize bytes, which rejects absurd counts before allocating.
func (d *decoder) count(what string, minSize int) (int, error) {
	n, err := d.int32(what)
	if err != nil {
		return 0, err
	}
	if n < 0 || n*minSize > d.remaining() {
		return 0, fmt.Errorf("invalid %s %d at pos %d: %w", what, n, d.pos, ErrCorrupt)
	}
	return n, nil
}

func (d *decoder) bytes(n int, what string) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.data) {
		return nil, d.truncated(what)
	}
	out := make([]byte, n)
	copy(out, d.data[d.pos:d.pos+n])
	d.pos += n
	return out, nil
}

func (d *decoder) blob(what string) ([]byte, error) {
	n, err := d.int32(what + " length")
	if err != nil {
		return nil, err
	}
	return d.bytes(n, what)
}

func (d *decoder) string(what string) (string, error) {
	if d.pos >= len(d.data) {
		return "", d.truncated(what)
	}
	n, size := binary.Uvarint(d.data[d.pos:])
	if size <= 0 {
		return "", fmt.Errorf("invalid string length reading %s at pos %d: %w", what, d.pos, ErrCorrupt)
	}
	d.pos += size
	if n > uint64(d.remaining()) {
		return "", d.truncated(what)
	}
	s := string(d.data[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) constant(depth int) (any, error) {
	if depth > maxConstantDepth {
		return nil, fmt.Errorf("constant nesting exceeds %d: %w", maxConstantDepth, ErrCorrupt)
	}
	tag, err := d.byte("constant tag")
	if err != nil {
		return nil, err
	}
	switch tag {
	case constNull:
		return nil, nil
	case constDouble:
		bits, err := d.uint64("double constant")
		return math.Float64frombits(bits), err
	case constInt:
		v, err := d.uint64("int constant")
		return int64(v), err
	case constString:
		return d.string("string constant")
	case constBool:
		return d.bool("bool constant")
	case constBytes:
		return d.blob("bytes constant")
	case constArray:
		n, err := d.count("array constant length", 1)
		if err != nil {
			return nil, err
		}
		arr := make([]any, n)
		for i := range arr {
			if arr[i], err = d.constant(depth + 1); err != nil {
				return nil, err
			}
		}
		return arr, nil
	case constMap:
		n, err := d.count("map constant length", 2)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, n)
		for i := 0; i < n; i++ {
			key, err := d.string("map constant key")
			if err != nil {
				return nil, err
			}
			if out[key], err = d.constant(depth + 1); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown constant tag %d at pos %d: %w", tag, d.pos-1, ErrCorrupt)
}

func (d *decoder) strings(what string) ([]string, error) {
	n, err := d.count(what+" count", 1)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = d.string(what); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeserializeFunction decodes a "FUNC" blob. The blob must be consumed exactly.
func DeserializeFunction(data []byte) (*Function, error) {
	d := &decoder{data: data}
	magic, err := d.bytes(len(FunctionMagic), "function magic")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, FunctionMagic) {
		return nil, fmt.Errorf("invalid function magic: expected %q, got %q: %w", FunctionMagic, magic, ErrCorrupt)
	}
	version, err := d.byte("function version")
	if err != nil {
		return nil, err
	}
	if version != FunctionVersion {
		return nil, fmt.Errorf("unsupported function version %d: %w", version, ErrCorrupt)
	}

	f := &Function{}
	if f.Name, err = d.string("function name"); err != nil {
		return nil, err
	}
	if f.Arity, err = d.int32("arity"); err != nil {
		return nil, err
	}
	if f.Arity < 0 {
		return nil, fmt.Errorf("negative arity %d in %s: %w", f.Arity, f.Name, ErrCorrupt)
	}
	if f.IsVararg, err = d.bool("vararg flag"); err != nil {
		return nil, err
	}
	if f.IsStatic, err = d.bool("static flag"); err != nil {
		return nil, err
	}
	if f.MaxStackSize, err = d.int32("max stack size"); err != nil {
		return nil, err
	}
	if f.MaxLocals, err = d.int32("max locals"); err != nil {
		return nil, err
	}
	if f.MaxStackSize < 0 || f.MaxLocals < 0 {
		return nil, fmt.Errorf("negative frame metrics in %s: %w", f.Name, ErrCorrupt)
	}

	constCount, err := d.count("constant count", 1)
	if err != nil {
		return nil, err
	}
	f.Constants = make([]any, constCount)
	for i := range f.Constants {
		if f.Constants[i], err = d.constant(0); err != nil {
			return nil, err
		}
	}

	if f.Locals, err = d.strings("local name"); err != nil {
		return nil, err
	}
	if f.Upvalues, err = d.strings("upvalue name"); err != nil {
		return nil, err
	}

	instrCount, err := d.count("instruction count", 10)
	if err != nil {
		return nil, err
	}
	f.Instructions = make([]Instruction, instrCount)
	for i := range f.Instructions {
		op, err := d.byte("opcode")
		if err != nil {
			return nil, err
		}
		n, err := d.byte("operand length")
		if err != nil {
			return nil, err
		}
		var operands []byte
		if n > 0 {
			if operands, err = d.bytes(int(n), "operands"); err != nil {
				return nil, err
			}
		}
		line, err := d.int32("line number")
		if err != nil {
			return nil, err
		}
		col, err := d.int32("column number")
		if err != nil {
			return nil, err
		}
		f.Instructions[i] = Instruction{Op: Opcode(op), Operands: operands, Line: int32(line), Column: int32(col)}
	}

	nestedCount, err := d.count("nested function count", 4)
	if err != nil {
		return nil, err
	}
	for i := 0; i < nestedCount; i++ {
		blob, err := d.blob("nested function")
		if err != nil {
			return nil, err
		}
		nested, err := DeserializeFunction(blob)
		if err != nil {
			return nil, fmt.Errorf("nested function %d of %s: %w", i, f.Name, err)
		}
		f.NestedFunctions = append(f.NestedFunctions, nested)
	}

	if d.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after function %s: %w", d.remaining(), f.Name, ErrCorrupt)
	}
	return f, nil
}

// IsCompressed reports whether data starts with a gzip header.
func IsCompressed(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1F && data[1] == 0x8B
}

// IsModule reports whether data looks like a serialized module, compressed or not.
func IsModule(data []byte) bool {
	return IsCompressed(data) || bytes.HasPrefix(data, ModuleMagic)
}

// maxModuleSize bounds the decompressed size of a gzip-wrapped module.
var maxModuleSize = 256 << 20

// DeserializeModule decodes a module, transparently decompressing gzip input.
func DeserializeModule(data []byte) (*Module, error) {
	if IsCompressed(data) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening compressed module: %v: %w", err, ErrCorrupt)
		}
		raw, err := io.ReadAll(io.LimitReader(zr, int64(maxModuleSize)+1))
		if err != nil {
			return nil, fmt.Errorf("decompressing module: %v: %w", err, ErrCorrupt)
		}
		if len(raw) > maxModuleSize {
			return nil, fmt.Errorf("decompressed module exceeds %d bytes: %w", maxModuleSize, ErrCorrupt)
		}
		data = raw
	}

	d := &decoder{data: data}
	magic, err := d.bytes(len(ModuleMagic), "module magic")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, ModuleMagic) {
		return nil, fmt.Errorf("invalid module magic: expected %q, got %q: %w", ModuleMagic, magic, ErrCorrupt)
	}
	major, err := d.byte("major version")
	if err != nil {
		return nil, err
	}
	if major != VersionMajor {
		return nil, fmt.Errorf("unsupported module version %d (want %d): %w", major, VersionMajor, ErrCorrupt)
	}
	if _, err := d.bytes(2, "minor/patch version"); err != nil {
		return nil, err
	}
	flags, err := d.byte("flags")
	if err != nil {
		return nil, err
	}

	m := &Module{
		Flags:        ModuleFlags(flags),
		Globals:      make(map[string]any),
		Dependencies: make(map[string]string),
		VirtualFiles: make(map[string][]byte),
	}
	if m.Name, err = d.string("module name"); err != nil {
		return nil, err
	}
	if m.FilePath, err = d.string("module path"); err != nil {
		return nil, err
	}

	globalCount, err := d.count("global count", 2)
	if err != nil {
		return nil, err
	}
	for i := 0; i < globalCount; i++ {
		name, err := d.string("global name")
		if err != nil {
			return nil, err
		}
		if m.Globals[name], err = d.constant(0); err != nil {
			return nil, err
		}
	}

	if m.Exports, err = d.strings("export"); err != nil {
		return nil, err
	}
	if m.Imports, err = d.strings("import"); err != nil {
		return nil, err
	}

	depCount, err := d.count("dependency count", 2)
	if err != nil {
		return nil, err
	}
	for i := 0; i < depCount; i++ {
		name, err := d.string("dependency name")
		if err != nil {
			return nil, err
		}
		if m.Dependencies[name], err = d.string("dependency version"); err != nil {
			return nil, err
		}
	}

	mainBlob, err := d.blob("main function")
	if err != nil {
		return nil, err
	}
	if m.Main, err = DeserializeFunction(mainBlob); err != nil {
		return nil, fmt.Errorf("main function: %w", err)
	}
	if m.Main.Arity != 0 {
		return nil, fmt.Errorf("main function has arity %d: %w", m.Main.Arity, ErrCorrupt)
	}

	funcCount, err := d.count("function count", 4)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, funcCount)
	for i := 0; i < funcCount; i++ {
		blob, err := d.blob("function")
		if err != nil {
			return nil, err
		}
		fn, err := DeserializeFunction(blob)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		if seen[fn.Name] {
			return nil, fmt.Errorf("duplicate function %q: %w", fn.Name, ErrCorrupt)
		}
		seen[fn.Name] = true
		m.Functions = append(m.Functions, fn)
	}

	if m.CustomData, err = d.blob("custom data"); err != nil {
		return nil, err
	}
	if len(m.CustomData) == 0 {
		m.CustomData = nil
	}

	fileCount, err := d.count("virtual file count", 5)
	if err != nil {
		return nil, err
	}
	for i := 0; i < fileCount; i++ {
		name, err := d.string("virtual file name")
		if err != nil {
			return nil, err
		}
		if m.VirtualFiles[name], err = d.blob("virtual file"); err != nil {
			return nil, err
		}
	}

	if d.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after module: %w", d.remaining(), ErrCorrupt)
	}
	return m, nil
}
