package vm

import (
	"math"

	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
)

// allocate reserves size bytes of collected native memory.
func (vm *VM) allocate(size value.Value) (value.Value, error) {
	addr, err := vm.gc.Allocate(int(toInt(size)))
	if err != nil {
		return nil, err
	}
	return value.Pointer{Addr: addr, Mem: vm.gc}, nil
}

// free releases a block early. Freeing null is a no-op.
func (vm *VM) free(v value.Value) error {
	switch p := v.(type) {
	case value.Null:
		return nil
	case value.Pointer:
		return vm.gc.Free(p.Addr)
	}
	return runtimeErrorf("FREE expects a pointer, got %s", value.TypeName(v))
}

func asPointer(v value.Value, op bytecode.Opcode) (value.Pointer, error) {
	p, ok := v.(value.Pointer)
	if !ok {
		return value.Pointer{}, runtimeErrorf("%s expects a pointer, got %s", op, value.TypeName(v))
	}
	if p.Mem == nil {
		return value.Pointer{}, runtimeErrorf("%s: pointer %s has no backing memory", op, p)
	}
	return p, nil
}

func readBytes(p value.Pointer, n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := range buf {
		b, err := p.Mem.ReadByte(p.Addr + uintptr(i))
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

func writeBytes(p value.Pointer, buf []byte) error {
	for i, b := range buf {
		if err := p.Mem.WriteByte(p.Addr+uintptr(i), b); err != nil {
			return err
		}
	}
	return nil
}

var widths = map[bytecode.Opcode]int{
	bytecode.OpRead16: 2, bytecode.OpRead32: 4, bytecode.OpRead64: 8,
	bytecode.OpWrite16: 2, bytecode.OpWrite32: 4, bytecode.OpWrite64: 8,
}

// memoryOp implements the multi-byte native memory instructions. Values are
// little-endian.
func (vm *VM) memoryOp(op bytecode.Opcode) error {
	switch op {
	case bytecode.OpRealloc:
		return vm.realloc()
	case bytecode.OpMemcpy, bytecode.OpMemmove, bytecode.OpMemset, bytecode.OpMemcmp:
		return vm.blockOp(op)
	case bytecode.OpRead16, bytecode.OpRead32, bytecode.OpRead64:
		p, err := asPointer(vm.pop(), op)
		if err != nil {
			return err
		}
		buf, err := readBytes(p, widths[op])
		if err != nil {
			return err
		}
		var u uint64
		for i := len(buf) - 1; i >= 0; i-- {
			u = u<<8 | uint64(buf[i])
		}
		switch op {
		case bytecode.OpRead16:
			vm.push(value.Number(int16(u)))
		case bytecode.OpRead32:
			vm.push(value.Number(int32(u)))
		default:
			vm.push(value.Number(float64(int64(u))))
		}
		return nil
	case bytecode.OpWrite16, bytecode.OpWrite32, bytecode.OpWrite64:
		u := uint64(toInt(vm.pop()))
		p, err := asPointer(vm.pop(), op)
		if err != nil {
			return err
		}
		buf := make([]byte, widths[op])
		for i := range buf {
			buf[i] = byte(u >> (8 * i))
		}
		return writeBytes(p, buf)
	}
	return runtimeErrorf("Unsupported opcode %s", op)
}

// realloc moves a block to a new allocation of the requested size. The old
// block stays on the operand stack until the copy is done so a collection
// triggered by the allocation cannot reclaim it.
func (vm *VM) realloc() error {
	size := toInt(vm.pop())
	old, err := asPointer(vm.peek(0), bytecode.OpRealloc)
	if err != nil {
		return err
	}
	fresh, err := vm.allocate(value.Number(size))
	if err != nil {
		return err
	}
	p := fresh.(value.Pointer)
	for i := int64(0); i < size; i++ {
		b, err := old.Mem.ReadByte(old.Addr + uintptr(i))
		if err != nil {
			break
		}
		if err := p.Mem.WriteByte(p.Addr+uintptr(i), b); err != nil {
			return err
		}
	}
	vm.pop()
	if err := vm.free(old); err != nil {
		return err
	}
	vm.push(p)
	return nil
}

func (vm *VM) blockOp(op bytecode.Opcode) error {
	n := toInt(vm.pop())
	if n < 0 || n > math.MaxInt32 {
		return runtimeErrorf("%s: invalid length %d", op, n)
	}
	src := vm.pop()
	dst, err := asPointer(vm.pop(), op)
	if err != nil {
		return err
	}
	if op == bytecode.OpMemset {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(toInt(src))
		}
		return writeBytes(dst, buf)
	}

	from, err := asPointer(src, op)
	if err != nil {
		return err
	}
	buf, err := readBytes(from, int(n))
	if err != nil {
		return err
	}
	if op != bytecode.OpMemcmp {
		return writeBytes(dst, buf)
	}
	mine, err := readBytes(dst, int(n))
	if err != nil {
		return err
	}
	result := 0
	for i := range mine {
		if mine[i] != buf[i] {
			result = 1
			if mine[i] < buf[i] {
				result = -1
			}
			break
		}
	}
	vm.push(value.Number(result))
	return nil
}
