package gc

import (
	"errors"
	"testing"

	"github.com/ollang/ollang/pkg/value"
)

// rootList is a mutable root set for tests.
type rootList struct {
	values []value.Value
}

func (r *rootList) VisitRoots(visit func(value.Value)) {
	for _, v := range r.values {
		visit(v)
	}
}

func newCollector(t *testing.T, roots RootSet, cfg Config) *Collector {
	t.Helper()
	c := New(roots, cfg)
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return c
}

func mustAllocate(t *testing.T, c *Collector, size int) uintptr {
	t.Helper()
	addr, err := c.Allocate(size)
	if err != nil {
		t.Fatalf("Allocate(%d) error = %v", size, err)
	}
	return addr
}

func TestAllocateInvalidSize(t *testing.T) {
	c := newCollector(t, nil, DefaultConfig())

	tests := []struct {
		name string
		size int
	}{
		{"zero", 0},
		{"negative", -8},
		{"over limit", 256<<20 + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Allocate(tt.size)
			if !errors.Is(err, ErrInvalidSize) {
				t.Errorf("Allocate(%d) error = %v, want ErrInvalidSize", tt.size, err)
			}
			if !errors.Is(err, ErrAllocation) {
				t.Errorf("Allocate(%d) error does not wrap ErrAllocation", tt.size)
			}
		})
	}
	if got := c.Stats().AllocationCount; got != 0 {
		t.Errorf("AllocationCount = %d, want 0", got)
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	c := newCollector(t, nil, DefaultConfig())
	addr := mustAllocate(t, c, 16)

	for i := 0; i < 2; i++ {
		if err := c.Free(addr); err != nil {
			t.Fatalf("Free() #%d error = %v", i+1, err)
		}
	}
	if err := c.Free(0xdead); err != nil {
		t.Errorf("Free(untracked) error = %v, want nil", err)
	}
	if got := c.Stats().AllocationCount; got != 0 {
		t.Errorf("AllocationCount = %d, want 0", got)
	}
}

func TestByteAccessBoundsChecked(t *testing.T) {
	c := newCollector(t, nil, DefaultConfig())
	addr := mustAllocate(t, c, 4)

	if err := c.WriteByte(addr+3, 0xAB); err != nil {
		t.Fatalf("WriteByte() error = %v", err)
	}
	b, err := c.ReadByte(addr + 3)
	if err != nil {
		t.Fatalf("ReadByte() error = %v", err)
	}
	if b != 0xAB {
		t.Errorf("ReadByte() = 0x%X, want 0xAB", b)
	}
	if b, _ := c.ReadByte(addr); b != 0 {
		t.Errorf("fresh block byte = 0x%X, want 0", b)
	}

	if _, err := c.ReadByte(addr + 4); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("ReadByte(past end) error = %v, want ErrOutOfBounds", err)
	}
	if err := c.WriteByte(addr-1, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("WriteByte(before start) error = %v, want ErrOutOfBounds", err)
	}
}

func TestFullCollectionKeepsReachable(t *testing.T) {
	roots := &rootList{}
	c := newCollector(t, roots, DefaultConfig())

	kept := mustAllocate(t, c, 16)
	for i := 0; i < 10; i++ {
		mustAllocate(t, c, 8)
	}
	roots.values = []value.Value{value.Pointer{Addr: kept, Mem: c}}

	c.CollectFull()

	stats := c.Stats()
	if stats.AllocationCount != 1 {
		t.Errorf("AllocationCount = %d, want 1", stats.AllocationCount)
	}
	if stats.TotalAllocated != 16 {
		t.Errorf("TotalAllocated = %d, want 16", stats.TotalAllocated)
	}
	if stats.MajorCollections != 1 {
		t.Errorf("MajorCollections = %d, want 1", stats.MajorCollections)
	}
}

func TestInteriorPointerKeepsBlock(t *testing.T) {
	roots := &rootList{}
	c := newCollector(t, roots, DefaultConfig())

	addr := mustAllocate(t, c, 32)
	roots.values = []value.Value{value.Pointer{Addr: addr + 31}}

	c.CollectFull()
	if got := c.Stats().AllocationCount; got != 1 {
		t.Errorf("AllocationCount = %d, want 1 (interior pointer)", got)
	}

	roots.values = []value.Value{value.Pointer{Addr: addr + 32}}
	c.CollectFull()
	if got := c.Stats().AllocationCount; got != 0 {
		t.Errorf("AllocationCount = %d, want 0 (one past the end)", got)
	}
}

func TestReachabilityThroughContainers(t *testing.T) {
	roots := &rootList{}
	c := newCollector(t, roots, DefaultConfig())

	inArray := mustAllocate(t, c, 8)
	inMapKey := mustAllocate(t, c, 8)
	inField := mustAllocate(t, c, 8)
	viaMethod := mustAllocate(t, c, 8)
	mustAllocate(t, c, 8) // unreachable

	arr := value.NewArray(value.Pointer{Addr: inArray})
	arr.Append(arr) // cycle

	dict := value.NewMap()
	dict.Set(value.Pointer{Addr: inMapKey}, value.NullValue)

	class := value.NewClass("Box", nil)
	inst := value.NewInstance(class)
	inst.Fields.Set(value.String("ptr"), value.Pointer{Addr: inField})
	inst.Fields.Set(value.String("self"), inst)

	other := value.NewInstance(class)
	other.Fields.Set(value.String("ptr"), value.Pointer{Addr: viaMethod})
	bound := &value.BoundMethod{Receiver: other, Method: value.NewBuiltin("m", nil)}

	roots.values = []value.Value{arr, dict, inst, bound}
	c.CollectFull()

	for _, addr := range []uintptr{inArray, inMapKey, inField, viaMethod} {
		if _, ok := c.Generation(addr); !ok {
			t.Errorf("block 0x%X was freed while reachable", uint64(addr))
		}
	}
	if got := c.Stats().AllocationCount; got != 4 {
		t.Errorf("AllocationCount = %d, want 4", got)
	}
}

func TestPromotionAfterThreeMinorCollections(t *testing.T) {
	roots := &rootList{}
	c := newCollector(t, roots, DefaultConfig())

	addr := mustAllocate(t, c, 8)
	roots.values = []value.Value{value.Pointer{Addr: addr}}

	for i := 1; i <= 3; i++ {
		c.CollectYoung()
		gen, ok := c.Generation(addr)
		if !ok {
			t.Fatalf("block freed after collection %d", i)
		}
		want := Young
		if i == 3 {
			want = Old
		}
		if gen != want {
			t.Errorf("after %d minor collections generation = %v, want %v", i, gen, want)
		}
	}
}

func TestFullCollectionDoesNotAge(t *testing.T) {
	roots := &rootList{}
	c := newCollector(t, roots, DefaultConfig())

	addr := mustAllocate(t, c, 16)
	roots.values = []value.Value{value.Pointer{Addr: addr}}

	for i := 0; i < 3; i++ {
		c.CollectFull()
	}
	if gen, ok := c.Generation(addr); !ok || gen != Young {
		t.Fatalf("after 3 full collections generation = %v (live %v), want %v", gen, ok, Young)
	}

	c.CollectYoung()
	c.CollectYoung()
	c.CollectFull()
	if gen, _ := c.Generation(addr); gen != Young {
		t.Errorf("after 2 minor and 1 full collections generation = %v, want %v", gen, Young)
	}
	c.CollectYoung()
	if gen, _ := c.Generation(addr); gen != Old {
		t.Errorf("after 3 minor collections generation = %v, want %v", gen, Old)
	}
}

func TestMinorCollectionSkipsOldBlocks(t *testing.T) {
	roots := &rootList{}
	c := newCollector(t, roots, DefaultConfig())

	addr := mustAllocate(t, c, 8)
	roots.values = []value.Value{value.Pointer{Addr: addr}}
	for i := 0; i < 3; i++ {
		c.CollectYoung()
	}

	roots.values = nil
	c.CollectYoung()
	if _, ok := c.Generation(addr); !ok {
		t.Fatal("minor collection freed an old block")
	}
	c.CollectFull()
	if _, ok := c.Generation(addr); ok {
		t.Error("full collection kept an unreachable old block")
	}
}

func TestAllocationTriggersMinorCollection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.YoungThreshold = 4
	cfg.MinThreshold = 2
	c := newCollector(t, &rootList{}, cfg)

	var last uintptr
	for i := 0; i < 4; i++ {
		last = mustAllocate(t, c, 8)
	}

	stats := c.Stats()
	if stats.MinorCollections != 1 {
		t.Fatalf("MinorCollections = %d, want 1", stats.MinorCollections)
	}
	// The three earlier blocks were unreachable; the triggering one survives.
	if stats.AllocationCount != 1 {
		t.Errorf("AllocationCount = %d, want 1", stats.AllocationCount)
	}
	if _, ok := c.Generation(last); !ok {
		t.Error("the block whose allocation triggered the collection was freed")
	}
}

func TestAdaptiveThreshold(t *testing.T) {
	t.Run("grows when everything survives", func(t *testing.T) {
		roots := &rootList{}
		cfg := DefaultConfig()
		cfg.YoungThreshold = 32
		c := newCollector(t, roots, cfg)

		for i := 0; i < 32; i++ {
			addr := mustAllocate(t, c, 8)
			roots.values = append(roots.values, value.Pointer{Addr: addr})
		}
		if got := c.Stats().YoungThreshold; got != 64 {
			t.Errorf("YoungThreshold = %d, want 64", got)
		}
	})

	t.Run("shrinks when most die", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.YoungThreshold = 64
		c := newCollector(t, &rootList{}, cfg)

		for i := 0; i < 64; i++ {
			mustAllocate(t, c, 8)
		}
		if got := c.Stats().YoungThreshold; got != 32 {
			t.Errorf("YoungThreshold = %d, want 32", got)
		}
	})

	t.Run("clamped to the band", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.YoungThreshold = 32
		c := newCollector(t, &rootList{}, cfg)

		for i := 0; i < 32; i++ {
			mustAllocate(t, c, 8)
		}
		if got := c.Stats().YoungThreshold; got != 32 {
			t.Errorf("YoungThreshold = %d, want 32 (minimum)", got)
		}
	})
}

// Scenario: a block stored in a global array survives a full collection
// and is freed once the element is removed.
func TestArrayElementRoot(t *testing.T) {
	globals := value.NewArray()
	roots := RootFunc(func(visit func(value.Value)) { visit(globals) })
	c := newCollector(t, roots, DefaultConfig())

	addr := mustAllocate(t, c, 16)
	globals.Append(value.Pointer{Addr: addr, Mem: c})

	c.CollectFull()
	if _, ok := c.Generation(addr); !ok {
		t.Fatal("reachable block freed")
	}

	globals.Elements = globals.Elements[:0]
	c.CollectFull()
	if _, ok := c.Generation(addr); ok {
		t.Error("unreachable block survived")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	c := New(nil, DefaultConfig())
	mustAllocate(t, c, 8)
	mustAllocate(t, c, 8)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := c.Stats().AllocationCount; got != 0 {
		t.Errorf("AllocationCount = %d, want 0", got)
	}
	if _, err := c.Allocate(8); !errors.Is(err, ErrClosed) {
		t.Errorf("Allocate after Close error = %v, want ErrClosed", err)
	}
}
