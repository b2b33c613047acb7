// Package gc manages native memory blocks handed out to scripts through
// alloc/free. Blocks are tracked in two generations and reclaimed by
// mark-and-free collections that trace Pointer values reachable from the
// VM's roots. Managed values (arrays, maps, instances) are never collected
// here; they only serve as paths to pointers.
package gc

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
	"unsafe"

	"github.com/tliron/commonlog"
	"modernc.org/memory"

	"github.com/ollang/ollang/pkg/value"
)

var log = commonlog.GetLogger("ollang.gc")

var (
	// ErrAllocation is the root of every allocation failure.
	ErrAllocation = errors.New("allocation failed")

	// ErrInvalidSize reports a non-positive or oversized request.
	ErrInvalidSize = fmt.Errorf("%w: invalid size", ErrAllocation)

	// ErrOutOfBounds reports a byte access outside every live block.
	ErrOutOfBounds = errors.New("memory access out of bounds")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("collector closed")
)

// Generation is the age class of an allocation.
type Generation uint8

const (
	Young Generation = iota
	Old
)

func (g Generation) String() string {
	if g == Old {
		return "old"
	}
	return "young"
}

// RootSet enumerates the values a collection starts from: globals, the
// live operand stack and every frame's locals.
type RootSet interface {
	VisitRoots(visit func(value.Value))
}

// RootFunc adapts a function to RootSet.
type RootFunc func(visit func(value.Value))

func (f RootFunc) VisitRoots(visit func(value.Value)) { f(visit) }

// Config tunes collection frequency.
type Config struct {
	YoungThreshold int `toml:"young-threshold"` // allocations between minor collections (adaptive)
	MajorThreshold int `toml:"major-threshold"` // old population that triggers a full collection
	PromotionAge   int `toml:"promotion-age"`   // minor collections survived before promotion
	MinThreshold   int `toml:"min-threshold"`
	MaxThreshold   int `toml:"max-threshold"`
	MaxSize        int `toml:"max-size"` // largest single allocation in bytes
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		YoungThreshold: 128,
		MajorThreshold: 512,
		PromotionAge:   3,
		MinThreshold:   32,
		MaxThreshold:   4096,
		MaxSize:        256 << 20,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.YoungThreshold <= 0 {
		c.YoungThreshold = d.YoungThreshold
	}
	if c.MajorThreshold <= 0 {
		c.MajorThreshold = d.MajorThreshold
	}
	if c.PromotionAge <= 0 {
		c.PromotionAge = d.PromotionAge
	}
	if c.MinThreshold <= 0 {
		c.MinThreshold = d.MinThreshold
	}
	if c.MaxThreshold <= 0 {
		c.MaxThreshold = d.MaxThreshold
	}
	if c.MaxThreshold < c.MinThreshold {
		c.MaxThreshold = c.MinThreshold
	}
	if c.MaxSize <= 0 {
		c.MaxSize = d.MaxSize
	}
	return c
}

// Stats is a snapshot of collector state.
type Stats struct {
	TotalAllocated   int64 // live bytes
	AllocationCount  int
	YoungCount       int
	OldCount         int
	MinorCollections int
	MajorCollections int
	YoungThreshold   int
	LastCollection   time.Duration
	TotalCollection  time.Duration
}

type allocation struct {
	buf      []byte
	gen      Generation
	survived int
}

func (a *allocation) base() uintptr { return uintptr(unsafe.Pointer(&a.buf[0])) }

func (a *allocation) contains(addr uintptr) bool {
	base := a.base()
	return addr >= base && addr < base+uintptr(len(a.buf))
}

// Collector owns every native block of one VM. It is safe for use by one
// goroutine at a time; the mutex only guards Stats against a host reading
// it from elsewhere.
type Collector struct {
	mu     sync.Mutex
	roots  RootSet
	cfg    Config
	alloc  memory.Allocator
	closed bool

	blocks map[uintptr]*allocation
	bases  []uintptr // sorted
	bytes  int64

	youngThreshold int
	sinceCollect   int

	minor, major int
	last, total  time.Duration
}

// New creates a collector tracing from roots.
func New(roots RootSet, cfg Config) *Collector {
	cfg = cfg.withDefaults()
	return &Collector{
		roots:          roots,
		cfg:            cfg,
		blocks:         make(map[uintptr]*allocation),
		youngThreshold: cfg.YoungThreshold,
	}
}

// Allocate returns the address of a zeroed block of size bytes. Reaching
// the young threshold runs a minor collection, followed by a full one when
// the old generation has grown past the major threshold. The new block
// always survives the collection its own allocation triggers.
func (c *Collector) Allocate(size int) (uintptr, error) {
	if size <= 0 {
		return 0, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidSize, size)
	}
	if size > c.cfg.MaxSize {
		return 0, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrInvalidSize, size, c.cfg.MaxSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}

	buf, err := c.alloc.Calloc(size)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	a := &allocation{buf: buf[:size:size]}
	addr := a.base()
	c.blocks[addr] = a
	i, _ := slices.BinarySearch(c.bases, addr)
	c.bases = slices.Insert(c.bases, i, addr)
	c.bytes += int64(size)

	c.sinceCollect++
	if c.sinceCollect >= c.youngThreshold {
		c.collect(false, addr)
		c.sinceCollect = 0
		if c.countGen(Old) > c.cfg.MajorThreshold {
			c.collect(true, addr)
		}
	}
	return addr, nil
}

// Free releases the block starting at addr. Unknown addresses are ignored.
func (c *Collector) Free(addr uintptr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.free(addr)
}

func (c *Collector) free(addr uintptr) error {
	a, ok := c.blocks[addr]
	if !ok {
		return nil
	}
	delete(c.blocks, addr)
	if i, found := slices.BinarySearch(c.bases, addr); found {
		c.bases = slices.Delete(c.bases, i, i+1)
	}
	c.bytes -= int64(len(a.buf))
	return c.alloc.Free(a.buf[:cap(a.buf)])
}

// CollectYoung frees unreachable young blocks and ages the survivors.
func (c *Collector) CollectYoung() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collect(false, 0)
}

// CollectFull frees every unreachable block regardless of generation.
func (c *Collector) CollectFull() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collect(true, 0)
}

func (c *Collector) collect(full bool, pinned uintptr) {
	if c.closed {
		return
	}
	start := time.Now()
	reached := c.mark()
	if pinned != 0 {
		reached[pinned] = true
	}

	var dead []uintptr
	for addr, a := range c.blocks {
		if !full && a.gen != Young {
			continue
		}
		if !reached[addr] {
			dead = append(dead, addr)
			continue
		}
		if !full && a.gen == Young {
			a.survived++
			if a.survived >= c.cfg.PromotionAge {
				a.gen = Old
			}
		}
	}
	for _, addr := range dead {
		if err := c.free(addr); err != nil {
			log.Errorf("freeing block 0x%X: %s", uint64(addr), err)
		}
	}

	c.last = time.Since(start)
	c.total += c.last
	if full {
		c.major++
		log.Debugf("full collection: freed %d, live %d (%s)", len(dead), len(c.blocks), c.last)
		return
	}
	c.minor++
	c.adapt(len(dead))
	log.Debugf("minor collection: freed %d, live %d, threshold %d (%s)", len(dead), len(c.blocks), c.youngThreshold, c.last)
}

// adapt raises the young threshold when most blocks survived and lowers
// it when most died.
func (c *Collector) adapt(freed int) {
	if c.sinceCollect <= 0 {
		return
	}
	ratio := float64(freed) / float64(c.sinceCollect)
	switch {
	case ratio < 0.1:
		c.youngThreshold = min(c.youngThreshold*2, c.cfg.MaxThreshold)
	case ratio > 0.5:
		c.youngThreshold = max(c.youngThreshold/2, c.cfg.MinThreshold)
	}
}

// mark walks the roots with an explicit worklist. Containers are visited
// once each, so cyclic graphs terminate.
func (c *Collector) mark() map[uintptr]bool {
	reached := make(map[uintptr]bool)
	if c.roots == nil || len(c.blocks) == 0 {
		return reached
	}

	var work []value.Value
	c.roots.VisitRoots(func(v value.Value) {
		if v != nil {
			work = append(work, v)
		}
	})

	seen := make(map[any]bool)
	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]

		switch x := v.(type) {
		case value.Pointer:
			if base, ok := c.containing(x.Addr); ok {
				reached[base] = true
			}
		case *value.Array:
			if seen[x] {
				continue
			}
			seen[x] = true
			work = append(work, x.Elements...)
		case *value.Map:
			if seen[x] {
				continue
			}
			seen[x] = true
			x.Range(func(k, val value.Value) bool {
				work = append(work, k, val)
				return true
			})
		case *value.Instance:
			if seen[x] {
				continue
			}
			seen[x] = true
			work = append(work, x.Fields)
		case *value.BoundMethod:
			work = append(work, x.Receiver)
		}
	}
	return reached
}

// containing finds the block whose range holds addr.
func (c *Collector) containing(addr uintptr) (uintptr, bool) {
	i, found := slices.BinarySearch(c.bases, addr)
	if found {
		return addr, true
	}
	if i == 0 {
		return 0, false
	}
	base := c.bases[i-1]
	if c.blocks[base].contains(addr) {
		return base, true
	}
	return 0, false
}

func (c *Collector) countGen(g Generation) int {
	n := 0
	for _, a := range c.blocks {
		if a.gen == g {
			n++
		}
	}
	return n
}

// Generation reports the generation of the block at addr.
func (c *Collector) Generation(addr uintptr) (Generation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.blocks[addr]
	if !ok {
		return 0, false
	}
	return a.gen, true
}

// ReadByte reads one byte from a live block.
func (c *Collector) ReadByte(addr uintptr) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	base, ok := c.containing(addr)
	if !ok {
		return 0, fmt.Errorf("%w: read at 0x%X", ErrOutOfBounds, uint64(addr))
	}
	return c.blocks[base].buf[addr-base], nil
}

// WriteByte writes one byte into a live block.
func (c *Collector) WriteByte(addr uintptr, b byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	base, ok := c.containing(addr)
	if !ok {
		return fmt.Errorf("%w: write at 0x%X", ErrOutOfBounds, uint64(addr))
	}
	c.blocks[base].buf[addr-base] = b
	return nil
}

// Stats returns a snapshot of the collector's counters.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		TotalAllocated:   c.bytes,
		AllocationCount:  len(c.blocks),
		YoungCount:       c.countGen(Young),
		OldCount:         c.countGen(Old),
		MinorCollections: c.minor,
		MajorCollections: c.major,
		YoungThreshold:   c.youngThreshold,
		LastCollection:   c.last,
		TotalCollection:  c.total,
	}
}

// Close frees every block and the allocator's arenas.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	for addr := range c.blocks {
		if err := c.free(addr); err != nil {
			return err
		}
	}
	c.closed = true
	return c.alloc.Close()
}

var _ value.Memory = (*Collector)(nil)
