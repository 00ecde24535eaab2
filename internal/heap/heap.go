// Package heap implements the Object Heap (C5): a non-moving allocator
// over a single reserved arena, plus (in gc.go) the tracing stop-the-world
// collector. Object layout and free-list bookkeeping are grounded on the
// teacher's (tinyrange-rtg/std/compiler/backend_vm.go) VM slab allocator
// — bump-allocate within a size class, push freed slots onto a per-class
// free list, fall back to carving a fresh slab when the list is empty —
// generalized from the teacher's two fixed classes (small/large) to a
// handful of power-of-two classes plus an overflow bucket.
package heap

import (
	"fmt"
	"sync"
	"sync/atomic"

	mmap "github.com/edsrzf/mmap-go"
)

// Config mirrors spec.md §4.4's "configurable maximum (default 4 GiB)".
type Config struct {
	MaxBytes uint64
	// ReserveBytes is how much of MaxBytes to mmap up front. Pages are
	// only "allocated" (bump-carved) lazily, so a large reservation is
	// cheap on every platform mmap-go targets.
	ReserveBytes uint64
}

// DefaultConfig matches spec.md's stated default.
func DefaultConfig() Config {
	const gib = 1 << 30
	return Config{MaxBytes: 4 * gib, ReserveBytes: 4 * gib}
}

// sizeClasses are the bump/free-list buckets objects round up into.
// Anything larger than the biggest class is tracked individually in the
// overflow list.
var sizeClasses = []int{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

const headerSize = 16

// Heap is the object arena: a single `mmap.MMap`-backed byte region
// (SPEC_FULL.md §11 wires `github.com/edsrzf/mmap-go` here) addressed by
// uint64 offsets rather than Go pointers, giving a stable, non-moving
// "raw pointer to an object header" exactly as spec.md §4.4 requires.
type Heap struct {
	cfg   Config
	arena mmap.MMap

	mu        sync.Mutex
	bump      uint64
	freeLists [][]uint64       // parallel to sizeClasses
	overflow  map[uint64]int   // addr -> size, for objects bigger than any size class
	live      map[uint64]int   // every currently-allocated addr -> its rounded size (all classes + overflow)

	current atomic.Int64 // current heap byte count; spec.md §4.4 "atomic current-heap counter"

	gc *GC // bound by NewGC; nil until a collector exists for this heap
}

// bindGC wires a collector to this heap's allocation path, so alloc can
// ask it to check the heap-size threshold (spec.md §4.4's "configurable
// maximum... triggers a collection when crossed"). Called by NewGC, since
// Heap and GC live in the same package.
func (h *Heap) bindGC(g *GC) { h.gc = g }

// New reserves a heap arena per cfg.
func New(cfg Config) (*Heap, error) {
	arena, err := mmap.MapRegion(nil, int(cfg.ReserveBytes), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("heap: reserve %d bytes: %w", cfg.ReserveBytes, err)
	}
	h := &Heap{
		cfg:       cfg,
		arena:     arena,
		freeLists: make([][]uint64, len(sizeClasses)),
		overflow:  make(map[uint64]int),
		live:      make(map[uint64]int),
		bump:      8, // reserve offset 0 as the null address
	}
	return h, nil
}

// Close unmaps the arena. Safe to call once, after Shutdown has run any
// final finalizers (see GC.Shutdown).
func (h *Heap) Close() error {
	return h.arena.Unmap()
}

// CurrentSize returns the heap accounting counter (spec.md §4.4/§8:
// "current_heap_size == Σ sizeof(live objects)" after a full GC).
func (h *Heap) CurrentSize() int64 { return h.current.Load() }

func classFor(size int) (idx int, class int, ok bool) {
	for i, c := range sizeClasses {
		if size <= c {
			return i, c, true
		}
	}
	return -1, 0, false
}

// alloc reserves size bytes (rounded to a size class, or tracked
// individually if larger), zeroing the region, and returns its offset.
// Once the allocation lands, it checks the heap-size threshold
// (cfg.MaxBytes) and, if crossed, asks the bound collector to run a
// cycle (spec.md §4.4's heap-size-triggered collection). The request is
// non-blocking: alloc holds h.mu for the duration and must never wait on
// the collector itself, which is why the check goes through
// GC.requestCollect's dedicated goroutine hand-off rather than calling
// Collect directly from here.
func (h *Heap) alloc(size int) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx, class, small := classFor(size)
	if small {
		if n := len(h.freeLists[idx]); n > 0 {
			addr := h.freeLists[idx][n-1]
			h.freeLists[idx] = h.freeLists[idx][:n-1]
			h.zero(addr, class)
			h.live[addr] = class
			h.accountAlloc(int64(class))
			return addr, nil
		}
		addr, err := h.carve(class)
		if err != nil {
			return 0, err
		}
		h.live[addr] = class
		h.accountAlloc(int64(class))
		return addr, nil
	}

	addr, err := h.carve(size)
	if err != nil {
		return 0, err
	}
	h.overflow[addr] = size
	h.live[addr] = size
	h.accountAlloc(int64(size))
	return addr, nil
}

// accountAlloc updates the heap-size counter and, if the allocation
// pushed it past cfg.MaxBytes, signals the bound collector.
func (h *Heap) accountAlloc(n int64) {
	size := h.current.Add(n)
	if h.gc != nil && uint64(size) >= h.cfg.MaxBytes {
		h.gc.requestCollect()
	}
}

func (h *Heap) carve(size int) (uint64, error) {
	if h.bump+uint64(size) > uint64(len(h.arena)) {
		return 0, fmt.Errorf("heap: out of memory: requested %d bytes, %d available", size, len(h.arena)-int(h.bump))
	}
	addr := h.bump
	h.bump += uint64(size)
	h.zero(addr, size)
	return addr, nil
}

func (h *Heap) zero(addr uint64, size int) {
	region := h.arena[addr : addr+uint64(size)]
	for i := range region {
		region[i] = 0
	}
}

// free returns addr's storage to its size class's free list (or forgets
// an overflow allocation), decrementing the heap counter by exactly its
// layout size (spec.md §4.4's sweep invariant).
func (h *Heap) free(addr uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	size, ok := h.live[addr]
	if !ok {
		return
	}
	delete(h.live, addr)
	h.current.Add(-int64(size))
	if _, isOverflow := h.overflow[addr]; isOverflow {
		delete(h.overflow, addr)
		return
	}
	idx, _, small := classFor(size)
	if small && sizeClasses[idx] == size {
		h.freeLists[idx] = append(h.freeLists[idx], addr)
	}
}

// LiveAddrs returns a snapshot of every currently-allocated address, for
// the collector's sweep phase.
func (h *Heap) LiveAddrs() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, 0, len(h.live))
	for addr := range h.live {
		out = append(out, addr)
	}
	return out
}

// bytes returns a slice view of the arena at [addr, addr+n).
func (h *Heap) bytes(addr uint64, n int) []byte {
	return h.arena[addr : addr+uint64(n)]
}
