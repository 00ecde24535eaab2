package heap

import (
	"testing"
	"time"

	"github.com/rowanvm/rowan/internal/rclass"
)

// TestHeapSizeTriggeredCollection covers the property unwired code left
// untested before: crossing cfg.MaxBytes during alloc must eventually run
// a collection on its own, with no caller ever invoking Collect directly.
func TestHeapSizeTriggeredCollection(t *testing.T) {
	h, err := New(Config{MaxBytes: 256, ReserveBytes: 1 << 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	reg := rclass.NewRegistry()
	gc := NewGC(h, reg)
	defer gc.Shutdown()

	// None of these allocations are ever rooted, so the collection the
	// threshold crossing triggers should free every one of them.
	for i := 0; i < 20; i++ {
		if _, err := h.alloc(32); err != nil {
			t.Fatalf("alloc: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.CurrentSize() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("heap-size-triggered collection never ran: CurrentSize = %d", h.CurrentSize())
}

// TestMaybeCollectSkipsBelowThreshold ensures a stale/duplicate trigger
// doesn't run a needless cycle once a prior collection already brought
// the heap back under the limit.
func TestMaybeCollectSkipsBelowThreshold(t *testing.T) {
	h, err := New(Config{MaxBytes: 1 << 20, ReserveBytes: 1 << 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	reg := rclass.NewRegistry()
	gc := NewGC(h, reg)
	defer gc.Shutdown()

	addr, err := h.alloc(32)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	before := gc.cycles
	gc.MaybeCollect()
	if gc.cycles != before {
		t.Errorf("MaybeCollect ran a cycle below MaxBytes: cycles %d -> %d", before, gc.cycles)
	}
	h.free(addr)
}

func TestCollectRunsWithNoLiveThreads(t *testing.T) {
	h, err := New(Config{MaxBytes: 1 << 20, ReserveBytes: 1 << 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	reg := rclass.NewRegistry()
	gc := NewGC(h, reg)
	defer gc.Shutdown()

	addr, err := h.alloc(32)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	gc.Collect()
	if h.CurrentSize() != 0 {
		t.Errorf("CurrentSize after Collect with no roots = %d, want 0", h.CurrentSize())
	}
	_ = addr
}
