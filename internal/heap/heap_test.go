package heap

import "testing"

func smallConfig() Config {
	return Config{MaxBytes: 1 << 20, ReserveBytes: 1 << 20}
}

func TestAllocTracksCurrentSize(t *testing.T) {
	h, err := New(smallConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.alloc(20)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if got := h.CurrentSize(); got != 32 {
		t.Errorf("CurrentSize = %d, want 32 (rounded up to the 32-byte size class)", got)
	}
	h.free(addr)
	if got := h.CurrentSize(); got != 0 {
		t.Errorf("CurrentSize after free = %d, want 0", got)
	}
}

func TestAllocReusesFreedSlot(t *testing.T) {
	h, err := New(smallConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	first, err := h.alloc(16)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	h.free(first)

	second, err := h.alloc(16)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if second != first {
		t.Errorf("alloc after free = %#x, want reused slot %#x", second, first)
	}
}

func TestAllocOverflowBucket(t *testing.T) {
	h, err := New(smallConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	addr, err := h.alloc(5000)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if got := h.CurrentSize(); got != 5000 {
		t.Errorf("CurrentSize = %d, want 5000 (overflow allocations aren't rounded)", got)
	}
	h.free(addr)
	if _, ok := h.overflow[addr]; ok {
		t.Errorf("overflow entry survived free")
	}
}

func TestCarveOutOfMemory(t *testing.T) {
	h, err := New(Config{MaxBytes: 64, ReserveBytes: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	if _, err := h.alloc(4096); err == nil {
		t.Fatalf("alloc past the reserved arena: want error, got nil")
	}
}

func TestAllocWithoutBoundGCDoesNotPanic(t *testing.T) {
	h, err := New(Config{MaxBytes: 16, ReserveBytes: 1 << 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	// No GC bound: crossing MaxBytes must not panic even though nothing
	// is listening for the threshold.
	if _, err := h.alloc(32); err != nil {
		t.Fatalf("alloc: %v", err)
	}
}
