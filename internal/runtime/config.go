// Package runtime collects the handful of environment-variable-driven
// switches that configure the heap, JIT, and interpreter, following the
// teacher's own debug-knob convention in std/compiler/backend_vm.go
// (RTG_VM_MEM/RTG_VM_ALLOC/RTG_VM_STEPS read once at startup with
// os.Getenv, no flag-parsing library) generalized from debug-only
// switches to real configuration.
package runtime

import (
	"os"
	"strconv"

	"github.com/rowanvm/rowan/internal/heap"
)

// Config holds the runtime's tunables, populated from the environment.
type Config struct {
	// HeapMaxBytes mirrors spec.md §4.4's "configurable maximum (default
	// 4 GiB)", read from ROWAN_HEAP_MAX (bytes).
	HeapMaxBytes uint64
	// NoJIT disables the JIT Controller entirely, falling back to pure
	// interpretation of every bytecode-only method, read from
	// ROWAN_NO_JIT (any non-empty value).
	NoJIT bool
	// ReserveBytes is how much of HeapMaxBytes to mmap up front, read
	// from ROWAN_VM_MEM — named directly after the teacher's own
	// RTG_VM_MEM debug knob, though here it sizes the reservation rather
	// than toggling a memory-usage report.
	ReserveBytes uint64
}

// FromEnv reads Config from the process environment, with explicit
// defaults matching heap.DefaultConfig when unset.
func FromEnv() Config {
	def := heap.DefaultConfig()
	cfg := Config{
		HeapMaxBytes: def.MaxBytes,
		ReserveBytes: def.ReserveBytes,
	}
	if v := os.Getenv("ROWAN_HEAP_MAX"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.HeapMaxBytes = n
		}
	}
	if v := os.Getenv("ROWAN_VM_MEM"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ReserveBytes = n
		}
	}
	cfg.NoJIT = os.Getenv("ROWAN_NO_JIT") != ""
	return cfg
}

// HeapConfig adapts Config to internal/heap.Config.
func (c Config) HeapConfig() heap.Config {
	return heap.Config{MaxBytes: c.HeapMaxBytes, ReserveBytes: c.ReserveBytes}
}
