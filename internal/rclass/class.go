// Package rclass implements the Class Registry (C2): linked Class
// records with parent pointers, member layout, vtable indices, and
// per-class static slots (spec.md §3).
package rclass

import (
	"fmt"
	"sync"

	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
	"github.com/rowanvm/rowan/internal/vtable"
)

// Member is one entry of a class's per-instance layout: spec.md §3's
// (name-symbol, type-tag) pair. SizedLen carries the n for TagSized
// members; it is 0 for every other tag.
type Member struct {
	Name     symbol.Symbol
	Type     rtval.Tag
	SizedLen int
	Offset   int // byte offset within the object's data region, computed at link time
}

// Size returns the storage size in bytes of this member.
func (m Member) Size() int {
	if m.Type == rtval.TagSized {
		return m.SizedLen
	}
	return m.Type.Size()
}

// StaticMember is a mutable per-class static slot: spec.md §3's
// (name-symbol, tagged value). Each individual read or write goes through
// the owning Class's mutex (GetStatic/SetStatic), so a single access
// never tears; any wider synchronization is left to the program (spec.md
// §5: "language-level synchronization is the programmer's responsibility").
type StaticMember struct {
	Name  symbol.Symbol
	Value rtval.Value
}

// FinalizerFunc is the C-ABI callback invoked during object free
// (spec.md §3's Class.finalizer). objAddr is the header address of the
// object being collected.
type FinalizerFunc func(objAddr uint64)

// Class is spec.md §3's Class record.
type Class struct {
	Name   symbol.Symbol
	Parent symbol.Symbol // symbol.Null for root-of-hierarchy

	// Vtables maps the class/interface symbol contributing a vtable view
	// to its index in the shared vtable.Store (spec.md §3).
	Vtables map[symbol.Symbol]int

	Members []Member
	// MemberIndex maps a member name to its index in Members, for
	// GetField/SetField's (class-sym, via-parent-sym, index) addressing
	// to validate a field actually belongs to the class named.
	MemberIndex map[symbol.Symbol]int

	// DataSize is the total inline member byte size after alignment
	// padding, excluding the object header (internal/heap computes the
	// final allocation size by adding the fixed-size header, which holds
	// the address of the separately allocated parent instance).
	DataSize int

	StaticMethodsVTable int // index into the shared vtable.Store

	staticMu     sync.Mutex
	StaticMembers []StaticMember
	staticIndex  map[symbol.Symbol]int

	InitBytecode *vtable.Bytecode // optional; run once at class-load time
	Finalizer    FinalizerFunc    // optional; invoked during object free

	// IsInterface marks interface declarations, which never receive
	// instances but do contribute a vtable keyed by their own symbol
	// (spec.md §4.3's interface-call resolution).
	IsInterface bool
}

// New creates an empty Class for name, to be populated by the Linker.
func New(name symbol.Symbol) *Class {
	return &Class{
		Name:        name,
		Vtables:     make(map[symbol.Symbol]int),
		MemberIndex: make(map[symbol.Symbol]int),
		staticIndex: make(map[symbol.Symbol]int),
	}
}

// AddMember appends a member to the class's layout, assigning it the
// next aligned offset. Every member, sub-word ones included, starts on a
// machine-word (8-byte) boundary, which keeps GetField addressing simple.
func (c *Class) AddMember(name symbol.Symbol, tag rtval.Tag, sizedLen int) int {
	m := Member{Name: name, Type: tag, SizedLen: sizedLen}
	const align = 8
	if rem := c.DataSize % align; rem != 0 {
		c.DataSize += align - rem
	}
	m.Offset = c.DataSize
	c.DataSize += m.Size()
	idx := len(c.Members)
	c.Members = append(c.Members, m)
	c.MemberIndex[name] = idx
	return idx
}

// AddStatic appends a mutable static member, returning its index.
func (c *Class) AddStatic(name symbol.Symbol, initial rtval.Value) int {
	c.staticMu.Lock()
	defer c.staticMu.Unlock()
	idx := len(c.StaticMembers)
	c.StaticMembers = append(c.StaticMembers, StaticMember{Name: name, Value: initial})
	c.staticIndex[name] = idx
	return idx
}

// StaticIndex resolves a static member name to its slot index.
func (c *Class) StaticIndex(name symbol.Symbol) (int, bool) {
	c.staticMu.Lock()
	defer c.staticMu.Unlock()
	idx, ok := c.staticIndex[name]
	return idx, ok
}

// GetStatic reads a static slot by index. Per spec.md §5, callers from
// multiple threads racing a write here race exactly as the managed
// language's own semantics dictate; the Registry adds no extra locking
// beyond not tearing the slice.
func (c *Class) GetStatic(idx int) rtval.Value {
	c.staticMu.Lock()
	defer c.staticMu.Unlock()
	return c.StaticMembers[idx].Value
}

// SetStatic writes a static slot by index.
func (c *Class) SetStatic(idx int, v rtval.Value) {
	c.staticMu.Lock()
	defer c.staticMu.Unlock()
	c.StaticMembers[idx].Value = v
}

// Registry is the Class Registry (C2): populated once by the Linker,
// never destroyed (spec.md §3's lifecycle invariant), read concurrently
// thereafter; every accessor takes mu.
type Registry struct {
	mu      sync.RWMutex
	classes map[symbol.Symbol]*Class
	order   []symbol.Symbol // declaration order, for deterministic init_bytecode execution
}

func NewRegistry() *Registry {
	return &Registry{classes: make(map[symbol.Symbol]*Class)}
}

// Register inserts cls, enforcing spec.md §3's invariant that
// cls.Parent is either Null or already registered.
func (r *Registry) Register(cls *Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cls.Parent != symbol.Null {
		if _, ok := r.classes[cls.Parent]; !ok {
			return fmt.Errorf("rclass: class %d: parent %d not yet registered", cls.Name, cls.Parent)
		}
	}
	if _, dup := r.classes[cls.Name]; dup {
		return fmt.Errorf("rclass: class %d: already registered", cls.Name)
	}
	r.classes[cls.Name] = cls
	r.order = append(r.order, cls.Name)
	return nil
}

// Lookup returns the Class for sym, if registered.
func (r *Registry) Lookup(sym symbol.Symbol) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[sym]
	return c, ok
}

// Order returns classes in registration order. Register refuses a class
// whose parent is not yet registered, so a parent always precedes its
// children here; the Linker runs init_bytecode in this order.
func (r *Registry) Order() []symbol.Symbol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]symbol.Symbol(nil), r.order...)
}

// StaticRoots returns the heap address of every static member currently
// holding an object reference, across every registered class. The GC
// adds these to the merged root set before tracing (spec.md §4.4).
func (r *Registry) StaticRoots() []uint64 {
	r.mu.RLock()
	classes := make([]*Class, 0, len(r.classes))
	for _, c := range r.classes {
		classes = append(classes, c)
	}
	r.mu.RUnlock()

	var roots []uint64
	for _, c := range classes {
		c.staticMu.Lock()
		for _, sm := range c.StaticMembers {
			if sm.Value.Tag == rtval.TagObject && !sm.Value.IsNull() {
				roots = append(roots, sm.Value.Addr())
			}
		}
		c.staticMu.Unlock()
	}
	return roots
}

// IsSubclassOf reports whether the class named child is child itself or
// a transitive subclass of ancestor, walking the parent chain. Backs the
// bytecode IsA opcode (spec.md §4.2) and the FFI reflective query
// (SPEC_FULL.md §12).
func (r *Registry) IsSubclassOf(child, ancestor symbol.Symbol) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur := child
	for cur != symbol.Null {
		if cur == ancestor {
			return true
		}
		c, ok := r.classes[cur]
		if !ok {
			return false
		}
		cur = c.Parent
	}
	return false
}
