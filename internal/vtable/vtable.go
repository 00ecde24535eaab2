package vtable

import (
	"sync"

	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
)

// SlotState is the Function Record's callable-slot state (spec.md §3
// invariant: "monotone: blank → bytecode-only → compiled; builtin and
// native never transition").
type SlotState uint8

const (
	SlotBlank SlotState = iota
	SlotBytecodeOnly
	SlotCompiled
	SlotBuiltin
	SlotNative
)

func (s SlotState) String() string {
	switch s {
	case SlotBlank:
		return "blank"
	case SlotBytecodeOnly:
		return "bytecode-only"
	case SlotCompiled:
		return "compiled"
	case SlotBuiltin:
		return "builtin"
	case SlotNative:
		return "native"
	default:
		return "?"
	}
}

// BuiltinFunc is a VM-provided implementation (spec.md's "builtin(ptr)":
// a C-ABI address that never gets JIT-compiled). ctx is opaque here to
// avoid a dependency cycle with internal/interp; builtins type-assert it
// to *interp.Context.
type BuiltinFunc func(ctx any, args []rtval.Value) (rtval.Value, error)

// FunctionRecord is spec.md §3's Function Record: name, bytecode,
// signature, and a mutable callable slot.
type FunctionRecord struct {
	Name     symbol.Symbol
	ArgTypes []rtval.Tag
	RetType  rtval.Tag

	mu          sync.Mutex
	state       SlotState
	code        *Bytecode
	builtin     BuiltinFunc
	nativePtr   uintptr
	compiledPtr uintptr
	spillMap    []int // stack-slot offsets the JIT frame holds object refs at, for GC tracing
}

// NewBlank creates a record for an abstract method with no body (e.g. an
// interface method declaration).
func NewBlank(name symbol.Symbol, args []rtval.Tag, ret rtval.Tag) *FunctionRecord {
	return &FunctionRecord{Name: name, ArgTypes: args, RetType: ret, state: SlotBlank}
}

// NewBytecodeOnly creates a record awaiting JIT compilation.
func NewBytecodeOnly(name symbol.Symbol, args []rtval.Tag, ret rtval.Tag, code *Bytecode) *FunctionRecord {
	return &FunctionRecord{Name: name, ArgTypes: args, RetType: ret, state: SlotBytecodeOnly, code: code}
}

// NewBuiltin creates a record permanently bound to a Go-native
// implementation; it never transitions to compiled.
func NewBuiltin(name symbol.Symbol, args []rtval.Tag, ret rtval.Tag, fn BuiltinFunc) *FunctionRecord {
	return &FunctionRecord{Name: name, ArgTypes: args, RetType: ret, state: SlotBuiltin, builtin: fn}
}

// NewNative creates a record bound to a dynamically-loaded native symbol,
// invoked through the Native Call Trampoline (C8). It never transitions.
func NewNative(name symbol.Symbol, args []rtval.Tag, ret rtval.Tag, ptr uintptr) *FunctionRecord {
	return &FunctionRecord{Name: name, ArgTypes: args, RetType: ret, state: SlotNative, nativePtr: ptr}
}

// State reports the record's current callable-slot state.
func (f *FunctionRecord) State() SlotState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Bytecode returns the method's linked bytecode, available whenever the
// record was constructed with one (bytecode-only, and still retained
// once compiled).
func (f *FunctionRecord) Bytecode() (*Bytecode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.code != nil
}

// Builtin returns the Go-native implementation, if this is a builtin
// slot.
func (f *FunctionRecord) Builtin() (BuiltinFunc, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builtin, f.state == SlotBuiltin
}

// Native returns the dynamically-loaded symbol address, if this is a
// native slot.
func (f *FunctionRecord) Native() (uintptr, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nativePtr, f.state == SlotNative
}

// Compiled returns the JIT-published code pointer and its spill map, if
// compilation has completed.
func (f *FunctionRecord) Compiled() (ptr uintptr, spillMap []int, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compiledPtr, f.spillMap, f.state == SlotCompiled
}

// TryPublishCompiled transitions blank/bytecode-only → compiled,
// publishing ptr and spillMap. It is the JIT Controller's single write
// point (spec.md §4.5: "atomically transitions bytecode-only/blank →
// compiled"). Returns false without modifying the record if another
// compilation already published a result (spec.md §4.6: the dispatcher
// re-reads and proceeds against the winning pointer) or if the slot is a
// builtin/native (which never transition).
func (f *FunctionRecord) TryPublishCompiled(ptr uintptr, spillMap []int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != SlotBlank && f.state != SlotBytecodeOnly {
		return false
	}
	f.state = SlotCompiled
	f.compiledPtr = ptr
	f.spillMap = spillMap
	return true
}

// SmallTableThreshold is spec.md §3's "small-table threshold (~10)":
// below it, method lookup is a linear scan; at or above it, the
// auxiliary name→index map is consulted instead.
const SmallTableThreshold = 10

// VTable is spec.md §3's VTable: an ordered sequence of function records
// plus an auxiliary name→index map used once the table grows past
// SmallTableThreshold.
type VTable struct {
	Owner   symbol.Symbol // the class/interface symbol this view was composed for
	records []*FunctionRecord
	names   []symbol.Symbol // parallel to records; method name per slot
	index   map[symbol.Symbol]int
}

// New returns an empty vtable attributed to owner (a class or interface
// symbol, used only for diagnostics).
func New(owner symbol.Symbol) *VTable {
	return &VTable{Owner: owner}
}

// Clone returns a new vtable with the same slot order as vt, sharing
// record pointers. Used by the Linker's override composition (spec.md
// §4.1 step 3: "allocate a new vtable sharing the slot order of the
// inherited one, substituting the methods explicitly listed").
func (vt *VTable) Clone() *VTable {
	cp := &VTable{
		Owner:   vt.Owner,
		records: append([]*FunctionRecord(nil), vt.records...),
		names:   append([]symbol.Symbol(nil), vt.names...),
	}
	if vt.index != nil {
		cp.index = make(map[symbol.Symbol]int, len(vt.index))
		for k, v := range vt.index {
			cp.index[k] = v
		}
	}
	return cp
}

// Add appends a new method slot, returning its index.
func (vt *VTable) Add(name symbol.Symbol, rec *FunctionRecord) int {
	idx := len(vt.records)
	vt.records = append(vt.records, rec)
	vt.names = append(vt.names, name)
	vt.maybeIndex()
	return idx
}

// Set overrides the record at an existing slot index, keeping slot order
// stable (spec.md §4.1's override semantics).
func (vt *VTable) Set(idx int, rec *FunctionRecord) {
	vt.records[idx] = rec
}

func (vt *VTable) maybeIndex() {
	if len(vt.records) < SmallTableThreshold {
		return
	}
	if vt.index == nil {
		vt.index = make(map[symbol.Symbol]int, len(vt.records))
		for i, n := range vt.names {
			vt.index[n] = i
		}
	} else {
		vt.index[vt.names[len(vt.names)-1]] = len(vt.records) - 1
	}
}

// Lookup finds the method record for name, per spec.md §3: "below it a
// linear scan is performed" / else the auxiliary map.
func (vt *VTable) Lookup(name symbol.Symbol) (*FunctionRecord, int, bool) {
	if vt.index != nil {
		if idx, ok := vt.index[name]; ok {
			return vt.records[idx], idx, true
		}
		return nil, 0, false
	}
	for i, n := range vt.names {
		if n == name {
			return vt.records[i], i, true
		}
	}
	return nil, 0, false
}

// Len returns the number of method slots.
func (vt *VTable) Len() int { return len(vt.records) }

// At returns the record at slot index idx.
func (vt *VTable) At(idx int) *FunctionRecord { return vt.records[idx] }

// Store is the VTable Store (C3): every vtable composed during linking,
// addressed by a compact integer index so Class records can reference
// vtables by value rather than by pointer identity.
type Store struct {
	mu     sync.RWMutex
	tables []*VTable
}

func NewStore() *Store {
	return &Store{}
}

// Register adds vt to the store, returning its index.
func (s *Store) Register(vt *VTable) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = append(s.tables, vt)
	return len(s.tables) - 1
}

// Get returns the vtable at idx.
func (s *Store) Get(idx int) *VTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[idx]
}

// Len returns the number of registered vtables.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables)
}
