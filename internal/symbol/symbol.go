// Package symbol implements the interned string/class/interface table
// (component C1): every cross-class reference in the linked runtime is a
// small stable integer rather than a string comparison.
package symbol

import (
	"fmt"
	"sync"
)

// Symbol is a stable small integer naming an interned string, a class, or
// an interface. The zero value is the reserved null marker.
type Symbol uint32

// Null is the reserved symbol identifying "no value".
const Null Symbol = 0

// Kind distinguishes what a non-null Symbol denotes. Kind is immutable
// once a Symbol is inserted.
type Kind uint8

const (
	KindNone Kind = iota
	KindString
	KindClass
	KindInterface
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindClass:
		return "class"
	case KindInterface:
		return "interface"
	default:
		return "none"
	}
}

type entry struct {
	kind Kind
	name Symbol // string symbol naming this entry; for KindString entries this is the symbol itself
	text string // raw bytes, valid only for KindString
}

// Table is the process-lifetime String/Symbol Table. It is populated by
// the Linker and, per spec.md §5, is read-only after linking. Every
// accessor still takes the embedded RWMutex (shared for reads), so the
// Linker and later readers never see a torn table.
type Table struct {
	mu      sync.RWMutex
	entries []entry // entries[0] is the unused Null slot
	strings map[string]Symbol
	classes map[Symbol]Symbol // name string-symbol -> class symbol
	ifaces  map[Symbol]Symbol // name string-symbol -> interface symbol
}

// New returns an empty table with the Null symbol reserved at index 0.
func New() *Table {
	return &Table{
		entries: []entry{{kind: KindNone}},
		strings: make(map[string]Symbol),
		classes: make(map[Symbol]Symbol),
		ifaces:  make(map[Symbol]Symbol),
	}
}

// InternString returns the Symbol for s, interning it if this is the
// first occurrence.
func (t *Table) InternString(s string) Symbol {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sym, ok := t.strings[s]; ok {
		return sym
	}
	sym := Symbol(len(t.entries))
	t.entries = append(t.entries, entry{kind: KindString, text: s})
	t.strings[s] = sym
	return sym
}

// String returns the backing UTF-8 text for a string Symbol.
func (t *Table) String(sym Symbol) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.lookup(sym)
	if !ok || e.kind != KindString {
		return "", false
	}
	return e.text, true
}

// MustString is String but panics on an invalid symbol; used in contexts
// where the symbol is known-good (already resolved by the Linker).
func (t *Table) MustString(sym Symbol) string {
	s, ok := t.String(sym)
	if !ok {
		panic(fmt.Sprintf("symbol: %d is not a string symbol", sym))
	}
	return s
}

// NewClass allocates a fresh class Symbol naming the already-interned
// string symbol `name`. Calling NewClass twice for the same name returns
// the same symbol (declarations are per class file, but built-in classes
// and user classes may share a name only once — the Linker rejects
// duplicates before this would be called twice for distinct classes).
func (t *Table) NewClass(name Symbol) Symbol {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sym, ok := t.classes[name]; ok {
		return sym
	}
	sym := Symbol(len(t.entries))
	t.entries = append(t.entries, entry{kind: KindClass, name: name})
	t.classes[name] = sym
	return sym
}

// NewInterface is NewClass for interface declarations.
func (t *Table) NewInterface(name Symbol) Symbol {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sym, ok := t.ifaces[name]; ok {
		return sym
	}
	sym := Symbol(len(t.entries))
	t.entries = append(t.entries, entry{kind: KindInterface, name: name})
	t.ifaces[name] = sym
	return sym
}

// LookupClass returns the class symbol for a previously-registered name,
// without creating one.
func (t *Table) LookupClass(name Symbol) (Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sym, ok := t.classes[name]
	return sym, ok
}

// LookupInterface mirrors LookupClass for interfaces.
func (t *Table) LookupInterface(name Symbol) (Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sym, ok := t.ifaces[name]
	return sym, ok
}

// LookupStringSymbol returns the Symbol for a raw string if it has
// already been interned, without interning a new one.
func (t *Table) LookupStringSymbol(s string) (Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sym, ok := t.strings[s]
	return sym, ok
}

// Kind reports what sym denotes. KindNone is returned for Null or any
// out-of-range symbol.
func (t *Table) Kind(sym Symbol) Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.lookup(sym)
	if !ok {
		return KindNone
	}
	return e.kind
}

// Name returns the string symbol naming a class or interface symbol.
func (t *Table) Name(sym Symbol) (Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.lookup(sym)
	if !ok || (e.kind != KindClass && e.kind != KindInterface) {
		return Null, false
	}
	return e.name, true
}

func (t *Table) lookup(sym Symbol) (entry, bool) {
	if sym == Null || int(sym) >= len(t.entries) {
		return entry{}, false
	}
	return t.entries[sym], true
}

// Len returns the number of interned entries, including the Null slot.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
