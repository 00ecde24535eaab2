// Package ffi implements the FFI Surface (C10): the C-ABI entry points
// foreign code uses to create objects/arrays, read and write fields, and
// invoke methods by name (spec.md §4.8). This file holds the
// architecture-independent logic against plain Go types, in the spirit
// of internal/trampoline's classify.go/sysv_amd64.go split: ffi.go is
// the thin cgo-exported surface that marshals C arguments into calls
// here, so the bulk of the package is ordinary, testable Go.
package ffi

import (
	"fmt"
	"unsafe"

	"github.com/rowanvm/rowan/internal/interp"
	"github.com/rowanvm/rowan/internal/rclass"
	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
	"github.com/rowanvm/rowan/internal/vtable"
)

// Status mirrors spec.md §4.8's call_virtual/call_static/call_interface
// result convention, reused by every other entry point that can fail on
// an unresolved name.
type Status int

const (
	StatusOK        Status = 0
	StatusException Status = 1 // a thrown exception unwound out of the call
	StatusUnknown   Status = 2 // class or method name did not resolve
)

// ctxFromAddr reconstitutes the *interp.Context a native call's ctx
// pointer addresses, using the double unsafe.Pointer indirection
// gogpu-wgpu's ptrFromUintptr relies on to avoid a go vet unsafe-pointer
// violation (hal/vulkan/unsafe.go).
func ctxFromAddr(addr uintptr) *interp.Context {
	return *(**interp.Context)(unsafe.Pointer(&addr))
}

func lookupClass(c *interp.Context, name string) (symbol.Symbol, bool) {
	strSym, ok := c.Syms.LookupStringSymbol(name)
	if !ok {
		return 0, false
	}
	if cls, ok := c.Syms.LookupClass(strSym); ok {
		return cls, true
	}
	return c.Syms.LookupInterface(strSym)
}

// NewObject implements new_object(class-name-utf8) -> reference.
func NewObject(ctxAddr uintptr, className string) (uint64, error) {
	c := ctxFromAddr(ctxAddr)
	cls, ok := lookupClass(c, className)
	if !ok {
		return 0, fmt.Errorf("ffi: unknown class %q", className)
	}
	return c.Heap.NewObject(c.Classes, cls)
}

// NewArray implements new_array(ctx, element-tag-utf8, length) -> reference.
func NewArray(ctxAddr uintptr, elemTagName string, length int) (uint64, error) {
	c := ctxFromAddr(ctxAddr)
	tag, ok := tagByName[elemTagName]
	if !ok {
		return 0, fmt.Errorf("ffi: unknown element tag %q", elemTagName)
	}
	return c.Heap.NewArray(tag, length)
}

var tagByName = map[string]rtval.Tag{
	"u8": rtval.TagU8, "u16": rtval.TagU16, "u32": rtval.TagU32, "u64": rtval.TagU64,
	"i8": rtval.TagI8, "i16": rtval.TagI16, "i32": rtval.TagI32, "i64": rtval.TagI64,
	"f32": rtval.TagF32, "f64": rtval.TagF64, "object": rtval.TagObject,
}

// GetArrayBuffer implements get_array_buffer(array-ref) -> (pointer, length).
func GetArrayBuffer(ctxAddr uintptr, ref uint64) (unsafe.Pointer, int) {
	c := ctxFromAddr(ctxAddr)
	return c.Heap.BufferPointer(ref)
}

// BlockCollection promotes ref into the GC's pinned set. GC.Pin already
// walks ref's parent chain itself (spec.md §4.8: "promote/demote... and
// transitively its parents"), so this is a single call, not a loop.
func BlockCollection(ctxAddr uintptr, ref uint64) {
	ctxFromAddr(ctxAddr).GC.Pin(ref)
}

// AllowCollection reverses BlockCollection.
func AllowCollection(ctxAddr uintptr, ref uint64) {
	ctxFromAddr(ctxAddr).GC.Unpin(ref)
}

// CreateStringBuffer implements create_string_buffer(utf8) -> reference:
// a plain U8 array holding the UTF-8 bytes, distinct from the interned
// TagStr symbol table (the buffer is meant for a foreign caller to read
// raw bytes back out of, not to participate in class-file string
// indices).
func CreateStringBuffer(ctxAddr uintptr, s string) (uint64, error) {
	c := ctxFromAddr(ctxAddr)
	bytes := []byte(s)
	addr, err := c.Heap.NewArray(rtval.TagU8, len(bytes))
	if err != nil {
		return 0, err
	}
	for i, b := range bytes {
		c.Heap.ArraySet(addr, i, rtval.U8(b))
	}
	return addr, nil
}

// GetStringBuffer implements get_string_buffer(ref) -> (pointer, length).
func GetStringBuffer(ctxAddr uintptr, ref uint64) (unsafe.Pointer, int) {
	return GetArrayBuffer(ctxAddr, ref)
}

// Call implements call_virtual/call_interface's shared resolution path:
// viewSym names the vtable view (a class symbol for call_virtual, an
// interface symbol for call_interface — resolveVirtual treats both
// identically, per the composed-vtable aliasing internal/linker builds).
func Call(ctxAddr uintptr, viewName, methodName string, receiver uint64, args []rtval.Value) (rtval.Value, Status) {
	c := ctxFromAddr(ctxAddr)
	viewSym, ok := lookupClass(c, viewName)
	if !ok {
		return rtval.Value{}, StatusUnknown
	}
	methodSym, ok := c.Syms.LookupStringSymbol(methodName)
	if !ok {
		return rtval.Value{}, StatusUnknown
	}
	rec, owner, rerr := resolveVirtual(c, receiver, viewSym, methodSym)
	if rerr != nil {
		return rtval.Value{}, StatusUnknown
	}
	full := append([]rtval.Value{rtval.Ref(receiver)}, args...)
	ret, err := c.Invoke(rec, owner, full)
	if err != nil {
		return rtval.Value{}, StatusException
	}
	return ret, StatusOK
}

// CallStatic implements call_static(ctx, class-utf8, method-utf8, args...).
func CallStatic(ctxAddr uintptr, className, methodName string, args []rtval.Value) (rtval.Value, Status) {
	c := ctxFromAddr(ctxAddr)
	classSym, ok := lookupClass(c, className)
	if !ok {
		return rtval.Value{}, StatusUnknown
	}
	methodSym, ok := c.Syms.LookupStringSymbol(methodName)
	if !ok {
		return rtval.Value{}, StatusUnknown
	}
	rec, rerr := resolveStatic(c, classSym, methodSym)
	if rerr != nil {
		return rtval.Value{}, StatusUnknown
	}
	ret, err := c.Invoke(rec, classSym, args)
	if err != nil {
		return rtval.Value{}, StatusException
	}
	return ret, StatusOK
}

// SetObjectField implements set_object_field(ctx, ref, field-utf8, value).
func SetObjectField(ctxAddr uintptr, ref uint64, field string, v rtval.Value) Status {
	c := ctxFromAddr(ctxAddr)
	fieldSym, ok := c.Syms.LookupStringSymbol(field)
	if !ok {
		return StatusUnknown
	}
	resolved, m, ok := resolveField(c, ref, fieldSym)
	if !ok {
		return StatusUnknown
	}
	c.Heap.WriteField(resolved, m, v)
	return StatusOK
}

// GetObjectField implements get_object_field(ctx, ref, field-utf8, out-value).
func GetObjectField(ctxAddr uintptr, ref uint64, field string) (rtval.Value, Status) {
	c := ctxFromAddr(ctxAddr)
	fieldSym, ok := c.Syms.LookupStringSymbol(field)
	if !ok {
		return rtval.Value{}, StatusUnknown
	}
	resolved, m, ok := resolveField(c, ref, fieldSym)
	if !ok {
		return rtval.Value{}, StatusUnknown
	}
	return c.Heap.ReadField(resolved, m), StatusOK
}

// IsA implements the reflective rowan_is_a query (SPEC_FULL.md §12): a
// **[REDESIGN-FLAG]** departure from the original's isA, which conflates
// "not an instance" and "unresolved class name" into the same false.
// Here an unresolved name is reported as ok=false, distinguishable from
// a resolved-but-failed-match result (result=false, ok=true); the
// bytecode IsA opcode keeps the original's plain 0/1 semantics
// unchanged (exec.go's OpIsA).
func IsA(ctxAddr uintptr, ref uint64, className string) (result bool, ok bool) {
	c := ctxFromAddr(ctxAddr)
	target, found := lookupClass(c, className)
	if !found {
		return false, false
	}
	if ref == 0 {
		return false, true
	}
	return c.Classes.IsSubclassOf(c.Heap.ClassOf(ref), target), true
}

// resolveField walks ref's parent chain for the instance whose own class
// declares fieldSym, mirroring exec.go's GetField/SetField addressing
// (without the via-symbol: FFI callers only ever name a field, not a
// through-parent view).
func resolveField(c *interp.Context, ref uint64, fieldSym symbol.Symbol) (uint64, rclass.Member, bool) {
	cur := ref
	for cur != 0 {
		cls, ok := c.Classes.Lookup(c.Heap.ClassOf(cur))
		if ok {
			if idx, ok := cls.MemberIndex[fieldSym]; ok {
				return cur, cls.Members[idx], true
			}
		}
		cur = c.Heap.ParentOf(cur)
	}
	return 0, rclass.Member{}, false
}

// resolveVirtual/resolveStatic reimplement interp.Context's unexported
// dispatch resolution (dispatch.go) against its exported Classes/Store
// fields — this package sits outside interp and only needs read access
// to the same composed vtables, not the interpreter's own call machinery.
func resolveVirtual(c *interp.Context, receiver uint64, viewSym, method symbol.Symbol) (*vtable.FunctionRecord, symbol.Symbol, error) {
	actualClass := c.Heap.ClassOf(receiver)
	cls, ok := c.Classes.Lookup(actualClass)
	if !ok {
		return nil, 0, fmt.Errorf("ffi: dispatch on unregistered class %d", actualClass)
	}
	storeIdx, ok := cls.Vtables[viewSym]
	if !ok {
		return nil, 0, fmt.Errorf("ffi: class %d has no vtable view for %d", actualClass, viewSym)
	}
	vt := c.Store.Get(storeIdx)
	rec, _, ok := vt.Lookup(method)
	if !ok {
		return nil, 0, fmt.Errorf("ffi: method %d not found in vtable %d", method, storeIdx)
	}
	return rec, actualClass, nil
}

func resolveStatic(c *interp.Context, classSym, method symbol.Symbol) (*vtable.FunctionRecord, error) {
	cls, ok := c.Classes.Lookup(classSym)
	if !ok {
		return nil, fmt.Errorf("ffi: unknown class %d", classSym)
	}
	vt := c.Store.Get(cls.StaticMethodsVTable)
	rec, _, ok := vt.Lookup(method)
	if !ok {
		return nil, fmt.Errorf("ffi: static method %d not found on class %d", method, classSym)
	}
	return rec, nil
}
