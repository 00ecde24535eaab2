package interp

import (
	"fmt"
	"unsafe"

	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
	"github.com/rowanvm/rowan/internal/trampoline"
	"github.com/rowanvm/rowan/internal/vtable"
)

// resolveVirtual implements spec.md §4.3's virtual call resolution: find
// the receiver's actual class, fetch the vtable keyed by the via-parent
// symbol (or the static class symbol if no via-parent was named), then
// locate the method record by name.
func (c *Context) resolveVirtual(receiver uint64, classSym, viaSym, method symbol.Symbol) (*vtable.FunctionRecord, symbol.Symbol, error) {
	actualClass := c.Heap.ClassOf(receiver)
	cls, ok := c.Classes.Lookup(actualClass)
	if !ok {
		return nil, 0, fmt.Errorf("interp: dispatch on unregistered class %d", actualClass)
	}
	key := viaSym
	if key == symbol.Null {
		key = classSym
	}
	storeIdx, ok := cls.Vtables[key]
	if !ok {
		return nil, 0, fmt.Errorf("interp: class %d has no vtable view for %d", actualClass, key)
	}
	vt := c.Store.Get(storeIdx)
	rec, _, ok := vt.Lookup(method)
	if !ok {
		return nil, 0, fmt.Errorf("interp: method %d not found in vtable %d", method, storeIdx)
	}
	return rec, actualClass, nil
}

// resolveStatic implements spec.md §4.3's static call resolution: a
// class's single static-methods vtable, looked up by name.
func (c *Context) resolveStatic(classSym, method symbol.Symbol) (*vtable.FunctionRecord, error) {
	cls, ok := c.Classes.Lookup(classSym)
	if !ok {
		return nil, fmt.Errorf("interp: unknown class %d", classSym)
	}
	vt := c.Store.Get(cls.StaticMethodsVTable)
	rec, _, ok := vt.Lookup(method)
	if !ok {
		return nil, fmt.Errorf("interp: static method %d not found on class %d", method, classSym)
	}
	return rec, nil
}

// invoke runs rec's callable slot to completion, interpreting bytecode,
// requesting JIT compilation on first encounter, calling builtin slots
// directly as Go functions, or dialing through the native trampoline for
// native/compiled slots (spec.md §4.3 steps 3-4).
func (c *Context) invoke(rec *vtable.FunctionRecord, owner symbol.Symbol, args []rtval.Value) (rtval.Value, error) {
	switch rec.State() {
	case vtable.SlotBuiltin:
		fn, _ := rec.Builtin()
		return fn(c, args)

	case vtable.SlotNative:
		ptr, _ := rec.Native()
		return trampoline.Invoke(ptr, uintptr(unsafe.Pointer(c)), args, rec.RetType)

	case vtable.SlotCompiled:
		ptr, _, _ := rec.Compiled()
		return trampoline.Invoke(ptr, uintptr(unsafe.Pointer(c)), args, rec.RetType)

	case vtable.SlotBlank:
		return rtval.Value{}, fmt.Errorf("interp: call to abstract method (no body)")

	case vtable.SlotBytecodeOnly:
		if c.Compile != nil {
			c.Compile.RequestCompile(rec, rec.ArgTypes, rec.RetType)
			if rec.State() == vtable.SlotCompiled {
				ptr, _, _ := rec.Compiled()
				return trampoline.Invoke(ptr, uintptr(unsafe.Pointer(c)), args, rec.RetType)
			}
		}
		code, ok := rec.Bytecode()
		if !ok {
			return rtval.Value{}, fmt.Errorf("interp: bytecode-only method has no bytecode")
		}
		return c.execFrame(newFrame(code, owner, args))

	default:
		return rtval.Value{}, fmt.Errorf("interp: unknown callable slot state")
	}
}
