// Package builtin implements the handful of VM-provided classes every
// program links against without a class file of their own: the root
// Object, the exception hierarchy the interpreter throws directly
// (spec.md §4.2/§7), and a minimal Printer for host output. Each is
// described as a linker.BuiltinClassDesc rather than constructed against
// rclass/vtable directly, so this package never needs to duplicate the
// Linker's vtable-composition logic.
package builtin

import (
	"fmt"
	"os"

	"github.com/rowanvm/rowan/internal/interp"
	"github.com/rowanvm/rowan/internal/linker"
	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
)

// Names of the well-known classes, exported so cmd/rowan can resolve
// interp.WellKnown symbols from the linked Class Registry after Load.
const (
	ObjectClass                    = "rowan.Object"
	ThrowableClass                 = "rowan.Throwable"
	ExceptionClass                 = "rowan.Exception"
	RuntimeExceptionClass          = "rowan.RuntimeException"
	NullPointerExceptionClass      = "rowan.NullPointerException"
	IndexOutOfBoundsExceptionClass = "rowan.IndexOutOfBoundsException"
	ClassCastExceptionClass        = "rowan.ClassCastException"
	DivideByZeroExceptionClass     = "rowan.DivideByZeroException"
	PrinterClass                   = "rowan.Printer"
	StringClass                    = "rowan.String"
	Array8Class                    = "rowan.Array8"
	Array16Class                   = "rowan.Array16"
	Array32Class                   = "rowan.Array32"
	Array64Class                   = "rowan.Array64"
	ArrayF32Class                  = "rowan.ArrayF32"
	ArrayF64Class                  = "rowan.ArrayF64"
	ArrayObjectClass               = "rowan.ArrayObject"
)

const messageMember = "message"

func ctxOf(ctx any) *interp.Context { return ctx.(*interp.Context) }

// classSym looks up an already-linked class by its builtin name; callers
// only ever pass names this package itself registered, so a missing
// entry means the Linker was never run against Classes().
func classSym(t *symbol.Table, name string) symbol.Symbol {
	sym, ok := t.LookupClass(t.InternString(name))
	if !ok {
		panic(fmt.Sprintf("builtin: class %q not linked", name))
	}
	return sym
}

// getMessage reads a Throwable's message field off the receiver (args[0]).
func getMessage(ctx any, args []rtval.Value) (rtval.Value, error) {
	c := ctxOf(ctx)
	throwableSym := classSym(c.Syms, ThrowableClass)
	recv := args[0]
	resolved, ok := c.Heap.ResolveView(recv.Addr(), throwableSym)
	if !ok {
		return rtval.Value{}, fmt.Errorf("builtin: receiver has no Throwable view")
	}
	cls, _ := c.Classes.Lookup(throwableSym)
	idx, ok := cls.MemberIndex[c.Syms.InternString(messageMember)]
	if !ok {
		return rtval.Value{}, fmt.Errorf("builtin: Throwable has no message member")
	}
	return c.Heap.ReadField(resolved, cls.Members[idx]), nil
}

func printStr(ctx any, args []rtval.Value) (rtval.Value, error) {
	c := ctxOf(ctx)
	s, _ := c.Syms.String(symbol.Symbol(args[0].Bits()))
	fmt.Fprintln(os.Stdout, s)
	return rtval.Blank, nil
}

func printInt(_ any, args []rtval.Value) (rtval.Value, error) {
	fmt.Fprintln(os.Stdout, args[0].AsI64())
	return rtval.Blank, nil
}

// === String (rowan.String) ===
//
// Strings are the intern-table symbol the TagStr opcodes already carry
// (rtval.Str), not a heap-resident instance, so rowan.String has no
// instance side: every operation is a static method taking the interned
// string as its first argument, the same shape Printer already uses for
// its host-output entry points.

func stringLength(ctx any, args []rtval.Value) (rtval.Value, error) {
	c := ctxOf(ctx)
	s, ok := c.Syms.String(symbol.Symbol(args[0].Bits()))
	if !ok {
		return rtval.Value{}, fmt.Errorf("builtin: String.length: unknown interned string")
	}
	return rtval.I64(int64(len(s))), nil
}

func stringConcat(ctx any, args []rtval.Value) (rtval.Value, error) {
	c := ctxOf(ctx)
	a, _ := c.Syms.String(symbol.Symbol(args[0].Bits()))
	b, _ := c.Syms.String(symbol.Symbol(args[1].Bits()))
	return rtval.Str(uint32(c.Syms.InternString(a + b))), nil
}

func stringEquals(ctx any, args []rtval.Value) (rtval.Value, error) {
	eq := int64(0)
	if args[0].Bits() == args[1].Bits() {
		eq = 1
	}
	return rtval.I64(eq), nil
}

// === Arrays (rowan.Array8/16/32/64/F32/F64/Object) ===
//
// Arrays are raw elem-tagged heap blocks (heap.Heap.NewArray/ArrayGet/
// ArraySet), addressed directly by the Array* opcodes rather than through
// a vtable — the same reason String has no instance side. The classes
// below package the same primitives as a static-method namespace per
// element width, so host code and reflective callers (anything that
// only has a class name, not a bytecode CreateArray instruction) can
// reach them too. Bounds failures surface as a plain Go error rather
// than a catchable rowan.IndexOutOfBoundsException: unlike exec.go's
// opcode handlers, a builtin.BuiltinFunc in this package has no access
// to interp.Context's unexported throwWellKnown, so these are host-API
// boundaries rather than bytecode-level operations.

func arrayNew(elemTag rtval.Tag) linker.MethodDesc {
	return linker.MethodDesc{
		Name: "new",
		Args: []rtval.Tag{rtval.TagI64},
		Ret:  rtval.TagObject,
		Fn: func(ctx any, args []rtval.Value) (rtval.Value, error) {
			c := ctxOf(ctx)
			n := args[0].AsI64()
			if n < 0 {
				return rtval.Value{}, fmt.Errorf("builtin: Array.new: negative length %d", n)
			}
			addr, err := c.Heap.NewArray(elemTag, int(n))
			if err != nil {
				return rtval.Value{}, err
			}
			return rtval.Ref(addr), nil
		},
	}
}

func arrayLength() linker.MethodDesc {
	return linker.MethodDesc{
		Name: "length",
		Args: []rtval.Tag{rtval.TagObject},
		Ret:  rtval.TagI64,
		Fn: func(ctx any, args []rtval.Value) (rtval.Value, error) {
			return rtval.I64(int64(ctxOf(ctx).Heap.ArrayLen(args[0].Addr()))), nil
		},
	}
}

func arrayGet(elemTag rtval.Tag) linker.MethodDesc {
	return linker.MethodDesc{
		Name: "get",
		Args: []rtval.Tag{rtval.TagObject, rtval.TagI64},
		Ret:  elemTag,
		Fn: func(ctx any, args []rtval.Value) (rtval.Value, error) {
			c := ctxOf(ctx)
			addr := args[0].Addr()
			i := int(args[1].AsI64())
			if i < 0 || i >= c.Heap.ArrayLen(addr) {
				return rtval.Value{}, fmt.Errorf("builtin: Array.get: index %d out of range", i)
			}
			return c.Heap.ArrayGet(addr, i), nil
		},
	}
}

func arraySet(elemTag rtval.Tag) linker.MethodDesc {
	return linker.MethodDesc{
		Name: "set",
		Args: []rtval.Tag{rtval.TagObject, rtval.TagI64, elemTag},
		Ret:  rtval.TagBlank,
		Fn: func(ctx any, args []rtval.Value) (rtval.Value, error) {
			c := ctxOf(ctx)
			addr := args[0].Addr()
			i := int(args[1].AsI64())
			if i < 0 || i >= c.Heap.ArrayLen(addr) {
				return rtval.Value{}, fmt.Errorf("builtin: Array.set: index %d out of range", i)
			}
			c.Heap.ArraySet(addr, i, args[2])
			return rtval.Blank, nil
		},
	}
}

// arrayClassDesc builds one Array* namespace class for elemTag.
func arrayClassDesc(name string, elemTag rtval.Tag) linker.BuiltinClassDesc {
	return linker.BuiltinClassDesc{
		Name: name,
		StaticMethods: []linker.MethodDesc{
			arrayNew(elemTag),
			arrayLength(),
			arrayGet(elemTag),
			arraySet(elemTag),
		},
	}
}

// Classes returns every VM-provided class/interface, in parent-before-
// child order, ready for linker.Load.
func Classes() []linker.BuiltinClassDesc {
	return []linker.BuiltinClassDesc{
		{
			Name: ObjectClass,
		},
		{
			Name:   ThrowableClass,
			Parent: ObjectClass,
			Members: []linker.MemberDesc{
				{Name: messageMember, Tag: rtval.TagStr},
			},
			Methods: []linker.MethodDesc{
				{Name: "getMessage", Args: []rtval.Tag{rtval.TagObject}, Ret: rtval.TagStr, Fn: getMessage},
			},
		},
		{Name: ExceptionClass, Parent: ThrowableClass},
		{Name: RuntimeExceptionClass, Parent: ExceptionClass},
		{Name: NullPointerExceptionClass, Parent: RuntimeExceptionClass},
		{Name: IndexOutOfBoundsExceptionClass, Parent: RuntimeExceptionClass},
		{Name: ClassCastExceptionClass, Parent: RuntimeExceptionClass},
		{Name: DivideByZeroExceptionClass, Parent: RuntimeExceptionClass},
		{
			Name: PrinterClass,
			StaticMethods: []linker.MethodDesc{
				{Name: "println", Args: []rtval.Tag{rtval.TagStr}, Ret: rtval.TagBlank, Fn: printStr},
				{Name: "printStr", Args: []rtval.Tag{rtval.TagStr}, Ret: rtval.TagBlank, Fn: printStr},
				{Name: "printInt", Args: []rtval.Tag{rtval.TagI64}, Ret: rtval.TagBlank, Fn: printInt},
			},
		},
		{
			Name: StringClass,
			StaticMethods: []linker.MethodDesc{
				{Name: "length", Args: []rtval.Tag{rtval.TagStr}, Ret: rtval.TagI64, Fn: stringLength},
				{Name: "concat", Args: []rtval.Tag{rtval.TagStr, rtval.TagStr}, Ret: rtval.TagStr, Fn: stringConcat},
				{Name: "equals", Args: []rtval.Tag{rtval.TagStr, rtval.TagStr}, Ret: rtval.TagI64, Fn: stringEquals},
			},
		},
		arrayClassDesc(Array8Class, rtval.TagI8),
		arrayClassDesc(Array16Class, rtval.TagI16),
		arrayClassDesc(Array32Class, rtval.TagI32),
		arrayClassDesc(Array64Class, rtval.TagI64),
		arrayClassDesc(ArrayF32Class, rtval.TagF32),
		arrayClassDesc(ArrayF64Class, rtval.TagF64),
		arrayClassDesc(ArrayObjectClass, rtval.TagObject),
	}
}

// Message reads a Throwable instance's message field directly, for
// cmd/rowan's unhandled-exception report (spec.md §8 scenario 3): it
// needs the same field getMessage exposes to bytecode, but without
// going through a vtable dispatch for an object that may be escaping
// the frame stack entirely.
func Message(c *interp.Context, addr uint64) string {
	throwableSym := classSym(c.Syms, ThrowableClass)
	resolved, ok := c.Heap.ResolveView(addr, throwableSym)
	if !ok {
		return ""
	}
	cls, _ := c.Classes.Lookup(throwableSym)
	idx, ok := cls.MemberIndex[c.Syms.InternString(messageMember)]
	if !ok {
		return ""
	}
	v := c.Heap.ReadField(resolved, cls.Members[idx])
	s, _ := c.Syms.String(symbol.Symbol(v.Bits()))
	return s
}

// WellKnown resolves the interp.WellKnown exception symbols from a
// linked symbol table, once linker.Load has returned.
func WellKnown(syms *symbol.Table) interp.WellKnown {
	return interp.WellKnown{
		NullPointerException:      classSym(syms, NullPointerExceptionClass),
		IndexOutOfBoundsException: classSym(syms, IndexOutOfBoundsExceptionClass),
		ClassCastException:        classSym(syms, ClassCastExceptionClass),
		DivideByZeroException:     classSym(syms, DivideByZeroExceptionClass),
	}
}
