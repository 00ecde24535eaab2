package builtin

import (
	"testing"

	"github.com/rowanvm/rowan/internal/heap"
	"github.com/rowanvm/rowan/internal/interp"
	"github.com/rowanvm/rowan/internal/linker"
	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
)

// newLinkedContext links only the builtin classes (no class file input)
// and returns a ready-to-use Context plus its Result, for exercising
// static builtin methods directly.
func newLinkedContext(t *testing.T) (*interp.Context, *linker.Result) {
	t.Helper()
	h, err := heap.New(heap.DefaultConfig())
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	gc := heap.NewGC(h, nil)
	t.Cleanup(gc.Shutdown)
	t.Cleanup(func() { h.Close() })

	result, err := linker.Load(Classes(), nil, h, gc, nil)
	if err != nil {
		t.Fatalf("linker.Load: %v", err)
	}
	well := WellKnown(result.Syms)
	ctx := interp.NewContext(result.Syms, result.Classes, result.Store, h, gc, nil, well)
	t.Cleanup(ctx.Close)
	return ctx, result
}

// lookupStatic resolves className's builtin class symbol and confirms
// methodName exists in its static methods vtable, the same path
// cmd/rowan's resolveMain uses for instance methods.
func lookupStatic(t *testing.T, result *linker.Result, className, methodName string) symbol.Symbol {
	t.Helper()
	nameSym, ok := result.Syms.LookupStringSymbol(className)
	if !ok {
		t.Fatalf("class %q was not linked", className)
	}
	classSym, ok := result.Syms.LookupClass(nameSym)
	if !ok {
		t.Fatalf("%q is not a class", className)
	}
	cls, ok := result.Classes.Lookup(classSym)
	if !ok {
		t.Fatalf("class %q not registered", className)
	}
	methodSym, ok := result.Syms.LookupStringSymbol(methodName)
	if !ok {
		t.Fatalf("method %q was not linked", methodName)
	}
	if _, _, ok := result.Store.Get(cls.StaticMethodsVTable).Lookup(methodSym); !ok {
		t.Fatalf("class %q has no static method %q", className, methodName)
	}
	return classSym
}

func invokeStatic(t *testing.T, ctx *interp.Context, result *linker.Result, className, methodName string, args []rtval.Value) rtval.Value {
	t.Helper()
	classSym := lookupStatic(t, result, className, methodName)
	cls, _ := result.Classes.Lookup(classSym)
	methodSym, _ := result.Syms.LookupStringSymbol(methodName)
	rec, _, _ := result.Store.Get(cls.StaticMethodsVTable).Lookup(methodSym)
	v, err := ctx.Invoke(rec, classSym, args)
	if err != nil {
		t.Fatalf("%s.%s: %v", className, methodName, err)
	}
	return v
}

func TestStringLengthAndConcat(t *testing.T) {
	ctx, result := newLinkedContext(t)

	hello := rtval.Str(uint32(result.Syms.InternString("hello")))
	world := rtval.Str(uint32(result.Syms.InternString("world")))

	got := invokeStatic(t, ctx, result, StringClass, "length", []rtval.Value{hello})
	if got.AsI64() != 5 {
		t.Errorf("String.length(\"hello\") = %d, want 5", got.AsI64())
	}

	cat := invokeStatic(t, ctx, result, StringClass, "concat", []rtval.Value{hello, world})
	s, _ := result.Syms.String(symbol.Symbol(cat.Bits()))
	if s != "helloworld" {
		t.Errorf("String.concat = %q, want %q", s, "helloworld")
	}

	eq := invokeStatic(t, ctx, result, StringClass, "equals", []rtval.Value{hello, hello})
	if eq.AsI64() != 1 {
		t.Errorf("String.equals(hello, hello) = %d, want 1", eq.AsI64())
	}
	neq := invokeStatic(t, ctx, result, StringClass, "equals", []rtval.Value{hello, world})
	if neq.AsI64() != 0 {
		t.Errorf("String.equals(hello, world) = %d, want 0", neq.AsI64())
	}
}

func TestArray64NewGetSet(t *testing.T) {
	ctx, result := newLinkedContext(t)

	arr := invokeStatic(t, ctx, result, Array64Class, "new", []rtval.Value{rtval.I64(4)})

	length := invokeStatic(t, ctx, result, Array64Class, "length", []rtval.Value{arr})
	if length.AsI64() != 4 {
		t.Errorf("Array64.length = %d, want 4", length.AsI64())
	}

	invokeStatic(t, ctx, result, Array64Class, "set", []rtval.Value{arr, rtval.I64(2), rtval.I64(42)})
	got := invokeStatic(t, ctx, result, Array64Class, "get", []rtval.Value{arr, rtval.I64(2)})
	if got.AsI64() != 42 {
		t.Errorf("Array64.get(2) = %d, want 42", got.AsI64())
	}
}

func TestArrayGetOutOfRangeErrors(t *testing.T) {
	ctx, result := newLinkedContext(t)

	arr := invokeStatic(t, ctx, result, Array8Class, "new", []rtval.Value{rtval.I64(1)})
	classSym := lookupStatic(t, result, Array8Class, "get")
	cls, _ := result.Classes.Lookup(classSym)
	methodSym, _ := result.Syms.LookupStringSymbol("get")
	rec, _, _ := result.Store.Get(cls.StaticMethodsVTable).Lookup(methodSym)

	if _, err := ctx.Invoke(rec, classSym, []rtval.Value{arr, rtval.I64(5)}); err == nil {
		t.Fatalf("Array8.get(5) on a length-1 array: want error, got nil")
	}
}
