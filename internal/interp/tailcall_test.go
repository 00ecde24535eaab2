package interp

import (
	"testing"

	"github.com/rowanvm/rowan/internal/heap"
	"github.com/rowanvm/rowan/internal/rclass"
	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
	"github.com/rowanvm/rowan/internal/vtable"
)

// buildCountdown links a single-method class whose only method tail-calls
// itself: countdown(n) returns n once n <= 0, otherwise tail-calls
// countdown(n-1) on the same receiver. Block 1 is the base case, block 2
// the recursive step.
func buildCountdown(syms *symbol.Table, reg *rclass.Registry, store *vtable.Store) (symbol.Symbol, symbol.Symbol) {
	classSym := syms.NewClass(syms.InternString("Counter"))
	methodSym := syms.InternString("countdown")

	code := &vtable.Bytecode{
		NumLocals:  0,
		MaxOperand: 4,
		Instrs: []vtable.Inst{
			{Op: vtable.OpLoadArgument, Index: 1},
			{Op: vtable.OpLoadI64, I64: 0},
			{Op: vtable.OpCmpLe, Tag: rtval.TagI64},
			{Op: vtable.OpIf, Then: 1, Else: 2},

			{Op: vtable.OpStartBlock, Index: 1},
			{Op: vtable.OpLoadArgument, Index: 1},
			{Op: vtable.OpReturn},

			{Op: vtable.OpStartBlock, Index: 2},
			{Op: vtable.OpLoadArgument, Index: 0},
			{Op: vtable.OpLoadArgument, Index: 1},
			{Op: vtable.OpLoadI64, I64: 1},
			{Op: vtable.OpSub, Tag: rtval.TagI64},
			{Op: vtable.OpInvokeVirtTail, Class: classSym, Method: methodSym, Index: 1},
			{Op: vtable.OpReturn},
		},
	}

	rec := vtable.NewBytecodeOnly(methodSym, []rtval.Tag{rtval.TagI64}, rtval.TagI64, code)
	vt := vtable.New(classSym)
	vt.Add(methodSym, rec)
	storeIdx := store.Register(vt)

	cls := rclass.New(classSym)
	cls.Vtables[classSym] = storeIdx
	if err := reg.Register(cls); err != nil {
		panic(err)
	}
	return classSym, methodSym
}

func newTailCallContext(t *testing.T) (*Context, symbol.Symbol, symbol.Symbol, uint64) {
	t.Helper()
	syms := symbol.New()
	reg := rclass.NewRegistry()
	store := vtable.NewStore()
	classSym, methodSym := buildCountdown(syms, reg, store)

	h, err := heap.New(heap.DefaultConfig())
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	gc := heap.NewGC(h, reg)
	t.Cleanup(gc.Shutdown)
	t.Cleanup(func() { h.Close() })

	recvAddr, err := h.NewObject(reg, classSym)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}

	ctx := NewContext(syms, reg, store, h, gc, nil, WellKnown{})
	t.Cleanup(ctx.Close)
	return ctx, classSym, methodSym, recvAddr
}

func TestTailCallReusesFrameAndReturnsCorrectResult(t *testing.T) {
	ctx, classSym, methodSym, recvAddr := newTailCallContext(t)
	cls, _ := ctx.Classes.Lookup(classSym)
	vt := ctx.Store.Get(cls.Vtables[classSym])
	rec, _, ok := vt.Lookup(methodSym)
	if !ok {
		t.Fatalf("countdown method not found")
	}

	const n = 5000
	v, err := ctx.Invoke(rec, classSym, []rtval.Value{rtval.Ref(recvAddr), rtval.I64(n)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if v.AsI64() != 0 {
		t.Errorf("countdown(%d) = %d, want 0", n, v.AsI64())
	}
	if depth := len(ctx.frames); depth != 0 {
		t.Errorf("frames left on the stack after return: %d, want 0", depth)
	}
}
