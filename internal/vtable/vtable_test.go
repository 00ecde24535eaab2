package vtable

import (
	"testing"

	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
)

func TestFunctionRecordStates(t *testing.T) {
	blank := NewBlank(1, nil, rtval.TagI32)
	if blank.State() != SlotBlank {
		t.Errorf("NewBlank state = %v, want SlotBlank", blank.State())
	}

	code := &Bytecode{}
	bc := NewBytecodeOnly(1, nil, rtval.TagI32, code)
	if bc.State() != SlotBytecodeOnly {
		t.Errorf("NewBytecodeOnly state = %v, want SlotBytecodeOnly", bc.State())
	}
	if got, ok := bc.Bytecode(); !ok || got != code {
		t.Errorf("Bytecode() = (%v, %v), want (code, true)", got, ok)
	}

	builtin := NewBuiltin(1, nil, rtval.TagI32, func(any, []rtval.Value) (rtval.Value, error) {
		return rtval.Blank, nil
	})
	if builtin.State() != SlotBuiltin {
		t.Errorf("NewBuiltin state = %v, want SlotBuiltin", builtin.State())
	}
	if _, ok := builtin.Builtin(); !ok {
		t.Errorf("Builtin() ok = false, want true")
	}

	native := NewNative(1, nil, rtval.TagI32, 0xdead)
	if native.State() != SlotNative {
		t.Errorf("NewNative state = %v, want SlotNative", native.State())
	}
	if ptr, ok := native.Native(); !ok || ptr != 0xdead {
		t.Errorf("Native() = (%#x, %v), want (0xdead, true)", ptr, ok)
	}
}

func TestTryPublishCompiledTransitionsOnce(t *testing.T) {
	rec := NewBytecodeOnly(1, nil, rtval.TagI32, &Bytecode{})
	if !rec.TryPublishCompiled(0x1000, []int{1, 2}) {
		t.Fatalf("first TryPublishCompiled: want true")
	}
	if rec.State() != SlotCompiled {
		t.Fatalf("state after publish = %v, want SlotCompiled", rec.State())
	}
	if rec.TryPublishCompiled(0x2000, nil) {
		t.Errorf("second TryPublishCompiled on an already-compiled slot: want false")
	}
	ptr, spill, ok := rec.Compiled()
	if !ok || ptr != 0x1000 || len(spill) != 2 {
		t.Errorf("Compiled() = (%#x, %v, %v), want (0x1000, [1 2], true) — second publish must not overwrite", ptr, spill, ok)
	}
}

func TestTryPublishCompiledRejectsFixedSlots(t *testing.T) {
	builtin := NewBuiltin(1, nil, rtval.TagI32, func(any, []rtval.Value) (rtval.Value, error) {
		return rtval.Blank, nil
	})
	if builtin.TryPublishCompiled(0x1000, nil) {
		t.Errorf("TryPublishCompiled on a builtin slot: want false, builtin/native never transition")
	}
}

func TestVTableAddAndLookup(t *testing.T) {
	vt := New(symbol.Symbol(1))
	rec := NewBlank(symbol.Symbol(10), nil, rtval.TagI32)
	idx := vt.Add(symbol.Symbol(10), rec)
	if idx != 0 {
		t.Fatalf("first Add index = %d, want 0", idx)
	}
	got, gotIdx, ok := vt.Lookup(symbol.Symbol(10))
	if !ok || got != rec || gotIdx != idx {
		t.Errorf("Lookup = (%v, %d, %v), want (rec, 0, true)", got, gotIdx, ok)
	}
	if _, _, ok := vt.Lookup(symbol.Symbol(999)); ok {
		t.Errorf("Lookup of an unknown name: ok = true, want false")
	}
}

func TestVTableLookupPastSmallTableThreshold(t *testing.T) {
	vt := New(symbol.Symbol(1))
	for i := 0; i < SmallTableThreshold+5; i++ {
		vt.Add(symbol.Symbol(100+i), NewBlank(symbol.Symbol(100+i), nil, rtval.TagI32))
	}
	for i := 0; i < SmallTableThreshold+5; i++ {
		rec, idx, ok := vt.Lookup(symbol.Symbol(100 + i))
		if !ok || idx != i || rec.Name != symbol.Symbol(100+i) {
			t.Fatalf("Lookup(%d) = (%v, %d, %v), want slot %d", 100+i, rec, idx, ok, i)
		}
	}
}

func TestVTableCloneIsIndependent(t *testing.T) {
	vt := New(symbol.Symbol(1))
	orig := NewBlank(symbol.Symbol(10), nil, rtval.TagI32)
	vt.Add(symbol.Symbol(10), orig)

	clone := vt.Clone()
	override := NewBlank(symbol.Symbol(10), nil, rtval.TagI32)
	clone.Set(0, override)

	got, _, _ := vt.Lookup(symbol.Symbol(10))
	if got != orig {
		t.Errorf("overriding a clone's slot mutated the original vtable")
	}
	got, _, _ = clone.Lookup(symbol.Symbol(10))
	if got != override {
		t.Errorf("Clone().Set() did not take effect on the clone")
	}
}

func TestStoreRegisterAndGet(t *testing.T) {
	s := NewStore()
	vt := New(symbol.Symbol(1))
	idx := s.Register(vt)
	if s.Get(idx) != vt {
		t.Errorf("Get(Register(vt)) != vt")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}
