package rclass

import (
	"testing"

	"github.com/rowanvm/rowan/internal/rtval"
	"github.com/rowanvm/rowan/internal/symbol"
)

func TestAddMemberAlignsAndOffsets(t *testing.T) {
	cls := New(1)
	u8 := cls.AddMember(10, rtval.TagU8, 0)
	i32 := cls.AddMember(11, rtval.TagI32, 0)
	u8b := cls.AddMember(12, rtval.TagU8, 0)

	if cls.Members[u8].Offset != 0 {
		t.Errorf("first member offset = %d, want 0", cls.Members[u8].Offset)
	}
	if cls.Members[i32].Offset%4 != 0 {
		t.Errorf("i32 member offset %d is not 4-byte aligned", cls.Members[i32].Offset)
	}
	if cls.Members[i32].Offset == cls.Members[u8].Offset {
		t.Errorf("i32 member overlaps the preceding u8 member")
	}
	if cls.Members[u8b].Offset <= cls.Members[i32].Offset {
		t.Errorf("trailing u8 member did not follow the i32 member")
	}
}

func TestSizedMemberUsesSizedLen(t *testing.T) {
	cls := New(1)
	idx := cls.AddMember(10, rtval.TagSized, 17)
	if got := cls.Members[idx].Size(); got != 17 {
		t.Errorf("Sized member Size() = %d, want 17", got)
	}
}

func TestStaticMemberRoundTrip(t *testing.T) {
	cls := New(1)
	idx := cls.AddStatic(10, rtval.I32(0))
	cls.SetStatic(idx, rtval.I32(42))
	if got := cls.GetStatic(idx).I32(); got != 42 {
		t.Errorf("GetStatic after SetStatic = %d, want 42", got)
	}
	if got, ok := cls.StaticIndex(10); !ok || got != idx {
		t.Errorf("StaticIndex = (%d, %v), want (%d, true)", got, ok, idx)
	}
}

func TestRegistryRejectsUnregisteredParent(t *testing.T) {
	reg := NewRegistry()
	child := New(2)
	child.Parent = 1
	if err := reg.Register(child); err == nil {
		t.Fatalf("Register with an unregistered parent: want error, got nil")
	}
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(New(1)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(New(1)); err == nil {
		t.Fatalf("Register with a duplicate class name: want error, got nil")
	}
}

func TestIsSubclassOf(t *testing.T) {
	reg := NewRegistry()
	object := New(1)
	if err := reg.Register(object); err != nil {
		t.Fatalf("Register(object): %v", err)
	}
	throwable := New(2)
	throwable.Parent = 1
	if err := reg.Register(throwable); err != nil {
		t.Fatalf("Register(throwable): %v", err)
	}
	exception := New(3)
	exception.Parent = 2
	if err := reg.Register(exception); err != nil {
		t.Fatalf("Register(exception): %v", err)
	}

	if !reg.IsSubclassOf(3, 1) {
		t.Errorf("IsSubclassOf(exception, object) = false, want true")
	}
	if !reg.IsSubclassOf(3, 3) {
		t.Errorf("IsSubclassOf(exception, exception) = false, want true (reflexive)")
	}
	if reg.IsSubclassOf(1, 3) {
		t.Errorf("IsSubclassOf(object, exception) = true, want false")
	}
	if reg.IsSubclassOf(symbol.Symbol(99), 1) {
		t.Errorf("IsSubclassOf with an unregistered child = true, want false")
	}
}

func TestStaticRootsCollectsObjectReferences(t *testing.T) {
	reg := NewRegistry()
	cls := New(1)
	cls.AddStatic(10, rtval.Ref(0)) // null, not a root
	cls.AddStatic(11, rtval.Ref(0x1000))
	cls.AddStatic(12, rtval.I32(5)) // not an object tag
	if err := reg.Register(cls); err != nil {
		t.Fatalf("Register: %v", err)
	}

	roots := reg.StaticRoots()
	if len(roots) != 1 || roots[0] != 0x1000 {
		t.Errorf("StaticRoots() = %v, want [0x1000]", roots)
	}
}
