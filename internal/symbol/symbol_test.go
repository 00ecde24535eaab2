package symbol

import "testing"

func TestInternStringDedups(t *testing.T) {
	tab := New()
	a := tab.InternString("widget.Widget")
	b := tab.InternString("widget.Widget")
	if a != b {
		t.Fatalf("InternString returned different symbols for the same string: %d vs %d", a, b)
	}
	if got, ok := tab.String(a); !ok || got != "widget.Widget" {
		t.Errorf("String(a) = (%q, %v), want (\"widget.Widget\", true)", got, ok)
	}
}

func TestNewClassDedups(t *testing.T) {
	tab := New()
	name := tab.InternString("widget.Widget")
	c1 := tab.NewClass(name)
	c2 := tab.NewClass(name)
	if c1 != c2 {
		t.Fatalf("NewClass returned different symbols for the same name: %d vs %d", c1, c2)
	}
	if tab.Kind(c1) != KindClass {
		t.Errorf("Kind(c1) = %v, want KindClass", tab.Kind(c1))
	}
	if got, ok := tab.Name(c1); !ok || got != name {
		t.Errorf("Name(c1) = (%d, %v), want (%d, true)", got, ok, name)
	}
}

func TestClassAndInterfaceNamesIndependent(t *testing.T) {
	tab := New()
	name := tab.InternString("widget.Widget")
	cls := tab.NewClass(name)
	iface := tab.NewInterface(name)
	if cls == iface {
		t.Fatalf("class and interface symbols for the same name collided: %d", cls)
	}
	if _, ok := tab.LookupClass(name); !ok {
		t.Errorf("LookupClass: not found after NewClass")
	}
	if _, ok := tab.LookupInterface(name); !ok {
		t.Errorf("LookupInterface: not found after NewInterface")
	}
}

func TestLookupMissing(t *testing.T) {
	tab := New()
	if _, ok := tab.LookupStringSymbol("nope"); ok {
		t.Errorf("LookupStringSymbol on a never-interned string: ok = true, want false")
	}
	if _, ok := tab.LookupClass(Null); ok {
		t.Errorf("LookupClass(Null): ok = true, want false")
	}
}

func TestKindOutOfRange(t *testing.T) {
	tab := New()
	if k := tab.Kind(Symbol(9999)); k != KindNone {
		t.Errorf("Kind of an out-of-range symbol = %v, want KindNone", k)
	}
	if k := tab.Kind(Null); k != KindNone {
		t.Errorf("Kind(Null) = %v, want KindNone", k)
	}
}

func TestMustStringPanicsOnNonString(t *testing.T) {
	tab := New()
	name := tab.InternString("widget.Widget")
	cls := tab.NewClass(name)

	defer func() {
		if recover() == nil {
			t.Fatalf("MustString on a class symbol did not panic")
		}
	}()
	tab.MustString(cls)
}

func TestLenCountsNullSlot(t *testing.T) {
	tab := New()
	if tab.Len() != 1 {
		t.Fatalf("Len() on a fresh table = %d, want 1 (the reserved Null slot)", tab.Len())
	}
	tab.InternString("a")
	tab.InternString("b")
	if tab.Len() != 3 {
		t.Errorf("Len() after two interns = %d, want 3", tab.Len())
	}
}
