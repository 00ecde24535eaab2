package trampoline

import (
	"testing"

	"github.com/rowanvm/rowan/internal/rtval"
)

// ints returns n arbitrary integer-class arguments.
func ints(n int) []rtval.Value {
	out := make([]rtval.Value, n)
	for i := range out {
		out[i] = rtval.I64(int64(i + 1))
	}
	return out
}

func floats(n int) []rtval.Value {
	out := make([]rtval.Value, n)
	for i := range out {
		out[i] = rtval.F64(float64(i) + 0.5)
	}
	return out
}

func TestClassifySysVBoundaryCases(t *testing.T) {
	cases := []struct {
		name              string
		args              []rtval.Value
		wantIntRegs       int
		wantFloatRegs     int
		wantStack         int
		wantPadded        bool
	}{
		{"zero args", nil, 0, 0, 0, false},
		{"five ints exactly fill registers", ints(5), 5, 0, 0, false},
		{"six ints spill one to stack, padded", ints(6), 5, 0, 2, true},
		{"eight floats exactly fill registers", floats(8), 0, 8, 0, false},
		{"nine floats spill one to stack, padded", floats(9), 0, 8, 2, true},
		{"mixed seven ints seven floats", append(ints(7), floats(7)...), 5, 7, 2, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			plan := ClassifySysV(c.args)
			if len(plan.IntArgs) != c.wantIntRegs {
				t.Errorf("IntArgs = %d, want %d", len(plan.IntArgs), c.wantIntRegs)
			}
			if len(plan.FloatArgs) != c.wantFloatRegs {
				t.Errorf("FloatArgs = %d, want %d", len(plan.FloatArgs), c.wantFloatRegs)
			}
			if len(plan.StackWords) != c.wantStack {
				t.Errorf("StackWords = %d, want %d", len(plan.StackWords), c.wantStack)
			}
			if plan.Padded != c.wantPadded {
				t.Errorf("Padded = %v, want %v", plan.Padded, c.wantPadded)
			}
			if len(plan.StackWords)%2 != 0 {
				t.Errorf("stack word count %d is not 16-byte aligned", len(plan.StackWords))
			}
		})
	}
}

func TestSplitSysVArgsUncappedByClass(t *testing.T) {
	// Unlike ClassifySysV's Plan, SplitSysVArgs must not stop at the
	// register boundary: Invoke relies on it to hand the C shim the full
	// per-class list (up to 10 of each) so the host compiler can place
	// registers 5+ (ints) / 8+ (floats) on the stack itself.
	cases := []struct {
		name       string
		args       []rtval.Value
		wantInts   int
		wantFloats int
	}{
		{"six ints", ints(6), 6, 0},
		{"nine floats", floats(9), 0, 9},
		{"mixed seven and seven", append(ints(7), floats(7)...), 7, 7},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			gotInts, gotFloats, gotIsF32 := SplitSysVArgs(c.args)
			if len(gotInts) != c.wantInts {
				t.Errorf("ints = %d, want %d", len(gotInts), c.wantInts)
			}
			if len(gotFloats) != c.wantFloats {
				t.Errorf("floats = %d, want %d", len(gotFloats), c.wantFloats)
			}
			if len(gotFloats) != len(gotIsF32) {
				t.Errorf("floatIsF32 length %d != floats length %d", len(gotIsF32), len(gotFloats))
			}
			if len(gotInts) > maxTrampolineIntsForTest || len(gotFloats) > maxTrampolineIntsForTest {
				t.Errorf("split exceeds the shim's supported arity")
			}
		})
	}
}

// maxTrampolineIntsForTest mirrors sysv_amd64.go's maxTrampolineInts/Floats
// (10), duplicated here since that constant lives behind the amd64 build
// tag and this test must build on every architecture.
const maxTrampolineIntsForTest = 10

func TestClassifySysVPreservesOverflowOrder(t *testing.T) {
	// Seven integer args: five fit in registers, two spill to the stack.
	// The stack must carry the spilled values in original argument order
	// once un-reversed, i.e. StackWords reads left-to-right as args[5],
	// args[6] after accounting for the push-order reversal.
	args := ints(7)
	plan := ClassifySysV(args)
	if len(plan.StackWords) != 2 {
		t.Fatalf("expected 2 stack words, got %d", len(plan.StackWords))
	}
	if plan.StackWords[0] != args[5].Bits() || plan.StackWords[1] != args[6].Bits() {
		t.Errorf("stack words out of order: got %v", plan.StackWords)
	}
}
