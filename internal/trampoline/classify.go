// Package trampoline implements the Native Call Trampoline (C8):
// building a C-ABI call at runtime from a dynamically-typed argument
// vector (spec.md §4.7). classify.go holds the architecture-independent
// argument-classification algorithm; sysv_amd64.go and win64_amd64.go
// hold the two ABI-specific invokers.
package trampoline

import "github.com/rowanvm/rowan/internal/rtval"

// Plan is the outcome of classifying a call's arguments into ABI
// register/stack slots, spec.md §4.7's algorithm made inspectable (and,
// in tests, directly assertable without an actual call).
type Plan struct {
	// IntArgs holds integer-class argument bits (i8..i64, references)
	// destined for general-purpose argument registers, in order. The
	// context pointer is NOT included here — callers prepend it
	// themselves, since it always occupies the first integer register.
	IntArgs []uint64

	// FloatArgs holds float-class argument bits (f32 bit-extended to 64
	// bits is avoided: f32 values are carried as their raw 32-bit
	// pattern zero-extended, matching how a C `float` occupies the low
	// 32 bits of an XMM register) destined for XMM registers, in order.
	FloatArgs []uint64
	// FloatIsF32 parallels FloatArgs, true where the original value was
	// f32 (so the invoker loads 4 bytes instead of 8).
	FloatIsF32 []bool

	// StackWords holds the overflow arguments, in right-to-left push
	// order already applied (StackWords[0] is pushed last / ends up at
	// the lowest address), one 8-byte word per argument regardless of
	// width (every stack slot is word-sized per the ABI).
	StackWords []uint64

	// Padded reports whether a one-word alignment pad was inserted
	// ahead of the stack arguments (spec.md: "if odd, pre-pad the stack
	// by one word so the call boundary is 16-byte aligned").
	Padded bool
}

// sysVIntRegs is the number of general-purpose argument registers
// available to the native trampoline AFTER the context pointer consumes
// the first one: spec.md §4.7 "six total, one already consumed by the
// context pointer → five available".
const sysVIntRegs = 5

// sysVFloatRegs is the number of XMM argument registers.
const sysVFloatRegs = 8

// ClassifySysV implements spec.md §4.7's System V amd64 algorithm:
// integer-class arguments fill sysVIntRegs registers then spill to the
// stack; float-class arguments fill sysVFloatRegs XMM registers then
// spill to the stack; stack arguments are counted and, if their count is
// odd, pre-padded by one word.
func ClassifySysV(args []rtval.Value) Plan {
	var p Plan
	var intOverflow, floatOverflow []rtval.Value

	for _, a := range args {
		if a.Tag.IsFloat() {
			if len(p.FloatArgs) < sysVFloatRegs {
				p.FloatArgs = append(p.FloatArgs, floatBits(a))
				p.FloatIsF32 = append(p.FloatIsF32, a.Tag == rtval.TagF32)
			} else {
				floatOverflow = append(floatOverflow, a)
			}
			continue
		}
		if len(p.IntArgs) < sysVIntRegs {
			p.IntArgs = append(p.IntArgs, a.Bits())
		} else {
			intOverflow = append(intOverflow, a)
		}
	}

	// Stack arguments are pushed right-to-left, so StackWords lists them
	// from the lowest address up: overflow ints first, then overflow
	// floats, each in original left-to-right argument order. StackWords[0]
	// is pushed last and ends closest to the return address after CALL.
	var stack []uint64
	for _, a := range intOverflow {
		stack = append(stack, a.Bits())
	}
	for _, a := range floatOverflow {
		stack = append(stack, floatBits(a))
	}
	// The pad word is pushed first, so it sits above the arguments.
	if len(stack)%2 != 0 {
		p.Padded = true
		stack = append(stack, 0)
	}
	p.StackWords = stack
	return p
}

// SplitSysVArgs partitions args into ordered integer-class and float-class
// lists with no register-count cap, preserving argument order within each
// class. It exists for invokers (sysv_amd64.go's Invoke) that hand the full
// per-class list to a C shim whose fixed-arity signature lets the host
// compiler's own System V lowering place registers 5+ (ints) and 8+
// (floats) on the stack itself — unlike ClassifySysV, which stops counting
// at the true register boundary and reports the rest as StackWords for
// callers that build the stack frame by hand.
func SplitSysVArgs(args []rtval.Value) (ints []uint64, floats []uint64, floatIsF32 []bool) {
	for _, a := range args {
		if a.Tag.IsFloat() {
			floats = append(floats, floatBits(a))
			floatIsF32 = append(floatIsF32, a.Tag == rtval.TagF32)
		} else {
			ints = append(ints, a.Bits())
		}
	}
	return ints, floats, floatIsF32
}

func floatBits(v rtval.Value) uint64 {
	if v.Tag == rtval.TagF32 {
		return uint64(uint32(v.Bits()))
	}
	return v.Bits()
}

// winIntRegs is Win64's general-purpose argument register count
// (rcx,rdx,r8,r9), minus one for the context pointer.
const winIntRegs = 3

// On Win64, float args share register *slots* with integer
// args by position (arg i goes to XMM_i if float, GP_i if integer) —
// distinct from System V's independent int/float counters. ClassifyWin64
// models that: every argument, float or not, consumes one of the four
// slots (one already used by the context pointer).
func ClassifyWin64(args []rtval.Value) Plan {
	var p Plan
	const totalSlots = 4 - 1 // ctx consumes slot 0
	var overflow []rtval.Value
	for i, a := range args {
		if i < totalSlots {
			if a.Tag.IsFloat() {
				p.FloatArgs = append(p.FloatArgs, floatBits(a))
				p.FloatIsF32 = append(p.FloatIsF32, a.Tag == rtval.TagF32)
				p.IntArgs = append(p.IntArgs, 0) // slot reserved, unused on the int side
			} else {
				p.IntArgs = append(p.IntArgs, a.Bits())
				p.FloatArgs = append(p.FloatArgs, 0)
				p.FloatIsF32 = append(p.FloatIsF32, false)
			}
		} else {
			overflow = append(overflow, a)
		}
	}
	// Win64 always reserves 32 bytes of shadow space below the return
	// address in addition to any true stack arguments; callers add that
	// separately (see win64_amd64.go) since it is not part of the
	// argument Plan.
	var stack []uint64
	for _, a := range overflow {
		stack = append(stack, a.Bits())
	}
	p.StackWords = stack
	return p
}
