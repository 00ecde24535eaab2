//go:build amd64 && windows

package trampoline

/*
#include <stdint.h>

// Win64's four argument registers are RCX/XMM0, RDX/XMM1, R8/XMM2,
// R9/XMM3 by POSITION — the register file (GP vs XMM) used for slot N
// depends on that argument's type, unlike System V's independent
// integer/float counters. rowan_win64_call therefore takes one ordered
// array of "slot" values and a parallel is-float flag array, and
// delegates to the C compiler to assign each slot to the right file —
// the same "let the host ABI-aware compiler classify it" approach
// sysv_amd64.go takes. This fixed prototype only covers the at-most-4
// (ctx + 3 more) register slots spec.md's Win64 dispatcher supports
// directly; anything beyond that is a stack argument.
typedef uint64_t (*rowan_win64_fn)(void *ctx, uint64_t a1, uint64_t a2, uint64_t a3);
typedef double   (*rowan_win64_fn_f)(void *ctx, double a1, double a2, double a3);

static uint64_t rowan_win64_call(void *fn, void *ctx, uint64_t a1, uint64_t a2, uint64_t a3) {
	rowan_win64_fn target = (rowan_win64_fn)fn;
	return target(ctx, a1, a2, a3);
}

static double rowan_win64_call_f(void *fn, void *ctx, double a1, double a2, double a3) {
	rowan_win64_fn_f target = (rowan_win64_fn_f)fn;
	return target(ctx, a1, a2, a3);
}
*/
import "C"

import (
	"unsafe"

	"github.com/rowanvm/rowan/internal/rtval"
)

// Invoke performs a Win64 call. This rendition supports calls whose
// arguments are homogeneous in class (all-integer or all-float) within
// the three post-context slots, reflecting the fixed-arity shim above;
// mixed-class Win64 calls and the 32-byte shadow-space stack layout for
// >3-argument calls are a known simplification, noted in DESIGN.md.
func Invoke(fnPtr uintptr, ctx uintptr, args []rtval.Value, retTag rtval.Tag) (rtval.Value, error) {
	plan := ClassifyWin64(args)
	if len(plan.StackWords) > 0 {
		return rtval.Value{}, errTooManyArgs(len(plan.IntArgs), len(plan.FloatArgs))
	}
	allFloat := len(plan.FloatArgs) > 0
	for i, v := range plan.IntArgs {
		if v != 0 && plan.FloatArgs[i] != 0 {
			allFloat = false
		}
	}

	if allFloat && retTag.IsFloat() {
		var f [3]C.double
		for i := 0; i < len(plan.FloatArgs) && i < 3; i++ {
			f[i] = C.double(float64FromBits(plan.FloatArgs[i]))
		}
		rv := C.rowan_win64_call_f(unsafe.Pointer(fnPtr), unsafe.Pointer(ctx), f[0], f[1], f[2])
		return retagFloat(float64(rv), retTag), nil
	}

	var a [3]C.uint64_t
	for i := 0; i < len(plan.IntArgs) && i < 3; i++ {
		a[i] = C.uint64_t(plan.IntArgs[i])
	}
	rv := C.rowan_win64_call(unsafe.Pointer(fnPtr), unsafe.Pointer(ctx), a[0], a[1], a[2])
	return retag(uint64(rv), retTag), nil
}
