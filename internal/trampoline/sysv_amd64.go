//go:build amd64 && !windows

package trampoline

/*
#include <stdint.h>

// rowan_sysv_call relies on the host C compiler's own System V amd64
// classification to place ctx in rdi, i0..i4 in rsi/rdx/rcx/r8/r9, the
// first 8 doubles in xmm0-xmm7, and everything past those register
// counts on the stack exactly as spec.md §4.7 describes — rather than
// hand-rolled inline assembly, the real ABI-aware compiler that builds
// this cgo preamble does the register/stack classification, which is
// the same leverage `gogpu-wgpu`'s cgo-backed native bindings take from
// the host compiler for their own foreign calls.
typedef uint64_t (*rowan_sysv_fn)(
	void *ctx,
	uint64_t i0, uint64_t i1, uint64_t i2, uint64_t i3, uint64_t i4,
	uint64_t i5, uint64_t i6, uint64_t i7, uint64_t i8, uint64_t i9,
	double f0, double f1, double f2, double f3, double f4, double f5, double f6, double f7,
	double f8, double f9
);

typedef double (*rowan_sysv_fn_f)(
	void *ctx,
	uint64_t i0, uint64_t i1, uint64_t i2, uint64_t i3, uint64_t i4,
	uint64_t i5, uint64_t i6, uint64_t i7, uint64_t i8, uint64_t i9,
	double f0, double f1, double f2, double f3, double f4, double f5, double f6, double f7,
	double f8, double f9
);

static uint64_t rowan_sysv_call(void *fn, void *ctx,
	uint64_t *ints, int nints,
	double *floats, int nfloats) {
	uint64_t i[10] = {0};
	double f[10] = {0};
	for (int k = 0; k < nints && k < 10; k++) i[k] = ints[k];
	for (int k = 0; k < nfloats && k < 10; k++) f[k] = floats[k];
	rowan_sysv_fn target = (rowan_sysv_fn)fn;
	return target(ctx, i[0],i[1],i[2],i[3],i[4],i[5],i[6],i[7],i[8],i[9],
		f[0],f[1],f[2],f[3],f[4],f[5],f[6],f[7],f[8],f[9]);
}

// rowan_sysv_call_f is identical except it reads the return value out of
// XMM0 (a C `double` return) instead of RAX, for methods whose return
// type-tag is f32/f64.
static double rowan_sysv_call_f(void *fn, void *ctx,
	uint64_t *ints, int nints,
	double *floats, int nfloats) {
	uint64_t i[10] = {0};
	double f[10] = {0};
	for (int k = 0; k < nints && k < 10; k++) i[k] = ints[k];
	for (int k = 0; k < nfloats && k < 10; k++) f[k] = floats[k];
	rowan_sysv_fn_f target = (rowan_sysv_fn_f)fn;
	return target(ctx, i[0],i[1],i[2],i[3],i[4],i[5],i[6],i[7],i[8],i[9],
		f[0],f[1],f[2],f[3],f[4],f[5],f[6],f[7],f[8],f[9]);
}
*/
import "C"

import (
	"unsafe"

	"github.com/rowanvm/rowan/internal/rtval"
)

// maxTrampolineInts/Floats bound how many of each class a single native
// call may carry through rowan_sysv_call. spec.md §8's boundary cases
// (0, 5, 6, 8, 9, and mixed 7-and-7) all fit comfortably.
const (
	maxTrampolineInts   = 10
	maxTrampolineFloats = 10
)

// Invoke performs the actual call: split the arguments by class, then
// cross into C with the host compiler's own SysV register/stack
// placement. rowan_sysv_call's fixed i0..i9/f0..f9 signature means the
// host compiler — not this function — puts i5..i9 and f8..f9 on the
// stack when the class has more than fits in registers, so Invoke sends
// the whole per-class list rather than routing overflow through
// ClassifySysV's register-capped Plan.
func Invoke(fnPtr uintptr, ctx uintptr, args []rtval.Value, retTag rtval.Tag) (rtval.Value, error) {
	intBits, floatBitsList, floatIsF32 := SplitSysVArgs(args)
	if len(intBits) > maxTrampolineInts || len(floatBitsList) > maxTrampolineFloats {
		return rtval.Value{}, errTooManyArgs(len(intBits), len(floatBitsList))
	}

	ints := make([]C.uint64_t, len(intBits))
	for i, v := range intBits {
		ints[i] = C.uint64_t(v)
	}
	floats := make([]C.double, len(floatBitsList))
	for i, bits := range floatBitsList {
		if floatIsF32[i] {
			floats[i] = C.double(float32FromBits(uint32(bits)))
		} else {
			floats[i] = C.double(float64FromBits(bits))
		}
	}

	var intPtr *C.uint64_t
	if len(ints) > 0 {
		intPtr = &ints[0]
	}
	var floatPtr *C.double
	if len(floats) > 0 {
		floatPtr = &floats[0]
	}

	if retTag.IsFloat() {
		rv := C.rowan_sysv_call_f(
			unsafe.Pointer(fnPtr), //nolint:govet // fnPtr is a raw native code address, not a Go pointer
			unsafe.Pointer(ctx),
			intPtr, C.int(len(ints)),
			floatPtr, C.int(len(floats)),
		)
		return retagFloat(float64(rv), retTag), nil
	}

	rv := C.rowan_sysv_call(
		unsafe.Pointer(fnPtr), //nolint:govet // fnPtr is a raw native code address, not a Go pointer
		unsafe.Pointer(ctx),
		intPtr, C.int(len(ints)),
		floatPtr, C.int(len(floats)),
	)
	return retag(uint64(rv), retTag), nil
}
