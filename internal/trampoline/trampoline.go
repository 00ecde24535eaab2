package trampoline

import (
	"fmt"
	"math"

	"github.com/rowanvm/rowan/internal/rtval"
)

func errTooManyArgs(nints, nfloats int) error {
	return fmt.Errorf("trampoline: call exceeds supported arity (ints=%d floats=%d)", nints, nfloats)
}

func float32FromBits(b uint32) float32 { return math.Float32frombits(b) }
func float64FromBits(b uint64) float64 { return math.Float64frombits(b) }

// retagFloat wraps a native double return value per retTag.
func retagFloat(v float64, retTag rtval.Tag) rtval.Value {
	if retTag == rtval.TagF32 {
		return rtval.F32(float32(v))
	}
	return rtval.F64(v)
}

// retag reinterprets a raw 64-bit return value according to retTag,
// mirroring spec.md §4.7: "Read the return value from rax (integer
// class) or xmm0 (float class) or ignore (void) and re-tag."
func retag(raw uint64, retTag rtval.Tag) rtval.Value {
	switch retTag {
	case rtval.TagVoid:
		return rtval.Value{Tag: rtval.TagVoid}
	case rtval.TagF32:
		return rtval.FromU64(rtval.TagF32, uint64(math.Float32bits(float32(math.Float64frombits(raw)))))
	case rtval.TagF64:
		return rtval.FromU64(rtval.TagF64, raw)
	default:
		return rtval.FromU64(retTag, raw)
	}
}
