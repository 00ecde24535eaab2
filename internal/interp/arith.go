package interp

import (
	"math"
	"math/big"

	"github.com/rowanvm/rowan/internal/rtval"
)

func widthBits(tag rtval.Tag) int {
	switch tag.Size() {
	case 1:
		return 8
	case 2:
		return 16
	case 4:
		return 32
	default:
		return 64
	}
}

func maskFor(bits int) uint64 {
	if bits >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << uint(bits)) - 1
}

func isSignedTag(tag rtval.Tag) bool {
	switch tag {
	case rtval.TagI8, rtval.TagI16, rtval.TagI32, rtval.TagI64:
		return true
	}
	return false
}

// wrapPack truncates raw to tag's width and repacks it (spec.md §4.2:
// "Add/Sub/Mul/Div/Mod wrap"). The bit pattern of wraparound arithmetic
// is identical for signed and unsigned tags of the same width, so one
// mask-and-retag suffices for both.
func wrapPack(tag rtval.Tag, raw uint64) rtval.Value {
	return rtval.FromU64(tag, raw&maskFor(widthBits(tag)))
}

func binWrap(tag rtval.Tag, a, b rtval.Value, op func(x, y uint64) uint64) rtval.Value {
	return wrapPack(tag, op(a.Bits(), b.Bits()))
}

func clampSigned(bits int, v int64) int64 {
	if bits >= 64 {
		return v
	}
	max := int64(1)<<(uint(bits)-1) - 1
	min := -(int64(1) << (uint(bits) - 1))
	if v > max {
		return max
	}
	if v < min {
		return min
	}
	return v
}

func clampUnsigned(bits int, v uint64) uint64 {
	max := maskFor(bits)
	if v > max {
		return max
	}
	return v
}

// satAdd/satSub/satMul implement spec.md §4.2's "SatAdd/SatSub/SatMul
// clamp to type range". Widths under 64 bits are computed in an int64
// (or uint64), where the operation cannot itself overflow, then clamped;
// 64-bit add/sub detect overflow directly, and 64-bit multiply goes
// through big.Int.
func satAdd(tag rtval.Tag, a, b rtval.Value) rtval.Value {
	bits := widthBits(tag)
	if isSignedTag(tag) {
		if bits < 64 {
			return rtval.FromU64(tag, uint64(clampSigned(bits, a.AsI64()+b.AsI64()))&maskFor(bits))
		}
		x, y := a.I64(), b.I64()
		sum := x + y
		if (y > 0 && sum < x) || (y < 0 && sum > x) {
			if y > 0 {
				return rtval.I64(math.MaxInt64)
			}
			return rtval.I64(math.MinInt64)
		}
		return rtval.I64(sum)
	}
	if bits < 64 {
		return rtval.FromU64(tag, clampUnsigned(bits, a.Bits()+b.Bits()))
	}
	x, y := a.U64(), b.U64()
	sum := x + y
	if sum < x {
		return rtval.U64(math.MaxUint64)
	}
	return rtval.U64(sum)
}

func satSub(tag rtval.Tag, a, b rtval.Value) rtval.Value {
	bits := widthBits(tag)
	if isSignedTag(tag) {
		if bits < 64 {
			return rtval.FromU64(tag, uint64(clampSigned(bits, a.AsI64()-b.AsI64()))&maskFor(bits))
		}
		x, y := a.I64(), b.I64()
		diff := x - y
		if (y < 0 && diff < x) || (y > 0 && diff > x) {
			if y < 0 {
				return rtval.I64(math.MaxInt64)
			}
			return rtval.I64(math.MinInt64)
		}
		return rtval.I64(diff)
	}
	x, y := a.Bits(), b.Bits()
	if y > x {
		return rtval.FromU64(tag, 0)
	}
	return rtval.FromU64(tag, clampUnsigned(bits, x-y))
}

func satMul(tag rtval.Tag, a, b rtval.Value) rtval.Value {
	bits := widthBits(tag)
	if isSignedTag(tag) {
		if bits < 64 {
			return rtval.FromU64(tag, uint64(clampSigned(bits, a.AsI64()*b.AsI64()))&maskFor(bits))
		}
		prod := new(big.Int).Mul(big.NewInt(a.I64()), big.NewInt(b.I64()))
		max := big.NewInt(math.MaxInt64)
		min := big.NewInt(math.MinInt64)
		if prod.Cmp(max) > 0 {
			return rtval.I64(math.MaxInt64)
		}
		if prod.Cmp(min) < 0 {
			return rtval.I64(math.MinInt64)
		}
		return rtval.I64(prod.Int64())
	}
	if bits < 64 {
		return rtval.FromU64(tag, clampUnsigned(bits, a.Bits()*b.Bits()))
	}
	prod := new(big.Int).Mul(new(big.Int).SetUint64(a.U64()), new(big.Int).SetUint64(b.U64()))
	max := new(big.Int).SetUint64(math.MaxUint64)
	if prod.Cmp(max) > 0 {
		return rtval.U64(math.MaxUint64)
	}
	return rtval.U64(prod.Uint64())
}

func shiftAmount(tag rtval.Tag, shift rtval.Value) uint {
	return uint(shift.AsI64()) & uint(widthBits(tag)-1)
}

func opShl(tag rtval.Tag, a, b rtval.Value) rtval.Value {
	return wrapPack(tag, a.Bits()<<shiftAmount(tag, b))
}

func opShr(tag rtval.Tag, a, b rtval.Value) rtval.Value {
	n := shiftAmount(tag, b)
	if isSignedTag(tag) {
		return wrapPack(tag, uint64(a.AsI64()>>n))
	}
	return wrapPack(tag, a.Bits()>>n)
}

func opNeg(tag rtval.Tag, a rtval.Value) rtval.Value {
	return wrapPack(tag, uint64(-int64(a.Bits())))
}

func opNot(tag rtval.Tag, a rtval.Value) rtval.Value {
	return wrapPack(tag, ^a.Bits())
}

// convertValue implements the lossy Convert(tag) bytecode: numeric
// conversion through a float64/int64 intermediate, matching the
// narrowing/widening a managed language's explicit cast performs.
func convertValue(v rtval.Value, dst rtval.Tag) rtval.Value {
	if dst.IsFloat() {
		var f float64
		if v.Tag.IsFloat() {
			if v.Tag == rtval.TagF32 {
				f = float64(v.F32())
			} else {
				f = v.F64()
			}
		} else {
			f = float64(v.AsI64())
		}
		if dst == rtval.TagF32 {
			return rtval.F32(float32(f))
		}
		return rtval.F64(f)
	}
	var i int64
	if v.Tag.IsFloat() {
		if v.Tag == rtval.TagF32 {
			i = int64(v.F32())
		} else {
			i = int64(v.F64())
		}
	} else {
		i = v.AsI64()
	}
	return wrapPack(dst, uint64(i))
}

// binaryConvertValue implements BinaryConvert(tag): a pure bit
// reinterpretation, since every Value already stores its payload as raw
// bits regardless of tag.
func binaryConvertValue(v rtval.Value, dst rtval.Tag) rtval.Value {
	return rtval.FromU64(dst, v.Bits()&maskFor(widthBits(dst)))
}
