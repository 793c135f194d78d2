package tensor

import (
	"fmt"
	"math"
)

// IEEE 754 binary16 conversion. Storage stays float32 everywhere; what the
// half-precision path changes is the set of representable values, so
// rounding a tensor through binary16 reproduces reduced-precision compute
// on a float32 engine.

// Float32ToHalfBits converts a float32 to its binary16 bit pattern with
// round-to-nearest-even. Values above the half range become Inf.
func Float32ToHalfBits(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits >> 16 & 0x8000)
	exp := int32(bits>>23&0xff) - 127
	mant := bits & 0x7fffff

	switch {
	case exp == 128: // Inf or NaN
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp > 15: // overflow to Inf
		return sign | 0x7c00
	case exp >= -14: // normal
		halfMant := mant >> 13
		// round to nearest even on the dropped 13 bits
		round := mant & 0x1fff
		if round > 0x1000 || (round == 0x1000 && halfMant&1 == 1) {
			halfMant++
		}
		// adding the mantissa lets a rounding carry bump the exponent
		return (sign | uint16(uint32(exp+15)<<10)) + uint16(halfMant)
	case exp >= -25: // subnormal
		mant |= 0x800000
		shift := uint32(-exp - 1)
		halfMant := mant >> shift
		round := mant & ((1 << shift) - 1)
		half := uint32(1) << (shift - 1)
		if round > half || (round == half && halfMant&1 == 1) {
			halfMant++
		}
		return sign | uint16(halfMant)
	default: // underflow to zero
		return sign
	}
}

// HalfBitsToFloat32 expands a binary16 bit pattern back to float32.
func HalfBitsToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h >> 10 & 0x1f)
	mant := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// subnormal: normalize
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		return math.Float32frombits(sign | e<<23 | mant<<13)
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	}
}

// RoundToHalf returns t with every value rounded to the nearest value
// representable in binary16.
func RoundToHalf(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("RoundToHalf requires a Float32 tensor, got %s", t.DType)
	}
	out, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	src, dst := t.Float32s(), out.Float32s()
	for i := range src {
		dst[i] = HalfBitsToFloat32(Float32ToHalfBits(src[i]))
	}
	return out, nil
}

// HasNonFinite reports whether the tensor contains Inf or NaN. The gradient
// scaler uses this to detect overflowed backward passes.
func HasNonFinite(t *Tensor) bool {
	if t.DType != Float32 {
		return false
	}
	for _, v := range t.Float32s() {
		if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
			return true
		}
	}
	return false
}
