package tensor

import "math"

// Float16ToFloat32 converts an IEEE 754 half precision value to float32.
func Float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	mant := uint32(h) & 0x3FF

	switch exp {
	case 0:
		// Zero or subnormal: mant * 2^-24.
		v := float32(math.Ldexp(float64(mant), -24))
		if sign == 1 {
			v = -v
		}
		return v
	case 0x1F:
		// Inf or NaN.
		return math.Float32frombits((sign << 31) | 0x7F800000 | (mant << 13))
	default:
		return math.Float32frombits((sign << 31) | ((exp + 127 - 15) << 23) | (mant << 13))
	}
}

// Float32ToFloat16 converts a float32 to IEEE 754 half precision with
// round-to-nearest-even. Values beyond the half range saturate to infinity.
func Float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23) & 0xFF
	mant := bits & 0x7FFFFF

	switch {
	case exp == 0xFF:
		if mant != 0 {
			return sign | 0x7E00 // NaN
		}
		return sign | 0x7C00
	case exp-127 > 15:
		return sign | 0x7C00
	case exp-127 < -24:
		return sign
	case exp-127 < -14:
		// Subnormal half.
		shift := uint32(-14 - (exp - 127))
		m := (mant | 0x800000) >> (shift + 13)
		rem := (mant | 0x800000) & ((1 << (shift + 13)) - 1)
		half := uint32(1) << (shift + 12)
		if rem > half || (rem == half && m&1 == 1) {
			m++
		}
		return sign | uint16(m) //nolint:gosec // m < 0x400 + carry into exponent is valid encoding
	}

	e := uint16(exp-127+15) << 10 //nolint:gosec // range checked above
	m := mant >> 13
	rem := mant & 0x1FFF
	h := sign | e | uint16(m) //nolint:gosec // 10-bit mantissa
	if rem > 0x1000 || (rem == 0x1000 && m&1 == 1) {
		h++ // carry into exponent is the correct rounding
	}
	return h
}

// BFloat16ToFloat32 converts a bfloat16 value to float32.
func BFloat16ToFloat32(b uint16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}
