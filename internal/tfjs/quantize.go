package tfjs

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/born-ml/webexport/internal/tensor"
)

// Method selects how float32 weights are stored.
type Method string

// Quantization methods.
const (
	QuantizeNone    Method = ""
	QuantizeUint8   Method = "uint8"
	QuantizeUint16  Method = "uint16"
	QuantizeFloat16 Method = "float16"
)

// maxFloat16 is the largest finite half-precision value.
const maxFloat16 = 65504

// ParseMethod accepts "", "none", "uint8", "uint16" and "float16".
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "", "none":
		return QuantizeNone, nil
	case QuantizeUint8, QuantizeUint16, QuantizeFloat16:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q (want uint8, uint16 or float16)", ErrUnsupportedQuantization, s)
	}
}

// levels is the largest quantized value of an affine method.
func (m Method) levels() float64 {
	if m == QuantizeUint16 {
		return math.MaxUint16
	}
	return math.MaxUint8
}

// affineRange returns the nudged minimum and scale for values in [lo, hi].
// When zero lies in the range the minimum is moved so that zero is exactly
// representable. A constant tensor uses scale 1.
func affineRange(lo, hi, levels float64) (nudgedMin, scale float64) {
	scale = (hi - lo) / levels
	if scale == 0 {
		return lo, 1
	}
	if lo > 0 || hi < 0 {
		return lo, scale
	}
	zero := math.Round(-lo / scale)
	return -zero * scale, scale
}

// quantize encodes a float32 tensor with m. Other dtypes and QuantizeNone
// return the tensor bytes unchanged with a nil descriptor.
func quantize(raw *tensor.RawTensor, m Method) ([]byte, *Quantization, error) {
	if m == QuantizeNone || raw.DType() != tensor.Float32 {
		return raw.Data(), nil, nil
	}
	values := raw.AsFloat32()

	if m == QuantizeFloat16 {
		out := make([]byte, 2*len(values))
		for i, v := range values {
			if math.Abs(float64(v)) > maxFloat16 {
				return nil, nil, fmt.Errorf("value %g at index %d is outside the float16 range", v, i)
			}
			binary.LittleEndian.PutUint16(out[i*2:], tensor.Float32ToFloat16(v))
		}
		return out, &Quantization{DType: string(m), OriginalDType: "float32"}, nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil, fmt.Errorf("cannot quantize non-finite value %g", v)
		}
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}

	levels := m.levels()
	nudgedMin, scale := affineRange(lo, hi, levels)
	nudgedMax := nudgedMin + levels*scale

	width := 1
	if m == QuantizeUint16 {
		width = 2
	}
	out := make([]byte, width*len(values))
	for i, v := range values {
		f := math.Min(math.Max(float64(v), nudgedMin), nudgedMax)
		q := math.Round((f - nudgedMin) / scale)
		q = math.Min(math.Max(q, 0), levels)
		if width == 1 {
			out[i] = byte(q)
		} else {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(q))
		}
	}
	return out, &Quantization{DType: string(m), Min: &nudgedMin, Scale: &scale, OriginalDType: "float32"}, nil
}

// dequantize decodes stored bytes back into a float32 tensor.
func dequantize(shape tensor.Shape, q *Quantization, data []byte) (*tensor.RawTensor, error) {
	n := shape.NumElements()
	values := make([]float32, n)

	switch Method(q.DType) {
	case QuantizeFloat16:
		for i := range values {
			values[i] = tensor.Float16ToFloat32(binary.LittleEndian.Uint16(data[i*2:]))
		}
	case QuantizeUint8, QuantizeUint16:
		if q.Min == nil || q.Scale == nil {
			return nil, fmt.Errorf("%w: %s quantization without min and scale", ErrInvalidArtifact, q.DType)
		}
		for i := range values {
			var v float64
			if q.DType == string(QuantizeUint8) {
				v = float64(data[i])
			} else {
				v = float64(binary.LittleEndian.Uint16(data[i*2:]))
			}
			values[i] = float32(v**q.Scale + *q.Min)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedQuantization, q.DType)
	}
	return tensor.FromFloat32(shape, values)
}

// Tolerance returns the largest absolute error a weight stored with q may
// carry for an original value v.
func Tolerance(q *Quantization, v float32) float64 {
	if q == nil {
		return 0
	}
	switch Method(q.DType) {
	case QuantizeFloat16:
		// 11 significant bits; values below the normal range lose more.
		return math.Max(math.Abs(float64(v))*math.Pow(2, -11), math.Pow(2, -24))
	case QuantizeUint8, QuantizeUint16:
		if q.Scale == nil {
			return 0
		}
		return *q.Scale/2 + math.Abs(float64(v))*math.Pow(2, -22) + 1e-7
	default:
		return 0
	}
}
