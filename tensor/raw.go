package tensor

import "github.com/born-ml/webexport/internal/tensor"

// RawTensor is an untyped tensor: shape, dtype and little-endian bytes.
type RawTensor = tensor.RawTensor

// NewRaw allocates a zeroed tensor.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// FromBytes wraps data, which must hold exactly shape's elements of dtype.
func FromBytes(shape Shape, dtype DataType, data []byte) (*RawTensor, error) {
	return tensor.FromBytes(shape, dtype, data)
}

// FromFloat32 builds a float32 tensor from values.
func FromFloat32(shape Shape, values []float32) (*RawTensor, error) {
	return tensor.FromFloat32(shape, values)
}

// Float16ToFloat32 decodes an IEEE 754 half-precision value.
func Float16ToFloat32(h uint16) float32 { return tensor.Float16ToFloat32(h) }

// Float32ToFloat16 encodes f as half precision, rounding to nearest even.
func Float32ToFloat16(f float32) uint16 { return tensor.Float32ToFloat16(f) }

// BFloat16ToFloat32 decodes a bfloat16 value.
func BFloat16ToFloat32(b uint16) float32 { return tensor.BFloat16ToFloat32(b) }
