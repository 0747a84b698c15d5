package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// RawTensor is the low-level tensor representation: a shape, a dtype and a
// little-endian row-major byte buffer.
type RawTensor struct {
	data  []byte
	shape Shape
	dtype DataType
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is allocated and zeroed.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:  make([]byte, shape.NumElements()*dtype.Size()),
		shape: shape.Clone(),
		dtype: dtype,
	}, nil
}

// FromBytes wraps an existing buffer. The buffer is not copied; its length
// must match the shape and dtype exactly.
func FromBytes(shape Shape, dtype DataType, data []byte) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	want := shape.NumElements() * dtype.Size()
	if len(data) != want {
		return nil, fmt.Errorf("buffer size mismatch for shape %v %s: expected %d bytes, got %d",
			shape, dtype, want, len(data))
	}

	return &RawTensor{
		data:  data,
		shape: shape.Clone(),
		dtype: dtype,
	}, nil
}

// FromFloat32 creates a float32 tensor holding a copy of values.
func FromFloat32(shape Shape, values []float32) (*RawTensor, error) {
	raw, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	if len(values) != raw.NumElements() {
		return nil, fmt.Errorf("expected %d values for shape %v, got %d", raw.NumElements(), shape, len(values))
	}
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw.data[i*4:], math.Float32bits(v))
	}
	return raw, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// Float32s decodes every element to float32. Bool is mapped to 0/1.
func (r *RawTensor) Float32s() []float32 {
	n := r.NumElements()
	out := make([]float32, n)
	le := binary.LittleEndian
	for i := 0; i < n; i++ {
		switch r.dtype {
		case Float32:
			out[i] = math.Float32frombits(le.Uint32(r.data[i*4:]))
		case Float64:
			out[i] = float32(math.Float64frombits(le.Uint64(r.data[i*8:])))
		case Int32:
			out[i] = float32(int32(le.Uint32(r.data[i*4:]))) //nolint:gosec // bit reinterpretation
		case Int64:
			out[i] = float32(int64(le.Uint64(r.data[i*8:]))) //nolint:gosec // bit reinterpretation
		case Uint8, Bool:
			out[i] = float32(r.data[i])
		}
	}
	return out
}

// Transpose2D returns a new tensor with the two axes of a matrix swapped.
func (r *RawTensor) Transpose2D() (*RawTensor, error) {
	if len(r.shape) != 2 {
		return nil, fmt.Errorf("transpose requires a 2-D tensor, got shape %v", r.shape)
	}
	rows, cols := r.shape[0], r.shape[1]
	size := r.dtype.Size()

	out, err := NewRaw(Shape{cols, rows}, r.dtype)
	if err != nil {
		return nil, err
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			src := (i*cols + j) * size
			dst := (j*rows + i) * size
			copy(out.data[dst:dst+size], r.data[src:src+size])
		}
	}
	return out, nil
}

// CastForWeb converts the tensor to a dtype that the browser runtime can
// hold: float64 becomes float32, int64 and uint8 become int32. Float32,
// Int32 and Bool tensors are returned unchanged.
func (r *RawTensor) CastForWeb() (*RawTensor, error) {
	le := binary.LittleEndian
	n := r.NumElements()

	switch r.dtype {
	case Float32, Int32, Bool:
		return r, nil
	case Float64:
		out, err := NewRaw(r.shape, Float32)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			v := math.Float64frombits(le.Uint64(r.data[i*8:]))
			le.PutUint32(out.data[i*4:], math.Float32bits(float32(v)))
		}
		return out, nil
	case Int64:
		out, err := NewRaw(r.shape, Int32)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			v := int64(le.Uint64(r.data[i*8:])) //nolint:gosec // bit reinterpretation
			if v > math.MaxInt32 || v < math.MinInt32 {
				return nil, fmt.Errorf("int64 value %d at index %d does not fit in int32", v, i)
			}
			le.PutUint32(out.data[i*4:], uint32(int32(v))) //nolint:gosec // range checked above
		}
		return out, nil
	case Uint8:
		out, err := NewRaw(r.shape, Int32)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			le.PutUint32(out.data[i*4:], uint32(r.data[i]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %s", r.dtype)
	}
}
