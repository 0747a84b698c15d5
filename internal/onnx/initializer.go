package onnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/born-ml/webexport/internal/tensor"
)

// TensorDataType maps an ONNX element type to the tensor dtype it loads as.
// Float16 and bfloat16 load as float32.
func TensorDataType(onnxType int32) (tensor.DataType, error) {
	switch onnxType {
	case TensorProtoFloat, TensorProtoFloat16, TensorProtoBfloat16:
		return tensor.Float32, nil
	case TensorProtoDouble:
		return tensor.Float64, nil
	case TensorProtoInt32:
		return tensor.Int32, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	case TensorProtoUint8:
		return tensor.Uint8, nil
	case TensorProtoBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedDType, onnxType)
	}
}

// TensorShape returns the dims of an initializer as a tensor shape.
func TensorShape(p *TensorProto) tensor.Shape {
	shape := make(tensor.Shape, len(p.Dims))
	for i, d := range p.Dims {
		shape[i] = int(d)
	}
	return shape
}

// TensorFromProto decodes an initializer. Data may come from raw_data or
// from the typed repeated fields; half-precision types are widened to float32.
//
//nolint:gocognit,gocyclo,cyclop // One case per storage variant
func TensorFromProto(p *TensorProto) (*tensor.RawTensor, error) {
	if p.DataLocation == dataLocationExternal {
		return nil, fmt.Errorf("tensor %s: %w", p.Name, ErrExternalData)
	}
	dtype, err := TensorDataType(p.DataType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", p.Name, err)
	}
	shape := TensorShape(p)
	n := shape.NumElements()

	out, err := tensor.NewRaw(shape, dtype)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", p.Name, err)
	}
	dst := out.Data()
	le := binary.LittleEndian

	switch p.DataType {
	case TensorProtoFloat16, TensorProtoBfloat16:
		bits, err := halfBits(p, n)
		if err != nil {
			return nil, err
		}
		for i, h := range bits {
			var v float32
			if p.DataType == TensorProtoFloat16 {
				v = tensor.Float16ToFloat32(h)
			} else {
				v = tensor.BFloat16ToFloat32(h)
			}
			le.PutUint32(dst[i*4:], math.Float32bits(v))
		}
		return out, nil
	}

	switch {
	case len(p.RawData) > 0:
		if len(p.RawData) != len(dst) {
			return nil, fmt.Errorf("tensor %s: raw data has %d bytes, shape %v needs %d",
				p.Name, len(p.RawData), shape, len(dst))
		}
		copy(dst, p.RawData)

	case len(p.FloatData) > 0 && dtype == tensor.Float32:
		if err := checkCount(p, len(p.FloatData), n); err != nil {
			return nil, err
		}
		for i, v := range p.FloatData {
			le.PutUint32(dst[i*4:], math.Float32bits(v))
		}

	case len(p.DoubleData) > 0 && dtype == tensor.Float64:
		if err := checkCount(p, len(p.DoubleData), n); err != nil {
			return nil, err
		}
		for i, v := range p.DoubleData {
			le.PutUint64(dst[i*8:], math.Float64bits(v))
		}

	case len(p.Int64Data) > 0 && dtype == tensor.Int64:
		if err := checkCount(p, len(p.Int64Data), n); err != nil {
			return nil, err
		}
		for i, v := range p.Int64Data {
			le.PutUint64(dst[i*8:], uint64(v)) //nolint:gosec // bit reinterpretation
		}

	case len(p.Int32Data) > 0 && (dtype == tensor.Int32 || dtype == tensor.Uint8 || dtype == tensor.Bool):
		// int32_data also carries uint8 and bool values, one per entry.
		if err := checkCount(p, len(p.Int32Data), n); err != nil {
			return nil, err
		}
		for i, v := range p.Int32Data {
			if dtype == tensor.Int32 {
				le.PutUint32(dst[i*4:], uint32(v)) //nolint:gosec // bit reinterpretation
			} else {
				dst[i] = byte(v) //nolint:gosec // uint8/bool stored widened
			}
		}

	default:
		return nil, fmt.Errorf("tensor %s: no data for shape %v", p.Name, shape)
	}

	return out, nil
}

// halfBits collects the 16-bit patterns of a float16/bfloat16 tensor.
func halfBits(p *TensorProto, n int) ([]uint16, error) {
	bits := make([]uint16, 0, n)
	switch {
	case len(p.RawData) > 0:
		if len(p.RawData) != n*2 {
			return nil, fmt.Errorf("tensor %s: raw data has %d bytes, expected %d", p.Name, len(p.RawData), n*2)
		}
		for i := 0; i < n; i++ {
			bits = append(bits, binary.LittleEndian.Uint16(p.RawData[i*2:]))
		}
	case len(p.Int32Data) > 0:
		if err := checkCount(p, len(p.Int32Data), n); err != nil {
			return nil, err
		}
		for _, v := range p.Int32Data {
			bits = append(bits, uint16(v)) //nolint:gosec // low 16 bits hold the value
		}
	default:
		return nil, fmt.Errorf("tensor %s: no data", p.Name)
	}
	return bits, nil
}

func checkCount(p *TensorProto, got, want int) error {
	if got != want {
		return fmt.Errorf("tensor %s: %d values for shape %v (%d elements)", p.Name, got, TensorShape(p), want)
	}
	return nil
}
