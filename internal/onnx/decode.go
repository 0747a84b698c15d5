package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxModelSize is the protobuf limit for a single serialized message.
const MaxModelSize = math.MaxInt32

// ParseFile parses an ONNX model from file.
func ParseFile(path string) (*ModelProto, error) {
	//nolint:gosec // G304: Path is provided by user, file inclusion is intentional for ONNX model loading
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	if len(data) > MaxModelSize {
		return nil, fmt.Errorf("model too large: %d bytes", len(data))
	}
	model := &ModelProto{}
	if err := decodeModel(data, model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if model.Graph == nil {
		return nil, ErrNoGraph
	}
	return model, nil
}

// field is one decoded wire-format field.
type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64 // varint, fixed32 and fixed64 payloads
	b   []byte // length-delimited payload
}

func (f field) asString() string { return string(f.b) }
func (f field) asInt64() int64   { return int64(f.u) } //nolint:gosec // G115: protobuf int64 is two's complement
func (f field) asInt32() int32   { return int32(f.u) } //nolint:gosec // G115: protobuf int32 is sign-extended

// eachField calls fn for every field of a message.
func eachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
	}
	return nil
}

// varints appends a repeated varint field in packed or unpacked encoding.
func varints(f field, dst []int64) ([]int64, error) {
	if f.typ == protowire.VarintType {
		return append(dst, f.asInt64()), nil
	}
	b := f.b
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		dst = append(dst, int64(v)) //nolint:gosec // G115: protobuf int64 is two's complement
		b = b[n:]
	}
	return dst, nil
}

// floats appends a repeated float field in packed or unpacked encoding.
func floats(f field, dst []float32) ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return append(dst, math.Float32frombits(uint32(f.u))), nil //nolint:gosec // fixed32 payload
	}
	b := f.b
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		dst = append(dst, math.Float32frombits(v))
		b = b[n:]
	}
	return dst, nil
}

// doubles appends a repeated double field in packed or unpacked encoding.
func doubles(f field, dst []float64) ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		return append(dst, math.Float64frombits(f.u)), nil
	}
	b := f.b
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		dst = append(dst, math.Float64frombits(v))
		b = b[n:]
	}
	return dst, nil
}

func decodeModel(b []byte, m *ModelProto) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.IRVersion = f.asInt64()
		case 2:
			m.ProducerName = f.asString()
		case 3:
			m.ProducerVersion = f.asString()
		case 4:
			m.Domain = f.asString()
		case 5:
			m.ModelVersion = f.asInt64()
		case 6:
			m.DocString = f.asString()
		case 7:
			m.Graph = &GraphProto{}
			return decodeGraph(f.b, m.Graph)
		case 8:
			var op OperatorSetID
			if err := decodeOpset(f.b, &op); err != nil {
				return err
			}
			m.OpsetImport = append(m.OpsetImport, op)
		case 14:
			var e StringStringEntry
			if err := decodeEntry(f.b, &e); err != nil {
				return err
			}
			m.MetadataProps = append(m.MetadataProps, e)
		}
		return nil
	})
}

func decodeGraph(b []byte, g *GraphProto) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			var n NodeProto
			if err := decodeNode(f.b, &n); err != nil {
				return err
			}
			g.Nodes = append(g.Nodes, n)
		case 2:
			g.Name = f.asString()
		case 5:
			var t TensorProto
			if err := decodeTensor(f.b, &t); err != nil {
				return err
			}
			g.Initializers = append(g.Initializers, t)
		case 10:
			g.DocString = f.asString()
		case 11, 12, 13:
			var vi ValueInfoProto
			if err := decodeValueInfo(f.b, &vi); err != nil {
				return err
			}
			switch f.num {
			case 11:
				g.Inputs = append(g.Inputs, vi)
			case 12:
				g.Outputs = append(g.Outputs, vi)
			default:
				g.ValueInfo = append(g.ValueInfo, vi)
			}
		}
		return nil
	})
}

func decodeNode(b []byte, n *NodeProto) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			n.Inputs = append(n.Inputs, f.asString())
		case 2:
			n.Outputs = append(n.Outputs, f.asString())
		case 3:
			n.Name = f.asString()
		case 4:
			n.OpType = f.asString()
		case 5:
			var a AttributeProto
			if err := decodeAttribute(f.b, &a); err != nil {
				return err
			}
			n.Attributes = append(n.Attributes, a)
		case 7:
			n.Domain = f.asString()
		}
		return nil
	})
}

func decodeTensor(b []byte, t *TensorProto) error {
	return eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			t.Dims, err = varints(f, t.Dims)
		case 2:
			t.DataType = f.asInt32()
		case 4:
			t.FloatData, err = floats(f, t.FloatData)
		case 5:
			var vs []int64
			if vs, err = varints(f, nil); err == nil {
				for _, v := range vs {
					t.Int32Data = append(t.Int32Data, int32(v)) //nolint:gosec // G115: int32 field
				}
			}
		case 7:
			t.Int64Data, err = varints(f, t.Int64Data)
		case 8:
			t.Name = f.asString()
		case 9:
			t.RawData = f.b
		case 10:
			t.DoubleData, err = doubles(f, t.DoubleData)
		case 14:
			t.DataLocation = f.asInt32()
		}
		return err
	})
}

func decodeValueInfo(b []byte, vi *ValueInfoProto) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			vi.Name = f.asString()
		case 2:
			// TypeProto: only tensor_type (1) is of interest.
			return eachField(f.b, func(tf field) error {
				if tf.num != 1 {
					return nil
				}
				return decodeTensorType(tf.b, vi)
			})
		}
		return nil
	})
}

func decodeTensorType(b []byte, vi *ValueInfoProto) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			vi.ElemType = f.asInt32()
		case 2:
			vi.HasShape = true
			return eachField(f.b, func(sf field) error {
				if sf.num != 1 {
					return nil
				}
				var d DimensionProto
				if err := eachField(sf.b, func(df field) error {
					switch df.num {
					case 1:
						d.DimValue = df.asInt64()
					case 2:
						d.DimParam = df.asString()
					}
					return nil
				}); err != nil {
					return err
				}
				vi.Shape = append(vi.Shape, d)
				return nil
			})
		}
		return nil
	})
}

func decodeAttribute(b []byte, a *AttributeProto) error {
	return eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			a.Name = f.asString()
		case 2:
			a.F = math.Float32frombits(uint32(f.u)) //nolint:gosec // fixed32 payload
		case 3:
			a.I = f.asInt64()
		case 4:
			a.S = f.b
		case 5:
			a.T = &TensorProto{}
			err = decodeTensor(f.b, a.T)
		case 7:
			a.Floats, err = floats(f, a.Floats)
		case 8:
			a.Ints, err = varints(f, a.Ints)
		case 9:
			a.Strings = append(a.Strings, f.b)
		case 20:
			a.Type = f.asInt32()
		}
		return err
	})
}

func decodeOpset(b []byte, op *OperatorSetID) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			op.Domain = f.asString()
		case 2:
			op.Version = f.asInt64()
		}
		return nil
	})
}

func decodeEntry(b []byte, e *StringStringEntry) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			e.Key = f.asString()
		case 2:
			e.Value = f.asString()
		}
		return nil
	})
}
