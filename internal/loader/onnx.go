package loader

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/born-ml/webexport/internal/onnx"
	"github.com/born-ml/webexport/internal/tensor"
)

// onnxModel exposes the initializers of an ONNX graph as tensors.
type onnxModel struct {
	model    *onnx.ModelProto
	path     string
	tensors  map[string]*onnx.TensorProto
	names    []string
	metadata map[string]string
}

func openONNX(path string) (ModelReader, error) {
	model, err := onnx.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	inits := onnx.Initializers(model.Graph)
	m := &onnxModel{
		model:    model,
		path:     path,
		tensors:  make(map[string]*onnx.TensorProto, len(inits)),
		names:    make([]string, 0, len(inits)),
		metadata: make(map[string]string, len(model.MetadataProps)+2),
	}
	for i := range inits {
		t := &inits[i]
		if _, err := onnx.TensorDataType(t.DataType); err != nil {
			return nil, fmt.Errorf("initializer %s: %w: %w", t.Name, ErrUnsupportedDType, err)
		}
		if _, dup := m.tensors[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate initializer %s", ErrCorrupt, t.Name)
		}
		m.tensors[t.Name] = t
		m.names = append(m.names, t.Name)
	}
	sort.Strings(m.names)

	for _, p := range model.MetadataProps {
		m.metadata[p.Key] = p.Value
	}
	if model.ProducerName != "" {
		m.metadata["producer"] = model.ProducerName
	}
	if model.Graph.Name != "" {
		m.metadata["graph"] = model.Graph.Name
	}
	return m, nil
}

func (m *onnxModel) Format() ModelFormat          { return FormatONNX }
func (m *onnxModel) Path() string                 { return m.path }
func (m *onnxModel) Metadata() map[string]string  { return m.metadata }
func (m *onnxModel) Graph() *onnx.ModelProto      { return m.model }
func (m *onnxModel) ModelConfig() json.RawMessage { return nil }
func (m *onnxModel) Close() error                 { return nil }

func (m *onnxModel) TensorNames() []string {
	return append([]string(nil), m.names...)
}

func (m *onnxModel) TensorInfo(name string) (TensorInfo, error) {
	t, ok := m.tensors[name]
	if !ok {
		return TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	dtype, err := onnx.TensorDataType(t.DataType)
	if err != nil {
		return TensorInfo{}, err
	}
	return TensorInfo{Name: name, DType: dtype, Shape: onnx.TensorShape(t), StoredDType: onnxTypeName(t.DataType)}, nil
}

func (m *onnxModel) LoadTensor(name string) (*tensor.RawTensor, error) {
	t, ok := m.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return onnx.TensorFromProto(t)
}

func onnxTypeName(dt int32) string {
	switch dt {
	case onnx.TensorProtoFloat:
		return "FLOAT"
	case onnx.TensorProtoFloat16:
		return "FLOAT16"
	case onnx.TensorProtoBfloat16:
		return "BFLOAT16"
	case onnx.TensorProtoDouble:
		return "DOUBLE"
	case onnx.TensorProtoInt32:
		return "INT32"
	case onnx.TensorProtoInt64:
		return "INT64"
	case onnx.TensorProtoUint8:
		return "UINT8"
	case onnx.TensorProtoBool:
		return "BOOL"
	default:
		return fmt.Sprintf("TYPE_%d", dt)
	}
}
