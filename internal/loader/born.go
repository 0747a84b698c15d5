package loader

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/born-ml/webexport/internal/onnx"
	"github.com/born-ml/webexport/internal/serialization"
	"github.com/born-ml/webexport/internal/tensor"
)

// bornSource is satisfied by both serialization.BornReader and
// serialization.MmapReader.
type bornSource interface {
	Header() serialization.Header
	Metadata() map[string]string
	TensorNames() []string
	TensorInfo(name string) (*serialization.TensorMeta, error)
	LoadTensor(name string) (*tensor.RawTensor, error)
	Close() error
}

// bornModel adapts a .born reader to ModelReader.
type bornModel struct {
	src   bornSource
	path  string
	names []string
}

func openBorn(path string, o options) (ModelReader, error) {
	opts := serialization.ReaderOptions{ValidationLevel: o.validation}

	var (
		src bornSource
		err error
	)
	if o.mmap {
		src, err = serialization.NewMmapReaderWithOptions(path, opts)
	} else {
		src, err = serialization.NewBornReaderWithOptions(path, opts)
	}
	if err != nil {
		return nil, err
	}

	names := src.TensorNames()
	sort.Strings(names)
	return &bornModel{src: src, path: path, names: names}, nil
}

func (m *bornModel) Format() ModelFormat          { return FormatBorn }
func (m *bornModel) Path() string                 { return m.path }
func (m *bornModel) Graph() *onnx.ModelProto      { return nil }
func (m *bornModel) ModelConfig() json.RawMessage { return nil }
func (m *bornModel) Close() error                 { return m.src.Close() }

// Metadata returns the header metadata. The header's model type is exposed
// under "model_type" when the metadata does not already carry one.
func (m *bornModel) Metadata() map[string]string {
	md := make(map[string]string, len(m.src.Metadata())+1)
	for k, v := range m.src.Metadata() {
		md[k] = v
	}
	if mt := m.src.Header().ModelType; mt != "" {
		if _, ok := md["model_type"]; !ok {
			md["model_type"] = mt
		}
	}
	return md
}

func (m *bornModel) TensorNames() []string {
	return append([]string(nil), m.names...)
}

func (m *bornModel) TensorInfo(name string) (TensorInfo, error) {
	meta, err := m.src.TensorInfo(name)
	if err != nil {
		return TensorInfo{}, fmt.Errorf("%w: %w", ErrTensorNotFound, err)
	}
	dtype, err := tensor.ParseDataType(meta.DType)
	if err != nil {
		return TensorInfo{}, fmt.Errorf("tensor %s: %w: %w", name, ErrUnsupportedDType, err)
	}
	return TensorInfo{Name: name, DType: dtype, Shape: tensor.Shape(meta.Shape).Clone(), StoredDType: meta.DType}, nil
}

func (m *bornModel) LoadTensor(name string) (*tensor.RawTensor, error) {
	return m.src.LoadTensor(name)
}
