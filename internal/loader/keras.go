package loader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/scigolib/hdf5"

	"github.com/born-ml/webexport/internal/onnx"
	"github.com/born-ml/webexport/internal/tensor"
)

// Keras HDF5 layout.
const (
	kerasModelConfigAttr = "model_config"
	kerasWeightsGroup    = "model_weights"
	kerasOptimizerGroup  = "optimizer_weights"
)

// kerasMetadataAttrs are exposed as metadata, read from the root group or,
// failing that, the weights group.
var kerasMetadataAttrs = []string{"keras_version", "backend"}

// datasetInfoPattern matches the datatype and dataspace printed by
// hdf5.Dataset.Info, e.g. "Dataset: float (size=4 bytes), 2D array [3 x 2], ...".
var datasetInfoPattern = regexp.MustCompile(`^Dataset: (\w+) \(size=(\d+) bytes\), (?:(scalar)|\d+D array \[([\d x]*)\])`)

type kerasTensor struct {
	dataset *hdf5.Dataset
	info    TensorInfo
}

// kerasModel exposes the layer weights of a Keras HDF5 file. A weight stored
// as model_weights/<layer>/.../<weight>:0 is named "<layer>/<weight>". Files
// written by save_weights keep the layer groups at the root.
type kerasModel struct {
	file     *hdf5.File
	path     string
	config   json.RawMessage
	metadata map[string]string
	tensors  map[string]kerasTensor
	names    []string

	mu sync.Mutex // dataset reads share one file handle
}

func openKeras(path string, o options) (ModelReader, error) {
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	m, err := newKerasModel(f, path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	o.logger.Debug("opened keras model", "path", path, "tensors", len(m.names), "model_config", m.config != nil)
	return m, nil
}

func newKerasModel(f *hdf5.File, path string) (*kerasModel, error) {
	m := &kerasModel{
		file:     f,
		path:     path,
		metadata: make(map[string]string),
		tensors:  make(map[string]kerasTensor),
	}

	root := f.Root()
	rootAttrs, err := stringAttrs(root)
	if err != nil {
		return nil, err
	}
	if cfg := rootAttrs[kerasModelConfigAttr]; cfg != "" {
		m.config = json.RawMessage(cfg)
	}

	weights := root
	for _, child := range root.Children() {
		if g, ok := child.(*hdf5.Group); ok && objectName(g) == kerasWeightsGroup {
			weights = g
			break
		}
	}
	weightAttrs := rootAttrs
	if weights != root {
		if weightAttrs, err = stringAttrs(weights); err != nil {
			return nil, err
		}
	}
	for _, key := range kerasMetadataAttrs {
		if v, ok := rootAttrs[key]; ok {
			m.metadata[key] = v
		} else if v, ok := weightAttrs[key]; ok {
			m.metadata[key] = v
		}
	}

	for _, child := range weights.Children() {
		layer, ok := child.(*hdf5.Group)
		if !ok || objectName(layer) == kerasOptimizerGroup {
			continue
		}
		if err := m.addLayer(objectName(layer), layer); err != nil {
			return nil, err
		}
	}
	sort.Strings(m.names)
	return m, nil
}

func (m *kerasModel) addLayer(layer string, g *hdf5.Group) error {
	for _, child := range g.Children() {
		switch c := child.(type) {
		case *hdf5.Group:
			if err := m.addLayer(layer, c); err != nil {
				return err
			}
		case *hdf5.Dataset:
			name := layer + "/" + kerasWeightName(objectName(c))
			if _, dup := m.tensors[name]; dup {
				return fmt.Errorf("%w: duplicate weight %s", ErrCorrupt, name)
			}
			info, err := datasetInfo(name, c)
			if err != nil {
				return err
			}
			m.tensors[name] = kerasTensor{dataset: c, info: info}
			m.names = append(m.names, name)
		}
	}
	return nil
}

func (m *kerasModel) Format() ModelFormat          { return FormatKeras }
func (m *kerasModel) Path() string                 { return m.path }
func (m *kerasModel) Metadata() map[string]string  { return m.metadata }
func (m *kerasModel) Graph() *onnx.ModelProto      { return nil }
func (m *kerasModel) ModelConfig() json.RawMessage { return m.config }
func (m *kerasModel) Close() error                 { return m.file.Close() }
func (m *kerasModel) TensorNames() []string        { return append([]string(nil), m.names...) }

func (m *kerasModel) TensorInfo(name string) (TensorInfo, error) {
	t, ok := m.tensors[name]
	if !ok {
		return TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	info := t.info
	info.Shape = info.Shape.Clone()
	return info, nil
}

func (m *kerasModel) LoadTensor(name string) (*tensor.RawTensor, error) {
	t, ok := m.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}

	m.mu.Lock()
	values, err := t.dataset.Read()
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
	}
	if len(values) != t.info.Shape.NumElements() {
		return nil, fmt.Errorf("%w: %s: %d values for shape %v", ErrCorrupt, name, len(values), t.info.Shape)
	}

	raw, err := tensor.NewRaw(t.info.Shape, t.info.DType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
	}
	le := binary.LittleEndian
	data := raw.Data()
	for i, v := range values {
		switch t.info.DType {
		case tensor.Float32:
			le.PutUint32(data[i*4:], math.Float32bits(float32(v)))
		case tensor.Float64:
			le.PutUint64(data[i*8:], math.Float64bits(v))
		case tensor.Int32:
			le.PutUint32(data[i*4:], uint32(int32(v))) //nolint:gosec // read from a 32-bit dataset
		case tensor.Int64:
			le.PutUint64(data[i*8:], uint64(int64(v))) //nolint:gosec // bit reinterpretation
		}
	}
	return raw, nil
}

// stringAttrs returns the string attributes of a group. Attributes of other
// types are skipped.
func stringAttrs(g *hdf5.Group) (map[string]string, error) {
	attrs, err := g.Attributes()
	if err != nil {
		return nil, fmt.Errorf("%w: attributes of %s: %w", ErrCorrupt, g.Name(), err)
	}
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		v, err := a.ReadValue()
		if err != nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[a.Name] = s
		}
	}
	return out, nil
}

// datasetInfo derives the dtype and shape of a dataset without reading it.
func datasetInfo(name string, d *hdf5.Dataset) (TensorInfo, error) {
	desc, err := d.Info()
	if err != nil {
		return TensorInfo{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
	}
	class, size, shape, err := parseDatasetInfo(desc)
	if err != nil {
		return TensorInfo{}, fmt.Errorf("%s: %w", name, err)
	}

	var dtype tensor.DataType
	var stored string
	switch {
	case class == "float" && size == 4:
		dtype, stored = tensor.Float32, "float32"
	case class == "float" && size == 8:
		dtype, stored = tensor.Float64, "float64"
	case class == "integer" && size == 4:
		dtype, stored = tensor.Int32, "int32"
	case class == "integer" && size == 8:
		dtype, stored = tensor.Int64, "int64"
	default:
		return TensorInfo{}, fmt.Errorf("%w: %s: %s of %d bytes", ErrUnsupportedDType, name, class, size)
	}
	return TensorInfo{Name: name, DType: dtype, Shape: shape, StoredDType: stored}, nil
}

// parseDatasetInfo splits an hdf5.Dataset.Info description into the datatype
// class, its size in bytes and the dataspace dimensions. A scalar dataspace
// has an empty shape.
func parseDatasetInfo(desc string) (class string, size int, shape tensor.Shape, err error) {
	match := datasetInfoPattern.FindStringSubmatch(desc)
	if match == nil {
		return "", 0, nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, desc)
	}
	size, err = strconv.Atoi(match[2])
	if err != nil {
		return "", 0, nil, fmt.Errorf("%w: %s", ErrCorrupt, desc)
	}

	shape = tensor.Shape{}
	if match[3] != "" {
		return match[1], size, shape, nil
	}
	for _, field := range strings.FieldsFunc(match[4], func(r rune) bool { return r == ' ' || r == 'x' }) {
		dim, err := strconv.Atoi(field)
		if err != nil || dim <= 0 {
			return "", 0, nil, fmt.Errorf("%w: invalid dimension %q", ErrCorrupt, field)
		}
		shape = append(shape, dim)
	}
	if len(shape) == 0 {
		return "", 0, nil, fmt.Errorf("%w: empty dataspace", ErrCorrupt)
	}
	return match[1], size, shape, nil
}

// kerasWeightName drops the ":0" output index TensorFlow appends to variables.
func kerasWeightName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	return name
}

func objectName(obj hdf5.Object) string {
	return path.Base(obj.Name())
}
