package loader

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/born-ml/webexport/internal/onnx"
	"github.com/born-ml/webexport/internal/serialization"
	"github.com/born-ml/webexport/internal/tensor"
)

// ModelFormat represents the model weight format.
type ModelFormat int

// Supported model formats.
const (
	FormatUnknown ModelFormat = iota
	FormatBorn
	FormatSafeTensors
	FormatONNX
	FormatKeras
)

// String returns the format name.
func (f ModelFormat) String() string {
	switch f {
	case FormatBorn:
		return "Born"
	case FormatSafeTensors:
		return "SafeTensors"
	case FormatONNX:
		return "ONNX"
	case FormatKeras:
		return "Keras"
	default:
		return "Unknown"
	}
}

// TensorInfo describes a stored tensor without reading its data.
type TensorInfo struct {
	Name string
	// DType is the dtype LoadTensor returns.
	DType tensor.DataType
	Shape tensor.Shape
	// StoredDType is the dtype name used by the file, e.g. "F16" or "float32".
	StoredDType string
}

// ModelReader provides a unified interface for reading model files.
type ModelReader interface {
	// Format returns the model format.
	Format() ModelFormat

	// Path returns the file the reader was opened on.
	Path() string

	// Metadata returns model metadata.
	Metadata() map[string]string

	// TensorNames returns all tensor names in sorted order.
	TensorNames() []string

	// TensorInfo returns the shape and dtype of a tensor.
	TensorInfo(name string) (TensorInfo, error)

	// LoadTensor reads a tensor. Safe for concurrent use.
	LoadTensor(name string) (*tensor.RawTensor, error)

	// Graph returns the decoded ONNX model, or nil for other formats.
	Graph() *onnx.ModelProto

	// ModelConfig returns the Keras model_config JSON, or nil when the file
	// carries none.
	ModelConfig() json.RawMessage

	// Close releases the underlying file.
	Close() error
}

type options struct {
	mmap       bool
	validation serialization.ValidationLevel
	logger     *slog.Logger
}

// Option configures OpenModel.
type Option func(*options)

// WithMmap reads .born files through a memory map instead of ReadAt.
func WithMmap(enabled bool) Option {
	return func(o *options) { o.mmap = enabled }
}

// WithValidation sets the header validation level for .born files.
func WithValidation(level serialization.ValidationLevel) Option {
	return func(o *options) { o.validation = level }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Magic prefixes used when the extension is not conclusive.
var (
	hdf5Magic = []byte("\x89HDF\r\n\x1a\n")
	zipMagic  = []byte("PK\x03\x04")
)

// OpenModel opens a model file and detects its format, first from the
// extension and then from the leading bytes.
//
// Example:
//
//	model, err := loader.OpenModel("path/to/model.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer model.Close()
//
//	fmt.Printf("Format: %s\n", model.Format())
func OpenModel(path string, opts ...Option) (ModelReader, error) {
	o := options{validation: serialization.ValidationStrict, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("opening model", "path", path, "format", format, "mmap", o.mmap)

	switch format {
	case FormatBorn:
		return openBorn(path, o)
	case FormatSafeTensors:
		reader, err := NewSafeTensorsReader(path)
		if err != nil {
			return nil, err
		}
		return &safeTensorsModel{reader: reader, path: path}, nil
	case FormatONNX:
		return openONNX(path)
	case FormatKeras:
		return openKeras(path, o)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// DetectFormat identifies a model file by extension, falling back to its
// leading bytes. Keras v3 archives are reported as ErrUnsupportedFormat.
func DetectFormat(path string) (ModelFormat, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".born":
		return FormatBorn, nil
	case ".safetensors":
		return FormatSafeTensors, nil
	case ".onnx":
		return FormatONNX, nil
	case ".h5", ".hdf5":
		return FormatKeras, nil
	case ".keras":
		return FormatUnknown, fmt.Errorf("%w: Keras v3 archive %s; save the model as .h5 or re-export it as .born, .safetensors or .onnx",
			ErrUnsupportedFormat, path)
	}

	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	head := make([]byte, 16)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return FormatUnknown, fmt.Errorf("%w: %s: failed to read leading bytes: %w", ErrUnsupportedFormat, path, err)
	}
	return sniff(head[:n], path)
}

func sniff(head []byte, path string) (ModelFormat, error) {
	switch {
	case bytes.HasPrefix(head, []byte(serialization.MagicBytes)):
		return FormatBorn, nil
	case bytes.HasPrefix(head, hdf5Magic):
		return FormatKeras, nil
	case bytes.HasPrefix(head, zipMagic):
		return FormatUnknown, fmt.Errorf("%w: zip archive %s (Keras v3?)", ErrUnsupportedFormat, path)
	case len(head) >= 9 && head[8] == '{' && binary.LittleEndian.Uint64(head) < maxSafeTensorsHeader:
		return FormatSafeTensors, nil
	case len(head) > 0 && head[0] == 0x08:
		// ModelProto starts with ir_version (field 1, varint).
		return FormatONNX, nil
	default:
		return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Shapes returns the shape of every tensor without reading tensor data.
func Shapes(r ModelReader) (map[string]tensor.Shape, error) {
	names := r.TensorNames()
	shapes := make(map[string]tensor.Shape, len(names))
	for _, name := range names {
		info, err := r.TensorInfo(name)
		if err != nil {
			return nil, err
		}
		shapes[name] = info.Shape
	}
	return shapes, nil
}

// safeTensorsModel adapts SafeTensorsReader to ModelReader.
type safeTensorsModel struct {
	reader *SafeTensorsReader
	path   string
}

func (m *safeTensorsModel) Format() ModelFormat          { return FormatSafeTensors }
func (m *safeTensorsModel) Path() string                 { return m.path }
func (m *safeTensorsModel) Metadata() map[string]string  { return m.reader.Metadata() }
func (m *safeTensorsModel) TensorNames() []string        { return m.reader.TensorNames() }
func (m *safeTensorsModel) Graph() *onnx.ModelProto      { return nil }
func (m *safeTensorsModel) ModelConfig() json.RawMessage { return nil }
func (m *safeTensorsModel) Close() error                 { return m.reader.Close() }

func (m *safeTensorsModel) TensorInfo(name string) (TensorInfo, error) {
	info, err := m.reader.TensorInfo(name)
	if err != nil {
		return TensorInfo{}, err
	}
	dtype, err := safeTensorsDTypeToDataType(info.DType)
	if err != nil {
		return TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return TensorInfo{Name: name, DType: dtype, Shape: tensor.Shape(info.Shape).Clone(), StoredDType: string(info.DType)}, nil
}

func (m *safeTensorsModel) LoadTensor(name string) (*tensor.RawTensor, error) {
	return m.reader.LoadTensor(name)
}
