package loader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/born-ml/webexport/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// maxSafeTensorsHeader bounds the JSON header read into memory.
const maxSafeTensorsHeader = 100 * 1024 * 1024

// SafeTensorsDType represents supported SafeTensors data types.
type SafeTensorsDType string

// Supported SafeTensors dtypes.
const (
	SafeTensorsF16  SafeTensorsDType = "F16"
	SafeTensorsF32  SafeTensorsDType = "F32"
	SafeTensorsF64  SafeTensorsDType = "F64"
	SafeTensorsBF16 SafeTensorsDType = "BF16"
	SafeTensorsI32  SafeTensorsDType = "I32"
	SafeTensorsI64  SafeTensorsDType = "I64"
	SafeTensorsU8   SafeTensorsDType = "U8"
	SafeTensorsBool SafeTensorsDType = "BOOL"
)

// SafeTensorInfo describes a tensor in SafeTensors format.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end]
}

// SafeTensorsHeader is the JSON header in SafeTensors format.
type SafeTensorsHeader struct {
	Metadata map[string]string         `json:"__metadata__"`
	Tensors  map[string]SafeTensorInfo `json:"-"`
}

// UnmarshalJSON splits the "__metadata__" entry from the tensor entries.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]SafeTensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}

	return nil
}

// SafeTensorsReader reads SafeTensors format files.
// Tensor reads use ReadAt and are safe for concurrent use.
type SafeTensorsReader struct {
	file       *os.File
	header     SafeTensorsHeader
	dataOffset int64 // Offset where tensor data starts
	dataSize   int64
}

// NewSafeTensorsReader opens path and parses its header. Every tensor's
// byte range is checked against the data section and its dtype and shape.
func NewSafeTensorsReader(path string) (*SafeTensorsReader, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r, err := newSafeTensorsReader(file)
	if err != nil {
		_ = file.Close() // Best effort close on error
		return nil, err
	}
	return r, nil
}

func newSafeTensorsReader(file *os.File) (*SafeTensorsReader, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("%w: failed to read header size: %w", ErrCorrupt, err)
	}
	if headerSize > maxSafeTensorsHeader || int64(headerSize) > stat.Size()-8 { //nolint:gosec // G115: bounded above
		return nil, fmt.Errorf("%w: invalid header size %d", ErrCorrupt, headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %w", ErrCorrupt, err)
	}

	var header SafeTensorsHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: failed to parse header JSON: %w", ErrCorrupt, err)
	}

	dataOffset := int64(8 + headerSize) //nolint:gosec // G115: bounded by file size above
	r := &SafeTensorsReader{
		file:       file,
		header:     header,
		dataOffset: dataOffset,
		dataSize:   stat.Size() - dataOffset,
	}
	for name, info := range header.Tensors {
		if err := r.checkTensor(name, info); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// checkTensor rejects entries whose bytes cannot hold the declared shape.
func (r *SafeTensorsReader) checkTensor(name string, info SafeTensorInfo) error {
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > r.dataSize {
		return fmt.Errorf("%w: tensor %s has data offsets [%d, %d] outside %d data bytes",
			ErrCorrupt, name, start, end, r.dataSize)
	}
	size, err := safeTensorsDTypeSize(info.DType)
	if err != nil {
		return fmt.Errorf("tensor %s: %w", name, err)
	}
	n := int64(1)
	for _, d := range info.Shape {
		if d <= 0 || n > math.MaxInt64/int64(d) {
			return fmt.Errorf("%w: tensor %s has invalid shape %v", ErrCorrupt, name, info.Shape)
		}
		n *= int64(d)
	}
	if n*int64(size) != end-start {
		return fmt.Errorf("%w: tensor %s: shape %v %s needs %d bytes, data offsets span %d",
			ErrCorrupt, name, info.Shape, info.DType, n*int64(size), end-start)
	}
	return nil
}

// Close closes the SafeTensors file.
func (r *SafeTensorsReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Metadata returns the metadata map from the header.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns all tensor names in sorted order.
func (r *SafeTensorsReader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorInfo returns information about a specific tensor.
func (r *SafeTensorsReader) TensorInfo(name string) (*SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return &info, nil
}

// ReadTensorData reads raw tensor data for a given tensor name.
func (r *SafeTensorsReader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	data := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if _, err := r.file.ReadAt(data, r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	return data, nil
}

// LoadTensor loads a tensor. F16 and BF16 tensors are widened to float32.
func (r *SafeTensorsReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	dtype, err := safeTensorsDTypeToDataType(info.DType)
	if err != nil {
		return nil, fmt.Errorf("failed to convert dtype for tensor %s: %w", name, err)
	}

	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}

	shape := tensor.Shape(info.Shape)
	switch info.DType {
	case SafeTensorsF16, SafeTensorsBF16:
		return widenHalf(shape, info.DType, data)
	default:
		raw, err := tensor.FromBytes(shape, dtype, data)
		if err != nil {
			return nil, fmt.Errorf("invalid tensor %s: %w", name, err)
		}
		return raw, nil
	}
}

// widenHalf decodes 16-bit floats into a new float32 tensor.
func widenHalf(shape tensor.Shape, dtype SafeTensorsDType, data []byte) (*tensor.RawTensor, error) {
	n := len(data) / 2
	values := make([]float32, n)
	for i := range values {
		h := binary.LittleEndian.Uint16(data[i*2:])
		if dtype == SafeTensorsF16 {
			values[i] = tensor.Float16ToFloat32(h)
		} else {
			values[i] = tensor.BFloat16ToFloat32(h)
		}
	}
	return tensor.FromFloat32(shape, values)
}

// safeTensorsDTypeToDataType returns the dtype a SafeTensors tensor loads as.
func safeTensorsDTypeToDataType(dtype SafeTensorsDType) (tensor.DataType, error) {
	switch dtype {
	case SafeTensorsF32, SafeTensorsF16, SafeTensorsBF16:
		return tensor.Float32, nil
	case SafeTensorsF64:
		return tensor.Float64, nil
	case SafeTensorsI32:
		return tensor.Int32, nil
	case SafeTensorsI64:
		return tensor.Int64, nil
	case SafeTensorsU8:
		return tensor.Uint8, nil
	case SafeTensorsBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}
}

// safeTensorsDTypeSize is the stored element width in bytes.
func safeTensorsDTypeSize(dtype SafeTensorsDType) (int, error) {
	switch dtype {
	case SafeTensorsF16, SafeTensorsBF16:
		return 2, nil
	case SafeTensorsU8, SafeTensorsBool:
		return 1, nil
	}
	dt, err := safeTensorsDTypeToDataType(dtype)
	if err != nil {
		return 0, err
	}
	return dt.Size(), nil
}
