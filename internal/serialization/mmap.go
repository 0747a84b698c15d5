package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/born-ml/webexport/internal/tensor"
)

// MmapReader provides memory-mapped access to .born files.
// Only the header is parsed up front; tensor bytes are paged in by the OS
// when a tensor is read.
type MmapReader struct {
	file       *os.File
	data       []byte // mmap'd region (read-only)
	size       int64
	header     Header
	version    uint32
	flags      uint32
	dataOffset int64
	dataSize   int64
	checksum   [32]byte
	closed     bool
}

// NewMmapReader creates a memory-mapped reader for a .born file with strict
// validation and checksum verification.
//
// Always call Close() when done to unmap the file.
func NewMmapReader(path string) (*MmapReader, error) {
	return NewMmapReaderWithOptions(path, ReaderOptions{ValidationLevel: ValidationStrict})
}

// NewMmapReaderWithOptions creates a memory-mapped reader with custom options.
func NewMmapReaderWithOptions(path string, opts ReaderOptions) (*MmapReader, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.Size() < fixedHeaderSizeV1 {
		_ = file.Close()
		return nil, fmt.Errorf("file too small: %d bytes (minimum %d bytes required)", stat.Size(), fixedHeaderSizeV1)
	}

	data, err := mmapFile(file, stat.Size())
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	r := &MmapReader{
		file: file,
		data: data,
		size: stat.Size(),
	}

	if err := r.parseHeader(opts.ValidationLevel); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if r.version == FormatVersionV2 && !opts.SkipChecksumValidation {
		if err := r.VerifyChecksum(); err != nil {
			_ = r.Close()
			return nil, err
		}
	}

	return r, nil
}

// parseHeader reads and parses the .born file header from the mapped region.
func (r *MmapReader) parseHeader(level ValidationLevel) error {
	if string(r.data[0:4]) != MagicBytes {
		return ErrInvalidMagic
	}

	r.version = binary.LittleEndian.Uint32(r.data[4:8])
	r.flags = binary.LittleEndian.Uint32(r.data[8:12])

	var (
		headerSize uint64
		jsonOffset int64
	)

	switch r.version {
	case FormatVersionV2:
		if r.size < FixedHeaderSizeV2 {
			return fmt.Errorf("file too small for v2: %d bytes (minimum 64 bytes required)", r.size)
		}
		headerSize = binary.LittleEndian.Uint64(r.data[16:24])
		dataSize := binary.LittleEndian.Uint64(r.data[24:32])
		if dataSize > uint64(r.size) { //nolint:gosec // size is non-negative
			return fmt.Errorf("%w: data size %d exceeds file size %d", ErrOutOfBounds, dataSize, r.size)
		}
		r.dataSize = int64(dataSize) //nolint:gosec // bounded above
		copy(r.checksum[:], r.data[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])
		jsonOffset = FixedHeaderSizeV2
	case FormatVersion:
		headerSize = binary.LittleEndian.Uint64(r.data[12:20])
		jsonOffset = fixedHeaderSizeV1
	default:
		return fmt.Errorf("%w: got %d, expected %d or %d", ErrUnsupportedVersion, r.version, FormatVersion, FormatVersionV2)
	}

	if headerSize > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	headerEnd := jsonOffset + int64(headerSize) //nolint:gosec // bounded by MaxHeaderSize
	if headerEnd > r.size {
		return fmt.Errorf("header extends beyond file: header_end=%d, file_size=%d", headerEnd, r.size)
	}

	if err := json.Unmarshal(r.data[jsonOffset:headerEnd], &r.header); err != nil {
		return fmt.Errorf("failed to parse header JSON: %w", err)
	}

	r.dataOffset = alignedDataOffset(headerEnd)
	if r.version == FormatVersion {
		r.dataSize = r.size - r.dataOffset
	}
	if r.dataOffset+r.dataSize > r.size {
		return fmt.Errorf("%w: data section ends at %d, file size %d", ErrOutOfBounds, r.dataOffset+r.dataSize, r.size)
	}

	if err := ValidateHeader(&r.header, r.dataSize, level); err != nil {
		return fmt.Errorf("header validation failed: %w", err)
	}

	return nil
}

// VerifyChecksum recomputes the v2 data checksum. It is a no-op for v1 files.
func (r *MmapReader) VerifyChecksum() error {
	if r.version != FormatVersionV2 {
		return nil
	}
	computed := ComputeChecksum(r.data[r.dataOffset : r.dataOffset+r.dataSize])
	return ValidateChecksum(computed, r.checksum)
}

// Close unmaps and closes the file.
func (r *MmapReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.data != nil {
		err = munmapFile(r.data)
		r.data = nil
	}

	if closeErr := r.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	return err
}

// Header returns the file header.
func (r *MmapReader) Header() Header {
	return r.header
}

// Version returns the format version (1 or 2).
func (r *MmapReader) Version() uint32 {
	return r.version
}

// Metadata returns the metadata map from the header.
func (r *MmapReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns a list of all tensor names in the file.
func (r *MmapReader) TensorNames() []string {
	names := make([]string, len(r.header.Tensors))
	for i, t := range r.header.Tensors {
		names[i] = t.Name
	}
	return names
}

// TensorInfo returns metadata about a specific tensor.
func (r *MmapReader) TensorInfo(name string) (*TensorMeta, error) {
	for i := range r.header.Tensors {
		if r.header.Tensors[i].Name == name {
			return &r.header.Tensors[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
}

// TensorData returns a zero-copy slice to tensor data.
// The returned slice is valid only while the reader is open and must not be
// written to.
func (r *MmapReader) TensorData(name string) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}

	meta, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	if meta.Offset < 0 || meta.Size < 0 || meta.Offset+meta.Size > r.dataSize {
		return nil, fmt.Errorf("%w: tensor %q: offset %d + size %d > data_size %d",
			ErrOutOfBounds, name, meta.Offset, meta.Size, r.dataSize)
	}

	start := r.dataOffset + meta.Offset
	return r.data[start : start+meta.Size], nil
}

// ReadTensorData returns a copy of tensor data that outlives the reader.
func (r *MmapReader) ReadTensorData(name string) ([]byte, error) {
	data, err := r.TensorData(name)
	if err != nil {
		return nil, err
	}

	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// LoadTensor loads a tensor, copying it out of the mapped region.
func (r *MmapReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	meta, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}

	return metaToTensor(meta, data)
}

// ReadStateDict reads all tensors into a state dictionary.
func (r *MmapReader) ReadStateDict() (map[string]*tensor.RawTensor, error) {
	if r.closed {
		return nil, ErrClosed
	}

	stateDict := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, meta := range r.header.Tensors {
		raw, err := r.LoadTensor(meta.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to load tensor %s: %w", meta.Name, err)
		}
		stateDict[meta.Name] = raw
	}

	return stateDict, nil
}
