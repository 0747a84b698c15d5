package serialization

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/born-ml/webexport/internal/tensor"
)

// ToolVersion is recorded in the born_version field of written headers.
const ToolVersion = "0.1.0"

// BornWriter writes models in .born format.
type BornWriter struct {
	file   *os.File
	closed bool
}

// NewBornWriter creates a new .born file writer.
func NewBornWriter(path string) (*BornWriter, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &BornWriter{file: file}, nil
}

// WriteStateDict writes a state dictionary using format v1.
func (w *BornWriter) WriteStateDict(stateDict map[string]*tensor.RawTensor, modelType string, metadata map[string]string) error {
	return w.WriteStateDictWithHeader(stateDict, Header{ModelType: modelType, Metadata: metadata})
}

// WriteStateDictV2 writes a state dictionary using format v2 (SHA-256 checksum).
func (w *BornWriter) WriteStateDictV2(stateDict map[string]*tensor.RawTensor, modelType string, metadata map[string]string) error {
	return w.WriteStateDictWithHeaderV2(stateDict, Header{ModelType: modelType, Metadata: metadata})
}

// WriteStateDictWithHeader writes a state dictionary with a custom header
// using format v1. Tensor entries in header are replaced.
func (w *BornWriter) WriteStateDictWithHeader(stateDict map[string]*tensor.RawTensor, header Header) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	return encode(w.file, stateDict, header, FormatVersion)
}

// WriteStateDictWithHeaderV2 writes a state dictionary with a custom header
// using format v2.
func (w *BornWriter) WriteStateDictWithHeaderV2(stateDict map[string]*tensor.RawTensor, header Header) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	return encode(w.file, stateDict, header, FormatVersionV2)
}

// Close closes the writer and the underlying file.
func (w *BornWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// WriteTo writes the state dictionary in format v1 to an io.Writer.
func WriteTo(writer io.Writer, stateDict map[string]*tensor.RawTensor, modelType string, metadata map[string]string) error {
	return encode(writer, stateDict, Header{ModelType: modelType, Metadata: metadata}, FormatVersion)
}

// encode writes a complete .born file of the given version.
func encode(out io.Writer, stateDict map[string]*tensor.RawTensor, header Header, version int) error {
	metas, order := layoutTensors(stateDict)

	header.FormatVersion = version
	header.BornVersion = ToolVersion
	header.Tensors = metas
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	headerSize := uint64(len(headerJSON))

	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if header.CheckpointMeta != nil && header.CheckpointMeta.IsCheckpoint {
		flags |= FlagHasOptimizer
	}

	var dataSize int64
	for _, m := range metas {
		dataSize += m.Size
	}

	bw := bufio.NewWriter(out)

	var pos int64
	if version == FormatVersionV2 {
		h := ComputeChecksumOf(stateDict, order)

		fixed := make([]byte, FixedHeaderSizeV2)
		copy(fixed[0:4], MagicBytes)
		binary.LittleEndian.PutUint32(fixed[4:8], uint32(FormatVersionV2))
		binary.LittleEndian.PutUint32(fixed[8:12], flags)
		binary.LittleEndian.PutUint64(fixed[16:24], headerSize)
		binary.LittleEndian.PutUint64(fixed[24:32], uint64(dataSize)) //nolint:gosec // sizes are non-negative
		copy(fixed[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize], h[:])
		if _, err := bw.Write(fixed); err != nil {
			return fmt.Errorf("failed to write fixed header: %w", err)
		}
		pos = FixedHeaderSizeV2
	} else {
		fixed := make([]byte, fixedHeaderSizeV1)
		copy(fixed[0:4], MagicBytes)
		binary.LittleEndian.PutUint32(fixed[4:8], uint32(FormatVersion))
		binary.LittleEndian.PutUint32(fixed[8:12], flags)
		binary.LittleEndian.PutUint64(fixed[12:20], headerSize)
		if _, err := bw.Write(fixed); err != nil {
			return fmt.Errorf("failed to write fixed header: %w", err)
		}
		pos = fixedHeaderSizeV1
	}

	if _, err := bw.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	pos += int64(headerSize) //nolint:gosec // G115: header is marshalled in memory

	if padding := alignedDataOffset(pos) - pos; padding > 0 {
		if _, err := bw.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}

	for _, name := range order {
		if _, err := bw.Write(stateDict[name].Data()); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// ComputeChecksumOf hashes the data section a writer would produce for
// stateDict when tensors are laid out in order.
func ComputeChecksumOf(stateDict map[string]*tensor.RawTensor, order []string) [32]byte {
	readers := make([]io.Reader, 0, len(order))
	for _, name := range order {
		readers = append(readers, bytes.NewReader(stateDict[name].Data()))
	}
	sum, _ := ComputeChecksumReader(io.MultiReader(readers...)) // in-memory readers cannot fail
	return sum
}
