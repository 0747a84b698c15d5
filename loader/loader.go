// Package loader opens trained model files and exposes their tensors.
//
// This package wraps the internal loader and exports its public API:
// format detection, a unified reader over .born, .safetensors, .onnx and
// Keras .h5 files, and parallel loading of every tensor.
//
// Example usage:
//
//	import "github.com/born-ml/webexport/loader"
//
//	model, err := loader.OpenModel("autoencoder_model.born", loader.WithMmap(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer model.Close()
//
//	fmt.Printf("Format: %s\n", model.Format())
//	for _, name := range model.TensorNames() {
//	    info, _ := model.TensorInfo(name)
//	    fmt.Println(info.Name, info.Shape)
//	}
package loader

import (
	"context"
	"log/slog"

	"github.com/born-ml/webexport/internal/loader"
	"github.com/born-ml/webexport/internal/serialization"
	"github.com/born-ml/webexport/internal/tensor"
)

// ModelFormat represents the model file format.
type ModelFormat = loader.ModelFormat

// Supported model formats.
const (
	FormatUnknown     ModelFormat = loader.FormatUnknown
	FormatBorn        ModelFormat = loader.FormatBorn
	FormatSafeTensors ModelFormat = loader.FormatSafeTensors
	FormatONNX        ModelFormat = loader.FormatONNX
	FormatKeras       ModelFormat = loader.FormatKeras
)

// ModelReader provides a unified interface over model files.
//
// Note: This is a type alias because LoadTensor returns the internal raw
// tensor type.
type ModelReader = loader.ModelReader

// TensorInfo describes one tensor without loading its data.
type TensorInfo = loader.TensorInfo

// Option configures OpenModel.
type Option = loader.Option

// Errors returned by OpenModel and the readers.
var (
	ErrUnsupportedFormat = loader.ErrUnsupportedFormat
	ErrUnsupportedDType  = loader.ErrUnsupportedDType
	ErrTensorNotFound    = loader.ErrTensorNotFound
	ErrCorrupt           = loader.ErrCorrupt
)

// OpenModel opens a model file and detects its format from the extension,
// falling back to the file's magic bytes.
//
// Supported formats:
//   - .born (native format, v1 and v2)
//   - .safetensors (F16 and BF16 tensors load as float32)
//   - .onnx (initializers and Constant nodes)
func OpenModel(path string, opts ...Option) (ModelReader, error) {
	return loader.OpenModel(path, opts...)
}

// DetectFormat returns the format of the file at path.
func DetectFormat(path string) (ModelFormat, error) {
	return loader.DetectFormat(path)
}

// WithMmap reads .born files through a memory map.
func WithMmap(enabled bool) Option {
	return loader.WithMmap(enabled)
}

// WithValidation sets the header validation level for .born files:
// "strict", "normal" or "none".
func WithValidation(level string) (Option, error) {
	l, err := serialization.ParseValidationLevel(level)
	if err != nil {
		return nil, err
	}
	return loader.WithValidation(l), nil
}

// WithLogger sets the logger used by the readers.
func WithLogger(logger *slog.Logger) Option {
	return loader.WithLogger(logger)
}

// Shapes returns the shape of every tensor in r.
func Shapes(r ModelReader) (map[string]tensor.Shape, error) {
	return loader.Shapes(r)
}

// LoadAll reads every tensor of r using at most workers goroutines
// (GOMAXPROCS when workers <= 0).
func LoadAll(ctx context.Context, r ModelReader, workers int) (map[string]*tensor.RawTensor, error) {
	return loader.LoadAll(ctx, r, workers)
}
