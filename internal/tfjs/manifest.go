package tfjs

import (
	"encoding/json"
	"fmt"

	"github.com/born-ml/webexport/internal/tensor"
)

// File names inside an artifact directory.
const (
	ModelFileName = "model.json"
	LayersFormat  = "layers-model"
)

// DefaultShardSize is the shard size used by the TensorFlow.js converter.
const DefaultShardSize = 4 * 1024 * 1024

// ModelJSON is the model.json document of a layers model.
type ModelJSON struct {
	Format              string          `json:"format"`
	GeneratedBy         string          `json:"generatedBy"`
	ConvertedBy         string          `json:"convertedBy"`
	ModelTopology       json.RawMessage `json:"modelTopology"`
	WeightsManifest     []WeightGroup   `json:"weightsManifest"`
	UserDefinedMetadata map[string]any  `json:"userDefinedMetadata,omitempty"`
}

// WeightGroup lists shard files and the weights stored across them, in order.
type WeightGroup struct {
	Paths   []string      `json:"paths"`
	Weights []WeightEntry `json:"weights"`
}

// WeightEntry describes one weight inside a group.
type WeightEntry struct {
	Name         string        `json:"name"`
	Shape        []int         `json:"shape"`
	DType        string        `json:"dtype"`
	Quantization *Quantization `json:"quantization,omitempty"`
}

// Quantization records how a weight's bytes were reduced.
// Min and Scale are set for affine (uint8, uint16) quantization only.
type Quantization struct {
	DType         string   `json:"dtype"`
	Min           *float64 `json:"min,omitempty"`
	Scale         *float64 `json:"scale,omitempty"`
	OriginalDType string   `json:"original_dtype"`
}

// ShardName returns the file name of shard i (0-based) of n.
func ShardName(i, n int) string {
	return fmt.Sprintf("group1-shard%dof%d.bin", i+1, n)
}

// webDType maps a tensor dtype to the manifest dtype name.
func webDType(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "float32", nil
	case tensor.Int32:
		return "int32", nil
	case tensor.Bool:
		return "bool", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
}

// parseWebDType is the inverse of webDType.
func parseWebDType(s string) (tensor.DataType, error) {
	switch s {
	case "float32":
		return tensor.Float32, nil
	case "int32":
		return tensor.Int32, nil
	case "bool":
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
	}
}

// storedSize is the number of bytes an entry occupies in the shards.
func (e *WeightEntry) storedSize() (int64, error) {
	n := int64(tensor.Shape(e.Shape).NumElements())
	dtype := e.DType
	if e.Quantization != nil {
		dtype = e.Quantization.DType
	}
	switch dtype {
	case "float32", "int32":
		return n * 4, nil
	case "float16", "uint16":
		return n * 2, nil
	case "uint8", "bool":
		return n, nil
	default:
		return 0, fmt.Errorf("%w: weight %s: stored dtype %q", ErrUnsupportedDType, e.Name, dtype)
	}
}
