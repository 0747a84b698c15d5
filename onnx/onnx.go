// Package onnx reads ONNX model files and translates feed-forward graphs
// into Sequential layer stacks.
//
// # Supported Features
//
//   - ONNX protobuf parsing (packed and unpacked repeated fields)
//   - Initializers and Constant nodes as weights
//   - float32, float64, float16, bfloat16, int32, int64, uint8 and bool tensors
//   - Single-chain graphs of the operators listed below
//
// # Example Usage
//
//	import "github.com/born-ml/webexport/onnx"
//
//	model, err := onnx.ParseFile("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	info := onnx.Info(model)
//	fmt.Println("Opset:", info.OpsetVersion, "nodes:", info.NodeCount)
//
//	layers, err := onnx.Import(model)
//	if err != nil {
//	    log.Fatal(err) // e.g. *onnx.UnsupportedOpError for Conv
//	}
//
// # Supported Operators
//
//   - Dense: Gemm (transB, no transA), MatMul followed by Add
//   - Activation: Relu, LeakyRelu, Sigmoid, HardSigmoid, Tanh, Softmax,
//     Elu, Selu, Softplus, Softsign, Gelu
//   - Shape: Flatten (axis 1)
//   - Normalization: LayerNormalization (last axis)
//   - No-ops: Dropout, Identity, Constant
package onnx

import (
	internalonnx "github.com/born-ml/webexport/internal/onnx"
	"github.com/born-ml/webexport/internal/tensor"
)

// Errors returned by parsing and import.
var (
	ErrNoGraph          = internalonnx.ErrNoGraph
	ErrCycle            = internalonnx.ErrCycle
	ErrNotSequential    = internalonnx.ErrNotSequential
	ErrExternalData     = internalonnx.ErrExternalData
	ErrUnsupportedDType = internalonnx.ErrUnsupportedDType
)

// UnsupportedOpError reports an operator with no layer equivalent.
type UnsupportedOpError = internalonnx.UnsupportedOpError

// ParseFile parses an ONNX model from file.
func ParseFile(path string) (*ModelProto, error) {
	return internalonnx.ParseFile(path)
}

// Parse parses an ONNX model from bytes.
//
// This is useful when the model is embedded in the binary or received
// over the network.
func Parse(data []byte) (*ModelProto, error) {
	return internalonnx.Parse(data)
}

// Import translates a single-chain graph into a Sequential model whose
// layers bind weights by initializer name.
func Import(model *ModelProto) (*Model, error) {
	return internalonnx.Import(model)
}

// Info extracts summary information from a parsed model.
func Info(model *ModelProto) *ModelInfo {
	return internalonnx.Info(model)
}

// Initializers returns the constant tensors of a graph, including the
// values of Constant nodes.
func Initializers(g *GraphProto) []TensorProto {
	return internalonnx.Initializers(g)
}

// TensorFromProto decodes an initializer into a raw tensor. Half-precision
// data is widened to float32.
func TensorFromProto(p *TensorProto) (*tensor.RawTensor, error) {
	return internalonnx.TensorFromProto(p)
}
