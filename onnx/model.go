package onnx

import (
	internalonnx "github.com/born-ml/webexport/internal/onnx"
	"github.com/born-ml/webexport/internal/topology"
)

// ModelProto is a parsed ONNX model.
type ModelProto = internalonnx.ModelProto

// GraphProto is the computation graph of a model.
type GraphProto = internalonnx.GraphProto

// NodeProto is one operator invocation.
type NodeProto = internalonnx.NodeProto

// TensorProto is a constant tensor.
type TensorProto = internalonnx.TensorProto

// ModelInfo summarises a model.
type ModelInfo = internalonnx.ModelInfo

// Model is the Sequential layer stack produced by Import.
//
// Note: This is a type alias because the layer types live in an internal
// package shared with the converter.
type Model = topology.Model
