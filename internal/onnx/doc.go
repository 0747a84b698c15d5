// Package onnx reads ONNX model files far enough to export them.
//
// Files are decoded with the protobuf wire-format primitives into a small set
// of structs (ModelProto, GraphProto, NodeProto, TensorProto, ...). No
// generated code is involved; unknown fields are skipped.
//
// On top of the decoder the package offers:
//   - SortNodes: dependency order of graph nodes, rejecting cycles
//   - TensorFromProto: initializer decoding into tensor.RawTensor
//   - Import: translation of a feed-forward graph into a topology.Model
//
// Example:
//
//	model, err := onnx.ParseFile("autoencoder.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	seq, err := onnx.Import(model)
package onnx
