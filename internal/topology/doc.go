// Package topology describes the layer stack of a feed-forward model and
// binds each parameterised layer to the source tensors that hold its weights.
//
// A Model comes from one of four places, in priority order:
//   - an architecture file (YAML or JSON, validated against an embedded schema)
//   - an architecture document stored in the model file metadata
//   - an imported ONNX graph
//   - inference from Sequential state dict names ("0.weight", "0.bias", ...)
//
// Once validated against the available tensor shapes, a Model renders as a
// Keras Sequential configuration and produces the ordered weight list that
// TensorFlow.js expects.
package topology
