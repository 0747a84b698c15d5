// Package tfjs writes and reads TensorFlow.js layers-model artifacts: a
// model.json holding the Keras topology and weights manifest, plus binary
// weight shards named group1-shard{i}of{n}.bin.
//
// Save stages the artifact in a hidden sibling directory and renames it
// into place, so a failed export never leaves a partial output. Load reads
// an artifact back, checking shard sizes and undoing quantization.
package tfjs
