// Package convert runs the export pipeline: open a model file, resolve its
// layer topology, write a TensorFlow.js layers model and optionally read it
// back to verify the weights.
package convert
