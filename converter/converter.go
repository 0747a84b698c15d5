// Package converter exports trained models as TensorFlow.js layers models.
//
// A conversion loads a .born, .safetensors, .onnx or Keras .h5 file, resolves a
// Sequential topology for it and writes model.json plus binary weight
// shards to the output directory.
//
// Example usage:
//
//	import "github.com/born-ml/webexport/converter"
//
//	res, err := converter.Convert(ctx, converter.Options{
//	    Input:  "autoencoder_model.born",
//	    Output: "web_model",
//	    Verify: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d weights in %d shards\n", res.Weights, len(res.Shards))
package converter

import (
	"context"

	"github.com/born-ml/webexport/internal/convert"
)

// Options configures a conversion. Zero values select the defaults:
// autoencoder_model.born, web_model and 4 MiB shards.
type Options = convert.Options

// Result reports a finished conversion.
type Result = convert.Result

// Summary describes a model file without converting it.
type Summary = convert.Summary

// VerifyOptions configures Verify.
type VerifyOptions = convert.VerifyOptions

// Report describes a verified artifact.
type Report = convert.Report

// StepError wraps the error of one pipeline step.
type StepError = convert.StepError

// Pipeline steps.
const (
	StepLoad     = convert.StepLoad
	StepTopology = convert.StepTopology
	StepExport   = convert.StepExport
	StepVerify   = convert.StepVerify
)

// Default paths.
const (
	DefaultInput  = convert.DefaultInput
	DefaultOutput = convert.DefaultOutput
)

// Convert exports opts.Input as a layers model in opts.Output. Nothing is
// left at the output path when it fails.
func Convert(ctx context.Context, opts Options) (*Result, error) {
	return convert.Convert(ctx, opts)
}

// Verify loads the layers model in dir and, when opts.Source is set,
// compares its weights against the source model.
func Verify(ctx context.Context, dir string, opts VerifyOptions) (*Report, error) {
	return convert.Verify(ctx, dir, opts)
}

// Inspect summarises a model file and the topology resolved for it. arch
// is an optional architecture file.
func Inspect(path, arch string) (*Summary, error) {
	return convert.Inspect(path, arch)
}

// Watch converts once, then again whenever the input file changes, until
// ctx is done.
func Watch(ctx context.Context, opts Options, onResult func(*Result, error)) error {
	return convert.Watch(ctx, opts, onResult)
}
