package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/born-ml/webexport/internal/loader"
	"github.com/born-ml/webexport/internal/onnx"
	"github.com/born-ml/webexport/internal/serialization"
	"github.com/born-ml/webexport/internal/tensor"
	"github.com/born-ml/webexport/internal/tfjs"
	"github.com/born-ml/webexport/internal/topology"
)

// ConvertedBy is written to the convertedBy field of model.json.
var ConvertedBy = "webexport v" + serialization.ToolVersion

// Topology sources, in priority order.
const (
	SourceArchFile = "arch-file"
	SourceMetadata = "metadata"
	SourceONNX     = "onnx"
	SourceKeras    = "keras-config"
	SourceInferred = "inferred"
)

// Result reports a finished conversion.
type Result struct {
	Input          string
	Output         string
	Format         loader.ModelFormat
	TopologySource string
	Layers         int
	Weights        int
	Params         int
	Bytes          int64
	Shards         []string
	Verified       bool
	Duration       time.Duration
}

// Convert exports opts.Input as a layers model in opts.Output.
// Errors are *StepError values naming the failed step.
func Convert(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	log := opts.Logger.With("input", opts.Input, "output", opts.Output)
	level, _ := serialization.ParseValidationLevel(opts.Validation)
	method, _ := tfjs.ParseMethod(opts.Quantize)

	src, err := loadSource(ctx, opts.Input, opts.Arch, opts.Workers,
		loader.WithMmap(opts.Mmap),
		loader.WithValidation(level),
		loader.WithLogger(opts.Logger))
	if err != nil {
		return nil, err
	}
	model, source, weights := src.model, src.topologySource, src.weights
	log.Debug("resolved topology", "source", source, "layers", len(model.Layers), "input_shape", model.InputShape)

	keras, err := topology.KerasConfig(model)
	if err != nil {
		return nil, stepErr(StepTopology, err)
	}
	config, err := json.Marshal(keras)
	if err != nil {
		return nil, stepErr(StepTopology, fmt.Errorf("failed to encode topology: %w", err))
	}

	var verify func(string) error
	if opts.Verify {
		verify = func(staging string) error {
			art, err := tfjs.Load(staging)
			if err != nil {
				return err
			}
			return art.Verify(weights)
		}
	}

	saved, err := tfjs.Save(ctx, opts.Output, config, weights, tfjs.SaveOptions{
		ShardSize:   opts.ShardSize,
		Quantize:    method,
		Overwrite:   opts.Overwrite,
		GeneratedBy: "keras v" + keras.KerasVersion,
		ConvertedBy: ConvertedBy,
		Metadata:    userMetadata(opts.Metadata),
		Workers:     opts.Workers,
		Verify:      verify,
		Logger:      opts.Logger,
	})
	if errors.Is(err, tfjs.ErrVerifyFailed) {
		return nil, stepErr(StepVerify, err)
	}
	if err != nil {
		return nil, stepErr(StepExport, err)
	}

	res := &Result{
		Input:          opts.Input,
		Output:         opts.Output,
		Format:         src.format,
		TopologySource: source,
		Layers:         len(model.Layers),
		Weights:        len(weights),
		Params:         model.ParamCount(src.shapes),
		Bytes:          saved.WeightBytes,
		Shards:         saved.ShardPaths,
		Verified:       opts.Verify,
	}

	res.Duration = time.Since(start)
	log.Info("converted model",
		"format", res.Format,
		"topology", source,
		"layers", res.Layers,
		"weights", res.Weights,
		"bytes", res.Bytes,
		"shards", len(res.Shards),
		"duration", res.Duration)
	return res, nil
}

// sourceModel is a model file reduced to its validated topology and the weights
// that topology binds, in export order.
type sourceModel struct {
	format         loader.ModelFormat
	shapes         map[string]tensor.Shape
	model          *topology.Model
	topologySource string
	weights        []topology.NamedWeight
}

func loadSource(ctx context.Context, path, arch string, workers int, opts ...loader.Option) (*sourceModel, error) {
	r, err := loader.OpenModel(path, opts...)
	if err != nil {
		return nil, stepErr(StepLoad, err)
	}
	defer r.Close()

	shapes, err := loader.Shapes(r)
	if err != nil {
		return nil, stepErr(StepLoad, err)
	}

	model, from, err := resolveTopology(arch, r, shapes)
	if err != nil {
		return nil, stepErr(StepTopology, err)
	}
	if err := model.Validate(shapes); err != nil {
		return nil, stepErr(StepTopology, fmt.Errorf("%s topology: %w", from, err))
	}

	stateDict, err := loader.LoadAll(ctx, r, workers)
	if err != nil {
		return nil, stepErr(StepLoad, err)
	}
	weights, err := topology.Weights(model, stateDict)
	if err != nil {
		return nil, stepErr(StepTopology, err)
	}

	return &sourceModel{
		format:         r.Format(),
		shapes:         shapes,
		model:          model,
		topologySource: from,
		weights:        weights,
	}, nil
}

// resolveTopology picks the first available source: the architecture file,
// embedded metadata, the ONNX graph, the Keras model config, then inference
// from tensor names.
func resolveTopology(arch string, r loader.ModelReader, shapes map[string]tensor.Shape) (*topology.Model, string, error) {
	if arch != "" {
		m, err := topology.LoadArchitecture(arch)
		if err != nil {
			return nil, SourceArchFile, err
		}
		return m, SourceArchFile, nil
	}

	m, ok, err := topology.FromMetadata(r.Metadata())
	if err != nil {
		return nil, SourceMetadata, err
	}
	if ok {
		return m, SourceMetadata, nil
	}

	if g := r.Graph(); g != nil {
		m, err := onnx.Import(g)
		if err != nil {
			return nil, SourceONNX, err
		}
		return m, SourceONNX, nil
	}

	if cfg := r.ModelConfig(); cfg != nil {
		m, err := topology.ParseKerasConfig(cfg)
		if err != nil {
			return nil, SourceKeras, err
		}
		return m, SourceKeras, nil
	}

	m, err = topology.Infer(shapes, r.Metadata())
	if err != nil {
		return nil, SourceInferred, err
	}
	return m, SourceInferred, nil
}

func userMetadata(md map[string]string) map[string]any {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
