package tfjs

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/born-ml/webexport/internal/tensor"
	"github.com/born-ml/webexport/internal/topology"
)

// Artifact is a layers model read back from disk.
type Artifact struct {
	Dir   string
	Model ModelJSON
	// Weights holds every weight by manifest name, dequantized to its
	// original dtype.
	Weights map[string]*tensor.RawTensor
	// Names lists the weight names in manifest order.
	Names []string
	// Entries maps each weight name to its manifest entry.
	Entries map[string]WeightEntry
}

// Load reads a layers-model artifact from dir. Every shard listed in the
// manifest must exist and the shard bytes must match the weight sizes
// exactly.
func Load(dir string) (*Artifact, error) {
	//nolint:gosec // G304: artifact path comes from user input
	data, err := os.ReadFile(filepath.Join(dir, ModelFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ModelFileName, err)
	}

	a := &Artifact{
		Dir:     dir,
		Weights: make(map[string]*tensor.RawTensor),
		Entries: make(map[string]WeightEntry),
	}
	if err := json.Unmarshal(data, &a.Model); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidArtifact, ModelFileName, err)
	}
	if a.Model.Format != LayersFormat {
		return nil, fmt.Errorf("%w: format %q, want %q", ErrInvalidArtifact, a.Model.Format, LayersFormat)
	}
	if len(a.Model.ModelTopology) == 0 || string(a.Model.ModelTopology) == "null" {
		return nil, fmt.Errorf("%w: missing modelTopology", ErrInvalidArtifact)
	}

	for gi := range a.Model.WeightsManifest {
		if err := a.loadGroup(&a.Model.WeightsManifest[gi]); err != nil {
			return nil, fmt.Errorf("weights group %d: %w", gi, err)
		}
	}
	return a, nil
}

func (a *Artifact) loadGroup(g *WeightGroup) error {
	var buf []byte
	for _, p := range g.Paths {
		if !filepath.IsLocal(filepath.FromSlash(p)) {
			return fmt.Errorf("%w: shard path %q escapes the artifact", ErrInvalidArtifact, p)
		}
		//nolint:gosec // G304: shard paths are checked above
		chunk, err := os.ReadFile(filepath.Join(a.Dir, filepath.FromSlash(p)))
		if err != nil {
			return fmt.Errorf("failed to read shard: %w", err)
		}
		buf = append(buf, chunk...)
	}

	var offset int64
	for _, e := range g.Weights {
		if _, dup := a.Weights[e.Name]; dup {
			return fmt.Errorf("%w: duplicate weight %s", ErrInvalidArtifact, e.Name)
		}
		if err := tensor.Shape(e.Shape).Validate(); err != nil {
			return fmt.Errorf("%w: weight %s: %w", ErrInvalidArtifact, e.Name, err)
		}
		size, err := e.storedSize()
		if err != nil {
			return err
		}
		if offset+size > int64(len(buf)) {
			return fmt.Errorf("%w: weight %s needs %d bytes at offset %d, shards hold %d",
				ErrInvalidArtifact, e.Name, size, offset, len(buf))
		}
		raw, err := decodeWeight(&e, buf[offset:offset+size])
		if err != nil {
			return fmt.Errorf("weight %s: %w", e.Name, err)
		}
		offset += size

		a.Weights[e.Name] = raw
		a.Entries[e.Name] = e
		a.Names = append(a.Names, e.Name)
	}
	if offset != int64(len(buf)) {
		return fmt.Errorf("%w: shards hold %d bytes, manifest describes %d", ErrInvalidArtifact, len(buf), offset)
	}
	return nil
}

func decodeWeight(e *WeightEntry, data []byte) (*tensor.RawTensor, error) {
	shape := tensor.Shape(e.Shape)
	if e.Quantization != nil {
		if e.DType != "float32" {
			return nil, fmt.Errorf("%w: quantized %s weight", ErrInvalidArtifact, e.DType)
		}
		return dequantize(shape, e.Quantization, data)
	}
	dtype, err := parseWebDType(e.DType)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return tensor.FromBytes(shape, dtype, buf)
}

// Topology decodes modelTopology as a Keras Sequential config.
func (a *Artifact) Topology() (*topology.KerasSequential, error) {
	var seq topology.KerasSequential
	if err := json.Unmarshal(a.Model.ModelTopology, &seq); err != nil {
		return nil, fmt.Errorf("%w: modelTopology: %w", ErrInvalidArtifact, err)
	}
	return &seq, nil
}

// MismatchError reports a weight whose exported value differs from its
// source by more than the storage allows.
type MismatchError struct {
	Weight string
	Index  int
	Want   float32
	Got    float32
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("weight %s[%d]: exported %g, source %g", e.Weight, e.Index, e.Got, e.Want)
}

// Verify checks that the artifact holds exactly the given weights, with
// equal shapes and values within the error bound of their quantization.
func (a *Artifact) Verify(weights []topology.NamedWeight) error {
	if len(weights) != len(a.Weights) {
		return fmt.Errorf("%w: artifact has %d weights, expected %d", ErrInvalidArtifact, len(a.Weights), len(weights))
	}
	for _, w := range weights {
		got, ok := a.Weights[w.Name]
		if !ok {
			return fmt.Errorf("%w: weight %s missing", ErrInvalidArtifact, w.Name)
		}
		if !got.Shape().Equal(w.Tensor.Shape()) {
			return fmt.Errorf("%w: weight %s has shape %v, expected %v", ErrInvalidArtifact, w.Name, got.Shape(), w.Tensor.Shape())
		}
		q := a.Entries[w.Name].Quantization
		want, have := w.Tensor.Float32s(), got.Float32s()
		for i := range want {
			if math.Abs(float64(want[i])-float64(have[i])) > Tolerance(q, want[i]) {
				return &MismatchError{Weight: w.Name, Index: i, Want: want[i], Got: have[i]}
			}
		}
	}
	return nil
}
