package convert

import (
	"context"

	"github.com/born-ml/webexport/internal/tfjs"
)

// VerifyOptions configures Verify.
type VerifyOptions struct {
	// Source is the model file the artifact was exported from. When empty
	// only the artifact's own consistency is checked.
	Source string
	Arch   string
	// Workers bounds concurrent tensor reads of the source.
	Workers int
}

// Report describes a verified artifact.
type Report struct {
	Dir     string
	Name    string
	Layers  int
	Weights int
	// Bytes counts the decoded weight bytes.
	Bytes   int64
	Shards  int
	// Compared is true when weights were checked against a source model.
	Compared bool
}

// Verify loads the layers model in dir, checking its manifest and shards,
// and compares its weights against opts.Source when set.
func Verify(ctx context.Context, dir string, opts VerifyOptions) (*Report, error) {
	art, err := tfjs.Load(dir)
	if err != nil {
		return nil, stepErr(StepVerify, err)
	}
	seq, err := art.Topology()
	if err != nil {
		return nil, stepErr(StepVerify, err)
	}

	rep := &Report{
		Dir:     dir,
		Name:    seq.Config.Name,
		Layers:  len(seq.Config.Layers),
		Weights: len(art.Names),
	}
	for _, g := range art.Model.WeightsManifest {
		rep.Shards += len(g.Paths)
	}
	for _, t := range art.Weights {
		rep.Bytes += int64(len(t.Data()))
	}

	if opts.Source == "" {
		return rep, nil
	}
	src, err := loadSource(ctx, opts.Source, opts.Arch, opts.Workers)
	if err != nil {
		return nil, err
	}
	if err := art.Verify(src.weights); err != nil {
		return nil, stepErr(StepVerify, err)
	}
	rep.Compared = true
	return rep, nil
}

