package convert

import (
	"github.com/born-ml/webexport/internal/loader"
	"github.com/born-ml/webexport/internal/onnx"
	"github.com/born-ml/webexport/internal/topology"
)

// Summary describes a model file without converting it.
type Summary struct {
	Path     string
	Format   loader.ModelFormat
	Metadata map[string]string
	Tensors  []loader.TensorInfo
	// ONNX is set for ONNX input.
	ONNX *onnx.ModelInfo

	// Model is the resolved and validated topology, nil when TopologyErr is set.
	Model          *topology.Model
	TopologySource string
	TopologyErr    error
	Params         int
}

// Inspect opens path and summarises its tensors and topology. A topology
// that cannot be resolved is reported in Summary.TopologyErr rather than
// failing the call.
func Inspect(path string, arch string) (*Summary, error) {
	r, err := loader.OpenModel(path)
	if err != nil {
		return nil, stepErr(StepLoad, err)
	}
	defer r.Close()

	s := &Summary{
		Path:     path,
		Format:   r.Format(),
		Metadata: r.Metadata(),
	}
	for _, name := range r.TensorNames() {
		info, err := r.TensorInfo(name)
		if err != nil {
			return nil, stepErr(StepLoad, err)
		}
		s.Tensors = append(s.Tensors, info)
	}
	if g := r.Graph(); g != nil {
		s.ONNX = onnx.Info(g)
	}

	shapes, err := loader.Shapes(r)
	if err != nil {
		return nil, stepErr(StepLoad, err)
	}
	model, source, err := resolveTopology(arch, r, shapes)
	s.TopologySource = source
	if err == nil {
		err = model.Validate(shapes)
	}
	if err != nil {
		s.TopologyErr = stepErr(StepTopology, err)
		return s, nil
	}
	s.Model = model
	s.Params = model.ParamCount(shapes)
	return s, nil
}
