package topology

import (
	"fmt"

	"github.com/born-ml/webexport/internal/tensor"
)

// binding ties a Keras weight suffix to a source tensor.
type binding struct {
	suffix    string
	source    string
	transpose bool
}

func (l *Layer) bindings() []binding {
	switch l.Kind {
	case KindDense:
		return []binding{
			{suffix: "kernel", source: l.Kernel, transpose: l.KernelLayout != LayoutInOut},
			{suffix: "bias", source: l.Bias},
		}
	case KindLayerNormalize:
		return []binding{
			{suffix: "gamma", source: l.Gamma},
			{suffix: "beta", source: l.Beta},
		}
	default:
		return nil
	}
}

// Weights returns the model weights in Keras order under their Keras names.
// Dense kernels stored as [out, in] are transposed to [in, out] and every
// tensor is cast to a dtype TensorFlow.js supports.
func Weights(m *Model, stateDict map[string]*tensor.RawTensor) ([]NamedWeight, error) {
	names, err := m.layerNames()
	if err != nil {
		return nil, err
	}

	var weights []NamedWeight
	for i := range m.Layers {
		for _, b := range m.Layers[i].bindings() {
			if b.source == "" {
				continue
			}
			raw, err := exportTensor(stateDict, b)
			if err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
			weights = append(weights, NamedWeight{Name: names[i] + "/" + b.suffix, Tensor: raw})
		}
	}
	return weights, nil
}

func exportTensor(stateDict map[string]*tensor.RawTensor, b binding) (*tensor.RawTensor, error) {
	raw, ok := stateDict[b.source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTensor, b.source)
	}

	var err error
	if b.transpose {
		if raw, err = raw.Transpose2D(); err != nil {
			return nil, fmt.Errorf("failed to transpose %s: %w", b.source, err)
		}
	}
	if raw, err = raw.CastForWeb(); err != nil {
		return nil, fmt.Errorf("failed to cast %s: %w", b.source, err)
	}
	return raw, nil
}
