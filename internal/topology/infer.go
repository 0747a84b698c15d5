package topology

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/born-ml/webexport/internal/tensor"
)

// Metadata keys read by inference.
const (
	MetaArchitecture     = "architecture"
	MetaActivation       = "activation"
	MetaOutputActivation = "output_activation"
	MetaModelName        = "name"
)

// skippedPrefixes are state dict entries that never belong to a layer.
var skippedPrefixes = []string{"optimizer."}

// FromMetadata returns the architecture embedded in model metadata, if any.
func FromMetadata(metadata map[string]string) (*Model, bool, error) {
	doc, ok := metadata[MetaArchitecture]
	if !ok || strings.TrimSpace(doc) == "" {
		return nil, false, nil
	}
	model, err := ParseArchitecture([]byte(doc))
	if err != nil {
		return nil, true, fmt.Errorf("embedded %s metadata: %w", MetaArchitecture, err)
	}
	return model, true, nil
}

// paramGroup collects the parameters of one Sequential module index.
type paramGroup struct {
	index  int
	params map[string]string // parameter name -> full tensor name
}

// Infer builds a Sequential model from state dict names of the form
// "<index>.<param>". A 2-D "weight" makes a dense layer, "gamma"/"beta"
// (or a 1-D "weight") a layer normalization. A gap between module indices
// stands for a parameterless module; it becomes the hidden activation named
// by the "activation" metadata key (default relu). The last dense layer
// uses "output_activation" (default linear).
//
//nolint:gocognit,gocyclo,cyclop,funlen // Grouping then a single walk over indices
func Infer(shapes map[string]tensor.Shape, metadata map[string]string) (*Model, error) {
	groups := make(map[int]*paramGroup)

	names := make([]string, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if hasSkippedPrefix(name) {
			continue
		}
		prefix, param, ok := strings.Cut(name, ".")
		if !ok {
			return nil, fmt.Errorf("%w: %q has no module index", ErrCannotInfer, name)
		}
		index, err := strconv.Atoi(prefix)
		if err != nil || index < 0 {
			return nil, fmt.Errorf("%w: %q does not start with a module index", ErrCannotInfer, name)
		}
		g, ok := groups[index]
		if !ok {
			g = &paramGroup{index: index, params: make(map[string]string)}
			groups[index] = g
		}
		g.params[param] = name
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: no layer parameters found", ErrCannotInfer)
	}

	ordered := make([]*paramGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })

	hidden := metadataOr(metadata, MetaActivation, ActivationReLU)
	output := metadataOr(metadata, MetaOutputActivation, ActivationLinear)

	model := &Model{Name: metadataOr(metadata, MetaModelName, DefaultModelName)}
	for i, g := range ordered {
		if i > 0 && g.index-ordered[i-1].index > 1 {
			model.AppendActivation(hidden)
		}
		layer, err := layerFromParams(g, shapes)
		if err != nil {
			return nil, err
		}
		model.Layers = append(model.Layers, layer)
	}

	if output != ActivationLinear {
		model.AppendActivation(output)
	}
	return model, nil
}

// AppendActivation fuses the activation into a trailing dense layer that
// has none, or appends a standalone layer.
func (m *Model) AppendActivation(name string) {
	if name == activationLeakyReLU {
		m.Layers = append(m.Layers, Layer{Kind: KindLeakyReLU})
		return
	}
	if n := len(m.Layers); n > 0 {
		last := &m.Layers[n-1]
		if last.Kind == KindDense && (last.Activation == "" || last.Activation == ActivationLinear) {
			last.Activation = name
			return
		}
	}
	m.Layers = append(m.Layers, Layer{Kind: KindActivation, Activation: name})
}

func layerFromParams(g *paramGroup, shapes map[string]tensor.Shape) (Layer, error) {
	weight, hasWeight := g.params["weight"]
	bias := g.params["bias"]

	switch {
	case hasWeight && len(shapes[weight]) == 2:
		if err := onlyParams(g, "weight", "bias"); err != nil {
			return Layer{}, err
		}
		return Layer{Kind: KindDense, Kernel: weight, KernelLayout: LayoutOutIn, Bias: bias}, nil

	case hasWeight && len(shapes[weight]) == 1:
		if err := onlyParams(g, "weight", "bias"); err != nil {
			return Layer{}, err
		}
		return Layer{Kind: KindLayerNormalize, Gamma: weight, Beta: bias}, nil

	case g.params["gamma"] != "":
		if err := onlyParams(g, "gamma", "beta"); err != nil {
			return Layer{}, err
		}
		for _, name := range []string{g.params["gamma"], g.params["beta"]} {
			if name != "" && len(shapes[name]) != 1 {
				return Layer{}, fmt.Errorf("%w: module %d tensor %s has rank %d, want 1",
					ErrCannotInfer, g.index, name, len(shapes[name]))
			}
		}
		return Layer{Kind: KindLayerNormalize, Gamma: g.params["gamma"], Beta: g.params["beta"]}, nil

	case hasWeight:
		return Layer{}, fmt.Errorf("%w: module %d weight %s has rank %d",
			ErrCannotInfer, g.index, weight, len(shapes[weight]))

	default:
		return Layer{}, fmt.Errorf("%w: module %d has no weight or gamma", ErrCannotInfer, g.index)
	}
}

func onlyParams(g *paramGroup, allowed ...string) error {
	for param, name := range g.params {
		if !slices.Contains(allowed, param) {
			return fmt.Errorf("%w: unexpected tensor %s in module %d", ErrCannotInfer, name, g.index)
		}
	}
	return nil
}

func hasSkippedPrefix(name string) bool {
	for _, p := range skippedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func metadataOr(metadata map[string]string, key, fallback string) string {
	if v := strings.TrimSpace(metadata[key]); v != "" {
		return v
	}
	return fallback
}
