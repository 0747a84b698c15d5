package topology

import (
	"fmt"

	"github.com/born-ml/webexport/internal/tensor"
)

// Kind identifies a layer type.
type Kind string

// Supported layer kinds.
const (
	KindDense          Kind = "dense"
	KindActivation     Kind = "activation"
	KindDropout        Kind = "dropout"
	KindFlatten        Kind = "flatten"
	KindLeakyReLU      Kind = "leaky_relu"
	KindLayerNormalize Kind = "layer_normalization"
)

// Kernel layouts for dense layers.
const (
	// LayoutOutIn stores the kernel as [out, in] (Born and PyTorch Linear).
	LayoutOutIn = "out_in"
	// LayoutInOut stores the kernel as [in, out] (Keras, ONNX MatMul).
	LayoutInOut = "in_out"
)

// Default hyperparameters.
const (
	DefaultEpsilon        = 1e-5
	DefaultLeakyAlpha     = 0.01
	DefaultModelName      = "sequential"
	ActivationLinear      = "linear"
	ActivationReLU        = "relu"
	activationLeakyReLU   = "leaky_relu"
	defaultKerasVersion   = "2.15.0"
	defaultKerasBackend   = "tensorflow"
	defaultFloatDType     = "float32"
	defaultKernelInitName = "GlorotUniform"
)

// activations lists the activation names Keras and TensorFlow.js both accept.
var activations = map[string]bool{
	"linear":       true,
	"relu":         true,
	"relu6":        true,
	"sigmoid":      true,
	"hard_sigmoid": true,
	"tanh":         true,
	"softmax":      true,
	"softplus":     true,
	"softsign":     true,
	"elu":          true,
	"selu":         true,
	"gelu":         true,
	"swish":        true,
}

// IsActivation reports whether name is an activation the exporter can emit.
func IsActivation(name string) bool {
	return activations[name]
}

// Layer is one entry of a Sequential stack.
//
// Tensor fields (Kernel, Bias, Gamma, Beta) name tensors in the source model.
type Layer struct {
	Kind         Kind     `json:"kind"                    yaml:"kind"`
	Name         string   `json:"name,omitempty"          yaml:"name,omitempty"`
	Units        int      `json:"units,omitempty"         yaml:"units,omitempty"`
	Activation   string   `json:"activation,omitempty"    yaml:"activation,omitempty"`
	Rate         float64  `json:"rate,omitempty"          yaml:"rate,omitempty"`
	Alpha        *float64 `json:"alpha,omitempty"         yaml:"alpha,omitempty"`
	Epsilon      float64  `json:"epsilon,omitempty"       yaml:"epsilon,omitempty"`
	Kernel       string   `json:"kernel,omitempty"        yaml:"kernel,omitempty"`
	KernelLayout string   `json:"kernel_layout,omitempty" yaml:"kernel_layout,omitempty"`
	Bias         string   `json:"bias,omitempty"          yaml:"bias,omitempty"`
	Gamma        string   `json:"gamma,omitempty"         yaml:"gamma,omitempty"`
	Beta         string   `json:"beta,omitempty"          yaml:"beta,omitempty"`
}

// LeakyAlpha returns the negative slope of a leaky_relu layer,
// DefaultLeakyAlpha when none was given.
func (l *Layer) LeakyAlpha() float64 {
	if l.Alpha == nil {
		return DefaultLeakyAlpha
	}
	return *l.Alpha
}

// Tensors returns the source tensor names this layer reads, in export order.
func (l *Layer) Tensors() []string {
	var names []string
	for _, b := range l.bindings() {
		if b.source != "" {
			names = append(names, b.source)
		}
	}
	return names
}

// Model is a Sequential layer stack.
type Model struct {
	Name       string  `json:"name,omitempty"        yaml:"name,omitempty"`
	InputShape []int   `json:"input_shape,omitempty" yaml:"input_shape,omitempty"`
	Layers     []Layer `json:"layers"                yaml:"layers"`
}

// NamedWeight is an exported weight under its Keras name (e.g. "dense/kernel").
type NamedWeight struct {
	Name   string
	Tensor *tensor.RawTensor
}

// OutputShape returns the per-sample output shape. It is only meaningful
// after Validate succeeded.
func (m *Model) OutputShape() []int {
	shape := append([]int(nil), m.InputShape...)
	for i := range m.Layers {
		l := &m.Layers[i]
		switch l.Kind {
		case KindDense:
			if len(shape) > 0 {
				shape[len(shape)-1] = l.Units
			}
		case KindFlatten:
			shape = []int{tensor.Shape(shape).NumElements()}
		}
	}
	return shape
}

// ParamCount returns the number of scalar parameters bound by the model.
func (m *Model) ParamCount(shapes map[string]tensor.Shape) int {
	total := 0
	for i := range m.Layers {
		for _, name := range m.Layers[i].Tensors() {
			total += shapes[name].NumElements()
		}
	}
	return total
}

// layerNames assigns unique Keras layer names, honouring explicit names.
// Generated names follow Keras: the first layer of a class is "dense",
// the next "dense_1", and so on.
func (m *Model) layerNames() ([]string, error) {
	names := make([]string, len(m.Layers))
	used := make(map[string]bool, len(m.Layers))

	for i := range m.Layers {
		if n := m.Layers[i].Name; n != "" {
			if used[n] {
				return nil, fmt.Errorf("%w: duplicate layer name %q", ErrInvalidArchitecture, n)
			}
			used[n] = true
			names[i] = n
		}
	}

	counters := make(map[string]int)
	for i := range m.Layers {
		if names[i] != "" {
			continue
		}
		base := kerasSnakeName(m.Layers[i].Kind)
		for {
			candidate := base
			if c := counters[base]; c > 0 {
				candidate = fmt.Sprintf("%s_%d", base, c)
			}
			counters[base]++
			if !used[candidate] {
				used[candidate] = true
				names[i] = candidate
				break
			}
		}
	}
	return names, nil
}

// kerasSnakeName returns the default layer name prefix Keras uses per class.
func kerasSnakeName(k Kind) string {
	switch k {
	case KindLeakyReLU:
		return "leaky_re_lu"
	default:
		return string(k)
	}
}
