package topology

import (
	"fmt"
	"math"
	"strings"

	"github.com/born-ml/webexport/internal/tensor"
)

// Validate checks the model against the shapes of the available tensors and
// fills in what the shapes determine: dense units, the input shape and
// default hyperparameters.
//
// Every bound tensor must exist and every layer must accept the output of
// the previous one.
//
//nolint:gocognit,gocyclo,cyclop,funlen // One switch over layer kinds keeps the shape walk readable
func (m *Model) Validate(shapes map[string]tensor.Shape) error {
	if len(m.Layers) == 0 {
		return ErrNoLayers
	}
	if m.Name == "" {
		m.Name = DefaultModelName
	}

	for i := range m.Layers {
		if err := m.checkLayer(i, shapes); err != nil {
			return err
		}
	}
	if _, err := m.layerNames(); err != nil {
		return err
	}

	if len(m.InputShape) == 0 {
		shape, err := m.deriveInputShape(shapes)
		if err != nil {
			return err
		}
		m.InputShape = shape
	}
	if len(m.InputShape) == 0 {
		return fmt.Errorf("%w: input shape has no dimensions", ErrUnknownInputShape)
	}
	if err := tensor.Shape(m.InputShape).Validate(); err != nil {
		return fmt.Errorf("invalid input shape: %w", err)
	}

	current := tensor.Shape(m.InputShape).Clone()
	for i := range m.Layers {
		l := &m.Layers[i]
		last := current[len(current)-1]

		switch l.Kind {
		case KindDense:
			in, out := kernelDims(l, shapes[l.Kernel])
			if in != last {
				return &ShapeMismatchError{Layer: i, Tensor: l.Kernel, Want: kernelShape(l, last, out), Got: shapes[l.Kernel]}
			}
			if l.Units == 0 {
				l.Units = out
			} else if l.Units != out {
				return &ShapeMismatchError{Layer: i, Tensor: l.Kernel, Want: kernelShape(l, in, l.Units), Got: shapes[l.Kernel]}
			}
			if l.Bias != "" && !shapes[l.Bias].Equal(tensor.Shape{out}) {
				return &ShapeMismatchError{Layer: i, Tensor: l.Bias, Want: tensor.Shape{out}, Got: shapes[l.Bias]}
			}
			current[len(current)-1] = out

		case KindLayerNormalize:
			for _, name := range []string{l.Gamma, l.Beta} {
				if name != "" && !shapes[name].Equal(tensor.Shape{last}) {
					return &ShapeMismatchError{Layer: i, Tensor: name, Want: tensor.Shape{last}, Got: shapes[name]}
				}
			}

		case KindFlatten:
			current = tensor.Shape{current.NumElements()}
		}
	}

	return nil
}

// checkLayer validates one layer in isolation: kind, hyperparameters and
// tensor bindings.
//
//nolint:gocognit,gocyclo,cyclop // Per-kind checks
func (m *Model) checkLayer(i int, shapes map[string]tensor.Shape) error {
	l := &m.Layers[i]

	if strings.ContainsAny(l.Name, "/ ") {
		return fmt.Errorf("%w: layer %d: name %q contains '/' or a space", ErrInvalidArchitecture, i, l.Name)
	}
	for _, name := range l.Tensors() {
		if _, ok := shapes[name]; !ok {
			return fmt.Errorf("layer %d: %w: %s", i, ErrMissingTensor, name)
		}
	}

	switch l.Kind {
	case KindDense:
		if l.Kernel == "" {
			return fmt.Errorf("%w: layer %d: dense layer needs a kernel tensor", ErrInvalidArchitecture, i)
		}
		if len(shapes[l.Kernel]) != 2 {
			return fmt.Errorf("%w: layer %d: kernel %s must be 2-D, got %v",
				ErrInvalidArchitecture, i, l.Kernel, shapes[l.Kernel])
		}
		switch l.KernelLayout {
		case "":
			l.KernelLayout = LayoutOutIn
		case LayoutOutIn, LayoutInOut:
		default:
			return fmt.Errorf("%w: layer %d: unknown kernel layout %q", ErrInvalidArchitecture, i, l.KernelLayout)
		}
		if l.Activation == "" {
			l.Activation = ActivationLinear
		}
		if !IsActivation(l.Activation) {
			return &UnsupportedLayerError{Layer: i, Kind: l.Activation}
		}

	case KindActivation:
		if !IsActivation(l.Activation) {
			return &UnsupportedLayerError{Layer: i, Kind: l.Activation}
		}

	case KindDropout:
		if l.Rate < 0 || l.Rate >= 1 {
			return fmt.Errorf("%w: layer %d: dropout rate %v outside [0, 1)", ErrInvalidArchitecture, i, l.Rate)
		}

	case KindLeakyReLU:
		alpha := l.LeakyAlpha()
		if alpha < 0 || math.IsNaN(alpha) {
			return fmt.Errorf("%w: layer %d: invalid alpha %v", ErrInvalidArchitecture, i, alpha)
		}
		l.Alpha = &alpha

	case KindLayerNormalize:
		if l.Epsilon < 0 {
			return fmt.Errorf("%w: layer %d: negative epsilon %v", ErrInvalidArchitecture, i, l.Epsilon)
		}
		if l.Epsilon == 0 {
			l.Epsilon = DefaultEpsilon
		}
		for _, name := range []string{l.Gamma, l.Beta} {
			if name != "" && len(shapes[name]) != 1 {
				return fmt.Errorf("%w: layer %d: %s must be 1-D, got %v",
					ErrInvalidArchitecture, i, name, shapes[name])
			}
		}

	case KindFlatten:

	default:
		return &UnsupportedLayerError{Layer: i, Kind: string(l.Kind)}
	}

	return nil
}

// deriveInputShape takes the input width from the first layer that fixes it.
func (m *Model) deriveInputShape(shapes map[string]tensor.Shape) ([]int, error) {
	for i := range m.Layers {
		l := &m.Layers[i]
		switch l.Kind {
		case KindDense:
			in, _ := kernelDims(l, shapes[l.Kernel])
			return []int{in}, nil
		case KindLayerNormalize:
			for _, name := range []string{l.Gamma, l.Beta} {
				if name != "" {
					return []int(shapes[name].Clone()), nil
				}
			}
		case KindFlatten:
			return nil, fmt.Errorf("%w: flatten precedes every sized layer", ErrUnknownInputShape)
		}
	}
	return nil, ErrUnknownInputShape
}

// kernelDims returns (in, out) for a dense kernel of the given shape.
func kernelDims(l *Layer, shape tensor.Shape) (in, out int) {
	if l.KernelLayout == LayoutInOut {
		return shape[0], shape[1]
	}
	return shape[1], shape[0]
}

// kernelShape is the inverse of kernelDims, used for error reporting.
func kernelShape(l *Layer, in, out int) tensor.Shape {
	if l.KernelLayout == LayoutInOut {
		return tensor.Shape{in, out}
	}
	return tensor.Shape{out, in}
}
