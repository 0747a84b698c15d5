package topology

import (
	"errors"
	"fmt"

	"github.com/born-ml/webexport/internal/tensor"
)

// Common errors.
var (
	ErrNoLayers            = errors.New("model has no layers")
	ErrMissingTensor       = errors.New("tensor referenced by layer not found")
	ErrUnknownInputShape   = errors.New("input shape cannot be determined")
	ErrCannotInfer         = errors.New("cannot infer architecture from tensor names")
	ErrInvalidArchitecture = errors.New("invalid architecture document")
)

// UnsupportedLayerError reports a layer kind or activation the exporter cannot express.
type UnsupportedLayerError struct {
	Layer int    // Index in Model.Layers
	Kind  string // Offending kind or activation name
}

// Error implements the error interface.
func (e *UnsupportedLayerError) Error() string {
	return fmt.Sprintf("layer %d: unsupported layer or activation %q", e.Layer, e.Kind)
}

// ShapeMismatchError reports a tensor whose shape disagrees with the layer stack.
type ShapeMismatchError struct {
	Layer  int
	Tensor string
	Want   tensor.Shape
	Got    tensor.Shape
}

// Error implements the error interface.
func (e *ShapeMismatchError) Error() string {
	if e.Tensor == "" {
		return fmt.Sprintf("layer %d: expected input %v, got %v", e.Layer, e.Want, e.Got)
	}
	return fmt.Sprintf("layer %d: tensor %s has shape %v, expected %v", e.Layer, e.Tensor, e.Got, e.Want)
}
