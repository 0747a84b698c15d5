package onnx

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrNoGraph          = errors.New("model has no graph")
	ErrCycle            = errors.New("graph contains a cycle")
	ErrNotSequential    = errors.New("graph is not a single chain of layers")
	ErrExternalData     = errors.New("tensor data stored in external file is not supported")
	ErrUnsupportedDType = errors.New("unsupported tensor data type")
)

// UnsupportedOpError reports an operator with no layer equivalent.
type UnsupportedOpError struct {
	OpType string
	Node   string
	Reason string
}

// Error implements the error interface.
func (e *UnsupportedOpError) Error() string {
	msg := fmt.Sprintf("unsupported operator %s", e.OpType)
	if e.Node != "" {
		msg += fmt.Sprintf(" (node %q)", e.Node)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
