package loader

import "errors"

// Common errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported model format")
	ErrUnsupportedDType  = errors.New("unsupported dtype")
	ErrTensorNotFound    = errors.New("tensor not found")
	ErrCorrupt           = errors.New("corrupt model file")
)
