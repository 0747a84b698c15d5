package tfjs

import "errors"

// Common errors.
var (
	ErrOutputExists            = errors.New("output directory exists and is not empty")
	ErrInvalidArtifact         = errors.New("invalid layers-model artifact")
	ErrUnsupportedQuantization = errors.New("unsupported quantization")
	ErrUnsupportedDType        = errors.New("unsupported weight dtype")
	ErrShardSize               = errors.New("shard size must be positive")
	ErrVerifyFailed            = errors.New("staged artifact failed verification")
)
