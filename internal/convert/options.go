package convert

import (
	"fmt"
	"log/slog"

	"github.com/born-ml/webexport/internal/serialization"
	"github.com/born-ml/webexport/internal/tfjs"
)

// Default paths.
const (
	DefaultInput  = "autoencoder_model.born"
	DefaultOutput = "web_model"
)

// Options configures a conversion.
type Options struct {
	Input  string
	Output string
	// Arch is an optional architecture file that overrides every other
	// topology source.
	Arch      string
	ShardSize int64
	// Quantize is "", "uint8", "uint16" or "float16".
	Quantize  string
	Overwrite bool
	// Verify reads the staged artifact back and compares every weight before
	// it replaces opts.Output.
	Verify bool
	// Mmap reads .born input through a memory map.
	Mmap bool
	// Workers bounds concurrent tensor reads and shard writes.
	Workers int
	// Validation is the .born header validation level ("strict", "normal", "none").
	Validation string
	// Metadata is stored as userDefinedMetadata in model.json.
	Metadata map[string]string
	Logger   *slog.Logger
}

// withDefaults fills unset fields and checks the rest.
func (o Options) withDefaults() (Options, error) {
	if o.Input == "" {
		o.Input = DefaultInput
	}
	if o.Output == "" {
		o.Output = DefaultOutput
	}
	if o.ShardSize == 0 {
		o.ShardSize = tfjs.DefaultShardSize
	}
	if o.ShardSize < 0 {
		return o, fmt.Errorf("%w: %d", tfjs.ErrShardSize, o.ShardSize)
	}
	if o.Workers < 0 {
		return o, fmt.Errorf("workers must not be negative, got %d", o.Workers)
	}
	if _, err := tfjs.ParseMethod(o.Quantize); err != nil {
		return o, err
	}
	if _, err := serialization.ParseValidationLevel(o.Validation); err != nil {
		return o, err
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}
