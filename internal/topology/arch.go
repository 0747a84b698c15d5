package topology

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

//go:embed arch.schema.json
var archSchemaSource string

const archSchemaURL = "arch.schema.json"

var (
	archSchema     *jsonschema.Schema
	archSchemaErr  error
	archSchemaOnce sync.Once
)

func compiledArchSchema() (*jsonschema.Schema, error) {
	archSchemaOnce.Do(func() {
		archSchema, archSchemaErr = jsonschema.CompileString(archSchemaURL, archSchemaSource)
	})
	return archSchema, archSchemaErr
}

// ParseArchitecture decodes an architecture document. YAML and JSON are both
// accepted. The document is validated against the embedded schema before it
// is decoded into a Model.
func ParseArchitecture(data []byte) (*Model, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %w", ErrInvalidArchitecture, err)
	}

	schema, err := compiledArchSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile architecture schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchitecture, err)
	}

	var model Model
	if err := yaml.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("%w: failed to decode layers: %w", ErrInvalidArchitecture, err)
	}
	return &model, nil
}

// LoadArchitecture reads and parses an architecture file.
func LoadArchitecture(path string) (*Model, error) {
	//nolint:gosec // G304: Architecture path is provided by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read architecture file: %w", err)
	}
	model, err := ParseArchitecture(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return model, nil
}
