package topology

import (
	"encoding/json"
	"errors"
	"fmt"
)

// KerasLayer is one serialized layer in a Keras model config.
type KerasLayer struct {
	ClassName string         `json:"class_name"`
	Config    map[string]any `json:"config"`
}

// KerasSequential is the "modelTopology" object of a TensorFlow.js layers model.
type KerasSequential struct {
	ClassName    string         `json:"class_name"`
	Config       SequentialBody `json:"config"`
	KerasVersion string         `json:"keras_version"`
	Backend      string         `json:"backend"`
}

// SequentialBody is the config of a Sequential model.
type SequentialBody struct {
	Name   string       `json:"name"`
	Layers []KerasLayer `json:"layers"`
}

// KerasConfig renders a validated model as a Keras 2 Sequential config.
// The first entry is an InputLayer carrying the batch input shape.
func KerasConfig(m *Model) (*KerasSequential, error) {
	if len(m.InputShape) == 0 {
		return nil, ErrUnknownInputShape
	}
	names, err := m.layerNames()
	if err != nil {
		return nil, err
	}

	batchShape := make([]any, 0, len(m.InputShape)+1)
	batchShape = append(batchShape, nil)
	for _, d := range m.InputShape {
		batchShape = append(batchShape, d)
	}

	layers := make([]KerasLayer, 0, len(m.Layers)+1)
	layers = append(layers, KerasLayer{
		ClassName: "InputLayer",
		Config: map[string]any{
			"batch_input_shape": batchShape,
			"dtype":             defaultFloatDType,
			"sparse":            false,
			"ragged":            false,
			"name":              "input_1",
		},
	})

	for i := range m.Layers {
		kl, err := kerasLayer(&m.Layers[i], names[i])
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layers = append(layers, kl)
	}

	return &KerasSequential{
		ClassName:    "Sequential",
		Config:       SequentialBody{Name: m.Name, Layers: layers},
		KerasVersion: defaultKerasVersion,
		Backend:      defaultKerasBackend,
	}, nil
}

// MarshalKerasConfig is KerasConfig followed by JSON encoding.
func MarshalKerasConfig(m *Model) (json.RawMessage, error) {
	cfg, err := KerasConfig(m)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model topology: %w", err)
	}
	return data, nil
}

func kerasLayer(l *Layer, name string) (KerasLayer, error) {
	config := map[string]any{
		"name":      name,
		"trainable": true,
		"dtype":     defaultFloatDType,
	}

	switch l.Kind {
	case KindDense:
		config["units"] = l.Units
		config["activation"] = l.Activation
		config["use_bias"] = l.Bias != ""
		config["kernel_initializer"] = initializer(defaultKernelInitName)
		config["bias_initializer"] = initializer("Zeros")
		for _, key := range []string{"kernel_regularizer", "bias_regularizer", "activity_regularizer", "kernel_constraint", "bias_constraint"} {
			config[key] = nil
		}
		return KerasLayer{ClassName: "Dense", Config: config}, nil

	case KindActivation:
		config["activation"] = l.Activation
		return KerasLayer{ClassName: "Activation", Config: config}, nil

	case KindDropout:
		config["rate"] = l.Rate
		config["noise_shape"] = nil
		config["seed"] = nil
		return KerasLayer{ClassName: "Dropout", Config: config}, nil

	case KindFlatten:
		config["data_format"] = "channels_last"
		return KerasLayer{ClassName: "Flatten", Config: config}, nil

	case KindLeakyReLU:
		config["alpha"] = l.LeakyAlpha()
		return KerasLayer{ClassName: "LeakyReLU", Config: config}, nil

	case KindLayerNormalize:
		config["axis"] = []int{-1}
		config["epsilon"] = l.Epsilon
		config["center"] = l.Beta != ""
		config["scale"] = l.Gamma != ""
		config["beta_initializer"] = initializer("Zeros")
		config["gamma_initializer"] = initializer("Ones")
		for _, key := range []string{"beta_regularizer", "gamma_regularizer", "beta_constraint", "gamma_constraint"} {
			config[key] = nil
		}
		return KerasLayer{ClassName: "LayerNormalization", Config: config}, nil

	default:
		return KerasLayer{}, &UnsupportedLayerError{Kind: string(l.Kind)}
	}
}

func initializer(class string) map[string]any {
	cfg := map[string]any{}
	if class == defaultKernelInitName {
		cfg["seed"] = nil
	}
	return map[string]any{"class_name": class, "config": cfg}
}

// Keras defaults for hyperparameters a config may leave out.
const (
	kerasLeakyAlpha = 0.3
	kerasEpsilon    = 1e-3
)

// ParseKerasConfig decodes a Keras Sequential model config, the JSON stored
// in the model_config attribute of a Keras HDF5 file. Layer tensors are
// named "<layer>/<weight>" and dense kernels use the [in, out] layout.
func ParseKerasConfig(data []byte) (*Model, error) {
	var doc struct {
		ClassName string          `json:"class_name"`
		Config    json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: keras model config: %w", ErrInvalidArchitecture, err)
	}
	if doc.ClassName != "Sequential" {
		return nil, fmt.Errorf("%w: keras %q model, only Sequential is supported", ErrInvalidArchitecture, doc.ClassName)
	}

	var body SequentialBody
	if err := json.Unmarshal(doc.Config, &body); err != nil {
		// Keras before 2.2.3 stores the bare layer list.
		if err := json.Unmarshal(doc.Config, &body.Layers); err != nil {
			return nil, fmt.Errorf("%w: keras model config: %w", ErrInvalidArchitecture, err)
		}
	}

	model := &Model{Name: body.Name}
	for i := range body.Layers {
		kl := &body.Layers[i]
		if model.InputShape == nil {
			shape, err := kerasInputShape(kl.Config)
			if err != nil {
				return nil, fmt.Errorf("keras layer %d: %w", i, err)
			}
			model.InputShape = shape
		}
		if kl.ClassName == "InputLayer" {
			continue
		}
		l, err := layerFromKeras(kl)
		if err != nil {
			var unsupported *UnsupportedLayerError
			if errors.As(err, &unsupported) {
				unsupported.Layer = len(model.Layers)
				return nil, unsupported
			}
			return nil, fmt.Errorf("keras layer %d: %w", i, err)
		}
		model.Layers = append(model.Layers, l)
	}
	if len(model.Layers) == 0 {
		return nil, ErrNoLayers
	}
	return model, nil
}

func layerFromKeras(kl *KerasLayer) (Layer, error) {
	cfg := kl.Config
	name, _ := cfg["name"].(string)
	if name == "" {
		return Layer{}, fmt.Errorf("%w: %s layer has no name", ErrInvalidArchitecture, kl.ClassName)
	}

	switch kl.ClassName {
	case "Dense":
		units, ok := cfg["units"].(float64)
		if !ok || units != float64(int(units)) {
			return Layer{}, fmt.Errorf("%w: dense layer %s has invalid units", ErrInvalidArchitecture, name)
		}
		activation, err := kerasActivation(cfg, name)
		if err != nil {
			return Layer{}, err
		}
		l := Layer{
			Kind:         KindDense,
			Name:         name,
			Units:        int(units),
			Activation:   activation,
			Kernel:       name + "/kernel",
			KernelLayout: LayoutInOut,
		}
		if useBias, ok := cfg["use_bias"].(bool); !ok || useBias {
			l.Bias = name + "/bias"
		}
		return l, nil

	case "Activation":
		activation, err := kerasActivation(cfg, name)
		if err != nil {
			return Layer{}, err
		}
		return Layer{Kind: KindActivation, Name: name, Activation: activation}, nil

	case "Dropout":
		rate, _ := cfg["rate"].(float64)
		return Layer{Kind: KindDropout, Name: name, Rate: rate}, nil

	case "Flatten":
		if f, ok := cfg["data_format"].(string); ok && f != "channels_last" {
			return Layer{}, fmt.Errorf("%w: flatten layer %s uses %s", ErrInvalidArchitecture, name, f)
		}
		return Layer{Kind: KindFlatten, Name: name}, nil

	case "LeakyReLU":
		alpha := kerasLeakyAlpha
		if v, ok := cfg["alpha"].(float64); ok {
			alpha = v
		} else if v, ok := cfg["negative_slope"].(float64); ok {
			alpha = v
		}
		return Layer{Kind: KindLeakyReLU, Name: name, Alpha: &alpha}, nil

	case "LayerNormalization":
		if !lastAxis(cfg["axis"]) {
			return Layer{}, fmt.Errorf("%w: layer normalization %s must normalize the last axis", ErrInvalidArchitecture, name)
		}
		l := Layer{Kind: KindLayerNormalize, Name: name, Epsilon: kerasEpsilon}
		if eps, ok := cfg["epsilon"].(float64); ok {
			l.Epsilon = eps
		}
		if scale, ok := cfg["scale"].(bool); !ok || scale {
			l.Gamma = name + "/gamma"
		}
		if center, ok := cfg["center"].(bool); !ok || center {
			l.Beta = name + "/beta"
		}
		return l, nil

	default:
		return Layer{}, &UnsupportedLayerError{Kind: kl.ClassName}
	}
}

func kerasActivation(cfg map[string]any, layer string) (string, error) {
	switch v := cfg["activation"].(type) {
	case nil:
		return ActivationLinear, nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("%w: layer %s has a non-builtin activation", ErrInvalidArchitecture, layer)
	}
}

// kerasInputShape reads batch_input_shape (Keras 2) or batch_shape (Keras 3)
// without the batch dimension. It returns nil when neither is present.
func kerasInputShape(cfg map[string]any) ([]int, error) {
	raw, ok := cfg["batch_input_shape"].([]any)
	if !ok {
		if raw, ok = cfg["batch_shape"].([]any); !ok {
			return nil, nil
		}
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: batch shape %v has no feature dimensions", ErrUnknownInputShape, raw)
	}
	shape := make([]int, 0, len(raw)-1)
	for _, d := range raw[1:] {
		v, ok := d.(float64)
		if !ok || v < 1 || v != float64(int(v)) {
			return nil, fmt.Errorf("%w: batch shape %v", ErrUnknownInputShape, raw)
		}
		shape = append(shape, int(v))
	}
	return shape, nil
}

func lastAxis(v any) bool {
	switch axis := v.(type) {
	case nil:
		return true
	case float64:
		return axis == -1
	case []any:
		if len(axis) != 1 {
			return false
		}
		a, ok := axis[0].(float64)
		return ok && a == -1
	default:
		return false
	}
}
