package topology

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/webexport/internal/tensor"
)

// autoencoderShapes mirrors Sequential(Linear(8,4), ReLU, Linear(4,2), ReLU,
// Linear(2,4), ReLU, Linear(4,8), Sigmoid) as saved by Born.
func autoencoderShapes() map[string]tensor.Shape {
	return map[string]tensor.Shape{
		"0.weight": {4, 8}, "0.bias": {4},
		"2.weight": {2, 4}, "2.bias": {2},
		"4.weight": {4, 2}, "4.bias": {4},
		"6.weight": {8, 4}, "6.bias": {8},
	}
}

func TestInferAutoencoder(t *testing.T) {
	model, err := Infer(autoencoderShapes(), map[string]string{MetaOutputActivation: "sigmoid"})
	require.NoError(t, err)
	require.NoError(t, model.Validate(autoencoderShapes()))

	require.Len(t, model.Layers, 4)
	assert.Equal(t, []int{8}, model.InputShape)
	assert.Equal(t, []int{8}, model.OutputShape())
	assert.Equal(t, DefaultModelName, model.Name)

	wantUnits := []int{4, 2, 4, 8}
	wantAct := []string{"relu", "relu", "relu", "sigmoid"}
	for i, l := range model.Layers {
		assert.Equal(t, KindDense, l.Kind)
		assert.Equal(t, wantUnits[i], l.Units, "layer %d units", i)
		assert.Equal(t, wantAct[i], l.Activation, "layer %d activation", i)
		assert.Equal(t, LayoutOutIn, l.KernelLayout)
	}
	assert.Equal(t, 8*4+4+4*2+2+2*4+4+4*8+8, model.ParamCount(autoencoderShapes()))
}

func TestInferHiddenActivationFromMetadata(t *testing.T) {
	model, err := Infer(autoencoderShapes(), map[string]string{MetaActivation: "tanh", MetaModelName: "ae"})
	require.NoError(t, err)

	assert.Equal(t, "ae", model.Name)
	assert.Equal(t, "tanh", model.Layers[0].Activation)
	assert.Equal(t, "", model.Layers[3].Activation, "output stays linear by default")
}

func TestInferLeakyReLUInsertsLayer(t *testing.T) {
	shapes := map[string]tensor.Shape{"0.weight": {3, 5}, "2.weight": {1, 3}}
	model, err := Infer(shapes, map[string]string{MetaActivation: "leaky_relu"})
	require.NoError(t, err)
	require.NoError(t, model.Validate(shapes))

	require.Len(t, model.Layers, 3)
	assert.Equal(t, KindLeakyReLU, model.Layers[1].Kind)
	require.NotNil(t, model.Layers[1].Alpha)
	assert.InDelta(t, DefaultLeakyAlpha, *model.Layers[1].Alpha, 1e-9)
	assert.Empty(t, model.Layers[2].Bias)
}

func TestInferLayerNormalization(t *testing.T) {
	shapes := map[string]tensor.Shape{
		"0.weight": {4, 6}, "0.bias": {4},
		"1.gamma": {4}, "1.beta": {4},
		"2.weight": {2, 4}, "2.bias": {2},
	}
	model, err := Infer(shapes, nil)
	require.NoError(t, err)
	require.NoError(t, model.Validate(shapes))

	require.Len(t, model.Layers, 3)
	assert.Equal(t, KindLayerNormalize, model.Layers[1].Kind)
	assert.InDelta(t, DefaultEpsilon, model.Layers[1].Epsilon, 1e-12)
	assert.Equal(t, ActivationLinear, model.Layers[0].Activation, "adjacent indices mean no activation")
}

func TestInferSkipsOptimizerState(t *testing.T) {
	shapes := autoencoderShapes()
	shapes["optimizer.m.0.weight"] = tensor.Shape{4, 8}

	model, err := Infer(shapes, nil)
	require.NoError(t, err)
	assert.Len(t, model.Layers, 4)
}

func TestInferRejectsUnknownNames(t *testing.T) {
	_, err := Infer(map[string]tensor.Shape{"encoder.weight": {2, 2}}, nil)
	require.ErrorIs(t, err, ErrCannotInfer)

	_, err = Infer(map[string]tensor.Shape{"0.running_mean": {2}}, nil)
	require.ErrorIs(t, err, ErrCannotInfer)

	_, err = Infer(map[string]tensor.Shape{"0.weight": {2, 2, 2}}, nil)
	require.ErrorIs(t, err, ErrCannotInfer)

	_, err = Infer(map[string]tensor.Shape{}, nil)
	require.ErrorIs(t, err, ErrCannotInfer)
}

func TestValidateShapeMismatch(t *testing.T) {
	shapes := autoencoderShapes()
	shapes["2.weight"] = tensor.Shape{2, 5}

	model, err := Infer(shapes, nil)
	require.NoError(t, err)

	err = model.Validate(shapes)
	var mismatch *ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1, mismatch.Layer)
	assert.Equal(t, "2.weight", mismatch.Tensor)
}

func TestValidateBiasMismatch(t *testing.T) {
	shapes := map[string]tensor.Shape{"w": {3, 2}, "b": {2}}
	model := &Model{Layers: []Layer{{Kind: KindDense, Kernel: "w", Bias: "b"}}}

	var mismatch *ShapeMismatchError
	require.ErrorAs(t, model.Validate(shapes), &mismatch)
	assert.Equal(t, "b", mismatch.Tensor)
}

func TestValidateMissingTensor(t *testing.T) {
	model := &Model{Layers: []Layer{{Kind: KindDense, Kernel: "nope"}}}
	require.ErrorIs(t, model.Validate(map[string]tensor.Shape{}), ErrMissingTensor)
}

func TestValidateUnsupported(t *testing.T) {
	shapes := map[string]tensor.Shape{"w": {2, 2}}

	model := &Model{Layers: []Layer{{Kind: KindDense, Kernel: "w", Activation: "mish"}}}
	var unsupported *UnsupportedLayerError
	require.ErrorAs(t, model.Validate(shapes), &unsupported)
	assert.Equal(t, "mish", unsupported.Kind)

	model = &Model{Layers: []Layer{{Kind: "conv2d"}}}
	require.ErrorAs(t, model.Validate(shapes), &unsupported)

	require.ErrorIs(t, (&Model{}).Validate(shapes), ErrNoLayers)
}

func TestValidateExplicitInputShapeAndFlatten(t *testing.T) {
	shapes := map[string]tensor.Shape{"w": {6, 3}}
	model := &Model{
		InputShape: []int{2, 3},
		Layers: []Layer{
			{Kind: KindFlatten},
			{Kind: KindDense, Kernel: "w", KernelLayout: LayoutInOut, Units: 3},
			{Kind: KindDropout, Rate: 0.2},
		},
	}
	require.NoError(t, model.Validate(shapes))
	assert.Equal(t, []int{3}, model.OutputShape())

	model.Layers[1].Units = 4
	var mismatch *ShapeMismatchError
	require.ErrorAs(t, model.Validate(shapes), &mismatch)
}

func TestValidateFlattenFirstNeedsInputShape(t *testing.T) {
	shapes := map[string]tensor.Shape{"w": {6, 3}}
	model := &Model{Layers: []Layer{{Kind: KindFlatten}, {Kind: KindDense, Kernel: "w"}}}
	require.ErrorIs(t, model.Validate(shapes), ErrUnknownInputShape)
}

func TestLayerNames(t *testing.T) {
	model := &Model{Layers: []Layer{
		{Kind: KindDense},
		{Kind: KindDense, Name: "dense_1"},
		{Kind: KindDense},
		{Kind: KindLeakyReLU},
		{Kind: KindActivation},
	}}
	names, err := model.layerNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"dense", "dense_1", "dense_2", "leaky_re_lu", "activation"}, names)

	model.Layers[0].Name = "dense_1"
	_, err = model.layerNames()
	require.ErrorIs(t, err, ErrInvalidArchitecture)
}

func TestKerasConfig(t *testing.T) {
	model, err := Infer(autoencoderShapes(), map[string]string{MetaOutputActivation: "sigmoid"})
	require.NoError(t, err)
	require.NoError(t, model.Validate(autoencoderShapes()))

	data, err := MarshalKerasConfig(model)
	require.NoError(t, err)

	var decoded struct {
		ClassName string `json:"class_name"`
		Config    struct {
			Name   string `json:"name"`
			Layers []struct {
				ClassName string         `json:"class_name"`
				Config    map[string]any `json:"config"`
			} `json:"layers"`
		} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "Sequential", decoded.ClassName)
	require.Len(t, decoded.Config.Layers, 5)

	input := decoded.Config.Layers[0]
	assert.Equal(t, "InputLayer", input.ClassName)
	assert.Equal(t, []any{nil, float64(8)}, input.Config["batch_input_shape"])

	last := decoded.Config.Layers[4]
	assert.Equal(t, "Dense", last.ClassName)
	assert.Equal(t, "dense_3", last.Config["name"])
	assert.Equal(t, "sigmoid", last.Config["activation"])
	assert.Equal(t, float64(8), last.Config["units"])
	assert.Equal(t, true, last.Config["use_bias"])
}

func TestKerasConfigOtherLayers(t *testing.T) {
	model := &Model{
		InputShape: []int{4},
		Layers: []Layer{
			{Kind: KindLayerNormalize, Gamma: "g", Epsilon: 1e-3},
			{Kind: KindDropout, Rate: 0.5},
			{Kind: KindLeakyReLU, Alpha: ptr(0.2)},
			{Kind: KindActivation, Activation: "softmax"},
		},
	}
	cfg, err := KerasConfig(model)
	require.NoError(t, err)

	classes := make([]string, 0, len(cfg.Config.Layers))
	for _, l := range cfg.Config.Layers {
		classes = append(classes, l.ClassName)
	}
	assert.Equal(t, []string{"InputLayer", "LayerNormalization", "Dropout", "LeakyReLU", "Activation"}, classes)
	assert.Equal(t, true, cfg.Config.Layers[1].Config["scale"])
	assert.Equal(t, false, cfg.Config.Layers[1].Config["center"])
	assert.Equal(t, "layer_normalization", cfg.Config.Layers[1].Config["name"])
}

func TestWeightsTransposeAndNames(t *testing.T) {
	// Born Linear(3 -> 2) stores weight as [out=2, in=3].
	w, err := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	b, err := tensor.FromFloat32(tensor.Shape{2}, []float32{7, 8})
	require.NoError(t, err)
	stateDict := map[string]*tensor.RawTensor{"0.weight": w, "0.bias": b}

	shapes := map[string]tensor.Shape{"0.weight": w.Shape(), "0.bias": b.Shape()}
	model, err := Infer(shapes, nil)
	require.NoError(t, err)
	require.NoError(t, model.Validate(shapes))

	weights, err := Weights(model, stateDict)
	require.NoError(t, err)
	require.Len(t, weights, 2)

	assert.Equal(t, "dense/kernel", weights[0].Name)
	assert.Equal(t, tensor.Shape{3, 2}, weights[0].Tensor.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, weights[0].Tensor.AsFloat32())

	assert.Equal(t, "dense/bias", weights[1].Name)
	assert.Equal(t, []float32{7, 8}, weights[1].Tensor.AsFloat32())
}

func TestWeightsMissingTensor(t *testing.T) {
	model := &Model{Layers: []Layer{{Kind: KindDense, Kernel: "w", KernelLayout: LayoutInOut}}}
	_, err := Weights(model, map[string]*tensor.RawTensor{})
	require.ErrorIs(t, err, ErrMissingTensor)
}

func ptr(v float64) *float64 { return &v }

func mustRaw(t *testing.T, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32)
	require.NoError(t, err)
	return raw
}

func TestInferRejectsScalarGamma(t *testing.T) {
	_, err := Infer(map[string]tensor.Shape{"0.gamma": {}}, nil)
	require.ErrorIs(t, err, ErrCannotInfer)

	_, err = Infer(map[string]tensor.Shape{"0.gamma": {4}, "0.beta": {2, 2}}, nil)
	require.ErrorIs(t, err, ErrCannotInfer)
}

func TestValidateRejectsScalarNormalization(t *testing.T) {
	shapes := map[string]tensor.Shape{"g": {}}
	model := &Model{Layers: []Layer{{Kind: KindLayerNormalize, Gamma: "g"}}}
	require.ErrorIs(t, model.Validate(shapes), ErrInvalidArchitecture)
}

func TestValidateRejectsEmptyInputShape(t *testing.T) {
	model := &Model{Layers: []Layer{{Kind: KindLayerNormalize}}}
	require.ErrorIs(t, model.Validate(nil), ErrUnknownInputShape)
}

func TestValidateLeakyAlpha(t *testing.T) {
	shapes := map[string]tensor.Shape{"w": {3, 2}}
	model := &Model{Layers: []Layer{
		{Kind: KindDense, Kernel: "w"},
		{Kind: KindLeakyReLU, Alpha: ptr(0)},
		{Kind: KindLeakyReLU},
	}}
	require.NoError(t, model.Validate(shapes))
	assert.Zero(t, *model.Layers[1].Alpha, "explicit zero is kept")
	assert.InDelta(t, DefaultLeakyAlpha, *model.Layers[2].Alpha, 1e-12)

	cfg, err := KerasConfig(model)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Config.Layers[2].Config["alpha"])

	model.Layers[1].Alpha = ptr(-1)
	require.ErrorIs(t, model.Validate(shapes), ErrInvalidArchitecture)
}

const kerasSequentialConfig = `{
  "class_name": "Sequential",
  "config": {
    "name": "classifier",
    "layers": [
      {"class_name": "InputLayer", "config": {"batch_input_shape": [null, 4], "dtype": "float32", "name": "input_1"}},
      {"class_name": "Dense", "config": {"name": "dense", "units": 3, "activation": "relu", "use_bias": true}},
      {"class_name": "LayerNormalization", "config": {"name": "norm", "axis": [-1], "epsilon": 0.001, "center": true, "scale": true}},
      {"class_name": "Dropout", "config": {"name": "dropout", "rate": 0.25}},
      {"class_name": "LeakyReLU", "config": {"name": "leaky", "alpha": 0.0}},
      {"class_name": "Dense", "config": {"name": "head", "units": 2, "activation": "softmax", "use_bias": false}}
    ]
  },
  "keras_version": "2.15.0",
  "backend": "tensorflow"
}`

func TestParseKerasConfig(t *testing.T) {
	model, err := ParseKerasConfig([]byte(kerasSequentialConfig))
	require.NoError(t, err)

	assert.Equal(t, "classifier", model.Name)
	assert.Equal(t, []int{4}, model.InputShape)
	require.Len(t, model.Layers, 5)

	assert.Equal(t, Layer{
		Kind: KindDense, Name: "dense", Units: 3, Activation: "relu",
		Kernel: "dense/kernel", KernelLayout: LayoutInOut, Bias: "dense/bias",
	}, model.Layers[0])
	assert.Equal(t, Layer{
		Kind: KindLayerNormalize, Name: "norm", Epsilon: 1e-3, Gamma: "norm/gamma", Beta: "norm/beta",
	}, model.Layers[1])
	assert.Equal(t, 0.25, model.Layers[2].Rate)
	require.NotNil(t, model.Layers[3].Alpha)
	assert.Equal(t, 0.0, *model.Layers[3].Alpha)
	assert.Empty(t, model.Layers[4].Bias)
	assert.Equal(t, "softmax", model.Layers[4].Activation)

	shapes := map[string]tensor.Shape{
		"dense/kernel": {4, 3}, "dense/bias": {3},
		"norm/gamma": {3}, "norm/beta": {3},
		"head/kernel": {3, 2},
	}
	require.NoError(t, model.Validate(shapes))

	weights, err := Weights(model, map[string]*tensor.RawTensor{
		"dense/kernel": mustRaw(t, tensor.Shape{4, 3}),
		"dense/bias":   mustRaw(t, tensor.Shape{3}),
		"norm/gamma":   mustRaw(t, tensor.Shape{3}),
		"norm/beta":    mustRaw(t, tensor.Shape{3}),
		"head/kernel":  mustRaw(t, tensor.Shape{3, 2}),
	})
	require.NoError(t, err)
	names := make([]string, len(weights))
	for i, w := range weights {
		names[i] = w.Name
	}
	assert.Equal(t, []string{"dense/kernel", "dense/bias", "norm/gamma", "norm/beta", "head/kernel"}, names)
	assert.Equal(t, tensor.Shape{4, 3}, weights[0].Tensor.Shape())
}

func TestParseKerasConfigOlderAndNewerLayouts(t *testing.T) {
	t.Run("bare layer list", func(t *testing.T) {
		model, err := ParseKerasConfig([]byte(`{"class_name": "Sequential", "config": [
			{"class_name": "Dense", "config": {"name": "dense_1", "units": 2, "batch_input_shape": [null, 3]}}
		]}`))
		require.NoError(t, err)
		assert.Equal(t, []int{3}, model.InputShape)
		assert.Equal(t, ActivationLinear, model.Layers[0].Activation)
		assert.Equal(t, "dense_1/bias", model.Layers[0].Bias)
	})

	t.Run("batch_shape and negative_slope", func(t *testing.T) {
		model, err := ParseKerasConfig([]byte(`{"class_name": "Sequential", "config": {"name": "s", "layers": [
			{"class_name": "InputLayer", "config": {"batch_shape": [null, 2, 3], "name": "input"}},
			{"class_name": "Flatten", "config": {"name": "flatten", "data_format": "channels_last"}},
			{"class_name": "LeakyReLU", "config": {"name": "leaky_re_lu", "negative_slope": 0.2}},
			{"class_name": "Activation", "config": {"name": "out", "activation": "sigmoid"}}
		]}}`))
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, model.InputShape)
		assert.Equal(t, KindFlatten, model.Layers[0].Kind)
		assert.Equal(t, 0.2, model.Layers[1].LeakyAlpha())
		assert.Equal(t, "sigmoid", model.Layers[2].Activation)
	})

	t.Run("leaky relu without alpha", func(t *testing.T) {
		model, err := ParseKerasConfig([]byte(`{"class_name": "Sequential", "config": {"layers": [
			{"class_name": "LeakyReLU", "config": {"name": "leaky"}}
		]}}`))
		require.NoError(t, err)
		assert.Equal(t, 0.3, model.Layers[0].LeakyAlpha())
	})
}

func TestParseKerasConfigRejects(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   error
	}{
		{"not json", `model`, ErrInvalidArchitecture},
		{"functional model", `{"class_name": "Functional", "config": {"layers": []}}`, ErrInvalidArchitecture},
		{"only an input layer", `{"class_name": "Sequential", "config": {"layers": [
			{"class_name": "InputLayer", "config": {"batch_input_shape": [null, 4], "name": "input_1"}}]}}`, ErrNoLayers},
		{"unknown batch dimension", `{"class_name": "Sequential", "config": {"layers": [
			{"class_name": "InputLayer", "config": {"batch_input_shape": [null, null], "name": "input_1"}},
			{"class_name": "Dense", "config": {"name": "dense", "units": 2}}]}}`, ErrUnknownInputShape},
		{"normalization over the first axis", `{"class_name": "Sequential", "config": {"layers": [
			{"class_name": "LayerNormalization", "config": {"name": "norm", "axis": 1}}]}}`, ErrInvalidArchitecture},
		{"fractional units", `{"class_name": "Sequential", "config": {"layers": [
			{"class_name": "Dense", "config": {"name": "dense", "units": 2.5}}]}}`, ErrInvalidArchitecture},
		{"custom activation object", `{"class_name": "Sequential", "config": {"layers": [
			{"class_name": "Dense", "config": {"name": "dense", "units": 2, "activation": {"class_name": "Custom"}}}]}}`, ErrInvalidArchitecture},
		{"unnamed layer", `{"class_name": "Sequential", "config": {"layers": [
			{"class_name": "Dense", "config": {"units": 2}}]}}`, ErrInvalidArchitecture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKerasConfig([]byte(tt.config))
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("unsupported layer", func(t *testing.T) {
		_, err := ParseKerasConfig([]byte(`{"class_name": "Sequential", "config": {"layers": [
			{"class_name": "Dense", "config": {"name": "dense", "units": 2}},
			{"class_name": "Conv2D", "config": {"name": "conv"}}]}}`))
		var unsupported *UnsupportedLayerError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, 1, unsupported.Layer)
		assert.Equal(t, "Conv2D", unsupported.Kind)
	})
}
