package converter_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/webexport/converter"
	"github.com/born-ml/webexport/internal/serialization"
	"github.com/born-ml/webexport/internal/tensor"
	"github.com/born-ml/webexport/loader"
)

func writeModel(t *testing.T, path string) {
	t.Helper()
	weight, err := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	bias, err := tensor.FromFloat32(tensor.Shape{2}, []float32{-1, 1})
	require.NoError(t, err)
	w, err := serialization.NewBornWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteStateDictV2(map[string]*tensor.RawTensor{
		"0.weight": weight,
		"0.bias":   bias,
	}, "Sequential", nil))
	require.NoError(t, w.Close())
}

func TestConvertVerifyInspect(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, converter.DefaultInput)
	output := filepath.Join(dir, converter.DefaultOutput)
	writeModel(t, input)

	res, err := converter.Convert(context.Background(), converter.Options{Input: input, Output: output})
	require.NoError(t, err)
	assert.Equal(t, loader.FormatBorn, res.Format)
	assert.Equal(t, 1, res.Layers)
	assert.Equal(t, 8, res.Params)

	rep, err := converter.Verify(context.Background(), output, converter.VerifyOptions{Source: input})
	require.NoError(t, err)
	assert.True(t, rep.Compared)

	s, err := converter.Inspect(input, "")
	require.NoError(t, err)
	assert.Len(t, s.Tensors, 2)
	require.NoError(t, s.TopologyErr)
}

func TestConvertStepError(t *testing.T) {
	_, err := converter.Convert(context.Background(), converter.Options{
		Input:  filepath.Join(t.TempDir(), "missing.born"),
		Output: filepath.Join(t.TempDir(), "out"),
	})
	var step *converter.StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, converter.StepLoad, step.Step)
}

func TestLoaderFacade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	writeModel(t, path)

	format, err := loader.DetectFormat(path)
	require.NoError(t, err)
	assert.Equal(t, loader.FormatBorn, format)

	_, err = loader.WithValidation("paranoid")
	require.Error(t, err)
	strict, err := loader.WithValidation("strict")
	require.NoError(t, err)

	r, err := loader.OpenModel(path, loader.WithMmap(true), strict)
	require.NoError(t, err)
	defer r.Close()

	shapes, err := loader.Shapes(r)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, shapes["0.weight"])

	all, err := loader.LoadAll(context.Background(), r, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, 1}, all["0.bias"].AsFloat32())
}
