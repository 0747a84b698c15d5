package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/webexport/tensor"
)

func TestFromFloat32Transpose(t *testing.T) {
	w, err := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, w.DType())

	k, err := w.Transpose2D()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2}, k.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, k.AsFloat32())
}

func TestFromBytesSizeMismatch(t *testing.T) {
	_, err := tensor.FromBytes(tensor.Shape{2}, tensor.Int32, make([]byte, 4))
	require.Error(t, err)
}

func TestParseDataType(t *testing.T) {
	dt, err := tensor.ParseDataType("int64")
	require.NoError(t, err)
	assert.Equal(t, tensor.Int64, dt)
	assert.Equal(t, 8, dt.Size())
}

func TestHalfPrecision(t *testing.T) {
	assert.Equal(t, float32(1), tensor.Float16ToFloat32(0x3c00))
	assert.Equal(t, uint16(0xc000), tensor.Float32ToFloat16(-2))
	assert.Equal(t, float32(0.5), tensor.BFloat16ToFloat32(0x3f00))
}
