package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRaw(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3}, Float32)
	require.NoError(t, err)
	assert.Equal(t, 6, raw.NumElements())
	assert.Equal(t, 24, raw.ByteSize())
	assert.Len(t, raw.Data(), 24)

	_, err = NewRaw(Shape{2, 0}, Float32)
	assert.Error(t, err)
}

func TestFromBytes_SizeMismatch(t *testing.T) {
	_, err := FromBytes(Shape{2, 2}, Float32, make([]byte, 15))
	assert.ErrorContains(t, err, "expected 16 bytes")

	raw, err := FromBytes(Shape{2, 2}, Int32, make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, Int32, raw.DType())
}

func TestTranspose2D(t *testing.T) {
	// [[1 2 3] [4 5 6]] -> [[1 4] [2 5] [3 6]]
	raw, err := FromFloat32(Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	tr, err := raw.Transpose2D()
	require.NoError(t, err)
	assert.Equal(t, Shape{3, 2}, tr.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, tr.AsFloat32())

	vec, err := FromFloat32(Shape{3}, []float32{1, 2, 3})
	require.NoError(t, err)
	_, err = vec.Transpose2D()
	assert.Error(t, err)
}

func TestCastForWeb(t *testing.T) {
	t.Run("float64", func(t *testing.T) {
		raw, err := NewRaw(Shape{2}, Float64)
		require.NoError(t, err)
		putFloat64(raw.Data(), 0, 1.5)
		putFloat64(raw.Data(), 1, -2.25)

		out, err := raw.CastForWeb()
		require.NoError(t, err)
		assert.Equal(t, Float32, out.DType())
		assert.Equal(t, []float32{1.5, -2.25}, out.AsFloat32())
	})

	t.Run("int64 overflow", func(t *testing.T) {
		raw, err := NewRaw(Shape{1}, Int64)
		require.NoError(t, err)
		putInt64(raw.Data(), 0, math.MaxInt32+1)

		_, err = raw.CastForWeb()
		assert.ErrorContains(t, err, "does not fit in int32")
	})

	t.Run("int64", func(t *testing.T) {
		raw, err := NewRaw(Shape{2}, Int64)
		require.NoError(t, err)
		putInt64(raw.Data(), 0, -7)
		putInt64(raw.Data(), 1, 42)

		out, err := raw.CastForWeb()
		require.NoError(t, err)
		assert.Equal(t, []int32{-7, 42}, out.AsInt32())
	})

	t.Run("uint8", func(t *testing.T) {
		raw, err := FromBytes(Shape{3}, Uint8, []byte{0, 128, 255})
		require.NoError(t, err)

		out, err := raw.CastForWeb()
		require.NoError(t, err)
		assert.Equal(t, []int32{0, 128, 255}, out.AsInt32())
	})

	t.Run("float32 unchanged", func(t *testing.T) {
		raw, err := FromFloat32(Shape{1}, []float32{3})
		require.NoError(t, err)

		out, err := raw.CastForWeb()
		require.NoError(t, err)
		assert.Same(t, raw, out)
	})
}

func TestFloat32s(t *testing.T) {
	raw, err := NewRaw(Shape{2}, Int64)
	require.NoError(t, err)
	putInt64(raw.Data(), 0, -3)
	putInt64(raw.Data(), 1, 9)
	assert.Equal(t, []float32{-3, 9}, raw.Float32s())
}

func TestParseDataType(t *testing.T) {
	for _, dt := range []DataType{Float32, Float64, Int32, Int64, Uint8, Bool} {
		got, err := ParseDataType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, got)
	}
	_, err := ParseDataType("complex64")
	assert.Error(t, err)
}

func putFloat64(b []byte, i int, v float64) {
	bits := math.Float64bits(v)
	for k := 0; k < 8; k++ {
		b[i*8+k] = byte(bits >> (8 * k))
	}
}

func putInt64(b []byte, i int, v int64) {
	u := uint64(v) //nolint:gosec // bit reinterpretation
	for k := 0; k < 8; k++ {
		b[i*8+k] = byte(u >> (8 * k))
	}
}
