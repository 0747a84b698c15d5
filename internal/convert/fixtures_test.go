package convert

import (
	"encoding/binary"
	"math"
	"os"
	"testing"

	"github.com/scigolib/hdf5"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/webexport/internal/serialization"
	"github.com/born-ml/webexport/internal/tensor"
)

// ramp returns n float32 values i*step - offset.
func ramp(n int, step, offset float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)*step - offset
	}
	return out
}

// autoencoderStateDict is Sequential(Linear(8,4), ReLU, Linear(4,8)) in
// Born naming.
func autoencoderStateDict(t *testing.T) map[string]*tensor.RawTensor {
	t.Helper()
	mk := func(shape tensor.Shape, values []float32) *tensor.RawTensor {
		raw, err := tensor.FromFloat32(shape, values)
		require.NoError(t, err)
		return raw
	}
	return map[string]*tensor.RawTensor{
		"0.weight": mk(tensor.Shape{4, 8}, ramp(32, 0.0625, 1)),
		"0.bias":   mk(tensor.Shape{4}, ramp(4, 0.5, 1)),
		"2.weight": mk(tensor.Shape{8, 4}, ramp(32, -0.03125, -0.5)),
		"2.bias":   mk(tensor.Shape{8}, ramp(8, 0.125, 0)),
	}
}

func writeBorn(t *testing.T, path string, metadata map[string]string) map[string]*tensor.RawTensor {
	t.Helper()
	sd := autoencoderStateDict(t)
	w, err := serialization.NewBornWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteStateDictV2(sd, "Sequential", metadata))
	require.NoError(t, w.Close())
	return sd
}

// onnx message builders.

type pb []byte

func (m pb) str(num protowire.Number, s string) pb {
	return protowire.AppendString(protowire.AppendTag(m, num, protowire.BytesType), s)
}

func (m pb) bytes(num protowire.Number, b []byte) pb {
	return protowire.AppendBytes(protowire.AppendTag(m, num, protowire.BytesType), b)
}

func (m pb) varint(num protowire.Number, v uint64) pb {
	return protowire.AppendVarint(protowire.AppendTag(m, num, protowire.VarintType), v)
}

func floatTensor(name string, values []float32, dims ...uint64) pb {
	m := pb(nil)
	for _, d := range dims {
		m = m.varint(1, d)
	}
	raw := make([]byte, 0, 4*len(values))
	for _, v := range values {
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
	}
	return m.varint(2, 1).str(8, name).bytes(9, raw)
}

// writeONNX writes Gemm(transB=1) -> Relu over a [batch, 2] input with a
// [3, 2] weight.
func writeONNX(t *testing.T, path string) {
	t.Helper()

	transB := pb(nil).str(1, "transB").varint(3, 1).varint(20, 2)
	gemm := pb(nil).str(1, "x").str(1, "fc.weight").str(1, "fc.bias").str(2, "h").
		str(3, "fc").str(4, "Gemm").bytes(5, transB)
	relu := pb(nil).str(1, "h").str(2, "y").str(3, "act").str(4, "Relu")

	dims := pb(nil).bytes(1, pb(nil).str(2, "batch")).bytes(1, pb(nil).varint(1, 2))
	input := pb(nil).str(1, "x").bytes(2, pb(nil).bytes(1, pb(nil).varint(1, 1).bytes(2, dims)))

	graph := pb(nil).
		bytes(1, gemm).bytes(1, relu).
		str(2, "torch_jit").
		bytes(5, floatTensor("fc.weight", []float32{1, 2, 3, 4, 5, 6}, 3, 2)).
		bytes(5, floatTensor("fc.bias", []float32{0.1, 0.2, 0.3}, 3)).
		bytes(11, input)
	model := pb(nil).varint(1, 8).str(2, "pytorch").bytes(7, graph)

	require.NoError(t, os.WriteFile(path, model, 0o600))
}

// writeKeras stores Dense(2) weights over 3 inputs under model_weights the
// way Keras does, kernel in [in, out] layout.
func writeKeras(t *testing.T, path string) {
	t.Helper()

	fw, err := hdf5.CreateForWrite(path, hdf5.CreateTruncate)
	require.NoError(t, err)
	defer fw.Close()

	for _, group := range []string{"/model_weights", "/model_weights/dense", "/model_weights/dense/dense"} {
		_, err := fw.CreateGroup(group)
		require.NoError(t, err)
	}
	kernel, err := fw.CreateDataset("/model_weights/dense/dense/kernel:0", hdf5.Float32, []uint64{3, 2})
	require.NoError(t, err)
	require.NoError(t, kernel.Write([]float32{1, 2, 3, 4, 5, 6}))
	bias, err := fw.CreateDataset("/model_weights/dense/dense/bias:0", hdf5.Float32, []uint64{2})
	require.NoError(t, err)
	require.NoError(t, bias.Write([]float32{0.5, -0.5}))

	require.NoError(t, fw.Close())
}
