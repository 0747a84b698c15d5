package tfjs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/webexport/internal/tensor"
	"github.com/born-ml/webexport/internal/topology"
)

var testTopology = json.RawMessage(`{"class_name":"Sequential","config":{"name":"sequential","layers":[]},"keras_version":"2.15.0","backend":"tensorflow"}`)

func mustFloat32(t *testing.T, shape tensor.Shape, values ...float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromFloat32(shape, values)
	require.NoError(t, err)
	return raw
}

func testWeights(t *testing.T) []topology.NamedWeight {
	t.Helper()

	steps, err := tensor.NewRaw(tensor.Shape{2}, tensor.Int32)
	require.NoError(t, err)
	copy(steps.AsInt32(), []int32{7, -3})

	return []topology.NamedWeight{
		{Name: "dense/kernel", Tensor: mustFloat32(t, tensor.Shape{3, 2}, -1, 0, 0.5, 1.5, 2, 3)},
		{Name: "dense/bias", Tensor: mustFloat32(t, tensor.Shape{2}, 0.25, -0.25)},
		{Name: "counter/steps", Tensor: steps},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "web_model")
	weights := testWeights(t)

	res, err := Save(context.Background(), dir, testTopology, weights, SaveOptions{
		ShardSize:   10,
		GeneratedBy: "keras v2.15.0",
		ConvertedBy: "webexport test",
		Metadata:    map[string]any{"source": "autoencoder_model.born"},
	})
	require.NoError(t, err)

	// 24 + 8 + 8 bytes in 10-byte shards.
	assert.Equal(t, int64(40), res.WeightBytes)
	require.Len(t, res.ShardPaths, 4)
	assert.Equal(t, filepath.Join(dir, "group1-shard1of4.bin"), res.ShardPaths[0])
	assert.Equal(t, filepath.Join(dir, "group1-shard4of4.bin"), res.ShardPaths[3])
	for _, p := range res.ShardPaths {
		assert.FileExists(t, p)
	}

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging directory left behind")
	assert.Equal(t, "web_model", entries[0].Name())

	art, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, LayersFormat, art.Model.Format)
	assert.Equal(t, "keras v2.15.0", art.Model.GeneratedBy)
	assert.Equal(t, "webexport test", art.Model.ConvertedBy)
	assert.Equal(t, "autoencoder_model.born", art.Model.UserDefinedMetadata["source"])
	assert.Equal(t, []string{"dense/kernel", "dense/bias", "counter/steps"}, art.Names)

	assert.Equal(t, []float32{-1, 0, 0.5, 1.5, 2, 3}, art.Weights["dense/kernel"].AsFloat32())
	assert.Equal(t, []int32{7, -3}, art.Weights["counter/steps"].AsInt32())
	assert.Equal(t, "int32", art.Entries["counter/steps"].DType)
	require.NoError(t, art.Verify(weights))

	seq, err := art.Topology()
	require.NoError(t, err)
	assert.Equal(t, "Sequential", seq.ClassName)
}

func TestSaveDefaultShardSizeSingleShard(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	res, err := Save(context.Background(), dir, testTopology, testWeights(t), SaveOptions{})
	require.NoError(t, err)
	require.Len(t, res.ShardPaths, 1)
	assert.Equal(t, filepath.Join(dir, "group1-shard1of1.bin"), res.ShardPaths[0])

	doc, err := os.ReadFile(filepath.Join(dir, ModelFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(doc), "userDefinedMetadata")
	assert.Contains(t, string(doc), `"paths":["group1-shard1of1.bin"]`)
}

func TestSaveQuantized(t *testing.T) {
	tests := []struct {
		method     Method
		shardBytes int64
	}{
		{QuantizeUint8, 6 + 2 + 8},
		{QuantizeUint16, 12 + 4 + 8},
		{QuantizeFloat16, 12 + 4 + 8},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "q")
			weights := testWeights(t)

			res, err := Save(context.Background(), dir, testTopology, weights, SaveOptions{Quantize: tt.method})
			require.NoError(t, err)
			assert.Equal(t, tt.shardBytes, res.WeightBytes)

			art, err := Load(dir)
			require.NoError(t, err)
			require.NoError(t, art.Verify(weights))

			kernel := art.Entries["dense/kernel"]
			require.NotNil(t, kernel.Quantization)
			assert.Equal(t, string(tt.method), kernel.Quantization.DType)
			assert.Equal(t, "float32", kernel.Quantization.OriginalDType)
			assert.Equal(t, "float32", kernel.DType)
			assert.Nil(t, art.Entries["counter/steps"].Quantization, "int32 weights are never quantized")
			assert.Equal(t, tensor.Float32, art.Weights["dense/kernel"].DType())
		})
	}
}

func TestAffineQuantizationKeepsZeroExact(t *testing.T) {
	raw := mustFloat32(t, tensor.Shape{3}, -1, 0, 3)
	data, q, err := quantize(raw, QuantizeUint8)
	require.NoError(t, err)
	require.NotNil(t, q.Min)
	require.NotNil(t, q.Scale)
	assert.InDelta(t, 4.0/255, *q.Scale, 1e-12)
	assert.Equal(t, byte(255), data[2])

	back, err := dequantize(tensor.Shape{3}, q, data)
	require.NoError(t, err)
	values := back.AsFloat32()
	assert.Equal(t, float32(0), values[1])
	assert.InDelta(t, -1, values[0], *q.Scale/2)
	assert.InDelta(t, 3, values[2], *q.Scale/2)
}

func TestAffineQuantizationConstantTensor(t *testing.T) {
	raw := mustFloat32(t, tensor.Shape{4}, 5, 5, 5, 5)
	data, q, err := quantize(raw, QuantizeUint16)
	require.NoError(t, err)
	assert.Equal(t, 1.0, *q.Scale)
	assert.Equal(t, 5.0, *q.Min)

	back, err := dequantize(tensor.Shape{4}, q, data)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 5, 5, 5}, back.AsFloat32())
}

func TestAffineQuantizationPositiveRangeIsNotNudged(t *testing.T) {
	lo, scale := affineRange(2, 4, 255)
	assert.Equal(t, 2.0, lo)
	assert.InDelta(t, 2.0/255, scale, 1e-12)
}

func TestFloat16OutOfRange(t *testing.T) {
	_, _, err := quantize(mustFloat32(t, tensor.Shape{1}, 1e6), QuantizeFloat16)
	require.Error(t, err)
}

func TestSaveRefusesNonEmptyOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "web_model")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	keep := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(keep, []byte("<html>"), 0o600))

	_, err := Save(context.Background(), dir, testTopology, testWeights(t), SaveOptions{})
	require.ErrorIs(t, err, ErrOutputExists)
	assert.FileExists(t, keep)

	_, err = Save(context.Background(), dir, testTopology, testWeights(t), SaveOptions{Overwrite: true})
	require.NoError(t, err)
	assert.NoFileExists(t, keep)
	assert.FileExists(t, filepath.Join(dir, ModelFileName))

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "backup or staging directory left behind")
}

func TestSaveIntoEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := Save(context.Background(), dir, testTopology, testWeights(t), SaveOptions{})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, ModelFileName))
}

func TestSaveOntoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "web_model")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	_, err := Save(context.Background(), path, testTopology, testWeights(t), SaveOptions{Overwrite: true})
	require.ErrorIs(t, err, ErrOutputExists)
}

func TestSaveCanceledLeavesNothing(t *testing.T) {
	parent := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Save(ctx, filepath.Join(parent, "out"), testTopology, testWeights(t), SaveOptions{})
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveVerifiesStagingBeforeCommit(t *testing.T) {
	weights := testWeights(t)
	checkAgainst := func(want []topology.NamedWeight) func(string) error {
		return func(staging string) error {
			art, err := Load(staging)
			if err != nil {
				return err
			}
			return art.Verify(want)
		}
	}

	t.Run("passes", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out")
		var staged string
		_, err := Save(context.Background(), dir, testTopology, weights, SaveOptions{
			Verify: func(staging string) error {
				staged = staging
				assert.NoDirExists(t, dir)
				return checkAgainst(weights)(staging)
			},
		})
		require.NoError(t, err)
		assert.NotEqual(t, dir, staged)
		assert.FileExists(t, filepath.Join(dir, ModelFileName))
	})

	t.Run("mismatch leaves nothing", func(t *testing.T) {
		parent := t.TempDir()
		other := testWeights(t)
		other[1] = topology.NamedWeight{Name: "dense/bias", Tensor: mustFloat32(t, tensor.Shape{2}, 1, 2)}

		_, err := Save(context.Background(), filepath.Join(parent, "out"), testTopology, weights, SaveOptions{
			Verify: checkAgainst(other),
		})
		require.ErrorIs(t, err, ErrVerifyFailed)
		var mismatch *MismatchError
		require.ErrorAs(t, err, &mismatch)

		entries, err := os.ReadDir(parent)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("mismatch keeps previous output", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out")
		keep := filepath.Join(dir, "index.html")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(keep, []byte("<html>"), 0o600))

		_, err := Save(context.Background(), dir, testTopology, weights, SaveOptions{
			Overwrite: true,
			Verify:    func(string) error { return os.ErrInvalid },
		})
		require.ErrorIs(t, err, ErrVerifyFailed)
		assert.FileExists(t, keep)
		assert.NoFileExists(t, filepath.Join(dir, ModelFileName))
	})
}

func TestSaveRejectsBadInput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	weights := testWeights(t)

	_, err := Save(context.Background(), dir, testTopology, weights, SaveOptions{ShardSize: -1})
	require.ErrorIs(t, err, ErrShardSize)

	_, err = Save(context.Background(), dir, nil, weights, SaveOptions{})
	require.ErrorIs(t, err, ErrInvalidArtifact)

	_, err = Save(context.Background(), dir, testTopology, weights, SaveOptions{Quantize: "int4"})
	require.ErrorIs(t, err, ErrUnsupportedQuantization)

	dup := append(weights, weights[0])
	_, err = Save(context.Background(), dir, testTopology, dup, SaveOptions{})
	require.ErrorIs(t, err, ErrInvalidArtifact)

	wide, err := tensor.NewRaw(tensor.Shape{1}, tensor.Int64)
	require.NoError(t, err)
	_, err = Save(context.Background(), dir, testTopology, []topology.NamedWeight{{Name: "x", Tensor: wide}}, SaveOptions{})
	require.ErrorIs(t, err, ErrUnsupportedDType)

	assert.NoDirExists(t, dir)
}

func TestLoadRejectsDamagedArtifacts(t *testing.T) {
	save := func(t *testing.T) string {
		t.Helper()
		dir := filepath.Join(t.TempDir(), "m")
		_, err := Save(context.Background(), dir, testTopology, testWeights(t), SaveOptions{ShardSize: 16})
		require.NoError(t, err)
		return dir
	}

	t.Run("missing shard", func(t *testing.T) {
		dir := save(t)
		require.NoError(t, os.Remove(filepath.Join(dir, "group1-shard2of3.bin")))
		_, err := Load(dir)
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("truncated shard", func(t *testing.T) {
		dir := save(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "group1-shard3of3.bin"), []byte{1}, 0o600))
		_, err := Load(dir)
		require.ErrorIs(t, err, ErrInvalidArtifact)
	})

	t.Run("extra bytes", func(t *testing.T) {
		dir := save(t)
		f, err := os.OpenFile(filepath.Join(dir, "group1-shard3of3.bin"), os.O_APPEND|os.O_WRONLY, 0)
		require.NoError(t, err)
		_, err = f.Write([]byte{0, 0, 0, 0})
		require.NoError(t, err)
		require.NoError(t, f.Close())
		_, err = Load(dir)
		require.ErrorIs(t, err, ErrInvalidArtifact)
	})

	t.Run("wrong format", func(t *testing.T) {
		dir := save(t)
		path := filepath.Join(dir, ModelFileName)
		doc, err := os.ReadFile(path)
		require.NoError(t, err)
		doc = []byte(strings.Replace(string(doc), LayersFormat, "graph-model", 1))
		require.NoError(t, os.WriteFile(path, doc, 0o600))
		_, err = Load(dir)
		require.ErrorIs(t, err, ErrInvalidArtifact)
	})

	t.Run("escaping shard path", func(t *testing.T) {
		dir := save(t)
		path := filepath.Join(dir, ModelFileName)
		doc, err := os.ReadFile(path)
		require.NoError(t, err)
		doc = []byte(strings.Replace(string(doc), "group1-shard1of3.bin", "../secret.bin", 1))
		require.NoError(t, os.WriteFile(path, doc, 0o600))
		_, err = Load(dir)
		require.ErrorIs(t, err, ErrInvalidArtifact)
	})

	t.Run("dots inside a shard name", func(t *testing.T) {
		dir := save(t)
		path := filepath.Join(dir, ModelFileName)
		doc, err := os.ReadFile(path)
		require.NoError(t, err)
		doc = []byte(strings.Replace(string(doc), "group1-shard1of3.bin", "w..bin", 1))
		require.NoError(t, os.WriteFile(path, doc, 0o600))
		require.NoError(t, os.Rename(filepath.Join(dir, "group1-shard1of3.bin"), filepath.Join(dir, "w..bin")))

		a, err := Load(dir)
		require.NoError(t, err)
		require.NoError(t, a.Verify(testWeights(t)))
	})

	t.Run("no model.json", func(t *testing.T) {
		_, err := Load(t.TempDir())
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestVerifyDetectsMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "m")
	weights := testWeights(t)
	_, err := Save(context.Background(), dir, testTopology, weights, SaveOptions{})
	require.NoError(t, err)

	art, err := Load(dir)
	require.NoError(t, err)

	changed := testWeights(t)
	changed[1].Tensor = mustFloat32(t, tensor.Shape{2}, 0.25, 9)
	var mismatch *MismatchError
	require.ErrorAs(t, art.Verify(changed), &mismatch)
	assert.Equal(t, "dense/bias", mismatch.Weight)
	assert.Equal(t, 1, mismatch.Index)

	require.ErrorIs(t, art.Verify(weights[:2]), ErrInvalidArtifact)
}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]Method{
		"":        QuantizeNone,
		"none":    QuantizeNone,
		"UINT8":   QuantizeUint8,
		"uint16":  QuantizeUint16,
		"float16": QuantizeFloat16,
	} {
		got, err := ParseMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMethod("int8")
	require.ErrorIs(t, err, ErrUnsupportedQuantization)
}

func TestSplitShards(t *testing.T) {
	assert.Nil(t, splitShards(nil, 4))
	chunks := splitShards(make([]byte, 9), 4)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2], 1)
	assert.Len(t, splitShards(make([]byte, 8), 4), 2)
}
