package tfjs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/webexport/internal/topology"
)

// SaveOptions configures Save.
type SaveOptions struct {
	// ShardSize is the maximum shard size in bytes (DefaultShardSize if 0).
	ShardSize int64
	// Quantize selects the storage of float32 weights.
	Quantize Method
	// Overwrite allows replacing a non-empty output directory.
	Overwrite bool
	// GeneratedBy and ConvertedBy are written to model.json as is.
	GeneratedBy string
	ConvertedBy string
	// Metadata becomes userDefinedMetadata when non-empty.
	Metadata map[string]any
	// Workers bounds concurrent shard writes (GOMAXPROCS if 0).
	Workers int
	// Verify, when set, is called with the staging directory once every
	// file is written. An error aborts the save and leaves dir untouched.
	Verify func(staging string) error
	Logger *slog.Logger
}

// SaveResult describes a written artifact.
type SaveResult struct {
	Dir         string
	ModelPath   string
	ShardPaths  []string
	WeightBytes int64
}

// Save writes a layers-model artifact for the given Keras topology and
// ordered weights into dir.
//
// All files are written to a staging directory next to dir and renamed into
// place once complete and, when opts.Verify is set, checked. An existing non-empty dir is an error unless
// opts.Overwrite is set.
func Save(ctx context.Context, dir string, modelTopology json.RawMessage, weights []topology.NamedWeight, opts SaveOptions) (*SaveResult, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.ShardSize == 0 {
		opts.ShardSize = DefaultShardSize
	}
	if opts.ShardSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrShardSize, opts.ShardSize)
	}
	if len(modelTopology) == 0 {
		return nil, fmt.Errorf("%w: empty model topology", ErrInvalidArtifact)
	}
	if _, err := ParseMethod(string(opts.Quantize)); err != nil {
		return nil, err
	}

	if err := checkTarget(dir, opts.Overwrite); err != nil {
		return nil, err
	}

	entries, payload, err := encodeWeights(weights, opts.Quantize)
	if err != nil {
		return nil, err
	}
	chunks := splitShards(payload, opts.ShardSize)
	names := make([]string, len(chunks))
	for i := range chunks {
		names[i] = ShardName(i, len(chunks))
	}

	model := ModelJSON{
		Format:          LayersFormat,
		GeneratedBy:     opts.GeneratedBy,
		ConvertedBy:     opts.ConvertedBy,
		ModelTopology:   modelTopology,
		WeightsManifest: []WeightGroup{{Paths: names, Weights: entries}},
	}
	if len(opts.Metadata) > 0 {
		model.UserDefinedMetadata = opts.Metadata
	}
	doc, err := json.Marshal(&model)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ModelFileName, err)
	}

	parent := filepath.Dir(filepath.Clean(dir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	staging := filepath.Join(parent, "."+filepath.Base(filepath.Clean(dir))+"-"+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging) // Best effort cleanup on error
		}
	}()

	log.Debug("writing artifact", "staging", staging, "shards", len(chunks), "bytes", len(payload))

	if err := writeShards(ctx, staging, names, chunks, opts.Workers); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(staging, ModelFileName), doc, 0o644); err != nil { //nolint:gosec // artifacts are served to browsers
		return nil, fmt.Errorf("failed to write %s: %w", ModelFileName, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.Verify != nil {
		if err := opts.Verify(staging); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVerifyFailed, err)
		}
		log.Debug("staged artifact verified", "staging", staging)
	}

	if err := commit(staging, dir, opts.Overwrite); err != nil {
		return nil, err
	}
	committed = true

	result := &SaveResult{
		Dir:         dir,
		ModelPath:   filepath.Join(dir, ModelFileName),
		ShardPaths:  make([]string, len(names)),
		WeightBytes: int64(len(payload)),
	}
	for i, name := range names {
		result.ShardPaths[i] = filepath.Join(dir, name)
	}
	log.Info("saved layers model", "dir", dir, "weights", len(entries), "shards", len(names), "bytes", len(payload))
	return result, nil
}

// checkTarget fails early when dir cannot be replaced.
func checkTarget(dir string, overwrite bool) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat output: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is a file", ErrOutputExists, dir)
	}
	if overwrite {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read output directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s (use overwrite to replace it)", ErrOutputExists, dir)
	}
	return nil
}

// commit moves staging to dir. A previous dir is moved aside first and
// restored if the final rename fails.
func commit(staging, dir string, overwrite bool) error {
	if err := checkTarget(dir, overwrite); err != nil {
		return err
	}

	var backup string
	if _, err := os.Stat(dir); err == nil {
		backup = staging + ".old"
		if err := os.Rename(dir, backup); err != nil {
			return fmt.Errorf("failed to move previous output aside: %w", err)
		}
	}

	if err := os.Rename(staging, dir); err != nil {
		if backup != "" {
			_ = os.Rename(backup, dir) // Best effort restore
		}
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup) // Best effort cleanup of the replaced output
	}
	return nil
}

// encodeWeights builds the manifest entries and concatenated weight bytes.
func encodeWeights(weights []topology.NamedWeight, m Method) ([]WeightEntry, []byte, error) {
	entries := make([]WeightEntry, 0, len(weights))
	seen := make(map[string]bool, len(weights))

	var size int
	for _, w := range weights {
		size += w.Tensor.ByteSize()
	}
	payload := make([]byte, 0, size)

	for _, w := range weights {
		if seen[w.Name] {
			return nil, nil, fmt.Errorf("%w: duplicate weight name %s", ErrInvalidArtifact, w.Name)
		}
		seen[w.Name] = true

		dtype, err := webDType(w.Tensor.DType())
		if err != nil {
			return nil, nil, fmt.Errorf("weight %s: %w", w.Name, err)
		}
		data, q, err := quantize(w.Tensor, m)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to quantize weight %s: %w", w.Name, err)
		}
		entries = append(entries, WeightEntry{
			Name:         w.Name,
			Shape:        []int(w.Tensor.Shape().Clone()),
			DType:        dtype,
			Quantization: q,
		})
		payload = append(payload, data...)
	}
	return entries, payload, nil
}

// splitShards cuts payload into chunks of at most size bytes.
func splitShards(payload []byte, size int64) [][]byte {
	if len(payload) == 0 {
		return nil
	}
	n := (int64(len(payload)) + size - 1) / size
	chunks := make([][]byte, 0, n)
	for start := int64(0); start < int64(len(payload)); start += size {
		end := min(start+size, int64(len(payload)))
		chunks = append(chunks, payload[start:end])
	}
	return chunks
}

// writeShards writes every chunk to dir concurrently.
func writeShards(ctx context.Context, dir string, names []string, chunks [][]byte, workers int) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range chunks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			//nolint:gosec // artifacts are served to browsers
			if err := os.WriteFile(filepath.Join(dir, names[i]), chunks[i], 0o644); err != nil {
				return fmt.Errorf("failed to write shard %s: %w", names[i], err)
			}
			return nil
		})
	}
	return g.Wait()
}
