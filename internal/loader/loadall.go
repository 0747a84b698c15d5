package loader

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/webexport/internal/tensor"
)

// LoadAll reads every tensor of r with at most workers concurrent reads.
// workers <= 0 uses GOMAXPROCS. The first error cancels the remaining reads.
func LoadAll(ctx context.Context, r ModelReader, workers int) (map[string]*tensor.RawTensor, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	names := r.TensorNames()
	out := make(map[string]*tensor.RawTensor, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, name := range names {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raw, err := r.LoadTensor(name)
			if err != nil {
				return fmt.Errorf("failed to load tensor %s: %w", name, err)
			}
			mu.Lock()
			out[name] = raw
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
