package correlate

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/stadsdata/curbwatch/pkg/model"
)

// ErrCancelled is returned by Run when the context is cancelled between
// chunks. Slots not yet written remain nil.
var ErrCancelled = errors.New("correlation cancelled")

const defaultChunkSize = 256

// RunOptions tunes the parallel correlator. The zero value is usable.
type RunOptions struct {
	// Workers caps concurrent goroutines. Defaults to GOMAXPROCS.
	Workers int
	// ChunkSize is the number of addresses a worker claims at a time.
	// Cancellation is only observed at chunk boundaries.
	ChunkSize int
	// Progress, when non-nil, is incremented per processed address with
	// relaxed semantics: readers may observe a stale value.
	Progress *atomic.Int64
}

// Run correlates every address concurrently and returns a dense slice,
// index-aligned with addrs; entries without a match within the cutoff are
// nil. The algorithm and inputs are shared read-only across workers; each
// worker writes only its own disjoint output slots.
func Run(ctx context.Context, addrs []model.Address, algo Algorithm, opts RunOptions) ([]*model.Match, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	out := make([]*model.Match, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start := 0; start < len(addrs); start += chunkSize {
		if gctx.Err() != nil {
			break
		}
		start := start
		end := start + chunkSize
		if end > len(addrs) {
			end = len(addrs)
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return ErrCancelled
			}
			for i := start; i < end; i++ {
				if segIdx, dist, ok := algo.Correlate(addrs[i]); ok {
					out[i] = &model.Match{AddressIndex: i, SegmentIndex: segIdx, DistanceM: dist}
				}
				if opts.Progress != nil {
					opts.Progress.Add(1)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err
	}
	if ctx.Err() != nil {
		return out, ErrCancelled
	}
	return out, nil
}
