package stats

import (
	"context"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-trace-latency/internal/trace"
)

// PairStats is the statistics of one rank pair.
type PairStats struct {
	Pair trace.RankPair
	LatencyStats
}

// Aggregator computes per-pair statistics on a bounded worker pool.
//
// Thread-safe: PairsDone and PairsTotal may be read while Aggregate runs.
type Aggregator struct {
	workers int

	pairsTotal atomic.Int64
	pairsDone  atomic.Int64
}

// NewAggregator creates an Aggregator. workers < 1 means GOMAXPROCS.
func NewAggregator(workers int) *Aggregator {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Aggregator{workers: workers}
}

// Aggregate computes statistics for every non-empty latency group. The
// result is sorted by rank pair.
func (a *Aggregator) Aggregate(ctx context.Context, latencies map[trace.RankPair][]float64) ([]PairStats, error) {
	keys := make([]trace.RankPair, 0, len(latencies))
	for k, v := range latencies {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}

	a.pairsTotal.Store(int64(len(keys)))
	a.pairsDone.Store(0)

	var (
		mu  sync.Mutex
		out = make([]PairStats, 0, len(keys))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, key := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ps := PairStats{Pair: key, LatencyStats: Compute(latencies[key])}

			mu.Lock()
			out = append(out, ps)
			mu.Unlock()

			a.pairsDone.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(x, y PairStats) int { return x.Pair.Compare(y.Pair) })
	return out, nil
}

// PairsDone returns the number of pairs finished so far.
func (a *Aggregator) PairsDone() int64 {
	return a.pairsDone.Load()
}

// PairsTotal returns the number of pairs in the current run.
func (a *Aggregator) PairsTotal() int64 {
	return a.pairsTotal.Load()
}

// Overall computes statistics across every latency of every pair.
func Overall(latencies map[trace.RankPair][]float64) LatencyStats {
	keys := make([]trace.RankPair, 0, len(latencies))
	var n int
	for k, v := range latencies {
		keys = append(keys, k)
		n += len(v)
	}
	// Fixed order keeps the floating point sum reproducible.
	slices.SortFunc(keys, trace.RankPair.Compare)

	all := make([]float64, 0, n)
	for _, k := range keys {
		all = append(all, latencies[k]...)
	}
	return Compute(all)
}
