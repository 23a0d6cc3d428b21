package correlate

import (
	"cmp"
	"context"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-trace-latency/internal/trace"
)

// UnmatchedPairs lists rank pairs that exist in only one direction's bins.
// They produce no records and no statistics.
type UnmatchedPairs struct {
	SendOnly []trace.RankPair
	RecvOnly []trace.RankPair
}

// Result is the output of the match phase.
type Result struct {
	// Records in completion order; see SortRecords for a stable order.
	Records []MatchedRecord

	// Latencies holds every record's latency grouped by rank pair.
	Latencies map[trace.RankPair][]float64

	// MatchedPairs is the number of rank pairs present in both bins.
	MatchedPairs int

	Unmatched UnmatchedPairs
}

// Config configures a Correlator.
type Config struct {
	Policy  Policy // nil = CrossProduct
	Workers int    // <1 = runtime.GOMAXPROCS(0)
	Logger  *slog.Logger
}

// Correlator runs the match phase.
//
// Thread-safe: PairsDone and PairsTotal may be read while Correlate runs.
type Correlator struct {
	policy  Policy
	workers int
	logger  *slog.Logger

	pairsTotal atomic.Int64
	pairsDone  atomic.Int64
}

// New creates a Correlator.
func New(cfg Config) *Correlator {
	if cfg.Policy == nil {
		cfg.Policy = CrossProduct{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Correlator{policy: cfg.Policy, workers: cfg.Workers, logger: cfg.Logger}
}

// Policy returns the matching policy in use.
func (c *Correlator) Policy() Policy {
	return c.policy
}

// Correlate matches every rank pair present in both bins. The bins are only
// read. Work runs on a pool of at most Workers goroutines, one task per
// rank pair.
func (c *Correlator) Correlate(ctx context.Context, bins *trace.BinSet) (*Result, error) {
	keys, unmatched := splitKeys(bins)

	c.pairsTotal.Store(int64(len(keys)))
	c.pairsDone.Store(0)

	result := &Result{
		Latencies:    make(map[trace.RankPair][]float64, len(keys)),
		MatchedPairs: len(keys),
		Unmatched:    unmatched,
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, key := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			sends, recvs := bins.Send[key], bins.Recv[key]
			n := c.policy.Count(len(sends), len(recvs))
			records := make([]MatchedRecord, 0, n)
			latencies := make([]float64, 0, n)
			c.policy.Match(sends, recvs, func(r MatchedRecord) {
				records = append(records, r)
				latencies = append(latencies, r.Latency)
			})

			mu.Lock()
			result.Records = append(result.Records, records...)
			if len(latencies) > 0 {
				result.Latencies[key] = append(result.Latencies[key], latencies...)
			}
			mu.Unlock()

			c.pairsDone.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.logger.Debug("correlate_done",
		"policy", c.policy.Name(),
		"matched_pairs", len(keys),
		"send_only_pairs", len(unmatched.SendOnly),
		"recv_only_pairs", len(unmatched.RecvOnly),
		"records", len(result.Records),
	)
	return result, nil
}

// splitKeys returns the keys present in both bins, plus the one-sided ones.
// All lists are sorted.
func splitKeys(bins *trace.BinSet) ([]trace.RankPair, UnmatchedPairs) {
	var both []trace.RankPair
	var unmatched UnmatchedPairs

	for k := range bins.Send {
		if _, ok := bins.Recv[k]; ok {
			both = append(both, k)
		} else {
			unmatched.SendOnly = append(unmatched.SendOnly, k)
		}
	}
	for k := range bins.Recv {
		if _, ok := bins.Send[k]; !ok {
			unmatched.RecvOnly = append(unmatched.RecvOnly, k)
		}
	}

	slices.SortFunc(both, trace.RankPair.Compare)
	slices.SortFunc(unmatched.SendOnly, trace.RankPair.Compare)
	slices.SortFunc(unmatched.RecvOnly, trace.RankPair.Compare)
	return both, unmatched
}

// PairsDone returns the number of rank pairs matched so far.
func (c *Correlator) PairsDone() int64 {
	return c.pairsDone.Load()
}

// PairsTotal returns the number of rank pairs to match.
func (c *Correlator) PairsTotal() int64 {
	return c.pairsTotal.Load()
}

// SortRecords orders records by rank pair, then send timestamp, then receive
// timestamp. The sort is stable so equal keys keep their relative order.
func SortRecords(records []MatchedRecord) {
	slices.SortStableFunc(records, func(a, b MatchedRecord) int {
		pa := trace.RankPair{Local: a.Send.LocalRank, Remote: a.Send.RemoteRank}
		pb := trace.RankPair{Local: b.Send.LocalRank, Remote: b.Send.RemoteRank}
		if c := pa.Compare(pb); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Send.Timestamp, b.Send.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Recv.Timestamp, b.Recv.Timestamp)
	})
}
