// Package analysis runs the three analysis phases over loaded trace lines:
// parse (extract and bin), match (correlate sends with receives) and
// statistics (per rank pair aggregation). Each phase is a barrier; the next
// one starts only after every worker of the previous one has finished.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-trace-latency/internal/correlate"
	"github.com/randomizedcoder/go-trace-latency/internal/metrics"
	"github.com/randomizedcoder/go-trace-latency/internal/stats"
	"github.com/randomizedcoder/go-trace-latency/internal/trace"
)

// Config configures an Analyzer.
type Config struct {
	Workers   int
	Strategy  trace.Strategy
	KeyMode   trace.KeyMode
	Policy    correlate.Policy // nil = CrossProduct
	Extractor *trace.Extractor // nil = default event pattern

	// SortRecords orders Result.Records by rank pair and timestamps.
	SortRecords bool

	Faults  trace.FaultSink    // optional
	Metrics *metrics.Collector // optional
	Logger  *slog.Logger
}

// Result is the outcome of a successful run.
type Result struct {
	Records   []correlate.MatchedRecord
	Latencies map[trace.RankPair][]float64
	Pairs     []stats.PairStats
	Overall   stats.LatencyStats

	Counts       trace.Counts
	MatchedPairs int
	Unmatched    correlate.UnmatchedPairs

	PhaseTimes map[string]time.Duration
	Duration   time.Duration
}

// Analyzer runs the analysis pipeline.
//
// Thread-safe: Progress may be called from any goroutine while Run executes.
type Analyzer struct {
	cfg Config

	phase      atomic.Int32
	linesTotal atomic.Int64

	mu         sync.Mutex
	binner     *trace.Binner
	correlator *correlate.Correlator
	aggregator *stats.Aggregator
}

// New creates an Analyzer.
func New(cfg Config) *Analyzer {
	if cfg.Workers < 1 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Policy == nil {
		cfg.Policy = correlate.CrossProduct{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Analyzer{cfg: cfg}
}

// Run analyzes lines. It returns an error only when ctx is canceled;
// malformed lines are reported to the configured FaultSink.
func (a *Analyzer) Run(ctx context.Context, lines []trace.Line) (*Result, error) {
	start := time.Now()
	logger := a.cfg.Logger

	binner := trace.NewBinner(trace.BinnerConfig{
		Workers:   a.cfg.Workers,
		Strategy:  a.cfg.Strategy,
		KeyMode:   a.cfg.KeyMode,
		Extractor: a.cfg.Extractor,
		Faults:    a.cfg.Faults,
		Logger:    logger,
	})
	correlator := correlate.New(correlate.Config{
		Policy:  a.cfg.Policy,
		Workers: a.cfg.Workers,
		Logger:  logger,
	})
	aggregator := stats.NewAggregator(a.cfg.Workers)

	a.mu.Lock()
	a.binner, a.correlator, a.aggregator = binner, correlator, aggregator
	a.mu.Unlock()
	a.linesTotal.Store(int64(len(lines)))

	res := &Result{PhaseTimes: make(map[string]time.Duration, 3)}

	// Parse
	a.setPhase(PhaseParsing)
	phaseStart := time.Now()
	bins, err := binner.Bin(ctx, lines)
	if err != nil {
		return nil, fmt.Errorf("parse phase: %w", err)
	}
	a.endPhase(res, metrics.PhaseParse, phaseStart)
	res.Counts = binner.Counts()

	sends, recvs := bins.EventCount()
	logger.Info("parse_phase_complete",
		"lines", res.Counts.Lines,
		"matched", res.Counts.Matched,
		"skipped", res.Counts.Skipped,
		"malformed", res.Counts.Malformed,
		"send_pairs", len(bins.Send),
		"recv_pairs", len(bins.Recv),
		"send_events", sends,
		"recv_events", recvs,
		"duration", res.PhaseTimes[metrics.PhaseParse],
	)

	// Match
	a.setPhase(PhaseMatching)
	phaseStart = time.Now()
	matched, err := correlator.Correlate(ctx, bins)
	if err != nil {
		return nil, fmt.Errorf("match phase: %w", err)
	}
	if a.cfg.SortRecords {
		correlate.SortRecords(matched.Records)
	}
	a.endPhase(res, metrics.PhaseMatch, phaseStart)
	res.Records = matched.Records
	res.Latencies = matched.Latencies
	res.MatchedPairs = matched.MatchedPairs
	res.Unmatched = matched.Unmatched

	logger.Info("match_phase_complete",
		"policy", a.cfg.Policy.Name(),
		"matched_pairs", res.MatchedPairs,
		"send_only_pairs", len(res.Unmatched.SendOnly),
		"recv_only_pairs", len(res.Unmatched.RecvOnly),
		"records", len(res.Records),
		"duration", res.PhaseTimes[metrics.PhaseMatch],
	)
	for _, p := range res.Unmatched.SendOnly {
		logger.Debug("unmatched_pair", "pair", p.String(), "side", "send")
	}
	for _, p := range res.Unmatched.RecvOnly {
		logger.Debug("unmatched_pair", "pair", p.String(), "side", "recv")
	}

	// Statistics
	a.setPhase(PhaseStatistics)
	phaseStart = time.Now()
	res.Pairs, err = aggregator.Aggregate(ctx, res.Latencies)
	if err != nil {
		return nil, fmt.Errorf("stats phase: %w", err)
	}
	res.Overall = stats.Overall(res.Latencies)
	a.endPhase(res, metrics.PhaseStats, phaseStart)

	logger.Info("stats_phase_complete",
		"pairs", len(res.Pairs),
		"messages", res.Overall.Count,
		"duration", res.PhaseTimes[metrics.PhaseStats],
	)

	a.setPhase(PhaseDone)
	res.Duration = time.Since(start)
	a.recordMetrics(res)
	return res, nil
}

func (a *Analyzer) setPhase(p Phase) {
	a.phase.Store(int32(p))
}

func (a *Analyzer) endPhase(res *Result, name string, start time.Time) {
	d := time.Since(start)
	res.PhaseTimes[name] = d
	if a.cfg.Metrics != nil {
		a.cfg.Metrics.RecordPhase(name, d)
	}
}

func (a *Analyzer) recordMetrics(res *Result) {
	m := a.cfg.Metrics
	if m == nil {
		return
	}
	m.RecordCounts(res.Counts)
	m.RecordPairs(res.MatchedPairs, len(res.Unmatched.SendOnly), len(res.Unmatched.RecvOnly))
	m.ObserveLatencies(res.Latencies)
	m.RecordPairStats(res.Pairs)
}

// Progress returns a snapshot of the current run.
func (a *Analyzer) Progress() Progress {
	a.mu.Lock()
	binner, correlator, aggregator := a.binner, a.correlator, a.aggregator
	a.mu.Unlock()

	p := Progress{
		Phase:      Phase(a.phase.Load()),
		LinesTotal: a.linesTotal.Load(),
	}
	if binner != nil {
		p.LinesDone = binner.LinesProcessed()
	}
	if correlator != nil {
		p.PairsDone, p.PairsTotal = correlator.PairsDone(), correlator.PairsTotal()
	}
	if aggregator != nil {
		p.StatsDone, p.StatsTotal = aggregator.PairsDone(), aggregator.PairsTotal()
	}
	return p
}
