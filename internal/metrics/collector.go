// Package metrics provides Prometheus metrics for trace-latency.
//
// Metrics are organized into two tiers:
//   - Tier 1 (always enabled): run totals, phase timings, latency histogram
//   - Tier 2 (optional, -prom-pair-metrics): per rank pair gauges
//
// Each Collector owns its metric instances, so several collectors can live
// in one process (tests, repeated runs) without sharing state.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-trace-latency/internal/stats"
	"github.com/randomizedcoder/go-trace-latency/internal/trace"
)

const namespace = "trace_latency"

// Phase names used as the "phase" label.
const (
	PhaseRead   = "read"
	PhaseParse  = "parse"
	PhaseMatch  = "match"
	PhaseStats  = "stats"
	PhaseExport = "export"
)

// DefaultMaxPairSeries caps the number of rank pairs exported by Tier 2.
const DefaultMaxPairSeries = 1024

// LatencyBuckets span 1µs to ~16s in powers of four.
var LatencyBuckets = prometheus.ExponentialBuckets(1e-6, 4, 13)

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	RunID   string

	// PairMetrics enables Tier 2 per rank pair gauges.
	PairMetrics bool
	// MaxPairSeries caps Tier 2 series; 0 means DefaultMaxPairSeries.
	MaxPairSeries int
}

// Collector manages all Prometheus metrics of one analysis run.
//
// Thread-safe: all methods can be called concurrently.
type Collector struct {
	registry *prometheus.Registry

	pairMetrics   bool
	maxPairSeries int

	// Tier 1
	info           *prometheus.GaugeVec
	linesTotal     *prometheus.CounterVec
	eventsTotal    *prometheus.CounterVec
	rankPairs      *prometheus.GaugeVec
	matchedRecords prometheus.Counter
	latency        prometheus.Histogram
	phaseDuration  *prometheus.GaugeVec
	phaseProgress  *prometheus.GaugeVec
	faultsTotal    *prometheus.CounterVec

	// Tier 2
	pairMean  *prometheus.GaugeVec
	pairStd   *prometheus.GaugeVec
	pairCount *prometheus.GaugeVec

	mu            sync.Mutex
	phaseTimes    map[string]time.Duration
	droppedSeries int
}

// NewCollector creates a collector on a fresh registry that also carries
// the Go runtime and process collectors.
func NewCollector(cfg CollectorConfig) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewCollectorWithRegistry(cfg, registry)
}

// NewCollectorWithRegistry creates a collector that registers into registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry *prometheus.Registry) *Collector {
	if cfg.MaxPairSeries <= 0 {
		cfg.MaxPairSeries = DefaultMaxPairSeries
	}

	c := &Collector{
		registry:      registry,
		pairMetrics:   cfg.PairMetrics,
		maxPairSeries: cfg.MaxPairSeries,
		phaseTimes:    make(map[string]time.Duration),

		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "info",
				Help:      "Information about the analysis run (value always 1)",
			},
			[]string{"version", "run_id"},
		),
		linesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_total",
				Help:      "Trace lines processed by extraction outcome",
			},
			[]string{"outcome"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Message events extracted by operation",
			},
			[]string{"operation"},
		),
		rankPairs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rank_pairs",
				Help:      "Rank pairs by match state",
			},
			[]string{"state"},
		),
		matchedRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "matched_records_total",
				Help:      "Correlated send/receive records",
			},
		),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "latency_seconds",
				Help:      "Distribution of message latencies (receive minus send timestamp)",
				Buckets:   LatencyBuckets,
			},
		),
		phaseDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Wall time of each analysis phase",
			},
			[]string{"phase"},
		),
		phaseProgress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase_progress_ratio",
				Help:      "Progress of each analysis phase (0.0 to 1.0)",
			},
			[]string{"phase"},
		),
		faultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "line_faults_total",
				Help:      "Malformed trace lines by reason",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		c.info,
		c.linesTotal,
		c.eventsTotal,
		c.rankPairs,
		c.matchedRecords,
		c.latency,
		c.phaseDuration,
		c.phaseProgress,
		c.faultsTotal,
	)

	if c.pairMetrics {
		c.initPairMetrics()
	}

	c.info.WithLabelValues(cfg.Version, cfg.RunID).Set(1)
	return c
}

// initPairMetrics initializes Tier 2 metrics.
func (c *Collector) initPairMetrics() {
	labels := []string{"local", "remote"}
	c.pairMean = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pair_latency_mean_seconds",
			Help:      "Per rank pair mean latency (requires -prom-pair-metrics)",
		},
		labels,
	)
	c.pairStd = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pair_latency_std_seconds",
			Help:      "Per rank pair latency population standard deviation (requires -prom-pair-metrics)",
		},
		labels,
	)
	c.pairCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pair_messages",
			Help:      "Per rank pair matched record count (requires -prom-pair-metrics)",
		},
		labels,
	)
	c.registry.MustRegister(c.pairMean, c.pairStd, c.pairCount)
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordCounts adds the parse phase totals.
func (c *Collector) RecordCounts(counts trace.Counts) {
	c.linesTotal.WithLabelValues(trace.OutcomeMatched.String()).Add(float64(counts.Matched))
	c.linesTotal.WithLabelValues(trace.OutcomeSkipped.String()).Add(float64(counts.Skipped))
	c.linesTotal.WithLabelValues(trace.OutcomeMalformed.String()).Add(float64(counts.Malformed))
	c.eventsTotal.WithLabelValues(trace.OperationSend.String()).Add(float64(counts.Sends))
	c.eventsTotal.WithLabelValues(trace.OperationReceive.String()).Add(float64(counts.Receives))
}

// RecordFaults adds malformed line counts keyed by reason.
func (c *Collector) RecordFaults(byReason map[string]int64) {
	for reason, n := range byReason {
		c.faultsTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordPairs sets the rank pair gauges of the match phase.
func (c *Collector) RecordPairs(matched, sendOnly, recvOnly int) {
	c.rankPairs.WithLabelValues("matched").Set(float64(matched))
	c.rankPairs.WithLabelValues("send_only").Set(float64(sendOnly))
	c.rankPairs.WithLabelValues("recv_only").Set(float64(recvOnly))
}

// ObserveLatencies records every latency in the histogram.
func (c *Collector) ObserveLatencies(latencies map[trace.RankPair][]float64) {
	var n int
	for _, values := range latencies {
		for _, v := range values {
			c.latency.Observe(v)
		}
		n += len(values)
	}
	c.matchedRecords.Add(float64(n))
}

// RecordPairStats exports Tier 2 gauges. Pairs beyond MaxPairSeries are
// counted but not exported. No-op unless PairMetrics is enabled.
func (c *Collector) RecordPairStats(pairs []stats.PairStats) {
	if !c.pairMetrics {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range pairs {
		if i >= c.maxPairSeries {
			c.droppedSeries += len(pairs) - i
			break
		}
		c.pairMean.WithLabelValues(p.Pair.Local, p.Pair.Remote).Set(p.Mean)
		c.pairStd.WithLabelValues(p.Pair.Local, p.Pair.Remote).Set(p.Std)
		c.pairCount.WithLabelValues(p.Pair.Local, p.Pair.Remote).Set(float64(p.Count))
	}
}

// DroppedPairSeries returns how many pairs exceeded MaxPairSeries.
func (c *Collector) DroppedPairSeries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedSeries
}

// SetPhaseProgress sets the progress ratio of phase. total <= 0 means done.
func (c *Collector) SetPhaseProgress(phase string, done, total int64) {
	ratio := 1.0
	if total > 0 {
		ratio = float64(done) / float64(total)
		if ratio > 1.0 {
			ratio = 1.0
		}
	}
	c.phaseProgress.WithLabelValues(phase).Set(ratio)
}

// RecordPhase records how long phase took and marks it complete.
func (c *Collector) RecordPhase(phase string, d time.Duration) {
	c.mu.Lock()
	c.phaseTimes[phase] = d
	c.mu.Unlock()

	c.phaseDuration.WithLabelValues(phase).Set(d.Seconds())
	c.phaseProgress.WithLabelValues(phase).Set(1)
}

// PhaseTimes returns a copy of the recorded phase durations.
func (c *Collector) PhaseTimes() map[string]time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]time.Duration, len(c.phaseTimes))
	for k, v := range c.phaseTimes {
		out[k] = v
	}
	return out
}

// PairMetricsEnabled returns whether Tier 2 metrics are enabled.
func (c *Collector) PairMetricsEnabled() bool {
	return c.pairMetrics
}
