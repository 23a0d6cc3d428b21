package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/randomizedcoder/go-trace-latency/internal/stats"
	"github.com/randomizedcoder/go-trace-latency/internal/trace"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestCollector creates a collector with an isolated registry.
func newTestCollector(cfg CollectorConfig) (*Collector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(cfg, registry)
	return c, registry
}

func pairStats(local, remote string, values ...float64) stats.PairStats {
	return stats.PairStats{
		Pair:         trace.RankPair{Local: local, Remote: remote},
		LatencyStats: stats.Compute(values),
	}
}

// =============================================================================
// Tests: Collector
// =============================================================================

func TestNewCollector_Info(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{Version: "v1.2.3", RunID: "run-1"})

	if got := testutil.ToFloat64(c.info.WithLabelValues("v1.2.3", "run-1")); got != 1 {
		t.Errorf("info = %v, want 1", got)
	}
	if c.PairMetricsEnabled() {
		t.Error("pair metrics should be disabled by default")
	}
}

func TestNewCollector_OwnRegistry(t *testing.T) {
	// Two collectors must not collide.
	a := NewCollector(CollectorConfig{RunID: "a"})
	b := NewCollector(CollectorConfig{RunID: "b"})
	if a.Registry() == b.Registry() {
		t.Fatal("collectors share a registry")
	}
	a.RecordPairs(1, 0, 0)
	if got := testutil.ToFloat64(b.rankPairs.WithLabelValues("matched")); got != 0 {
		t.Errorf("collector b saw a's value: %v", got)
	}
}

func TestCollector_RecordCounts(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{})
	c.RecordCounts(trace.Counts{
		Lines:     10,
		Matched:   6,
		Skipped:   3,
		Malformed: 1,
		Sends:     4,
		Receives:  2,
	})

	tests := []struct {
		name string
		got  prometheus.Collector
		want float64
	}{
		{"matched", c.linesTotal.WithLabelValues("matched"), 6},
		{"skipped", c.linesTotal.WithLabelValues("skipped"), 3},
		{"malformed", c.linesTotal.WithLabelValues("malformed"), 1},
		{"send", c.eventsTotal.WithLabelValues("send"), 4},
		{"recv", c.eventsTotal.WithLabelValues("recv"), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.got); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCollector_RecordPairsAndLatencies(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{})
	c.RecordPairs(2, 1, 3)
	c.ObserveLatencies(map[trace.RankPair][]float64{
		{Local: "0", Remote: "1"}: {0.001, 0.002},
		{Local: "1", Remote: "0"}: {0.5},
	})

	if got := testutil.ToFloat64(c.rankPairs.WithLabelValues("recv_only")); got != 3 {
		t.Errorf("recv_only = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.matchedRecords); got != 3 {
		t.Errorf("matched_records_total = %v, want 3", got)
	}

	expected := `
# HELP trace_latency_matched_records_total Correlated send/receive records
# TYPE trace_latency_matched_records_total counter
trace_latency_matched_records_total 3
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "trace_latency_matched_records_total"); err != nil {
		t.Error(err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "trace_latency_latency_seconds" {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		if h.GetSampleCount() != 3 {
			t.Errorf("histogram count = %d, want 3", h.GetSampleCount())
		}
		return
	}
	t.Error("latency histogram not gathered")
}

func TestCollector_PairMetrics(t *testing.T) {
	tests := []struct {
		name        string
		cfg         CollectorConfig
		pairs       int
		wantSeries  int
		wantDropped int
	}{
		{"disabled", CollectorConfig{}, 3, 0, 0},
		{"enabled", CollectorConfig{PairMetrics: true}, 3, 3, 0},
		{"capped", CollectorConfig{PairMetrics: true, MaxPairSeries: 2}, 5, 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, registry := newTestCollector(tt.cfg)
			var pairs []stats.PairStats
			for i := 0; i < tt.pairs; i++ {
				pairs = append(pairs, pairStats(string(rune('0'+i)), "9", 0.25, 0.75))
			}
			c.RecordPairStats(pairs)

			got, err := testutil.GatherAndCount(registry, "trace_latency_pair_latency_mean_seconds")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.wantSeries {
				t.Errorf("series = %d, want %d", got, tt.wantSeries)
			}
			if c.DroppedPairSeries() != tt.wantDropped {
				t.Errorf("dropped = %d, want %d", c.DroppedPairSeries(), tt.wantDropped)
			}
		})
	}
}

func TestCollector_PairMetricsValues(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{PairMetrics: true})
	c.RecordPairStats([]stats.PairStats{pairStats("0", "1", 2, 4, 6)})

	if got := testutil.ToFloat64(c.pairMean.WithLabelValues("0", "1")); got != 4 {
		t.Errorf("mean = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.pairCount.WithLabelValues("0", "1")); got != 3 {
		t.Errorf("count = %v, want 3", got)
	}
}

func TestCollector_Phases(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{})

	c.SetPhaseProgress(PhaseParse, 25, 100)
	if got := testutil.ToFloat64(c.phaseProgress.WithLabelValues(PhaseParse)); got != 0.25 {
		t.Errorf("progress = %v, want 0.25", got)
	}
	c.SetPhaseProgress(PhaseParse, 150, 100)
	if got := testutil.ToFloat64(c.phaseProgress.WithLabelValues(PhaseParse)); got != 1 {
		t.Errorf("progress should clamp to 1, got %v", got)
	}
	c.SetPhaseProgress(PhaseMatch, 0, 0)
	if got := testutil.ToFloat64(c.phaseProgress.WithLabelValues(PhaseMatch)); got != 1 {
		t.Errorf("empty phase progress = %v, want 1", got)
	}

	c.RecordPhase(PhaseStats, 1500*time.Millisecond)
	if got := testutil.ToFloat64(c.phaseDuration.WithLabelValues(PhaseStats)); got != 1.5 {
		t.Errorf("duration = %v, want 1.5", got)
	}
	times := c.PhaseTimes()
	times[PhaseStats] = 0
	if c.PhaseTimes()[PhaseStats] != 1500*time.Millisecond {
		t.Error("PhaseTimes should return a copy")
	}
}

func TestCollector_RecordFaults(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{})
	c.RecordFaults(map[string]int64{"malformed timestamp": 2, "other": 1})

	if got := testutil.ToFloat64(c.faultsTotal.WithLabelValues("malformed timestamp")); got != 2 {
		t.Errorf("faults = %v, want 2", got)
	}
}

// =============================================================================
// Tests: Textfile
// =============================================================================

func TestWriteTextfile(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{Version: "dev", RunID: "r1"})
	c.RecordPairs(4, 0, 1)

	path := filepath.Join(t.TempDir(), "trace_latency.prom")
	if err := WriteTextfile(registry, path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	decoder := expfmt.NewDecoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	parsed := make(map[string]*dto.MetricFamily)
	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("decode: %v", err)
		}
		parsed[mf.GetName()] = &mf
	}

	mf, ok := parsed["trace_latency_rank_pairs"]
	if !ok {
		t.Fatalf("rank_pairs missing; got %d families", len(parsed))
	}
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetValue() == "matched" && m.GetGauge().GetValue() != 4 {
				t.Errorf("matched = %v, want 4", m.GetGauge().GetValue())
			}
		}
	}
	if _, ok := parsed["trace_latency_info"]; !ok {
		t.Error("info missing")
	}

	// No temporary files left behind.
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestWriteTextfile_BadDir(t *testing.T) {
	registry := prometheus.NewRegistry()
	err := WriteTextfile(registry, filepath.Join(t.TempDir(), "missing", "out.prom"))
	if err == nil {
		t.Error("expected error for missing directory")
	}
}

// =============================================================================
// Tests: Server
// =============================================================================

func TestServer_MetricsAndHealth(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{RunID: "srv"})
	c.RecordPairs(1, 0, 0)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer("127.0.0.1:0", registry, logger)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Shutdown(context.Background())

	for _, tt := range []struct {
		path string
		want string
	}{
		{"/metrics", "trace_latency_rank_pairs"},
		{"/health", "ok"},
	} {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get("http://" + s.Addr() + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d", resp.StatusCode)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body missing %q", tt.want)
			}
		})
	}
}
