package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/randomizedcoder/go-trace-latency/internal/config"
	"github.com/randomizedcoder/go-trace-latency/internal/trace"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTrace(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// testConfig returns a validated configuration writing every file output
// into dir.
func testConfig(t *testing.T, dir string, inputs ...string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Inputs = inputs
	cfg.OutputCSV = filepath.Join(dir, "messages.csv")
	cfg.TUIEnabled = false
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, stdout io.Writer) *Orchestrator {
	t.Helper()
	o, err := New(cfg, quietLogger(), Options{
		Version: "test",
		RunID:   "run-test",
		Stdout:  stdout,
		Stderr:  io.Discard,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestRun_SingleMessage(t *testing.T) {
	dir := t.TempDir()
	in := writeTrace(t, dir, "trace.log", "0.000 0/4: send 10 20 100\n0.005 0/4: recv 10 20 100\n")
	cfg := testConfig(t, dir, in)

	var stdout bytes.Buffer
	if err := newTestOrchestrator(t, cfg, &stdout).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantReport := "\nMessage Latency Statistics by Rank Pair:\n" +
		"Rank Pair (0, 20): Count: 1, Min: 0.005000, Max: 0.005000, Avg: 0.005000, Std: 0.000000\n" +
		"\nTotal messages processed: 1\n"
	if stdout.String() != wantReport {
		t.Errorf("report =\n%q\nwant\n%q", stdout.String(), wantReport)
	}

	csv, err := os.ReadFile(cfg.OutputCSV)
	if err != nil {
		t.Fatal(err)
	}
	wantCSV := "Local Rank,Remote Rank,User Type,Size,Latency\n0,20,10,100,0.005000\n"
	if string(csv) != wantCSV {
		t.Errorf("csv = %q, want %q", csv, wantCSV)
	}
}

func TestRun_AllFileOutputs(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, dir, "trace-0.log", "lct::tracer::dump: rank 0/2 time 1.0\n0.100 0/0: send 1 1 64\n0.200 1/0: send 1 0 64\n")
	writeTrace(t, dir, "trace-1.log", "0.150 0/0: recv 1 1 64\n0.300 1/0: recv 1 0 64\n0.400 0/0: send 1 3 64\n")

	cfg := testConfig(t, dir, filepath.Join(dir, "trace-*.log"))
	cfg.OutputXLSX = filepath.Join(dir, "messages.xlsx")
	cfg.StatsOut = filepath.Join(dir, "stats.json")
	cfg.MetricsFile = filepath.Join(dir, "trace.prom")
	cfg.Detailed = true

	var stdout bytes.Buffer
	if err := newTestOrchestrator(t, cfg, &stdout).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	report := stdout.String()
	for _, want := range []string{
		"Rank Pair (0, 1): Count: 1, Min: 0.050000",
		"Rank Pair (1, 0): Count: 1, Min: 0.100000",
		"Total messages processed: 2",
		"Latency Percentiles",
		"[1] Unmatched rank pairs: 1 send-only, 0 recv-only",
		"[3] Non-event lines skipped: 1",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}

	for _, name := range []string{"messages.csv", "messages.xlsx", "stats.json", "trace.prom"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	data, err := os.ReadFile(cfg.StatsOut)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		RunID         string   `json:"run_id"`
		Inputs        []string `json:"inputs"`
		TotalMessages int      `json:"total_messages"`
		SendOnlyPairs []string `json:"send_only_pairs"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("stats document: %v", err)
	}
	if doc.RunID != "run-test" || len(doc.Inputs) != 2 || doc.TotalMessages != 2 {
		t.Errorf("doc = %+v", doc)
	}
	if len(doc.SendOnlyPairs) != 1 || doc.SendOnlyPairs[0] != "(0, 3)" {
		t.Errorf("send_only_pairs = %v", doc.SendOnlyPairs)
	}

	prom, err := os.ReadFile(cfg.MetricsFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`trace_latency_lines_total{outcome="matched"} 5`,
		`trace_latency_matched_records_total 2`,
		`trace_latency_info{run_id="run-test",version="test"} 1`,
	} {
		if !strings.Contains(string(prom), want) {
			t.Errorf("textfile missing %q", want)
		}
	}
}

func TestRun_InputErrors(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.log")

	tests := []struct {
		name          string
		inputs        []string
		skipPreflight bool
		wantErr       error
	}{
		{"preflight catches missing file", []string{missing}, false, ErrPreflightFailed},
		{"read fails without preflight", []string{missing}, true, os.ErrNotExist},
		{"glob without matches", []string{filepath.Join(dir, "none-*.log")}, false, trace.ErrNoMatches},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, dir, tt.inputs...)
			cfg.SkipPreflight = tt.skipPreflight

			var stdout bytes.Buffer
			err := newTestOrchestrator(t, cfg, &stdout).Run(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if stdout.Len() != 0 {
				t.Errorf("report printed on failure: %q", stdout.String())
			}
			if _, statErr := os.Stat(cfg.OutputCSV); !errors.Is(statErr, os.ErrNotExist) {
				t.Error("csv must not be written on failure")
			}
		})
	}
}

func TestRun_Canceled(t *testing.T) {
	dir := t.TempDir()
	in := writeTrace(t, dir, "trace.log", "0.000 0/4: send 10 20 100\n0.005 0/4: recv 10 20 100\n")
	cfg := testConfig(t, dir, in)
	cfg.MetricsFile = filepath.Join(dir, "trace.prom")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestOrchestrator(t, cfg, io.Discard).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, statErr := os.Stat(cfg.OutputCSV); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("csv must not be written when canceled")
	}
	if _, statErr := os.Stat(cfg.MetricsFile); statErr != nil {
		t.Errorf("metrics textfile should still be written: %v", statErr)
	}
}

func TestRun_MalformedLinesFootnote(t *testing.T) {
	dir := t.TempDir()
	text := "0.000 0/4: send 10 20 100\n" +
		strings.Repeat("9", 400) + ".0 0/4: send 10 20 100\n" +
		"0.005 0/4: recv 10 20 100\n"
	in := writeTrace(t, dir, "trace.log", text)
	cfg := testConfig(t, dir, in)
	cfg.OutputCSV = ""

	var stdout bytes.Buffer
	o := newTestOrchestrator(t, cfg, &stdout)
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(stdout.String(), "[2] Malformed lines discarded: 1") {
		t.Errorf("report = %q", stdout.String())
	}
	if o.Faults().Total() != 1 {
		t.Errorf("faults = %d, want 1", o.Faults().Total())
	}
}

func TestRun_MetricsServer(t *testing.T) {
	dir := t.TempDir()
	in := writeTrace(t, dir, "trace.log", "0.000 0/4: send 10 20 100\n0.005 0/4: recv 10 20 100\n")
	cfg := testConfig(t, dir, in)
	cfg.MetricsAddr = "127.0.0.1:0"

	if err := newTestOrchestrator(t, cfg, io.Discard).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestNew_InvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"strategy", func(c *config.Config) { c.Strategy = "global" }},
		{"key mode", func(c *config.Config) { c.KeyMode = "pair" }},
		{"policy", func(c *config.Config) { c.MatchPolicy = "fifo" }},
		{"pattern", func(c *config.Config) { c.Pattern = "(" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Inputs = []string{"trace.log"}
			tt.modify(cfg)
			if _, err := New(cfg, quietLogger(), Options{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_RunID(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Inputs = []string{"trace.log"}

	a, err := New(cfg, quietLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(cfg, quietLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if a.RunID() == "" || a.RunID() == b.RunID() {
		t.Errorf("run ids %q and %q should be unique", a.RunID(), b.RunID())
	}
}
