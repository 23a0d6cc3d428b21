// Package orchestrator wires one trace-latency run together: input
// expansion, preflight, loading, the three analysis phases, progress
// display, output sinks and the final report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/randomizedcoder/go-trace-latency/internal/analysis"
	"github.com/randomizedcoder/go-trace-latency/internal/config"
	"github.com/randomizedcoder/go-trace-latency/internal/correlate"
	"github.com/randomizedcoder/go-trace-latency/internal/export"
	"github.com/randomizedcoder/go-trace-latency/internal/logging"
	"github.com/randomizedcoder/go-trace-latency/internal/metrics"
	"github.com/randomizedcoder/go-trace-latency/internal/preflight"
	"github.com/randomizedcoder/go-trace-latency/internal/stats"
	"github.com/randomizedcoder/go-trace-latency/internal/timeseries"
	"github.com/randomizedcoder/go-trace-latency/internal/trace"
	"github.com/randomizedcoder/go-trace-latency/internal/tui"
)

// ErrPreflightFailed is returned when a required preflight check fails.
var ErrPreflightFailed = errors.New("preflight checks failed (use -skip-preflight to override)")

// progressInterval is how often progress is logged when the TUI is off.
const progressInterval = 2 * time.Second

// Options are the process-level settings of a run.
type Options struct {
	Version string
	RunID   string    // empty = random UUID
	Stdout  io.Writer // report; nil = os.Stdout
	Stderr  io.Writer // preflight output; nil = os.Stderr

	// TUI enables the dashboard. The caller decides whether the terminal
	// supports it.
	TUI bool
}

// Orchestrator coordinates all components of an analysis run.
type Orchestrator struct {
	config *config.Config
	opts   Options
	logger *slog.Logger
	runID  string

	strategy  trace.Strategy
	keyMode   trace.KeyMode
	policy    correlate.Policy
	extractor *trace.Extractor

	metrics       *metrics.Collector
	metricsServer *metrics.Server
	faults        *logging.FaultRecorder
	analyzer      *analysis.Analyzer
	lineRate      *timeseries.RateTracker

	startTime time.Time
}

// New creates an Orchestrator. cfg must already be validated.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	strategy, err := trace.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	keyMode, err := trace.ParseKeyMode(cfg.KeyMode)
	if err != nil {
		return nil, err
	}
	policy, err := correlate.ParsePolicy(cfg.MatchPolicy)
	if err != nil {
		return nil, err
	}
	extractor := trace.DefaultExtractor()
	if cfg.Pattern != "" {
		if extractor, err = trace.NewExtractor(cfg.Pattern); err != nil {
			return nil, err
		}
	}

	collector := metrics.NewCollector(metrics.CollectorConfig{
		Version:     opts.Version,
		RunID:       opts.RunID,
		PairMetrics: cfg.PromPairMetrics,
	})
	faults := logging.NewFaultRecorder(logger, trace.ErrMalformedTimestamp, trace.ErrUnknownOperation)

	o := &Orchestrator{
		config:    cfg,
		opts:      opts,
		logger:    logger,
		runID:     opts.RunID,
		strategy:  strategy,
		keyMode:   keyMode,
		policy:    policy,
		extractor: extractor,
		metrics:   collector,
		faults:    faults,
		lineRate:  timeseries.NewRateTracker(),
	}
	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, collector.Registry(), logger)
	}
	o.analyzer = analysis.New(analysis.Config{
		Workers:     cfg.Workers,
		Strategy:    strategy,
		KeyMode:     keyMode,
		Policy:      policy,
		Extractor:   extractor,
		SortRecords: cfg.SortRecords,
		Faults:      faults,
		Metrics:     collector,
		Logger:      logger,
	})
	return o, nil
}

// Run executes the analysis. It blocks until completion, failure or signal.
// Outputs are written only when every phase succeeded.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	o.startTime = time.Now()

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			o.logger.Info("received_signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	// Expand globs into concrete trace files
	paths, err := trace.ExpandInputs(o.config.Inputs)
	if err != nil {
		return fmt.Errorf("expand inputs: %w", err)
	}

	// Run preflight checks
	if !o.config.SkipPreflight {
		result := preflight.RunAll(preflight.Options{Inputs: paths, Outputs: o.outputPaths()})
		if !o.opts.TUI || !result.Passed {
			preflight.PrintResults(o.opts.Stderr, result)
		}
		if !result.Passed {
			return ErrPreflightFailed
		}
	}

	// Start metrics server
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
				o.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}()
	}

	// Textfile export happens on success and failure alike
	if o.config.MetricsFile != "" {
		defer func() {
			if werr := metrics.WriteTextfile(o.metrics.Registry(), o.config.MetricsFile); werr != nil {
				o.logger.Error("metrics_textfile_failed", "path", o.config.MetricsFile, "error", werr)
				if err == nil {
					err = werr
				}
				return
			}
			o.logger.Info("metrics_textfile_written", "path", o.config.MetricsFile)
		}()
	}

	o.logger.Info("run_starting",
		"run_id", o.runID,
		"inputs", len(paths),
		"workers", o.config.Workers,
		"strategy", o.strategy.String(),
		"key_mode", o.keyMode.String(),
		"policy", o.policy.Name(),
	)

	res, err := o.analyze(ctx, paths)
	o.publishProgress(o.analyzer.Progress())
	o.metrics.RecordFaults(o.faults.CountByReason())
	if err != nil {
		return err
	}

	if err := o.writeOutputs(ctx, paths, res); err != nil {
		return err
	}

	return o.printReport(res)
}

// analyze loads the traces and runs the analysis, with the dashboard or the
// periodic progress logger watching.
func (o *Orchestrator) analyze(ctx context.Context, paths []string) (*analysis.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pipeline := func() (*analysis.Result, error) {
		lines, err := o.load(ctx, paths)
		if err != nil {
			return nil, err
		}
		return o.analyzer.Run(ctx, lines)
	}

	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		o.reportProgress(ctx, !o.opts.TUI)
	}()
	defer func() {
		cancel()
		<-reporterDone
	}()

	if !o.opts.TUI {
		return pipeline()
	}

	model := tui.New(tui.Config{
		Inputs:      len(paths),
		Workers:     o.config.Workers,
		Policy:      o.policy.Name(),
		MetricsAddr: o.config.MetricsAddr,
		Progress:    o.analyzer,
		Faults:      o.faults,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	type outcome struct {
		res *analysis.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := pipeline()
		done <- outcome{res, err}
		tui.SendDone(p, err)
	}()

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		o.logger.Warn("tui_failed", "error", err)
	}
	if m, ok := final.(tui.Model); ok && m.Quitting() {
		o.logger.Info("tui_quit")
		cancel()
	}

	out := <-done
	return out.res, out.err
}

// load reads every trace into memory.
func (o *Orchestrator) load(ctx context.Context, paths []string) ([]trace.Line, error) {
	start := time.Now()
	lines, err := trace.ReadFiles(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("read traces: %w", err)
	}
	d := time.Since(start)
	o.metrics.RecordPhase(metrics.PhaseRead, d)
	o.logger.Info("traces_loaded", "files", len(paths), "lines", len(lines), "duration", d)
	return lines, nil
}

// reportProgress mirrors analyzer progress into the phase progress gauges
// and, when logProgress is set, into periodic log lines.
func (o *Orchestrator) reportProgress(ctx context.Context, logProgress bool) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var last analysis.Phase
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p := o.analyzer.Progress()
		o.publishProgress(p)
		o.lineRate.Set(p.LinesDone)
		o.lineRate.RecordSample()

		if !logProgress || p.Phase == analysis.PhaseIdle || (p.Phase == analysis.PhaseDone && last == analysis.PhaseDone) {
			last = p.Phase
			continue
		}
		last = p.Phase

		done, total := p.Counts(p.Phase)
		rate := o.lineRate.Snapshot()
		o.logger.Info("progress",
			"phase", p.Phase.String(),
			"done", done,
			"total", total,
			"ratio", fmt.Sprintf("%.3f", p.Ratio(p.Phase)),
			"lines_per_sec", stats.FormatRate(rate.Rate10s),
			"malformed", o.faults.Total(),
			"elapsed", stats.FormatDuration(time.Since(o.startTime)),
		)
	}
}

func (o *Orchestrator) publishProgress(p analysis.Progress) {
	phases := []struct {
		phase analysis.Phase
		name  string
	}{
		{analysis.PhaseParsing, metrics.PhaseParse},
		{analysis.PhaseMatching, metrics.PhaseMatch},
		{analysis.PhaseStatistics, metrics.PhaseStats},
	}
	for _, ph := range phases {
		done, total := p.Counts(ph.phase)
		if p.Phase > ph.phase {
			done, total = 1, 1
		}
		o.metrics.SetPhaseProgress(ph.name, done, total)
	}
}

// outputPaths lists the files this run will create.
func (o *Orchestrator) outputPaths() []string {
	var out []string
	for _, p := range []string{o.config.OutputCSV, o.config.OutputXLSX, o.config.StatsOut, o.config.MetricsFile} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// writeOutputs writes every configured sink. Any failure aborts the run.
func (o *Orchestrator) writeOutputs(ctx context.Context, paths []string, res *analysis.Result) error {
	start := time.Now()
	defer func() {
		o.metrics.RecordPhase(metrics.PhaseExport, time.Since(start))
	}()

	if path := o.config.OutputCSV; path != "" {
		if err := export.WriteCSVFile(path, res.Records); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		o.logger.Info("csv_written", "path", path, "records", len(res.Records))
	}

	if path := o.config.OutputXLSX; path != "" {
		if err := export.WriteXLSX(path, res.Records, res.Pairs); err != nil {
			return fmt.Errorf("write xlsx: %w", err)
		}
		o.logger.Info("xlsx_written", "path", path, "records", len(res.Records), "pairs", len(res.Pairs))
	}

	if path := o.config.StatsOut; path != "" {
		if err := export.WriteStatsDocument(path, o.statsDocument(paths, res)); err != nil {
			return fmt.Errorf("write stats document: %w", err)
		}
		o.logger.Info("stats_document_written", "path", path, "pairs", len(res.Pairs))
	}

	if o.config.MongoURI != "" {
		if err := o.writeMongo(ctx, res); err != nil {
			return fmt.Errorf("mongodb sink: %w", err)
		}
	}

	return nil
}

func (o *Orchestrator) writeMongo(ctx context.Context, res *analysis.Result) error {
	sink, err := export.NewMongoSink(ctx, export.MongoConfig{
		URI:       o.config.MongoURI,
		Database:  o.config.MongoDatabase,
		BatchSize: o.config.MongoBatchSize,
	}, o.logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := sink.Close(closeCtx); err != nil {
			o.logger.Warn("mongo_close_failed", "error", err)
		}
	}()

	return sink.Write(ctx, o.runID, res.Records, res.Pairs)
}

func (o *Orchestrator) statsDocument(paths []string, res *analysis.Result) *export.StatsDocument {
	return &export.StatsDocument{
		RunID:         o.runID,
		Version:       o.opts.Version,
		GeneratedAt:   time.Now().UTC(),
		Inputs:        paths,
		Policy:        o.policy.Name(),
		Workers:       o.config.Workers,
		Lines:         export.NewLineCounts(res.Counts),
		TotalMessages: len(res.Records),
		Overall:       res.Overall,
		Pairs:         export.NewPairDocuments(res.Pairs),
		SendOnlyPairs: export.PairStrings(res.Unmatched.SendOnly),
		RecvOnlyPairs: export.PairStrings(res.Unmatched.RecvOnly),
	}
}

// printReport writes the statistics report to stdout.
func (o *Orchestrator) printReport(res *analysis.Result) error {
	return stats.WriteReport(o.opts.Stdout, stats.Report{
		Pairs:          res.Pairs,
		TotalMessages:  len(res.Records),
		Detailed:       o.config.Detailed,
		Overall:        res.Overall,
		Duration:       time.Since(o.startTime),
		Workers:        o.config.Workers,
		Policy:         o.policy.Name(),
		SendOnlyPairs:  len(res.Unmatched.SendOnly),
		RecvOnlyPairs:  len(res.Unmatched.RecvOnly),
		MalformedLines: res.Counts.Malformed,
		SkippedLines:   res.Counts.Skipped,
	})
}

// RunID returns the identifier attached to this run's outputs.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Faults returns the fault recorder for external access.
func (o *Orchestrator) Faults() *logging.FaultRecorder {
	return o.faults
}
