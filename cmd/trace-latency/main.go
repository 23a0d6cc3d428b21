// Package main provides the trace-latency CLI entry point.
//
// trace-latency reads LCT/MPI tracer dumps, pairs every send with the
// receives of the same rank pair and reports per pair latency statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/randomizedcoder/go-trace-latency/internal/config"
	"github.com/randomizedcoder/go-trace-latency/internal/logging"
	"github.com/randomizedcoder/go-trace-latency/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/trace-latency
var version = "dev"

const usageLine = "Usage: trace-latency [flags] <trace-file|glob>... [workers]"

func main() {
	os.Exit(run())
}

func run() int {
	// Environment first, flags on top
	if err := config.LoadEnvFile(os.Getenv("TRACE_LATENCY_ENV_FILE")); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading env file: %v\n", err)
		return 1
	}
	cfg := config.DefaultConfig()
	config.ApplyEnv(cfg, nil)

	if err := config.ParseFlags(cfg, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if cfg.ShowVersion {
		fmt.Printf("trace-latency %s\n", version)
		return 0
	}

	if len(cfg.Inputs) == 0 {
		fmt.Fprintln(os.Stderr, usageLine)
		fmt.Fprintln(os.Stderr, "Run 'trace-latency -h' for all flags.")
		return 1
	}

	// The dashboard owns the terminal, so logs are discarded while it runs
	useTUI := cfg.TUIEnabled && isatty.IsTerminal(os.Stdout.Fd())
	var logger *slog.Logger
	if useTUI {
		logger = logging.NewLoggerWithWriter(io.Discard, cfg.LogFormat, cfg.LogLevel)
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	for _, w := range cfg.Warnings {
		logger.Warn("config_warning", "message", w)
		if useTUI {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
		}
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	logger.Info("starting",
		"version", version,
		"inputs", len(cfg.Inputs),
		"workers", cfg.Workers,
		"match", cfg.MatchPolicy,
		"metrics_addr", cfg.MetricsAddr,
	)

	orch, err := orchestrator.New(cfg, logger, orchestrator.Options{
		Version: version,
		TUI:     useTUI,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := orch.Run(context.Background()); err != nil {
		logger.Error("run_failed", "run_id", orch.RunID(), "error", err)
		if useTUI || !errors.Is(err, orchestrator.ErrPreflightFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}

	return 0
}
