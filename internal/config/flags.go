package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// workersValue is a lenient flag.Value: anything that is not a positive
// integer selects DefaultWorkers and records a warning instead of failing.
type workersValue struct {
	cfg *Config
}

func (w workersValue) String() string {
	if w.cfg == nil {
		return strconv.Itoa(DefaultWorkers)
	}
	return strconv.Itoa(w.cfg.Workers)
}

func (w workersValue) Set(s string) error {
	w.cfg.setWorkers(s)
	return nil
}

// setWorkers applies a user supplied worker count.
func (c *Config) setWorkers(s string) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		c.Workers = DefaultWorkers
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("invalid worker count %q, using default %d", s, DefaultWorkers))
		return
	}
	c.Workers = n
}

// ParseFlags parses command-line arguments (without the program name) on
// top of cfg, which usually comes from DefaultConfig plus ApplyEnv.
// Returns flag.ErrHelp when -h or -help was given.
func ParseFlags(cfg *Config, args []string, output io.Writer) error {
	fs := flag.NewFlagSet("trace-latency", flag.ContinueOnError)
	fs.SetOutput(output)

	// Custom usage message
	fs.Usage = func() {
		w := fs.Output()
		fmt.Fprintf(w, `trace-latency - message latency analysis of LCT/MPI tracer dumps

Usage:
  trace-latency [flags] <trace-file|glob>... [workers]

Analysis Flags:
`)
		printFlagCategory(fs, []string{"workers", "bin-strategy", "key-mode", "match", "sort", "pattern"})

		fmt.Fprintf(w, "\nOutputs:\n")
		printFlagCategory(fs, []string{"out", "xlsx", "stats-out", "detailed"})

		fmt.Fprintf(w, "\nMongoDB:\n")
		printFlagCategory(fs, []string{"mongo-uri", "mongo-db", "mongo-batch"})

		fmt.Fprintf(w, "\nObservability:\n")
		printFlagCategory(fs, []string{"metrics-addr", "metrics-file", "prom-pair-metrics", "v", "log-format", "log-level"})

		fmt.Fprintf(w, "\nDashboard & Diagnostics:\n")
		printFlagCategory(fs, []string{"tui", "skip-preflight", "version"})

		fmt.Fprintf(w, `
Environment:
  Defaults can be set with TRACE_LATENCY_* variables or a .env file
  (TRACE_LATENCY_ENV_FILE selects another file). Flags take precedence.

Examples:
  # Analyze one dump with 8 workers (original positional form)
  trace-latency trace.log 8

  # Analyze all per-rank dumps of a run, compressed or not
  trace-latency -workers 16 'run-42/**/trace-*.log*'

  # Store results in MongoDB and export a Prometheus textfile
  trace-latency -mongo-uri mongodb://localhost:27017 -metrics-file /var/lib/node_exporter/trace.prom trace-*.log

`)
	}

	// Analysis
	fs.Var(workersValue{cfg}, "workers", "Worker goroutines per phase (invalid values fall back to the default)")
	fs.StringVar(&cfg.Strategy, "bin-strategy", cfg.Strategy, `Binning strategy: "private" (per-worker bins merged in order) or "shared" (one locked bin set)`)
	fs.StringVar(&cfg.KeyMode, "key-mode", cfg.KeyMode, `Rank pair key: "local-remote" or "peer" (receives keyed by (remote, local))`)
	fs.StringVar(&cfg.MatchPolicy, "match", cfg.MatchPolicy, `Matching policy: "cross" (every send with every receive) or "ordered"`)
	fs.BoolVar(&cfg.SortRecords, "sort", cfg.SortRecords, "Sort output records by rank pair and timestamps")
	fs.StringVar(&cfg.Pattern, "pattern", cfg.Pattern, "Custom event regexp with 7 groups (timestamp, local, thread, op, type, remote, size)")

	// Outputs
	fs.StringVar(&cfg.OutputCSV, "out", cfg.OutputCSV, `Message table CSV path ("" disables)`)
	fs.StringVar(&cfg.OutputXLSX, "xlsx", cfg.OutputXLSX, "Also write messages and statistics as an XLSX workbook")
	fs.StringVar(&cfg.StatsOut, "stats-out", cfg.StatsOut, "Write per rank pair statistics as JSON or YAML (by extension)")
	fs.BoolVar(&cfg.Detailed, "detailed", cfg.Detailed, "Print percentiles and run details after the statistics")

	// MongoDB
	fs.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB URI; enables the MongoDB sink")
	fs.StringVar(&cfg.MongoDatabase, "mongo-db", cfg.MongoDatabase, "MongoDB database name")
	fs.IntVar(&cfg.MongoBatchSize, "mongo-batch", cfg.MongoBatchSize, "Documents per MongoDB insert")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address during the run")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write Prometheus metrics to this textfile at exit")
	fs.BoolVar(&cfg.PromPairMetrics, "prom-pair-metrics", cfg.PromPairMetrics,
		"Enable per rank pair Prometheus metrics (WARNING: high cardinality on large jobs)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn" or "error"`)

	// Dashboard & Diagnostics
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show phase progress dashboard when stdout is a terminal (use -tui=false to disable)")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	positional := fs.Args()
	if n := len(positional); n >= 2 && looksLikeWorkerCount(positional[n-1]) {
		cfg.setWorkers(positional[n-1])
		positional = positional[:n-1]
	}
	cfg.Inputs = positional

	return nil
}

// looksLikeWorkerCount reports whether a trailing positional argument is
// the worker count of the "<file> [workers]" form. Anything naming an
// existing file is an input. Otherwise an integer, or a bare word such as
// "four" that cannot be a trace path (no separator, extension or glob), is
// the worker count; setWorkers falls back to the default for invalid ones.
func looksLikeWorkerCount(arg string) bool {
	if _, err := os.Stat(arg); err == nil {
		return false
	}
	if _, err := strconv.Atoi(arg); err == nil {
		return true
	}
	return arg != "" && !strings.ContainsAny(arg, `./\*?[{`)
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, names []string) {
	w := fs.Output()
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}
	if _, err := strconv.Atoi(f.DefValue); err == nil {
		return "int"
	}
	return "string"
}
