// Package preflight provides startup validation checks.
package preflight

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/randomizedcoder/go-trace-latency/internal/stats"
	"github.com/randomizedcoder/go-trace-latency/internal/trace"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Options describes what a run is about to read and write.
type Options struct {
	Inputs  []string // expanded trace paths
	Outputs []string // files the run will create
}

// Memory footprint estimate: the whole trace is held as lines, then as
// events in bins, then as matched records.
const (
	memoryFactor      = 3
	compressedFactor  = 10 // assumed expansion of compressed traces
	memoryWarnPercent = 80
)

// meminfoPath is a variable so tests can point it at a fixture.
var meminfoPath = "/proc/meminfo"

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	// Trace inputs must all be readable
	inputCheck, traceBytes := checkInputs(opts.Inputs)
	result.Checks = append(result.Checks, inputCheck)
	if !inputCheck.Passed {
		result.Passed = false
	}

	// Output directories must be writable
	outCheck := checkOutputs(opts.Outputs)
	result.Checks = append(result.Checks, outCheck)
	if !outCheck.Passed {
		result.Passed = false
	}

	// File descriptor check
	fdCheck := checkFileDescriptors()
	result.Checks = append(result.Checks, fdCheck)
	if !fdCheck.Passed {
		result.Passed = false
	}

	// Memory check (warning only)
	memCheck := checkMemory(traceBytes)
	result.Checks = append(result.Checks, memCheck)

	return result
}

// checkInputs opens every trace (sniffing its compression) and returns the
// estimated in-memory size of the decoded text.
func checkInputs(paths []string) (Check, int64) {
	var (
		readable int
		estimate int64
		raw      int64
		failures []string
	)
	for _, p := range paths {
		size, compression, err := probeInput(p)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		readable++
		raw += size
		if compression != trace.CompressionNone {
			size *= compressedFactor
		}
		estimate += size
	}

	c := Check{
		Name:     "trace_inputs",
		Required: len(paths),
		Actual:   readable,
		Passed:   len(paths) > 0 && readable == len(paths),
	}
	switch {
	case len(paths) == 0:
		c.Required = 0
		c.Message = "no trace files given"
	case len(failures) > 0:
		c.Message = strings.Join(failures, "; ")
	default:
		c.Message = fmt.Sprintf("%d files, %s on disk", readable, stats.FormatBytes(raw))
	}
	return c, estimate
}

func probeInput(path string) (int64, trace.Compression, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, trace.CompressionNone, err
	}
	if info.IsDir() {
		return 0, trace.CompressionNone, fmt.Errorf("%s: is a directory", path)
	}
	rc, compression, err := trace.OpenTrace(path)
	if err != nil {
		return 0, compression, err
	}
	rc.Close()
	return info.Size(), compression, nil
}

// checkOutputs verifies each output's directory accepts new files.
func checkOutputs(paths []string) Check {
	seen := make(map[string]bool)
	var failures []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := probeWritable(dir); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", dir, err))
		}
	}

	if len(failures) > 0 {
		return Check{
			Name:    "output_dirs",
			Passed:  false,
			Message: strings.Join(failures, "; "),
		}
	}
	if len(seen) == 0 {
		return Check{Name: "output_dirs", Passed: true, Message: "no file outputs"}
	}
	return Check{
		Name:    "output_dirs",
		Passed:  true,
		Message: fmt.Sprintf("%d directories writable", len(seen)),
	}
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".trace-latency-preflight-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// checkFileDescriptors verifies a sane descriptor limit. Traces are read
// one at a time, so only the metrics server and outputs need headroom.
func checkFileDescriptors() Check {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	required := 64
	actual := int(limit.Cur)
	if limit.Cur > uint64(1<<31-1) {
		actual = 1<<31 - 1
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// checkMemory warns when the estimated footprint approaches MemAvailable.
func checkMemory(traceBytes int64) Check {
	f, err := os.Open(meminfoPath)
	if err != nil {
		return Check{
			Name:    "memory",
			Passed:  true,
			Warning: true,
			Message: "unable to read /proc/meminfo (non-Linux?)",
		}
	}
	defer f.Close()

	available, err := parseMemAvailable(f)
	if err != nil {
		return Check{
			Name:    "memory",
			Passed:  true,
			Warning: true,
			Message: err.Error(),
		}
	}

	need := traceBytes * memoryFactor
	return Check{
		Name:    "memory",
		Passed:  true,
		Warning: need*100 > available*memoryWarnPercent,
		Message: fmt.Sprintf("~%s estimated, %s available",
			stats.FormatBytes(need), stats.FormatBytes(available)),
	}
}

// parseMemAvailable reads the MemAvailable line ("MemAvailable: 123 kB").
func parseMemAvailable(r io.Reader) (int64, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "MemAvailable:" {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse MemAvailable: %w", err)
		}
		return kb * 1024, nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("MemAvailable not found")
}

// PrintResults prints the preflight check results.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "trace_inputs":
		return "check the trace paths and their permissions"
	case "output_dirs":
		return "create the output directory or choose another path with -out/-xlsx/-stats-out"
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	default:
		return "see documentation"
	}
}
