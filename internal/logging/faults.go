package logging

import (
	"errors"
	"log/slog"
	"sync"
	"unicode/utf8"
)

const (
	// MaxLineLength is the maximum length of a stored trace line before truncation.
	MaxLineLength = 512

	// MaxBufferedFaults is the number of recent faults kept for the summary.
	MaxBufferedFaults = 100
)

// Fault is one recorded per-line extraction fault.
type Fault struct {
	Source string
	LineNo int
	Line   string
	Err    error
}

// FaultRecorder collects per-line trace faults. It keeps the most recent
// faults in a circular buffer, counts every fault by reason, and logs each
// one at warn level.
//
// Thread-safe: parse workers record concurrently.
type FaultRecorder struct {
	logger  *slog.Logger
	reasons []error

	mu       sync.Mutex
	buffer   []Fault
	bufIdx   int
	total    int64
	byReason map[string]int64
}

// NewFaultRecorder creates a recorder. reasons are sentinel errors used to
// classify faults with errors.Is; anything else counts as "other".
func NewFaultRecorder(logger *slog.Logger, reasons ...error) *FaultRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FaultRecorder{
		logger:   logger,
		reasons:  reasons,
		buffer:   make([]Fault, MaxBufferedFaults),
		byReason: make(map[string]int64),
	}
}

// RecordFault stores and logs a fault. Processing of the trace continues.
func (r *FaultRecorder) RecordFault(source string, lineNo int, line string, err error) {
	line = truncateLine(line)
	reason := r.classify(err)

	r.mu.Lock()
	r.buffer[r.bufIdx] = Fault{Source: source, LineNo: lineNo, Line: line, Err: err}
	r.bufIdx = (r.bufIdx + 1) % MaxBufferedFaults
	r.total++
	r.byReason[reason]++
	r.mu.Unlock()

	r.logger.Warn("malformed_line",
		"source", source,
		"line_no", lineNo,
		"reason", reason,
		"error", err,
	)
}

// truncateLine cuts line to at most MaxLineLength bytes without splitting
// a UTF-8 sequence.
func truncateLine(line string) string {
	if len(line) <= MaxLineLength {
		return line
	}
	cut := MaxLineLength
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut] + "...(truncated)"
}

// classify returns the label of the first matching reason.
func (r *FaultRecorder) classify(err error) string {
	for _, reason := range r.reasons {
		if errors.Is(err, reason) {
			return reason.Error()
		}
	}
	return "other"
}

// Total returns the number of faults recorded.
func (r *FaultRecorder) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// CountByReason returns fault counts keyed by reason label.
func (r *FaultRecorder) CountByReason() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int64, len(r.byReason))
	for k, v := range r.byReason {
		counts[k] = v
	}
	return counts
}

// Recent returns up to n of the most recent faults, oldest first.
func (r *FaultRecorder) Recent(n int) []Fault {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > MaxBufferedFaults {
		n = MaxBufferedFaults
	}
	if int64(n) > r.total {
		n = int(r.total)
	}

	faults := make([]Fault, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.bufIdx - n + i + MaxBufferedFaults) % MaxBufferedFaults
		faults = append(faults, r.buffer[idx])
	}
	return faults
}
