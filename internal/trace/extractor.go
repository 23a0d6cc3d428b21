package trace

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Outcome classifies the result of extracting a single line.
type Outcome int

const (
	// OutcomeMatched means an event was produced.
	OutcomeMatched Outcome = iota
	// OutcomeSkipped means the line is not an event line. Not an error.
	OutcomeSkipped
	// OutcomeMalformed means the line looked like an event but a field could
	// not be interpreted. The line is dropped and processing continues.
	OutcomeMalformed
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

var (
	// ErrMalformedTimestamp is returned when the timestamp field matches the
	// pattern but does not parse as a finite float.
	ErrMalformedTimestamp = errors.New("malformed timestamp")

	// ErrUnknownOperation is returned for an operation keyword other than
	// send or recv.
	ErrUnknownOperation = errors.New("unknown operation")
)

// LineError describes a per-line extraction fault.
type LineError struct {
	Source string
	LineNo int
	Line   string
	Err    error
}

func (e *LineError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("line %d: %v", e.LineNo, e.Err)
	}
	return fmt.Sprintf("%s:%d: %v", e.Source, e.LineNo, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Pre-compiled patterns for tracer output.
var (
	// 0.000012345 0/1: send 3 1 4096
	// Groups: time, local rank, thread, op, user type, remote rank, size.
	// Unanchored: tracer lines may carry a prefix from the launcher.
	reEvent = regexp.MustCompile(`(\d+\.\d+)\s+(\d+)/(\d+):\s+(send|recv)\s+(\d+)\s+(\d+)\s+(\d+)`)

	// lct::tracer::dump: rank 0/4 time 1.234567890
	reDumpHeader = regexp.MustCompile(`lct::tracer::dump: rank (\d+)/(\d+) time (\d+\.\d+)`)
)

// eventGroups is the number of capture groups an event pattern must have.
const eventGroups = 7

// Extractor turns raw lines into message events.
type Extractor struct {
	re *regexp.Regexp
}

var defaultExtractor = &Extractor{re: reEvent}

// DefaultExtractor returns the extractor for the tracer's text dump format.
func DefaultExtractor() *Extractor {
	return defaultExtractor
}

// NewExtractor builds an extractor from a custom pattern. The pattern must
// have exactly seven capture groups in the order: timestamp, local rank,
// thread, operation, user type, remote rank, size.
func NewExtractor(pattern string) (*Extractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile event pattern: %w", err)
	}
	if re.NumSubexp() != eventGroups {
		return nil, fmt.Errorf("event pattern must have %d capture groups, got %d", eventGroups, re.NumSubexp())
	}
	return &Extractor{re: re}, nil
}

// Extract parses one line. A non-matching line yields OutcomeSkipped and a
// nil error; a malformed one yields OutcomeMalformed and a non-nil error
// wrapping ErrMalformedTimestamp or ErrUnknownOperation.
func (x *Extractor) Extract(line string) (MessageEvent, Outcome, error) {
	m := x.re.FindStringSubmatch(line)
	if m == nil {
		return MessageEvent{}, OutcomeSkipped, nil
	}

	ts, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return MessageEvent{}, OutcomeMalformed, fmt.Errorf("%w %q: %v", ErrMalformedTimestamp, m[1], err)
	}

	var op Operation
	switch m[4] {
	case "send":
		op = OperationSend
	case "recv":
		op = OperationReceive
	default:
		return MessageEvent{}, OutcomeMalformed, fmt.Errorf("%w %q", ErrUnknownOperation, m[4])
	}

	// m[3] is the thread index; it does not identify an endpoint.
	return MessageEvent{
		Timestamp:  ts,
		LocalRank:  m[2],
		RemoteRank: m[6],
		UserType:   m[5],
		Size:       m[7],
		Operation:  op,
	}, OutcomeMatched, nil
}

// Extract parses one line with the default extractor.
func Extract(line string) (MessageEvent, Outcome, error) {
	return defaultExtractor.Extract(line)
}

// DumpHeader is the per-rank header the tracer writes before its events.
type DumpHeader struct {
	Rank    int
	NRanks  int
	Elapsed float64
}

// ParseDumpHeader recognizes a tracer dump header line.
func ParseDumpHeader(line string) (DumpHeader, bool) {
	m := reDumpHeader.FindStringSubmatch(line)
	if m == nil {
		return DumpHeader{}, false
	}
	rank, err1 := strconv.Atoi(m[1])
	nranks, err2 := strconv.Atoi(m[2])
	elapsed, err3 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return DumpHeader{}, false
	}
	return DumpHeader{Rank: rank, NRanks: nranks, Elapsed: elapsed}, true
}
