package trace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Bins maps a rank pair to its events in insertion order.
type Bins map[RankPair][]MessageEvent

// BinSet holds the send and receive bins of one run.
type BinSet struct {
	Send Bins
	Recv Bins
}

// NewBinSet returns an empty BinSet.
func NewBinSet() *BinSet {
	return &BinSet{Send: make(Bins), Recv: make(Bins)}
}

// Add appends ev to the bin selected by its operation.
func (b *BinSet) Add(key RankPair, ev MessageEvent) {
	if ev.Operation == OperationSend {
		b.Send[key] = append(b.Send[key], ev)
		return
	}
	b.Recv[key] = append(b.Recv[key], ev)
}

// Merge appends every bin of other after the existing contents.
func (b *BinSet) Merge(other *BinSet) {
	for k, evs := range other.Send {
		b.Send[k] = append(b.Send[k], evs...)
	}
	for k, evs := range other.Recv {
		b.Recv[k] = append(b.Recv[k], evs...)
	}
}

// EventCount returns the number of binned send and receive events.
func (b *BinSet) EventCount() (send, recv int) {
	for _, evs := range b.Send {
		send += len(evs)
	}
	for _, evs := range b.Recv {
		recv += len(evs)
	}
	return send, recv
}

// SharedBinSet is a BinSet written concurrently by many workers. Send and
// receive bins have independent locks.
type SharedBinSet struct {
	sendMu sync.Mutex
	send   Bins

	recvMu sync.Mutex
	recv   Bins
}

// NewSharedBinSet returns an empty SharedBinSet.
func NewSharedBinSet() *SharedBinSet {
	return &SharedBinSet{send: make(Bins), recv: make(Bins)}
}

// Add appends ev under the lock of its direction.
func (s *SharedBinSet) Add(key RankPair, ev MessageEvent) {
	if ev.Operation == OperationSend {
		s.sendMu.Lock()
		s.send[key] = append(s.send[key], ev)
		s.sendMu.Unlock()
		return
	}
	s.recvMu.Lock()
	s.recv[key] = append(s.recv[key], ev)
	s.recvMu.Unlock()
}

// Freeze returns the collected bins. The SharedBinSet must not be written
// afterwards.
func (s *SharedBinSet) Freeze() *BinSet {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	return &BinSet{Send: s.send, Recv: s.recv}
}

// inserter is implemented by BinSet and SharedBinSet.
type inserter interface {
	Add(key RankPair, ev MessageEvent)
}

// Strategy selects how parse workers accumulate bins.
type Strategy int

const (
	// StrategyPrivate gives each worker its own BinSet, merged in chunk
	// order once all workers finish. Bins end up in trace order.
	StrategyPrivate Strategy = iota
	// StrategyShared has all workers insert into one lock-guarded BinSet.
	// Order within a bin is only guaranteed per chunk.
	StrategyShared
)

// String returns the flag value for the strategy.
func (s Strategy) String() string {
	if s == StrategyShared {
		return "shared"
	}
	return "private"
}

// ParseStrategy converts a flag value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "private":
		return StrategyPrivate, nil
	case "shared":
		return StrategyShared, nil
	}
	return StrategyPrivate, fmt.Errorf("unknown bin strategy %q", s)
}

// KeyMode decides which rank pair an event is binned under.
type KeyMode int

const (
	// KeyLocalRemote bins every event under (local rank, remote rank).
	KeyLocalRemote KeyMode = iota
	// KeyPeer bins receives under (remote rank, local rank), so a send from
	// A to B shares a key with the receive B recorded from A.
	KeyPeer
)

// String returns the flag value for the mode.
func (m KeyMode) String() string {
	if m == KeyPeer {
		return "peer"
	}
	return "local-remote"
}

// ParseKeyMode converts a flag value to a KeyMode.
func ParseKeyMode(s string) (KeyMode, error) {
	switch s {
	case "", "local-remote":
		return KeyLocalRemote, nil
	case "peer":
		return KeyPeer, nil
	}
	return KeyLocalRemote, fmt.Errorf("unknown key mode %q", s)
}

// KeyFor returns the bin key of ev.
func (m KeyMode) KeyFor(ev MessageEvent) RankPair {
	if m == KeyPeer && ev.Operation == OperationReceive {
		return RankPair{Local: ev.RemoteRank, Remote: ev.LocalRank}
	}
	return RankPair{Local: ev.LocalRank, Remote: ev.RemoteRank}
}

// FaultSink receives per-line extraction faults.
type FaultSink interface {
	RecordFault(source string, lineNo int, line string, err error)
}

// Counts summarizes the lines seen by a Binner.
type Counts struct {
	Lines     int64
	Matched   int64
	Skipped   int64
	Malformed int64
	Headers   int64 // tracer dump headers, included in Skipped
	Sends     int64
	Receives  int64
}

// BinnerConfig configures a Binner.
type BinnerConfig struct {
	Workers   int
	Strategy  Strategy
	KeyMode   KeyMode
	Extractor *Extractor // nil = DefaultExtractor()
	Faults    FaultSink  // optional
	Logger    *slog.Logger
}

// Binner runs the parse phase: extraction plus binning over worker chunks.
//
// Thread-safe counters: LinesProcessed and Counts may be read while Bin runs.
type Binner struct {
	cfg BinnerConfig

	processed atomic.Int64
	matched   atomic.Int64
	skipped   atomic.Int64
	malformed atomic.Int64
	headers   atomic.Int64
	sends     atomic.Int64
	receives  atomic.Int64
}

// ctxCheckInterval is how many lines a worker handles between context checks.
const ctxCheckInterval = 4096

// NewBinner creates a Binner.
func NewBinner(cfg BinnerConfig) *Binner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Extractor == nil {
		cfg.Extractor = DefaultExtractor()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Binner{cfg: cfg}
}

// SplitChunks divides lines into workers contiguous chunks of len/workers
// lines each; the last chunk takes the remainder. With fewer lines than
// workers every line gets its own chunk.
func SplitChunks(lines []Line, workers int) [][]Line {
	n := len(lines)
	if n == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	size := n / workers
	chunks := make([][]Line, 0, workers)
	for i := 0; i < workers; i++ {
		start := i * size
		end := start + size
		if i == workers-1 {
			end = n
		}
		chunks = append(chunks, lines[start:end])
	}
	return chunks
}

// Bin extracts all lines and returns the resulting bins. It blocks until
// every chunk worker has finished. Only context cancellation fails it;
// malformed lines are reported to the FaultSink.
func (b *Binner) Bin(ctx context.Context, lines []Line) (*BinSet, error) {
	chunks := SplitChunks(lines, b.cfg.Workers)

	b.cfg.Logger.Debug("parse_phase_starting",
		"lines", len(lines),
		"chunks", len(chunks),
		"strategy", b.cfg.Strategy.String(),
	)

	g, gctx := errgroup.WithContext(ctx)

	if b.cfg.Strategy == StrategyShared {
		shared := NewSharedBinSet()
		for _, chunk := range chunks {
			g.Go(func() error {
				return b.binChunk(gctx, chunk, shared)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return shared.Freeze(), nil
	}

	private := make([]*BinSet, len(chunks))
	for i, chunk := range chunks {
		private[i] = NewBinSet()
		g.Go(func() error {
			return b.binChunk(gctx, chunk, private[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := NewBinSet()
	for _, p := range private {
		merged.Merge(p)
	}
	return merged, nil
}

// binChunk is the body of one parse worker.
func (b *Binner) binChunk(ctx context.Context, chunk []Line, dst inserter) error {
	for i, line := range chunk {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		b.processed.Add(1)

		ev, outcome, err := b.cfg.Extractor.Extract(line.Text)
		switch outcome {
		case OutcomeMatched:
			b.matched.Add(1)
			if ev.Operation == OperationSend {
				b.sends.Add(1)
			} else {
				b.receives.Add(1)
			}
			dst.Add(b.cfg.KeyMode.KeyFor(ev), ev)

		case OutcomeSkipped:
			b.skipped.Add(1)
			if h, ok := ParseDumpHeader(line.Text); ok {
				b.headers.Add(1)
				b.cfg.Logger.Debug("dump_header",
					"source", line.Source,
					"rank", h.Rank,
					"nranks", h.NRanks,
					"elapsed", h.Elapsed,
				)
			}

		case OutcomeMalformed:
			b.malformed.Add(1)
			lerr := &LineError{Source: line.Source, LineNo: line.Number, Line: line.Text, Err: err}
			if b.cfg.Faults != nil {
				b.cfg.Faults.RecordFault(line.Source, line.Number, line.Text, lerr)
			} else {
				b.cfg.Logger.Warn("malformed_line", "error", lerr)
			}
		}
	}
	return nil
}

// LinesProcessed returns the number of lines handled so far, matched or not.
func (b *Binner) LinesProcessed() int64 {
	return b.processed.Load()
}

// Counts returns a snapshot of the line counters.
func (b *Binner) Counts() Counts {
	return Counts{
		Lines:     b.processed.Load(),
		Matched:   b.matched.Load(),
		Skipped:   b.skipped.Load(),
		Malformed: b.malformed.Load(),
		Headers:   b.headers.Load(),
		Sends:     b.sends.Load(),
		Receives:  b.receives.Load(),
	}
}
