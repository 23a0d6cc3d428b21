// Package correlate pairs send events with receive events of the same rank
// pair and derives per-message latencies.
package correlate

import (
	"fmt"

	"github.com/randomizedcoder/go-trace-latency/internal/trace"
)

// MatchedRecord is one correlated send/receive pair.
type MatchedRecord struct {
	Send    trace.MessageEvent
	Recv    trace.MessageEvent
	Latency float64 // Recv.Timestamp - Send.Timestamp, may be negative
}

// NewMatchedRecord pairs send with recv.
func NewMatchedRecord(send, recv trace.MessageEvent) MatchedRecord {
	return MatchedRecord{Send: send, Recv: recv, Latency: recv.Timestamp - send.Timestamp}
}

// Policy decides which sends and receives of one rank pair form records.
type Policy interface {
	// Name is the flag value of the policy.
	Name() string
	// Match calls emit once per produced record.
	Match(sends, recvs []trace.MessageEvent, emit func(MatchedRecord))
	// Count returns how many records Match will emit.
	Count(sends, recvs int) int
}

// CrossProduct pairs every send with every receive: m sends and n receives
// give m*n records. This is the default policy.
type CrossProduct struct{}

func (CrossProduct) Name() string { return "cross" }

func (CrossProduct) Match(sends, recvs []trace.MessageEvent, emit func(MatchedRecord)) {
	for _, s := range sends {
		for _, r := range recvs {
			emit(NewMatchedRecord(s, r))
		}
	}
}

func (CrossProduct) Count(sends, recvs int) int {
	return sends * recvs
}

// Ordered pairs the i-th send with the i-th receive and drops the surplus
// of the longer side. Opt-in only; it changes counts and statistics.
type Ordered struct{}

func (Ordered) Name() string { return "ordered" }

func (Ordered) Match(sends, recvs []trace.MessageEvent, emit func(MatchedRecord)) {
	n := min(len(sends), len(recvs))
	for i := 0; i < n; i++ {
		emit(NewMatchedRecord(sends[i], recvs[i]))
	}
}

func (Ordered) Count(sends, recvs int) int {
	return min(sends, recvs)
}

// ParsePolicy converts a flag value to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "cross":
		return CrossProduct{}, nil
	case "ordered":
		return Ordered{}, nil
	}
	return nil, fmt.Errorf("unknown match policy %q (want cross or ordered)", name)
}
