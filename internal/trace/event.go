// Package trace extracts message events from tracer text dumps and bins them
// by rank pair.
//
// A trace line looks like:
//
//	0.000012345 0/1: send 3 1 4096
//
// which reads as: timestamp, local rank / thread index, operation, user type,
// remote rank, size. Everything the tracer prints besides events (dump
// headers, application output) is skipped.
package trace

import (
	"fmt"
	"strings"
)

// Operation is the direction of a message event.
type Operation int

const (
	OperationSend Operation = iota
	OperationReceive
)

// String returns the keyword used in trace lines.
func (o Operation) String() string {
	switch o {
	case OperationSend:
		return "send"
	case OperationReceive:
		return "recv"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// MessageEvent is one observed send or receive. Values are copied, never
// mutated after extraction.
type MessageEvent struct {
	Timestamp  float64 // seconds since tracer init, per trace
	LocalRank  string
	RemoteRank string
	UserType   string
	Size       string // kept verbatim, not a quantity
	Operation  Operation
}

// RankPair is a directional (local, remote) grouping key.
type RankPair struct {
	Local  string
	Remote string
}

// String formats the pair the way the summary prints it.
func (p RankPair) String() string {
	return "(" + p.Local + ", " + p.Remote + ")"
}

// Compare orders rank pairs by local rank, then remote rank. Numeric ranks
// compare numerically regardless of width; equal values with different
// zero padding ("01", "1") still order by their text, so distinct pairs
// never compare equal.
func (p RankPair) Compare(o RankPair) int {
	if c := compareRank(p.Local, o.Local); c != 0 {
		return c
	}
	return compareRank(p.Remote, o.Remote)
}

func compareRank(a, b string) int {
	if isDigits(a) && isDigits(b) {
		ta := strings.TrimLeft(a, "0")
		tb := strings.TrimLeft(b, "0")
		if len(ta) != len(tb) {
			if len(ta) < len(tb) {
				return -1
			}
			return 1
		}
		if c := strings.Compare(ta, tb); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Line is one raw trace line with its origin.
type Line struct {
	Source string
	Number int // 1-based
	Text   string
}
