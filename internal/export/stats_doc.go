package export

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-trace-latency/internal/stats"
	"github.com/randomizedcoder/go-trace-latency/internal/trace"
)

// PairDocument is the statistics of one rank pair in a StatsDocument.
type PairDocument struct {
	LocalRank  string `json:"local_rank" yaml:"local_rank" bson:"local_rank"`
	RemoteRank string `json:"remote_rank" yaml:"remote_rank" bson:"remote_rank"`

	stats.LatencyStats `json:",inline" yaml:",inline" bson:",inline"`
}

// LineCounts mirrors trace.Counts with serialization tags.
type LineCounts struct {
	Lines     int64 `json:"lines" yaml:"lines"`
	Matched   int64 `json:"matched" yaml:"matched"`
	Skipped   int64 `json:"skipped" yaml:"skipped"`
	Malformed int64 `json:"malformed" yaml:"malformed"`
	Sends     int64 `json:"sends" yaml:"sends"`
	Receives  int64 `json:"receives" yaml:"receives"`
}

// StatsDocument is the machine-readable statistics output.
type StatsDocument struct {
	RunID       string    `json:"run_id" yaml:"run_id"`
	Version     string    `json:"version" yaml:"version"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
	Inputs      []string  `json:"inputs" yaml:"inputs"`
	Policy      string    `json:"policy" yaml:"policy"`
	Workers     int       `json:"workers" yaml:"workers"`

	Lines         LineCounts         `json:"lines" yaml:"lines"`
	TotalMessages int                `json:"total_messages" yaml:"total_messages"`
	Overall       stats.LatencyStats `json:"overall" yaml:"overall"`
	Pairs         []PairDocument     `json:"pairs" yaml:"pairs"`

	SendOnlyPairs []string `json:"send_only_pairs,omitempty" yaml:"send_only_pairs,omitempty"`
	RecvOnlyPairs []string `json:"recv_only_pairs,omitempty" yaml:"recv_only_pairs,omitempty"`
}

// NewPairDocuments converts aggregated pair statistics.
func NewPairDocuments(pairs []stats.PairStats) []PairDocument {
	docs := make([]PairDocument, len(pairs))
	for i, p := range pairs {
		docs[i] = PairDocument{
			LocalRank:    p.Pair.Local,
			RemoteRank:   p.Pair.Remote,
			LatencyStats: p.LatencyStats,
		}
	}
	return docs
}

// NewLineCounts converts parse phase counters.
func NewLineCounts(c trace.Counts) LineCounts {
	return LineCounts{
		Lines:     c.Lines,
		Matched:   c.Matched,
		Skipped:   c.Skipped,
		Malformed: c.Malformed,
		Sends:     c.Sends,
		Receives:  c.Receives,
	}
}

// PairStrings renders rank pairs as "(l, r)".
func PairStrings(pairs []trace.RankPair) []string {
	if len(pairs) == 0 {
		return nil
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.String()
	}
	return out
}

// DocFormat is the encoding of a statistics document.
type DocFormat string

const (
	DocJSON DocFormat = "json"
	DocYAML DocFormat = "yaml"
)

// FormatForPath picks the document format from the file extension.
func FormatForPath(path string) (DocFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return DocJSON, nil
	case ".yaml", ".yml":
		return DocYAML, nil
	}
	return "", fmt.Errorf("unsupported statistics file extension %q (want .json, .yaml or .yml)", filepath.Ext(path))
}

// EncodeStatsDocument writes doc to w in format.
func EncodeStatsDocument(w io.Writer, doc *StatsDocument, format DocFormat) error {
	switch format {
	case DocJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case DocYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown document format %q", format)
}

// WriteStatsDocument writes doc to path, choosing the format from the
// extension.
func WriteStatsDocument(path string, doc *StatsDocument) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		if err := EncodeStatsDocument(w, doc, format); err != nil {
			return fmt.Errorf("encode %s: %w", format, err)
		}
		return nil
	})
}
