package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-trace-latency/internal/correlate"
	"github.com/randomizedcoder/go-trace-latency/internal/stats"
	"github.com/randomizedcoder/go-trace-latency/internal/trace"
)

func record(local, remote string, sendTS, recvTS float64) correlate.MatchedRecord {
	send := trace.MessageEvent{
		Timestamp:  sendTS,
		LocalRank:  local,
		RemoteRank: remote,
		UserType:   "10",
		Size:       "100",
		Operation:  trace.OperationSend,
	}
	recv := send
	recv.Timestamp = recvTS
	recv.Operation = trace.OperationReceive
	return correlate.NewMatchedRecord(send, recv)
}

func samplePairs() []stats.PairStats {
	return []stats.PairStats{
		{Pair: trace.RankPair{Local: "0", Remote: "4"}, LatencyStats: stats.Compute([]float64{0.005})},
		{Pair: trace.RankPair{Local: "1", Remote: "0"}, LatencyStats: stats.Compute([]float64{2, 4, 6})},
	}
}

// =============================================================================
// CSV
// =============================================================================

func TestWriteCSV(t *testing.T) {
	tests := []struct {
		name    string
		records []correlate.MatchedRecord
		want    string
	}{
		{
			name: "header only",
			want: "Local Rank,Remote Rank,User Type,Size,Latency\n",
		},
		{
			name:    "single record",
			records: []correlate.MatchedRecord{record("0", "20", 0.000, 0.005)},
			want:    "Local Rank,Remote Rank,User Type,Size,Latency\n0,20,10,100,0.005000\n",
		},
		{
			name:    "negative latency",
			records: []correlate.MatchedRecord{record("3", "1", 2.0, 1.25)},
			want:    "Local Rank,Remote Rank,User Type,Size,Latency\n3,1,10,100,-0.750000\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteCSV(&buf, tt.records); err != nil {
				t.Fatalf("WriteCSV: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestWriteCSVFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.csv")

	if err := WriteCSVFile(path, []correlate.MatchedRecord{record("0", "1", 1, 1.5)}); err != nil {
		t.Fatalf("WriteCSVFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "0,1,10,100,0.500000\n") {
		t.Errorf("file = %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}

func TestWriteCSVFile_MissingDir(t *testing.T) {
	err := WriteCSVFile(filepath.Join(t.TempDir(), "nope", "messages.csv"), nil)
	if err == nil {
		t.Error("expected error")
	}
}

func TestFormatLatency(t *testing.T) {
	tests := map[float64]string{
		0:          "0.000000",
		0.005:      "0.005000",
		1.23456789: "1.234568",
		-0.5:       "-0.500000",
	}
	for in, want := range tests {
		if got := FormatLatency(in); got != want {
			t.Errorf("FormatLatency(%v) = %q, want %q", in, got, want)
		}
	}
}

// =============================================================================
// XLSX
// =============================================================================

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.xlsx")
	records := []correlate.MatchedRecord{
		record("0", "000042", 0, 0.005),
		record("1", "0", 1, 1.5),
	}
	if err := WriteXLSX(path, records, samplePairs()); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(messagesSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("message rows = %d, want 3", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(MessageHeader, ",") {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "000042" {
		t.Errorf("remote rank = %q, leading zeros must survive", rows[1][1])
	}

	statRows, err := f.GetRows(statisticsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(statRows) != 3 {
		t.Fatalf("statistics rows = %d, want 3", len(statRows))
	}
	if statRows[2][0] != "1" || statRows[2][2] != "3" {
		t.Errorf("statistics row = %v", statRows[2])
	}
}

// =============================================================================
// Statistics document
// =============================================================================

func sampleDocument() *StatsDocument {
	return &StatsDocument{
		RunID:         "run-1",
		Version:       "dev",
		GeneratedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Inputs:        []string{"trace-0.log"},
		Policy:        "cross",
		Workers:       4,
		Lines:         NewLineCounts(trace.Counts{Lines: 3, Matched: 2, Skipped: 1, Sends: 1, Receives: 1}),
		TotalMessages: 1,
		Overall:       stats.Compute([]float64{0.005}),
		Pairs:         NewPairDocuments(samplePairs()),
		SendOnlyPairs: PairStrings([]trace.RankPair{{Local: "2", Remote: "3"}}),
	}
}

func TestFormatForPath(t *testing.T) {
	tests := []struct {
		path    string
		want    DocFormat
		wantErr bool
	}{
		{"stats.json", DocJSON, false},
		{"out/stats.YAML", DocYAML, false},
		{"stats.yml", DocYAML, false},
		{"stats.txt", "", true},
		{"stats", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatForPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatsDocument_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeStatsDocument(&buf, sampleDocument(), DocJSON); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	pairs := decoded["pairs"].([]interface{})
	second := pairs[1].(map[string]interface{})
	// Statistics fields are flattened next to the ranks.
	if second["local_rank"] != "1" || second["count"] != float64(3) {
		t.Errorf("pair = %v", second)
	}
	if decoded["send_only_pairs"].([]interface{})[0] != "(2, 3)" {
		t.Errorf("send_only_pairs = %v", decoded["send_only_pairs"])
	}
	if _, ok := decoded["recv_only_pairs"]; ok {
		t.Error("empty recv_only_pairs should be omitted")
	}
}

func TestStatsDocument_YAML(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeStatsDocument(&buf, sampleDocument(), DocYAML); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded struct {
		RunID string `yaml:"run_id"`
		Pairs []struct {
			LocalRank string  `yaml:"local_rank"`
			Count     int     `yaml:"count"`
			Std       float64 `yaml:"std"`
		} `yaml:"pairs"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.RunID != "run-1" || len(decoded.Pairs) != 2 {
		t.Fatalf("decoded = %+v", decoded)
	}
	if decoded.Pairs[1].Count != 3 || decoded.Pairs[1].Std < 1.63 || decoded.Pairs[1].Std > 1.64 {
		t.Errorf("pair = %+v", decoded.Pairs[1])
	}
}

func TestWriteStatsDocument(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"stats.json", "stats.yaml"} {
		path := filepath.Join(dir, name)
		if err := WriteStatsDocument(path, sampleDocument()); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Contains(data, []byte("run-1")) {
			t.Errorf("%s missing run id", name)
		}
	}

	if err := WriteStatsDocument(filepath.Join(dir, "stats.csv"), sampleDocument()); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

// =============================================================================
// MongoDB documents
// =============================================================================

func TestMessageDocuments(t *testing.T) {
	docs := MessageDocuments("run-9", []correlate.MatchedRecord{record("0", "1", 1, 1.25)})
	if len(docs) != 1 {
		t.Fatalf("docs = %d", len(docs))
	}

	raw, err := bson.Marshal(docs[0])
	if err != nil {
		t.Fatalf("bson.Marshal: %v", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if m["run_id"] != "run-9" || m["local_rank"] != "0" || m["latency"] != 0.25 || m["send_ts"] != 1.0 {
		t.Errorf("document = %v", m)
	}
}

func TestPairStatsDocuments(t *testing.T) {
	docs := PairStatsDocuments("run-9", samplePairs())
	if len(docs) != 2 {
		t.Fatalf("docs = %d", len(docs))
	}

	raw, err := bson.Marshal(docs[1])
	if err != nil {
		t.Fatalf("bson.Marshal: %v", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	// Inlined statistics sit at the top level of the document.
	if m["run_id"] != "run-9" || m["remote_rank"] != "0" || fmt.Sprint(m["count"]) != "3" || m["mean"] != 4.0 {
		t.Errorf("document = %v", m)
	}
}
