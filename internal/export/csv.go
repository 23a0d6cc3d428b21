// Package export writes analysis results: the matched message table as CSV
// or XLSX, the per rank pair statistics as JSON or YAML, and both to MongoDB.
package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/randomizedcoder/go-trace-latency/internal/correlate"
)

// MessageHeader is the column header of the message table.
var MessageHeader = []string{"Local Rank", "Remote Rank", "User Type", "Size", "Latency"}

// FormatLatency renders a latency the way every table output does.
func FormatLatency(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// messageRow returns the table row of r. Fields come from the send event.
func messageRow(r correlate.MatchedRecord) []string {
	return []string{
		r.Send.LocalRank,
		r.Send.RemoteRank,
		r.Send.UserType,
		r.Send.Size,
		FormatLatency(r.Latency),
	}
}

// WriteCSV writes the header and one row per record.
func WriteCSV(w io.Writer, records []correlate.MatchedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(MessageHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(messageRow(r)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes records to path through a temporary file, so an
// interrupted run never leaves a truncated table behind.
func WriteCSVFile(path string, records []correlate.MatchedRecord) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		bw := bufio.NewWriterSize(w, 256*1024)
		if err := WriteCSV(bw, records); err != nil {
			return err
		}
		return bw.Flush()
	})
}

// writeFileAtomic creates a temporary file next to path, fills it with
// write and renames it over path.
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
