package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/randomizedcoder/go-trace-latency/internal/correlate"
	"github.com/randomizedcoder/go-trace-latency/internal/stats"
)

const (
	messagesSheet   = "Messages"
	statisticsSheet = "Statistics"
)

// StatisticsHeader is the column header of the statistics sheet.
var StatisticsHeader = []string{"Local Rank", "Remote Rank", "Count", "Min", "Max", "Avg", "Std", "P50", "P95", "P99"}

// WriteXLSX writes a workbook with a Messages sheet (the same table as the
// CSV output) and a Statistics sheet with one row per rank pair.
//
// Rank, user type and size columns are stored as text so arbitrarily long
// digit strings survive unchanged.
func WriteXLSX(path string, records []correlate.MatchedRecord, pairs []stats.PairStats) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if err := f.SetSheetName("Sheet1", messagesSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeMessages(f, records); err != nil {
		return err
	}

	if _, err := f.NewSheet(statisticsSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := writeStatistics(f, pairs); err != nil {
		return err
	}

	return writeFileAtomic(path, func(w io.Writer) error {
		if _, err := f.WriteTo(w); err != nil {
			return fmt.Errorf("write xlsx: %w", err)
		}
		return nil
	})
}

func writeMessages(f *excelize.File, records []correlate.MatchedRecord) error {
	sw, err := f.NewStreamWriter(messagesSheet)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}

	if err := sw.SetRow("A1", toCells(MessageHeader)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			r.Send.LocalRank,
			r.Send.RemoteRank,
			r.Send.UserType,
			r.Send.Size,
			r.Latency,
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return sw.Flush()
}

func writeStatistics(f *excelize.File, pairs []stats.PairStats) error {
	sw, err := f.NewStreamWriter(statisticsSheet)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}

	if err := sw.SetRow("A1", toCells(StatisticsHeader)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, p := range pairs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			p.Pair.Local,
			p.Pair.Remote,
			p.Count,
			p.Min,
			p.Max,
			p.Mean,
			p.Std,
			p.P50,
			p.P95,
			p.P99,
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return sw.Flush()
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
