package stats

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Report is everything printed at exit.
type Report struct {
	Pairs []PairStats

	// TotalMessages is the number of matched records.
	TotalMessages int

	// Detailed adds a percentile table and run information.
	Detailed bool
	Overall  LatencyStats
	Duration time.Duration
	Workers  int
	Policy   string

	// Footnote inputs. Zero values print nothing.
	SendOnlyPairs  int
	RecvOnlyPairs  int
	MalformedLines int64
	SkippedLines   int64
}

// WriteReport writes the per-pair statistics followed by the total message
// count and, when anything is notable, footnotes.
func WriteReport(w io.Writer, r Report) error {
	var b strings.Builder

	b.WriteString("\nMessage Latency Statistics by Rank Pair:\n")
	for _, p := range r.Pairs {
		fmt.Fprintf(&b, "Rank Pair %s: Count: %d, Min: %.6f, Max: %.6f, Avg: %.6f, Std: %.6f\n",
			p.Pair, p.Count, p.Min, p.Max, p.Mean, p.Std)
	}
	fmt.Fprintf(&b, "\nTotal messages processed: %d\n", r.TotalMessages)

	if r.Detailed {
		b.WriteString(renderDetails(r))
	}
	b.WriteString(renderFootnotes(r))

	_, err := io.WriteString(w, b.String())
	return err
}

func renderDetails(r Report) string {
	var b strings.Builder

	b.WriteString("\n───────────────────────────────────────────────────────────────────────────────\n")
	b.WriteString("                              Latency Percentiles\n")
	b.WriteString("───────────────────────────────────────────────────────────────────────────────\n\n")

	fmt.Fprintf(&b, "  %-16s %10s %12s %12s %12s\n", "Rank Pair", "Count", "P50", "P95", "P99")
	b.WriteString("  " + strings.Repeat("─", 66) + "\n")
	for _, p := range r.Pairs {
		fmt.Fprintf(&b, "  %-16s %10s %12.6f %12.6f %12.6f\n",
			p.Pair, FormatNumber(int64(p.Count)), p.P50, p.P95, p.P99)
	}
	if r.Overall.Count > 0 {
		b.WriteString("  " + strings.Repeat("─", 66) + "\n")
		fmt.Fprintf(&b, "  %-16s %10s %12.6f %12.6f %12.6f\n",
			"all", FormatNumber(int64(r.Overall.Count)), r.Overall.P50, r.Overall.P95, r.Overall.P99)
	}

	fmt.Fprintf(&b, "\n  Run Duration:   %s\n", FormatDuration(r.Duration))
	if r.Workers > 0 {
		fmt.Fprintf(&b, "  Workers:        %d\n", r.Workers)
	}
	if r.Policy != "" {
		fmt.Fprintf(&b, "  Match Policy:   %s\n", r.Policy)
	}
	if r.Duration > 0 && r.TotalMessages > 0 {
		fmt.Fprintf(&b, "  Record Rate:    %s\n", FormatRate(float64(r.TotalMessages)/r.Duration.Seconds()))
	}
	return b.String()
}

// renderFootnotes lists diagnostics that do not belong in the main table.
func renderFootnotes(r Report) string {
	var footnotes []string

	if r.SendOnlyPairs > 0 || r.RecvOnlyPairs > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[1] Unmatched rank pairs: %d send-only, %d recv-only (no statistics)",
			r.SendOnlyPairs, r.RecvOnlyPairs))
	}
	if r.MalformedLines > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[2] Malformed lines discarded: %s",
			FormatNumber(r.MalformedLines)))
	}
	if r.Detailed && r.SkippedLines > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[3] Non-event lines skipped: %s",
			FormatNumber(r.SkippedLines)))
	}

	if len(footnotes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, fn := range footnotes {
		fmt.Fprintf(&b, "  %s\n", fn)
	}
	return b.String()
}

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatRate formats a per-second rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", rate/1_000_000)
	}
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
