package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-trace-latency/internal/analysis"
	"github.com/randomizedcoder/go-trace-latency/internal/stats"
)

// phaseUnits names what each phase counts.
var phaseUnits = map[analysis.Phase]string{
	analysis.PhaseParsing:    "lines",
	analysis.PhaseMatching:   "pairs",
	analysis.PhaseStatistics: "pairs",
}

var dashboardPhases = []analysis.Phase{
	analysis.PhaseParsing,
	analysis.PhaseMatching,
	analysis.PhaseStatistics,
}

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderPhases(),
		m.renderThroughput(),
	}

	if m.showFaults && m.faultTotal > 0 {
		sections = append(sections, m.renderFaults())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" trace-latency │ %s │ %d inputs │ %d workers │ %s │ %s ",
		m.statusLabel(),
		m.inputs,
		m.workers,
		m.policy,
		stats.FormatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

func (m Model) statusLabel() string {
	switch {
	case m.done && m.err != nil:
		if errors.Is(m.err, context.Canceled) {
			return statusWarning.Render("● Canceled")
		}
		return statusError.Render("● Failed")
	case m.done:
		return statusOK.Render("● Done")
	}
	return statusInfo.Render("● " + m.progress.Phase.String())
}

// =============================================================================
// Phase Progress
// =============================================================================

func (m Model) renderPhases() string {
	barWidth := m.width - 50
	if barWidth < 20 {
		barWidth = 20
	}

	rows := []string{sectionHeaderStyle.Render("Phases")}
	for _, p := range dashboardPhases {
		rows = append(rows, m.renderPhaseRow(p, barWidth))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderPhaseRow(p analysis.Phase, barWidth int) string {
	state := PhasePending
	switch {
	case m.progress.Phase > p:
		state = PhaseComplete
	case m.progress.Phase == p:
		state = PhaseActive
	}

	done, total := m.progress.Counts(p)
	counts := dimStyle.Render("waiting")
	if state != PhasePending {
		counts = mutedStyle.Render(fmt.Sprintf("%s / %s %s",
			formatNumberWithCommas(done), formatNumberWithCommas(total), phaseUnits[p]))
	}

	return lipgloss.JoinHorizontal(lipgloss.Left,
		GetPhaseMarker(state), " ",
		labelStyle.Render(p.String()),
		RenderProgressBar(m.progress.Ratio(p), barWidth),
		"  ",
		counts,
	)
}

// =============================================================================
// Throughput
// =============================================================================

func (m Model) renderThroughput() string {
	rows := []string{
		sectionHeaderStyle.Render("Throughput"),
		RenderKeyValue("Lines parsed", formatNumberWithCommas(m.rate.Total)),
		RenderKeyValue("Rate (1s)", stats.FormatRate(m.rate.Rate1s)),
		RenderKeyValue("Rate (10s)", stats.FormatRate(m.rate.Rate10s)),
		RenderKeyValue("Rate (overall)", stats.FormatRate(m.rate.RateOverall)),
	}

	faultStyle := GetFaultRateStyle(m.FaultRate())
	rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
		labelWideStyle.Render("Malformed lines:"),
		faultStyle.Render(formatNumberWithCommas(m.faultTotal)),
	))

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Faults
// =============================================================================

func (m Model) renderFaults() string {
	rows := []string{sectionHeaderStyle.Render("Recent Malformed Lines")}

	maxLine := m.width - 10
	if maxLine < 20 {
		maxLine = 20
	}
	for _, f := range m.faults {
		where := fmt.Sprintf("%s:%d", f.Source, f.LineNo)
		line := f.Line
		if len(line) > maxLine {
			line = line[:maxLine-3] + "..."
		}
		rows = append(rows,
			lipgloss.JoinHorizontal(lipgloss.Left,
				valueWarnStyle.Render(where), " ", mutedStyle.Render(errString(f.Err)),
			),
			dimStyle.Render("  "+line),
		)
	}
	if extra := m.faultTotal - int64(len(m.faults)); extra > 0 {
		rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %s more", formatNumberWithCommas(extra))))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"f: toggle faults",
		"r: refresh",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	}

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
