package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-trace-latency/internal/analysis"
	"github.com/randomizedcoder/go-trace-latency/internal/logging"
	"github.com/randomizedcoder/go-trace-latency/internal/timeseries"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// DoneMsg reports that the analysis finished, successfully or not.
type DoneMsg struct {
	Err error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// maxShownFaults is how many recent malformed lines the fault panel lists.
const maxShownFaults = 5

// Model represents the TUI state.
type Model struct {
	// Configuration
	inputs      int
	workers     int
	policy      string
	metricsAddr string

	// Current state
	progress   analysis.Progress
	rate       timeseries.RateStats
	faults     []logging.Fault
	faultTotal int64
	startTime  time.Time
	lastUpdate time.Time
	showFaults bool

	// Display options
	width  int
	height int

	// Sources
	progressSource ProgressSource
	faultSource    FaultSource
	lineRate       *timeseries.RateTracker

	// Terminal state
	done     bool
	err      error
	quitting bool
}

// ProgressSource provides the analyzer's progress.
type ProgressSource interface {
	Progress() analysis.Progress
}

// FaultSource provides malformed line faults. Optional.
type FaultSource interface {
	Total() int64
	Recent(n int) []logging.Fault
}

// Config holds TUI configuration.
type Config struct {
	Inputs      int
	Workers     int
	Policy      string
	MetricsAddr string
	Progress    ProgressSource
	Faults      FaultSource
	Clock       timeseries.Clock // nil = wall clock
}

// New creates a new TUI model.
func New(cfg Config) Model {
	rate := timeseries.NewRateTracker()
	if cfg.Clock != nil {
		rate = timeseries.NewRateTrackerWithClock(cfg.Clock)
	}
	return Model{
		inputs:         cfg.Inputs,
		workers:        cfg.Workers,
		policy:         cfg.Policy,
		metricsAddr:    cfg.MetricsAddr,
		progressSource: cfg.Progress,
		faultSource:    cfg.Faults,
		lineRate:       rate,
		showFaults:     true,
		startTime:      time.Now(),
		lastUpdate:     time.Now(),
		width:          80,
		height:         24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "f":
			m.showFaults = !m.showFaults
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case DoneMsg:
		m.refresh()
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// refresh pulls the latest progress, line rate and faults.
func (m *Model) refresh() {
	if m.progressSource != nil {
		m.progress = m.progressSource.Progress()
		m.lineRate.Set(m.progress.LinesDone)
		m.lineRate.RecordSample()
		m.rate = m.lineRate.Snapshot()
	}
	if m.faultSource != nil {
		m.faultTotal = m.faultSource.Total()
		m.faults = m.faultSource.Recent(maxShownFaults)
	}
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 250ms.
func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the run started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Quitting reports whether the user asked to abort the run.
func (m Model) Quitting() bool {
	return m.quitting
}

// Done reports whether the analysis has finished.
func (m Model) Done() bool {
	return m.done
}

// FaultRate returns the share of processed lines that were malformed.
func (m Model) FaultRate() float64 {
	if m.progress.LinesDone == 0 {
		return 0
	}
	return float64(m.faultTotal) / float64(m.progress.LinesDone)
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendDone tells the TUI the analysis finished.
func SendDone(p *tea.Program, err error) {
	if p != nil {
		p.Send(DoneMsg{Err: err})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatNumberWithCommas formats a number with thousand separators.
func formatNumberWithCommas(n int64) string {
	if n < 0 {
		return "0"
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := make([]byte, 0, len(str)+len(str)/3)
	for i := 0; i < len(str); i++ {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, str[i])
	}
	return string(result)
}
