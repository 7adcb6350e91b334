package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/openfroyo/parity/pkg/engine"
)

// Source reports the state of a session. Both the in-process service and the
// HTTP client satisfy it.
type Source interface {
	Status(ctx context.Context, sessionID string) (*engine.StatusReport, error)
	Progress(ctx context.Context, sessionID string) (*engine.ProgressReport, error)
}

// DefaultInterval is the polling interval used when none is given.
const DefaultInterval = time.Second

// Watcher is a bubbletea model that polls a session until its run ends.
type Watcher struct {
	source    Source
	sessionID string
	interval  time.Duration

	status   *engine.StatusReport
	progress *engine.ProgressReport
	offset   int
	done     bool
	err      error

	width  int
	height int
}

// NewWatcher creates a watcher for sessionID.
func NewWatcher(source Source, sessionID string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{source: source, sessionID: sessionID, interval: interval}
}

// Done reports whether the watched run reached a terminal state.
func (w *Watcher) Done() bool { return w.done }

// Err returns the last polling error.
func (w *Watcher) Err() error { return w.err }

func (w *Watcher) Init() tea.Cmd {
	return w.poll
}

type tickMsg time.Time

type snapshotMsg struct {
	status   *engine.StatusReport
	progress *engine.ProgressReport
	err      error
}

func (w *Watcher) tickCmd() tea.Cmd {
	return tea.Tick(w.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (w *Watcher) poll() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := w.source.Status(ctx, w.sessionID)
	if err != nil {
		return snapshotMsg{err: err}
	}
	progress, err := w.source.Progress(ctx, w.sessionID)
	return snapshotMsg{status: status, progress: progress, err: err}
}

func (w *Watcher) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return w, tea.Quit
		case "up", "k":
			if w.offset > 0 {
				w.offset--
			}
		case "down", "j":
			if w.progress != nil && w.offset < len(w.progress.Executions)-1 {
				w.offset++
			}
		case "r":
			return w, w.poll
		}
		return w, nil

	case tea.WindowSizeMsg:
		w.width = msg.Width
		w.height = msg.Height
		return w, nil

	case tickMsg:
		return w, w.poll

	case snapshotMsg:
		w.err = msg.err
		if msg.err == nil {
			w.status = msg.status
			w.progress = msg.progress
		}
		if w.finished() {
			w.done = true
			return w, tea.Quit
		}
		return w, w.tickCmd()
	}

	return w, nil
}

// finished reports whether the run is over: its task ended, or no task exists
// and the session is no longer running.
func (w *Watcher) finished() bool {
	if w.status == nil {
		return false
	}
	if w.status.Task != nil {
		return w.status.Task.State.IsTerminal()
	}
	return w.status.SessionStatus != engine.SessionStatusRunning && w.status.Total > 0
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	stateSucceed  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	stateFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stateBlocked  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	statePending  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

func (w *Watcher) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("parity · "+w.sessionID) + "\n\n")

	if w.err != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", w.err)) + "\n\n")
	}
	if w.status == nil {
		b.WriteString(dimStyle.Render("waiting for status...") + "\n")
		return b.String()
	}

	b.WriteString(w.viewSummary() + "\n\n")
	b.WriteString(w.viewGrid())
	b.WriteString("\n" + helpStyle.Render("[↑/↓] scroll  [r] refresh  [q] quit"))
	return b.String()
}

func (w *Watcher) viewSummary() string {
	s := w.status
	line := fmt.Sprintf("session %s  executions %d", formatSessionStatus(s.SessionStatus), s.Total)
	statuses := []engine.ExecutionStatus{
		engine.ExecutionStatusCompleted,
		engine.ExecutionStatusCompletedWithFailures,
		engine.ExecutionStatusFailed,
		engine.ExecutionStatusInProgress,
		engine.ExecutionStatusPending,
	}
	for _, st := range statuses {
		if n := s.Counts[st]; n > 0 {
			line += fmt.Sprintf("  %s:%d", st, n)
		}
	}
	if s.Task != nil {
		line += dimStyle.Render(fmt.Sprintf("  task %s %s", s.Task.ID, s.Task.State))
	}
	return line
}

func (w *Watcher) viewGrid() string {
	if w.progress == nil || len(w.progress.Executions) == 0 {
		return dimStyle.Render("(no executions yet)") + "\n"
	}

	ids := make([]string, 0, len(w.progress.Executions))
	for id := range w.progress.Executions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	header := fmt.Sprintf("%-40s", "execution")
	for i := range engine.Steps() {
		header += fmt.Sprintf(" %d", i+1)
	}
	b.WriteString(dimStyle.Render(header) + "\n")

	if w.offset >= len(ids) {
		w.offset = len(ids) - 1
	}
	rows := ids[w.offset:]
	if limit := w.height - 8; limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for _, id := range rows {
		states := w.progress.Executions[id]
		line := fmt.Sprintf("%-40s", truncate(id, 40))
		for _, step := range engine.Steps() {
			line += " " + glyph(states[step.String()])
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func glyph(state engine.StepState) string {
	switch state {
	case engine.StepStateSucceed:
		return stateSucceed.Render("✓")
	case engine.StepStateFailed:
		return stateFailed.Render("✗")
	case engine.StepStateCanNotProceed:
		return stateBlocked.Render("-")
	default:
		return statePending.Render("○")
	}
}

func formatSessionStatus(status engine.SessionStatus) string {
	switch status {
	case engine.SessionStatusRunning:
		return statusRunning.Render("● running")
	case engine.SessionStatusCompleted:
		return stateSucceed.Render("✓ completed")
	case engine.SessionStatusCancelled:
		return stateBlocked.Render("⚠ cancelled")
	default:
		return string(status)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Run watches sessionID until its run ends or the user quits.
func Run(ctx context.Context, source Source, sessionID string, interval time.Duration) (*Watcher, error) {
	w := NewWatcher(source, sessionID, interval)
	p := tea.NewProgram(w, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return w, err
	}
	return w, nil
}
