// Package watch provides the Bubble Tea live session interface.
package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/proctor/internal/report"
	"github.com/verte-zerg/proctor/internal/session"
)

const (
	phasePrompt = iota
	phaseLive
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	cardStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	headerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	alertStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAAD14"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	modalStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A")).
			Padding(1, 2)
)

type tickMsg time.Time

// StartFunc launches a session for the entered candidate name.
type StartFunc func(candidateName string) (*session.Session, error)

// Model implements the Bubble Tea live session UI. It prompts for the
// candidate name, starts the session, and refreshes a status view every
// second until the operator ends it.
type Model struct {
	start StartFunc

	phase    int
	input    textinput.Model
	startErr string

	sess *session.Session
	snap session.Snapshot

	width  int
	height int
}

// NewModel constructs the live session model. A non-empty candidateName
// skips the prompt and starts the session on the first tick.
func NewModel(start StartFunc, candidateName string) *Model {
	input := textinput.New()
	input.Prompt = "Candidate: "
	input.CharLimit = 0
	input.Cursor.SetMode(cursor.CursorBlink)
	input.SetValue(candidateName)
	return &Model{start: start, input: input}
}

// Session returns the running session, or nil when the operator quit
// before starting one.
func (m *Model) Session() *session.Session {
	return m.sess
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	if m.input.Value() != "" {
		return func() tea.Msg { return tea.KeyMsg{Type: tea.KeyEnter} }
	}
	return m.input.Focus()
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		if m.sess != nil {
			m.snap = m.sess.Status()
		}
		return m, tickCmd()
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.phase == phasePrompt {
			return m.updatePrompt(msg)
		}
		switch msg.String() {
		case "q", "e", "esc":
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		sess, err := m.start(m.input.Value())
		if err != nil {
			m.startErr = err.Error()
			return m, nil
		}
		m.sess = sess
		m.snap = sess.Status()
		m.phase = phaseLive
		return m, tickCmd()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	if m.phase == phasePrompt {
		return m.renderPrompt()
	}
	return m.renderLive()
}

func (m *Model) renderPrompt() string {
	body := []string{
		cardValueStyle.Render("Start Proctoring Session"),
		m.input.View(),
		headerStyle.Render("Enter to start / Esc to cancel"),
	}
	if m.startErr != "" {
		body = append(body, errorStyle.Render(m.startErr))
	}
	box := modalStyle.Render(strings.Join(body, "\n"))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m *Model) renderLive() string {
	snap := m.snap

	header := titleStyle.Render("Proctoring " + snap.SessionID)

	cards := lipgloss.JoinHorizontal(lipgloss.Top,
		metricCard("Candidate", snap.CandidateName),
		metricCard("Elapsed", report.FormatDuration(snap.ElapsedSeconds)),
		scoreCard(snap.Score),
		metricCard("Alerts", fmt.Sprintf("%d", snap.TotalAlerts)),
	)

	counters := lipgloss.JoinHorizontal(lipgloss.Top,
		metricCard("Frames", fmt.Sprintf("%d", snap.Counters.TotalFrames)),
		metricCard("Looking away", fmt.Sprintf("%d", snap.Counters.LookingAway)),
		metricCard("Mobile", fmt.Sprintf("%d", snap.Counters.MobileDetected)),
		metricCard("People", fmt.Sprintf("%d", snap.Counters.MultiplePeople)),
		metricCard("No face", fmt.Sprintf("%d", snap.Counters.NoFace)),
	)

	sections := []string{header, cards, counters}

	if snap.Degraded {
		sections = append(sections, errorStyle.Render("Detection service unavailable: monitoring paused, clock running."))
	}

	if len(snap.RecentAlerts) > 0 {
		lines := []string{headerStyle.Render("Recent alerts")}
		for _, a := range snap.RecentAlerts {
			line := fmt.Sprintf("%s  %s - %s", a.Time().Format("15:04:05"), a.Type, a.Details)
			lines = append(lines, alertStyle.Render(truncateLine(line, m.width-2)))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	sections = append(sections, headerStyle.Render("End session: e  Quit: q"))
	return strings.Join(sections, "\n") + "\n"
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func scoreCard(scoreVal int) string {
	content := fmt.Sprintf("%s\n%s",
		cardTitleStyle.Render("Score"),
		report.ScoreStyle(scoreVal).Render(fmt.Sprintf("%d/100", scoreVal)))
	return cardStyle.Render(content)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// truncateLine bounds a line by display width, not rune count, so wide
// characters in alert details cannot overflow the row.
func truncateLine(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}
