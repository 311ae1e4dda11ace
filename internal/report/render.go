package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/proctor/internal/model"
	"github.com/verte-zerg/proctor/internal/score"
)

const (
	minRenderWidth     = 40
	defaultRenderWidth = 80
	maxAlertLines      = 10
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F0F0F0")).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))

	scoreGoodStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#52C41A"))
	scoreModerateStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAAD14"))
	scorePoorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF4D4F"))
)

// ScoreStyle returns the lipgloss style for a score value, shared with the
// live session view.
func ScoreStyle(s int) lipgloss.Style {
	switch score.BandFor(s) {
	case score.BandExcellent, score.BandGood:
		return scoreGoodStyle
	case score.BandModerate:
		return scoreModerateStyle
	default:
		return scorePoorStyle
	}
}

// Render returns the printable report document at the given width.
func Render(r model.Report, width int) string {
	if width <= 0 {
		width = defaultRenderWidth
	}
	if width < minRenderWidth {
		width = minRenderWidth
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Proctoring Report"))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("Candidate"))
	b.WriteString("\n")
	writeRow(&b, "Name", r.CandidateName)
	writeRow(&b, "Session", r.SessionID)
	writeRow(&b, "Date", r.StartedAt.Format("2006-01-02"))
	writeRow(&b, "Start time", r.StartedAt.Format("15:04:05"))
	writeRow(&b, "Duration", FormatDuration(r.DurationSeconds))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Integrity score"))
	b.WriteString("\n")
	b.WriteString("  " + ScoreStyle(r.IntegrityScore).Render(fmt.Sprintf("%d/100", r.IntegrityScore)))
	b.WriteString("  " + labelStyle.Render(verdict(r.IntegrityScore)))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("Session overview"))
	b.WriteString("\n")
	writeRow(&b, "Total frames", fmt.Sprintf("%d", r.TotalFrames))
	writeRow(&b, "Looking away", fmt.Sprintf("%d", r.Counters.LookingAway))
	writeRow(&b, "Mobile detected", fmt.Sprintf("%d", r.Counters.MobileDetected))
	writeRow(&b, "Multiple people", fmt.Sprintf("%d", r.Counters.MultiplePeople))
	writeRow(&b, "No face", fmt.Sprintf("%d", r.Counters.NoFace))
	writeRow(&b, "Alerts", fmt.Sprintf("%d", len(r.Alerts)))
	b.WriteString("\n")

	if len(r.Deductions) > 0 {
		b.WriteString(sectionStyle.Render("Score deductions"))
		b.WriteString("\n")
		for _, d := range r.Deductions {
			line := fmt.Sprintf("%s: -%.0f points (%.1f%% of session)", d.Reason, d.Points, d.Percentage)
			b.WriteString(wrapIndent(line, width, "  "))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(r.Alerts) > 0 {
		b.WriteString(sectionStyle.Render("Alert log"))
		b.WriteString("\n")
		for i, a := range r.Alerts {
			if i == maxAlertLines {
				b.WriteString(labelStyle.Render(fmt.Sprintf("  ... and %d more alerts", len(r.Alerts)-maxAlertLines)))
				b.WriteString("\n")
				break
			}
			line := fmt.Sprintf("%s  %s - %s", a.Time().Format("15:04:05"), a.Type, a.Details)
			b.WriteString(wrapIndent(line, width, "  "))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(sectionStyle.Render("Recommendations"))
	b.WriteString("\n")
	for _, rec := range r.Recommendations {
		b.WriteString(wrapIndent("- "+rec, width, "  "))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(footerStyle.Render("Generated " + r.GeneratedAt.Format("2006-01-02 15:04:05")))
	b.WriteString("\n")
	return b.String()
}

func writeRow(b *strings.Builder, label, value string) {
	b.WriteString("  ")
	b.WriteString(labelStyle.Render(padRight(label+":", 18)))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func verdict(s int) string {
	switch score.BandFor(s) {
	case score.BandExcellent:
		return "Excellent"
	case score.BandGood:
		return "Good"
	case score.BandModerate:
		return "Review recommended"
	default:
		return "Review required"
	}
}

func padRight(s string, width int) string {
	for runewidth.StringWidth(s) < width {
		s += " "
	}
	return s
}

// wrapIndent word-wraps text to the given width, indenting every line.
func wrapIndent(text string, width int, indent string) string {
	limit := width - runewidth.StringWidth(indent)
	if limit < 10 {
		limit = 10
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return indent
	}
	var lines []string
	line := words[0]
	for _, word := range words[1:] {
		if runewidth.StringWidth(line)+1+runewidth.StringWidth(word) > limit {
			lines = append(lines, line)
			line = word
			continue
		}
		line += " " + word
	}
	lines = append(lines, line)
	return indent + strings.Join(lines, "\n"+indent)
}
