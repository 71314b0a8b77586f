package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-kpz/internal/tui/colors"
)

// LogKind classifies an event log line
type LogKind int

const (
	LogCommand LogKind = iota
	LogPush
	LogError
	LogInfo
)

// LogEntry is one line of the event log
type LogEntry struct {
	Timestamp time.Time
	Kind      LogKind
	Endpoint  string
	Text      string
}

type LogFormatter struct {
	ShowTimestamps bool
	ShowPushes     bool
}

func NewLogFormatter() *LogFormatter {
	return &LogFormatter{ShowTimestamps: true, ShowPushes: true}
}

// Visible reports whether the entry is shown with the current settings
func (lf *LogFormatter) Visible(e LogEntry) bool {
	return lf.ShowPushes || e.Kind != LogPush
}

func (lf *LogFormatter) indicator(kind LogKind) string {
	var color lipgloss.Color
	var text string
	switch kind {
	case LogCommand:
		color, text = colors.Blue, "CMD ↗"
	case LogPush:
		color, text = colors.Teal, "PSH ↙"
	case LogError:
		color, text = colors.Fault, "ERR ✗"
	default:
		color, text = colors.Subtext0, "    ·"
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render(text)
}

func (lf *LogFormatter) FormatEntry(e LogEntry) string {
	line := lf.indicator(e.Kind)
	if e.Endpoint != "" {
		line += " " + lipgloss.NewStyle().Foreground(colors.Accent).Render(e.Endpoint)
	}
	text := e.Text
	if e.Kind == LogError {
		text = lipgloss.NewStyle().Foreground(colors.Fault).Render(text)
	}
	line += " " + text

	if lf.ShowTimestamps {
		ts := lipgloss.NewStyle().
			Foreground(colors.Overlay0).
			Render(e.Timestamp.Format("15:04:05.000"))
		line = fmt.Sprintf("%s %s", ts, line)
	}
	return line
}

func (lf *LogFormatter) FormatEntries(entries []LogEntry) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if lf.Visible(e) {
			lines = append(lines, lf.FormatEntry(e))
		}
	}
	return lines
}
