package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const maxLogEntries = 500

// EventLog is a scrolling view of command results and pushes
type EventLog struct {
	viewport  viewport.Model
	formatter *LogFormatter
	entries   []LogEntry
}

func NewEventLog(width, height int) *EventLog {
	return &EventLog{
		viewport:  viewport.New(width, height),
		formatter: NewLogFormatter(),
	}
}

func (l *EventLog) SetSize(width, height int) {
	l.viewport.Width = width
	l.viewport.Height = height
	l.render()
}

func (l *EventLog) Add(e LogEntry) {
	l.entries = append(l.entries, e)
	if len(l.entries) > maxLogEntries {
		l.entries = l.entries[len(l.entries)-maxLogEntries:]
	}
	l.render()
}

func (l *EventLog) Entries() []LogEntry {
	return l.entries
}

func (l *EventLog) Clear() {
	l.entries = nil
	l.viewport.SetContent("")
}

func (l *EventLog) TogglePushes() {
	l.formatter.ShowPushes = !l.formatter.ShowPushes
	l.render()
}

// render keeps the newest entry in view
func (l *EventLog) render() {
	l.viewport.SetContent(strings.Join(l.formatter.FormatEntries(l.entries), "\n"))
	l.viewport.GotoBottom()
}

// Update passes mouse scrolling to the viewport. Key messages stay with the
// dashboard bindings.
func (l *EventLog) Update(msg tea.Msg) tea.Cmd {
	if _, ok := msg.(tea.MouseMsg); !ok {
		return nil
	}
	var cmd tea.Cmd
	l.viewport, cmd = l.viewport.Update(msg)
	return cmd
}

func (l *EventLog) View() string {
	return l.viewport.View()
}
