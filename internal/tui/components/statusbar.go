package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-kpz/internal/tui/colors"
)

// SessionInfo describes the controller the dashboard drives
type SessionInfo struct {
	Profile  string
	Interval time.Duration
	StepSize float64
}

type StatusBar struct {
	title   string
	info    SessionInfo
	message string
	err     error
	width   int
	cubes   int
	faults  int
}

func NewStatusBar(title string, info SessionInfo) *StatusBar {
	return &StatusBar{
		title:   title,
		info:    info,
		message: "Initializing...",
	}
}

func (sb *StatusBar) SetWidth(width int) {
	sb.width = width
}

// SetMessage shows a transient message; err colours it as a failure
func (sb *StatusBar) SetMessage(message string, err error) {
	sb.message = message
	sb.err = err
}

// SetCounts records how many cubes are shown and how many are in fault
func (sb *StatusBar) SetCounts(cubes, faults int) {
	sb.cubes = cubes
	sb.faults = faults
}

// View renders the status line in the style of an editor mode line
func (sb *StatusBar) View(inputMode, entryMode string, timestamp string) string {
	terminalWidth := sb.width
	if terminalWidth <= 0 {
		terminalWidth = 80
	}

	// Mode indicator
	modeBg := colors.Blue
	if inputMode == "INSERT" {
		modeBg = colors.Green
	}
	mode := lipgloss.NewStyle().
		Foreground(colors.Base).
		Background(modeBg).
		Bold(true).
		Padding(0, 1).
		Render(inputMode)

	title := lipgloss.NewStyle().
		Foreground(colors.Accent).
		Bold(true).
		Padding(0, 1).
		Render(sb.title)

	// Health indicator
	var indicator string
	switch {
	case sb.cubes == 0:
		indicator = lipgloss.NewStyle().Foreground(colors.Stale).Render("○")
	case sb.faults > 0:
		indicator = lipgloss.NewStyle().Foreground(colors.Fault).Render(fmt.Sprintf("✗ %d/%d", sb.faults, sb.cubes))
	default:
		indicator = lipgloss.NewStyle().Foreground(colors.OutputOn).Render(fmt.Sprintf("● %d", sb.cubes))
	}

	divider := lipgloss.NewStyle().
		Foreground(colors.Surface2).
		Padding(0, 1).
		Render("│")

	msgColor := colors.Subtext1
	if sb.err != nil {
		msgColor = colors.Fault
	}
	message := lipgloss.NewStyle().
		Foreground(msgColor).
		Padding(0, 1).
		Render(sb.message)

	var entry string
	if inputMode == "INSERT" {
		entry = lipgloss.NewStyle().
			Foreground(colors.Peach).
			Bold(true).
			Padding(0, 1).
			Render(fmt.Sprintf("[%s] Tab to toggle", entryMode))
	}

	details := lipgloss.NewStyle().
		Foreground(colors.Subtext0).
		Padding(0, 1).
		Render(fmt.Sprintf("⚡ %s step %.2f V poll %s", sb.info.Profile, sb.info.StepSize, sb.info.Interval))

	clock := lipgloss.NewStyle().
		Foreground(colors.Subtext1).
		Padding(0, 1).
		Render(timestamp)

	left := lipgloss.JoinHorizontal(lipgloss.Left, mode, title, indicator, entry, divider, message)
	right := lipgloss.JoinHorizontal(lipgloss.Left, details, divider, clock)

	spacerWidth := terminalWidth - lipgloss.Width(left) - lipgloss.Width(right)
	if spacerWidth < 1 {
		spacerWidth = 1
	}
	spacer := lipgloss.NewStyle().Width(spacerWidth).Render("")

	return lipgloss.NewStyle().
		Foreground(colors.Text).
		Background(colors.Surface0).
		Width(terminalWidth).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, left, spacer, right))
}
