// Package styles defines the lipgloss styles of the dashboard.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-kpz/internal/tui/colors"
)

var (
	// Header styles
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Accent).
			Background(colors.Surface0).
			Padding(0, 1)

	// Cube state styles
	CubeOnStyle = lipgloss.NewStyle().
			Foreground(colors.OutputOn).
			Bold(true)

	CubeOffStyle = lipgloss.NewStyle().
			Foreground(colors.OutputOff)

	CubeStaleStyle = lipgloss.NewStyle().
			Foreground(colors.Stale).
			Italic(true)

	CubeFaultStyle = lipgloss.NewStyle().
			Foreground(colors.Fault).
			Bold(true)

	// Table styles
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colors.Text)

	TableHighlightStyle = lipgloss.NewStyle().
				Foreground(colors.Text).
				Background(colors.Surface1)

	TableBaseStyle = lipgloss.NewStyle().
			Foreground(colors.Subtext1).
			BorderForeground(colors.Surface2).
			Align(lipgloss.Left)

	// Input styles
	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colors.Surface2).
			Padding(0, 1)

	// Error styles
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Fault)

	// Info styles
	InfoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Accent).
			Align(lipgloss.Center)
)

// CubeState summarises a cube for display.
type CubeState int

const (
	CubeStale CubeState = iota
	CubeOff
	CubeOn
	CubeFault
)

func (s CubeState) String() string {
	switch s {
	case CubeOn:
		return "ON"
	case CubeOff:
		return "OFF"
	case CubeFault:
		return "FAULT"
	default:
		return "----"
	}
}

func GetStateStyle(state CubeState) lipgloss.Style {
	switch state {
	case CubeOn:
		return CubeOnStyle
	case CubeOff:
		return CubeOffStyle
	case CubeFault:
		return CubeFaultStyle
	default:
		return CubeStaleStyle
	}
}
