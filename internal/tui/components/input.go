package components

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-kpz/internal/tui/colors"
	"github.com/allbin/go-kpz/internal/tui/styles"
)

// EntryMode selects what a typed value sets
type EntryMode int

const (
	EntryVolts EntryMode = iota
	EntryPosition
)

func (e EntryMode) String() string {
	switch e {
	case EntryPosition:
		return "POS %"
	default:
		return "VOLTS"
	}
}

const maxHistory = 100

// Input is the value entry line of the dashboard
type Input struct {
	textInput     textinput.Model
	entryMode     EntryMode
	history       []string
	historyIndex  int
	currentInput  string // Store current input when navigating history
	terminalWidth int
}

func NewInput() *Input {
	ti := textinput.New()
	ti.CharLimit = 16
	ti.Prompt = ""
	ti.Placeholder = "e.g. 12.5"

	return &Input{
		textInput:    ti,
		entryMode:    EntryVolts,
		historyIndex: -1,
	}
}

func (i *Input) SetWidth(width int) {
	i.terminalWidth = width
}

func (i *Input) Focus() tea.Cmd {
	return i.textInput.Focus()
}

func (i *Input) Blur() {
	i.textInput.Blur()
}

func (i *Input) Value() string {
	return i.textInput.Value()
}

func (i *Input) SetValue(value string) {
	i.textInput.SetValue(value)
}

func (i *Input) Reset() {
	i.textInput.Reset()
}

func (i *Input) ToggleEntryMode() {
	if i.entryMode == EntryVolts {
		i.entryMode = EntryPosition
		i.textInput.Placeholder = "e.g. 50"
	} else {
		i.entryMode = EntryVolts
		i.textInput.Placeholder = "e.g. 12.5"
	}
}

func (i *Input) EntryMode() EntryMode {
	return i.entryMode
}

// ParseValue reads the entered number. A trailing unit (V or %) is accepted.
func ParseValue(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "%"), "V")
	s = strings.TrimSpace(strings.TrimSuffix(s, "v"))
	if s == "" {
		return 0, fmt.Errorf("empty input")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	return v, nil
}

func (i *Input) Update(msg tea.Msg) (*Input, tea.Cmd) {
	var cmd tea.Cmd
	i.textInput, cmd = i.textInput.Update(msg)
	return i, cmd
}

func (i *Input) ViewWithMode(isInsertMode bool) string {
	var promptStyle lipgloss.Style
	var promptSymbol string
	if i.entryMode == EntryPosition {
		promptSymbol = "%"
		promptStyle = lipgloss.NewStyle().Foreground(colors.Yellow).Bold(true)
	} else {
		promptSymbol = "V"
		promptStyle = lipgloss.NewStyle().Foreground(colors.Green).Bold(true)
	}
	styledPrompt := promptStyle.Render(promptSymbol)

	var inputContent string
	if isInsertMode {
		inputContent = lipgloss.JoinHorizontal(lipgloss.Left, styledPrompt, " ", i.textInput.View())
	} else {
		instruction := lipgloss.NewStyle().
			Foreground(colors.Overlay0).
			Render("Press 'i' to enter a value for the selected cube")
		inputContent = lipgloss.JoinHorizontal(lipgloss.Left, styledPrompt, " ", instruction)
	}

	// Rounded border and padding take four columns
	adjustedWidth := i.terminalWidth - 4
	if adjustedWidth < 10 {
		adjustedWidth = 10
	}

	inputStyle := styles.InputStyle.
		Width(adjustedWidth).
		AlignHorizontal(lipgloss.Left)
	if isInsertMode {
		inputStyle = inputStyle.BorderForeground(colors.Green)
	}
	return inputStyle.Render(inputContent)
}

// AddToHistory adds a value to the history if it's not empty or a duplicate
func (i *Input) AddToHistory(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if len(i.history) > 0 && i.history[len(i.history)-1] == value {
		return
	}

	i.history = append(i.history, value)
	if len(i.history) > maxHistory {
		i.history = i.history[1:]
	}
	i.historyIndex = -1
	i.currentInput = ""
}

func (i *Input) History() []string {
	return i.history
}

// NavigateHistoryUp moves up in value history
func (i *Input) NavigateHistoryUp() {
	if len(i.history) == 0 {
		return
	}
	if i.historyIndex == -1 {
		i.currentInput = i.textInput.Value()
		i.historyIndex = len(i.history) - 1
	} else if i.historyIndex > 0 {
		i.historyIndex--
	}
	i.textInput.SetValue(i.history[i.historyIndex])
}

// NavigateHistoryDown moves down in value history
func (i *Input) NavigateHistoryDown() {
	if len(i.history) == 0 || i.historyIndex == -1 {
		return
	}
	if i.historyIndex < len(i.history)-1 {
		i.historyIndex++
		i.textInput.SetValue(i.history[i.historyIndex])
	} else {
		i.historyIndex = -1
		i.textInput.SetValue(i.currentInput)
		i.currentInput = ""
	}
}
