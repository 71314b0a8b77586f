/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	kpz "github.com/allbin/go-kpz"
	"github.com/allbin/go-kpz/internal/tui/components"
	"github.com/allbin/go-kpz/internal/tui/keys"
	"github.com/allbin/go-kpz/internal/tui/models"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <endpoint>...",
	Short: "Interactive dashboard for one or more cubes",
	Long: `Open a live dashboard showing every cube's output state, voltage and
position, refreshed periodically.

The selected cube can be driven from the keyboard:
- +/- step the voltage by --step volts
- o toggles the HV output, z drives it to 0 V
- i enters a voltage (or, after Tab, a position) to apply with Enter
- u toggles status pushes from the cube, p hides them in the log
- ? shows all key bindings

Examples:
  kpz watch /dev/ttyUSB0
  kpz watch /dev/ttyUSB0 /dev/ttyUSB1 --interval 250ms --step 0.1
  kpz watch sim:a sim:b`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		interval, _ := cmd.Flags().GetDuration("interval")
		step, _ := cmd.Flags().GetFloat64("step")

		if err := runWatchTUI(args, interval, step); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Duration("interval", time.Second, "Status poll interval")
	watchCmd.Flags().Float64("step", 0.5, "Voltage step in volts for +/-")
}

// watchModel represents the Bubble Tea model for the watch command
type watchModel struct {
	*models.CubeModel
	table     *components.CubeTable
	log       *components.EventLog
	statusBar *components.StatusBar
	input     *components.Input
	help      help.Model
	keys      keys.WatchKeys
	pushes    chan models.PushMsg
	interval  time.Duration
	step      float64
	width     int
	height    int
}

func runWatchTUI(endpoints []string, interval time.Duration, step float64) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	pushes := make(chan models.PushMsg, 64)
	observer := func(h kpz.Handle, m kpz.Message) {
		if m.Status == nil {
			return
		}
		select {
		case pushes <- models.PushMsg{Handle: h, Status: *m.Status}:
		default:
		}
	}

	s, err := openSession(endpoints, kpz.WithObserver(observer))
	if err != nil {
		return err
	}
	defer s.Close()

	timeout := viper.GetDuration("timeout") * time.Duration(viper.GetInt("retries")+2)
	info := components.SessionInfo{
		Profile:  s.ctrl.ProfileName(),
		Interval: interval,
		StepSize: step,
	}

	m := watchModel{
		CubeModel: models.NewCubeModel(s.ctrl, s.endpoints, timeout),
		table:     components.NewCubeTable(0, 0),
		log:       components.NewEventLog(0, 0),
		statusBar: components.NewStatusBar("kpz watch", info),
		input:     components.NewInput(),
		help:      help.New(),
		keys:      keys.NewWatchKeys(),
		pushes:    pushes,
		interval:  interval,
		step:      step,
	}
	m.table.SetRows(m.Rows())
	m.statusBar.SetMessage("Connecting...", nil)

	p := tea.NewProgram(&m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = p.Run()

	m.StopAllUpdates()
	m.Cancel()
	return err
}

// waitForPush delivers the next status push to the program
func (m *watchModel) waitForPush() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.pushes:
			return msg
		case <-m.GetContext().Done():
			return nil
		}
	}
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.Poll(), m.waitForPush())
}

func (m *watchModel) logf(kind components.LogKind, h kpz.Handle, format string, args ...any) {
	m.log.Add(components.LogEntry{
		Timestamp: time.Now(),
		Kind:      kind,
		Endpoint:  m.Endpoint(h),
		Text:      fmt.Sprintf(format, args...),
	})
}

func (m *watchModel) refreshTable() {
	rows := m.Rows()
	m.table.SetRows(rows)
	faults := 0
	for _, r := range rows {
		if r.Err != nil || r.Status.ErrorCode != 0 {
			faults++
		}
	}
	m.statusBar.SetCounts(len(rows), faults)
}

func (m *watchModel) layout() {
	// input box is three lines, status bar one
	helpHeight := lipgloss.Height(m.help.View(m.keys))
	body := m.height - 3 - 1 - helpHeight
	if body < 8 {
		body = 8
	}
	tableHeight := len(m.table.Rows()) + 4
	if tableHeight > body/2 {
		tableHeight = body / 2
	}

	m.table.SetSize(m.width, tableHeight)
	m.log.SetSize(m.width, body-tableHeight)
	m.input.SetWidth(m.width)
	m.statusBar.SetWidth(m.width)
	m.help.Width = m.width
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.SetReady(true)

	case models.TickMsg:
		cmds = append(cmds, m.Poll())

	case models.StatusMsg:
		m.ApplyPoll(msg)
		if msg.Err != nil {
			m.statusBar.SetMessage("Poll failed", msg.Err)
			m.log.Add(components.LogEntry{Timestamp: time.Now(), Kind: components.LogError, Text: msg.Err.Error()})
		} else {
			m.statusBar.SetMessage(fmt.Sprintf("Polled %d cube(s)", len(msg.Statuses)), nil)
		}
		m.refreshTable()
		cmds = append(cmds, models.Tick(m.interval))

	case models.PushMsg:
		st := msg.Status
		m.logf(components.LogPush, msg.Handle, "%.3f V bits 0x%08X", st.Voltage, st.Bits)
		m.refreshTable()
		cmds = append(cmds, m.waitForPush())

	case models.CommandResultMsg:
		m.SetError(msg.Handle, msg.Err)
		switch {
		case msg.Err == nil:
			m.logf(components.LogCommand, msg.Handle, "%s", msg.Action)
			m.statusBar.SetMessage(msg.Action, nil)
		case models.IsRejected(msg.Err):
			m.logf(components.LogError, msg.Handle, "%s refused: %v", msg.Action, msg.Err)
			m.statusBar.SetMessage(msg.Action+" refused", msg.Err)
		default:
			m.logf(components.LogError, msg.Handle, "%s: %v", msg.Action, msg.Err)
			m.statusBar.SetMessage(msg.Action+" failed", msg.Err)
		}
		m.refreshTable()

	case tea.MouseMsg:
		cmds = append(cmds, m.log.Update(msg))

	case tea.KeyMsg:
		if m.IsInInsertMode() {
			cmds = append(cmds, m.updateInsert(msg))
		} else {
			cmd, quit := m.updateNormal(msg)
			if quit {
				return m, tea.Quit
			}
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *watchModel) updateInsert(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.SetInputMode(models.InputModeNormal)
		m.input.Blur()
		return nil
	case key.Matches(msg, m.keys.ToggleEntry):
		m.input.ToggleEntryMode()
		return nil
	case key.Matches(msg, m.keys.HistoryUp):
		m.input.NavigateHistoryUp()
		return nil
	case key.Matches(msg, m.keys.HistoryDown):
		m.input.NavigateHistoryDown()
		return nil
	case key.Matches(msg, m.keys.Enter):
		row, ok := m.table.Selected()
		if !ok {
			return nil
		}
		raw := m.input.Value()
		v, err := components.ParseValue(raw)
		if err != nil {
			m.statusBar.SetMessage("Invalid value", err)
			return nil
		}
		m.input.AddToHistory(raw)
		m.input.Reset()
		if m.input.EntryMode() == components.EntryPosition {
			return m.SetPosition(row.Handle, v)
		}
		return m.SetVoltage(row.Handle, v)
	}

	_, cmd := m.input.Update(msg)
	return cmd
}

func (m *watchModel) updateNormal(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return nil, true
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
		return nil, false
	case key.Matches(msg, m.keys.Up):
		m.table.MoveUp()
		return nil, false
	case key.Matches(msg, m.keys.Down):
		m.table.MoveDown()
		return nil, false
	case key.Matches(msg, m.keys.Refresh):
		m.statusBar.SetMessage("Refreshing...", nil)
		return m.Poll(), false
	case key.Matches(msg, m.keys.LogPushes):
		m.log.TogglePushes()
		return nil, false
	case key.Matches(msg, m.keys.ClearLog):
		m.log.Clear()
		return nil, false
	case key.Matches(msg, m.keys.InsertMode):
		m.SetInputMode(models.InputModeInsert)
		return m.input.Focus(), false
	}

	row, ok := m.table.Selected()
	if !ok {
		return nil, false
	}
	switch {
	case key.Matches(msg, m.keys.StepUp):
		return m.Step(row.Handle, m.step), false
	case key.Matches(msg, m.keys.StepDown):
		return m.Step(row.Handle, -m.step), false
	case key.Matches(msg, m.keys.ToggleOutput):
		return m.ToggleOutput(row.Handle), false
	case key.Matches(msg, m.keys.Zero):
		return m.Zero(row.Handle), false
	case key.Matches(msg, m.keys.Updates):
		return m.ToggleUpdates(row.Handle), false
	}
	return nil, false
}

func (m *watchModel) View() string {
	if !m.IsReady() {
		return "\n  Initializing..."
	}

	entryMode := m.input.EntryMode().String()
	statusBar := m.statusBar.View(m.GetInputMode().String(), entryMode, time.Now().Format("15:04:05"))

	return lipgloss.JoinVertical(lipgloss.Left,
		m.table.View(),
		m.log.View(),
		m.input.ViewWithMode(m.IsInInsertMode()),
		statusBar,
		m.help.View(m.keys),
	)
}
