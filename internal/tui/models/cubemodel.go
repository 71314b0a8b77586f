// Package models holds the dashboard state shared between the bubbletea
// model and the commands it starts.
package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	kpz "github.com/allbin/go-kpz"
	"github.com/allbin/go-kpz/internal/tui/components"
)

// InputMode represents the current input mode (vim-like)
type InputMode int

const (
	InputModeNormal InputMode = iota
	InputModeInsert
)

func (m InputMode) String() string {
	switch m {
	case InputModeInsert:
		return "INSERT"
	default:
		return "NORMAL"
	}
}

// Controller is the part of kpz.Controller the dashboard uses.
type Controller interface {
	QueryAll(ctx context.Context) (map[kpz.Handle]kpz.Status, error)
	CachedStatus(h kpz.Handle) (kpz.Status, error)
	SetVoltage(ctx context.Context, h kpz.Handle, volts float64) error
	SetPosition(ctx context.Context, h kpz.Handle, percent float64) error
	Step(ctx context.Context, h kpz.Handle, delta float64) error
	Zero(ctx context.Context, h kpz.Handle) error
	EnableOutput(ctx context.Context, h kpz.Handle, on bool) error
	QueryStatus(ctx context.Context, h kpz.Handle) (kpz.Status, error)
	StartUpdates(ctx context.Context, h kpz.Handle) error
	StopUpdates(ctx context.Context, h kpz.Handle) error
}

// TickMsg triggers a poll of all cubes
type TickMsg time.Time

// StatusMsg carries the result of a poll
type StatusMsg struct {
	Statuses map[kpz.Handle]kpz.Status
	Err      error
}

// PushMsg is a status the cube sent on its own
type PushMsg struct {
	Handle kpz.Handle
	Status kpz.Status
}

// CommandResultMsg reports a finished user command
type CommandResultMsg struct {
	Handle kpz.Handle
	Action string
	Err    error
}

// CubeModel is the dashboard state. Rows are keyed by handle and kept in
// endpoint order.
type CubeModel struct {
	ctrl      Controller
	endpoints map[kpz.Handle]string
	errs      map[kpz.Handle]error
	pushing   map[kpz.Handle]bool
	timeout   time.Duration

	ready     bool
	inputMode InputMode

	cancel context.CancelFunc
	ctx    context.Context
	mu     sync.RWMutex
}

func NewCubeModel(ctrl Controller, endpoints map[kpz.Handle]string, timeout time.Duration) *CubeModel {
	ctx, cancel := context.WithCancel(context.Background())
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CubeModel{
		ctrl:      ctrl,
		endpoints: endpoints,
		errs:      make(map[kpz.Handle]error),
		pushing:   make(map[kpz.Handle]bool),
		timeout:   timeout,
		inputMode: InputModeNormal,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (m *CubeModel) GetContext() context.Context {
	return m.ctx
}

// Cancel aborts commands in flight
func (m *CubeModel) Cancel() {
	m.cancel()
}

func (m *CubeModel) IsReady() bool {
	return m.ready
}

func (m *CubeModel) SetReady(ready bool) {
	m.ready = ready
}

func (m *CubeModel) GetInputMode() InputMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inputMode
}

func (m *CubeModel) SetInputMode(mode InputMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputMode = mode
}

func (m *CubeModel) IsInInsertMode() bool {
	return m.GetInputMode() == InputModeInsert
}

func (m *CubeModel) Endpoint(h kpz.Handle) string {
	return m.endpoints[h]
}

func (m *CubeModel) IsPushing(h kpz.Handle) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pushing[h]
}

// SetError records the outcome of the last command on h; nil clears it
func (m *CubeModel) SetError(h kpz.Handle, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, h)
		return
	}
	m.errs[h] = err
}

// Rows returns the table rows from the cached statuses
func (m *CubeModel) Rows() []components.CubeRow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]components.CubeRow, 0, len(m.endpoints))
	for h, endpoint := range m.endpoints {
		st, err := m.ctrl.CachedStatus(h)
		if err != nil {
			st = kpz.Status{}
		}
		rows = append(rows, components.CubeRow{
			Handle:   h,
			Endpoint: endpoint,
			Status:   st,
			Err:      m.errs[h],
			Pushing:  m.pushing[h],
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Endpoint < rows[j].Endpoint })
	return rows
}

// Tick schedules the next poll
func Tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Poll queries every cube
func (m *CubeModel) Poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()
		statuses, err := m.ctrl.QueryAll(ctx)
		return StatusMsg{Statuses: statuses, Err: err}
	}
}

// ApplyPoll clears the errors of cubes that answered. Cubes that did not
// keep their previous error.
func (m *CubeModel) ApplyPoll(msg StatusMsg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h := range msg.Statuses {
		delete(m.errs, h)
	}
	if msg.Err == nil {
		return
	}
	for h := range m.endpoints {
		if _, ok := msg.Statuses[h]; !ok {
			m.errs[h] = msg.Err
		}
	}
}

func (m *CubeModel) run(h kpz.Handle, action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()
		err := fn(ctx)
		if err == nil {
			// Refresh so the table shows the effect
			_, err = m.ctrl.QueryStatus(ctx, h)
		}
		return CommandResultMsg{Handle: h, Action: action, Err: err}
	}
}

func (m *CubeModel) SetVoltage(h kpz.Handle, volts float64) tea.Cmd {
	return m.run(h, fmt.Sprintf("set %.3f V", volts), func(ctx context.Context) error {
		return m.ctrl.SetVoltage(ctx, h, volts)
	})
}

func (m *CubeModel) SetPosition(h kpz.Handle, percent float64) tea.Cmd {
	return m.run(h, fmt.Sprintf("set position %.1f%%", percent), func(ctx context.Context) error {
		return m.ctrl.SetPosition(ctx, h, percent)
	})
}

func (m *CubeModel) Step(h kpz.Handle, delta float64) tea.Cmd {
	return m.run(h, fmt.Sprintf("step %+.3f V", delta), func(ctx context.Context) error {
		return m.ctrl.Step(ctx, h, delta)
	})
}

func (m *CubeModel) Zero(h kpz.Handle) tea.Cmd {
	return m.run(h, "zero", func(ctx context.Context) error {
		return m.ctrl.Zero(ctx, h)
	})
}

// ToggleOutput switches the output to the opposite of the cached state
func (m *CubeModel) ToggleOutput(h kpz.Handle) tea.Cmd {
	st, err := m.ctrl.CachedStatus(h)
	on := err == nil && !st.OutputEnabled
	action := "output off"
	if on {
		action = "output on"
	}
	return m.run(h, action, func(ctx context.Context) error {
		return m.ctrl.EnableOutput(ctx, h, on)
	})
}

// ToggleUpdates starts or stops status pushes from h
func (m *CubeModel) ToggleUpdates(h kpz.Handle) tea.Cmd {
	m.mu.Lock()
	start := !m.pushing[h]
	m.pushing[h] = start
	m.mu.Unlock()

	action := "stop pushes"
	if start {
		action = "start pushes"
	}
	return m.run(h, action, func(ctx context.Context) error {
		var err error
		if start {
			err = m.ctrl.StartUpdates(ctx, h)
		} else {
			err = m.ctrl.StopUpdates(ctx, h)
		}
		if err != nil {
			m.mu.Lock()
			m.pushing[h] = !start
			m.mu.Unlock()
		}
		return err
	})
}

// StopAllUpdates is called on exit so cubes do not keep pushing
func (m *CubeModel) StopAllUpdates() {
	m.mu.RLock()
	var handles []kpz.Handle
	for h, on := range m.pushing {
		if on {
			handles = append(handles, h)
		}
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	for _, h := range handles {
		_ = m.ctrl.StopUpdates(ctx, h)
	}
}

// IsRejected reports whether err came from the cube refusing a command
func IsRejected(err error) bool {
	return errors.Is(err, kpz.ErrDeviceRejected)
}
