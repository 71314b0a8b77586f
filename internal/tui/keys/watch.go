package keys

import "github.com/charmbracelet/bubbles/key"

// WatchKeys are the bindings of the cube dashboard
type WatchKeys struct {
	CommonKeys
	Up           key.Binding
	Down         key.Binding
	StepUp       key.Binding
	StepDown     key.Binding
	ToggleOutput key.Binding
	Zero         key.Binding
	Refresh      key.Binding
	Updates      key.Binding
	LogPushes    key.Binding
	ClearLog     key.Binding
	Enter        key.Binding
	ToggleEntry  key.Binding
	HistoryUp    key.Binding
	HistoryDown  key.Binding
}

func NewWatchKeys() WatchKeys {
	return WatchKeys{
		CommonKeys: NewCommonKeys(),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "previous cube"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "next cube"),
		),
		StepUp: key.NewBinding(
			key.WithKeys("+", "=", "right", "l"),
			key.WithHelp("+/→", "step up"),
		),
		StepDown: key.NewBinding(
			key.WithKeys("-", "left", "h"),
			key.WithHelp("-/←", "step down"),
		),
		ToggleOutput: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "toggle output"),
		),
		Zero: key.NewBinding(
			key.WithKeys("z"),
			key.WithHelp("z", "zero volts"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Updates: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "toggle pushes"),
		),
		LogPushes: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "show/hide pushes in log"),
		),
		ClearLog: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear log"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "apply value"),
		),
		ToggleEntry: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "volts/position"),
		),
		HistoryUp: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("↑", "previous value"),
		),
		HistoryDown: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("↓", "next value"),
		),
	}
}

func (k WatchKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.InsertMode, k.StepUp, k.StepDown, k.ToggleOutput, k.Quit}
}

func (k WatchKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Refresh, k.Updates},
		{k.StepUp, k.StepDown, k.Zero, k.ToggleOutput},
		{k.InsertMode, k.ToggleEntry, k.Enter, k.Escape},
		{k.LogPushes, k.ClearLog, k.Help, k.Quit},
	}
}
