package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/evertras/bubble-table/table"

	kpz "github.com/allbin/go-kpz"
	"github.com/allbin/go-kpz/internal/tui/styles"
)

const (
	columnKeyEndpoint = "endpoint"
	columnKeyState    = "state"
	columnKeyVoltage  = "voltage"
	columnKeyGauge    = "gauge"
	columnKeyPosition = "position"
	columnKeyLoop     = "loop"
	columnKeyAge      = "age"
	columnKeyError    = "error"

	gaugeWidth = 20
)

// CubeRow is what the dashboard knows about one cube
type CubeRow struct {
	Handle   kpz.Handle
	Endpoint string
	Status   kpz.Status
	Err      error // last failed command or query
	Pushing  bool  // status pushes enabled
}

// State summarises the row for styling
func (r CubeRow) State() styles.CubeState {
	switch {
	case r.Err != nil || r.Status.ErrorCode != 0:
		return styles.CubeFault
	case !r.Status.Valid:
		return styles.CubeStale
	case r.Status.OutputEnabled:
		return styles.CubeOn
	default:
		return styles.CubeOff
	}
}

// CubeTable shows one line per cube with a voltage gauge
type CubeTable struct {
	table    table.Model
	rows     []CubeRow
	selected int
	width    int
	now      func() time.Time
}

func NewCubeTable(width, height int) *CubeTable {
	columns := []table.Column{
		table.NewFlexColumn(columnKeyEndpoint, "Cube", 3),
		table.NewColumn(columnKeyState, "Out", 6),
		table.NewColumn(columnKeyVoltage, "Voltage", 16),
		table.NewColumn(columnKeyGauge, "", gaugeWidth+2),
		table.NewColumn(columnKeyPosition, "Pos", 8),
		table.NewColumn(columnKeyLoop, "Loop", 7),
		table.NewColumn(columnKeyAge, "Age", 7),
		table.NewFlexColumn(columnKeyError, "Last error", 2),
	}

	ct := &CubeTable{now: time.Now}
	ct.table = table.New(columns).
		Focused(true).
		BorderRounded().
		WithBaseStyle(styles.TableBaseStyle).
		HeaderStyle(styles.TableHeaderStyle).
		HighlightStyle(styles.TableHighlightStyle).
		WithFooterVisibility(false)
	ct.SetSize(width, height)
	return ct
}

func (ct *CubeTable) SetSize(width, height int) {
	if width < 80 {
		width = 80
	}
	if height < 5 {
		height = 5
	}
	ct.width = width
	// header and borders take four lines
	ct.table = ct.table.
		WithTargetWidth(width).
		WithPageSize(height - 4)
}

// SetRows replaces the table content, keeping the selection in range
func (ct *CubeTable) SetRows(rows []CubeRow) {
	ct.rows = rows
	if ct.selected >= len(rows) {
		ct.selected = len(rows) - 1
	}
	if ct.selected < 0 {
		ct.selected = 0
	}
	ct.refresh()
}

func (ct *CubeTable) Rows() []CubeRow {
	return ct.rows
}

// Selected returns the highlighted cube
func (ct *CubeTable) Selected() (CubeRow, bool) {
	if len(ct.rows) == 0 {
		return CubeRow{}, false
	}
	return ct.rows[ct.selected], true
}

func (ct *CubeTable) MoveUp() {
	if ct.selected > 0 {
		ct.selected--
		ct.refresh()
	}
}

func (ct *CubeTable) MoveDown() {
	if ct.selected < len(ct.rows)-1 {
		ct.selected++
		ct.refresh()
	}
}

func (ct *CubeTable) refresh() {
	rows := make([]table.Row, 0, len(ct.rows))
	for _, r := range ct.rows {
		rows = append(rows, ct.formatRow(r))
	}
	ct.table = ct.table.WithRows(rows).WithHighlightedRow(ct.selected)
}

func (ct *CubeTable) formatRow(r CubeRow) table.Row {
	st := r.Status
	state := r.State()
	stateStyle := styles.GetStateStyle(state)

	voltage := "-"
	gauge := ""
	if st.Valid {
		voltage = fmt.Sprintf("%7.3f / %3.0f V", st.Voltage, st.MaxVoltage)
		gauge = Gauge(st.Voltage, st.MaxVoltage, gaugeWidth)
	}

	position := "-"
	if st.Valid && st.HasPosition {
		position = fmt.Sprintf("%5.1f%%", st.Position)
	}

	loop := ""
	if st.Valid {
		loop = "open"
		if st.ClosedLoop {
			loop = "closed"
		}
	}

	endpoint := r.Endpoint
	if r.Pushing {
		endpoint += " ⟳"
	}

	return table.NewRow(table.RowData{
		columnKeyEndpoint: endpoint,
		columnKeyState:    table.NewStyledCell(state.String(), stateStyle),
		columnKeyVoltage:  voltage,
		columnKeyGauge:    table.NewStyledCell(gauge, stateStyle),
		columnKeyPosition: position,
		columnKeyLoop:     loop,
		columnKeyAge:      ct.age(st.UpdatedAt),
		columnKeyError:    table.NewStyledCell(errorText(r), styles.ErrorStyle),
	})
}

func (ct *CubeTable) age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := ct.now().Sub(t)
	if d < time.Second {
		return "now"
	}
	return d.Truncate(time.Second).String()
}

func errorText(r CubeRow) string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.Status.ErrorCode != 0 {
		return fmt.Sprintf("cube code %d", r.Status.ErrorCode)
	}
	return ""
}

// Gauge draws value as a bar of width cells on a 0..limit scale
func Gauge(value, limit float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := 0
	if limit > 0 {
		filled = int(value/limit*float64(width) + 0.5)
	}
	filled = max(0, min(width, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func (ct *CubeTable) View() string {
	if len(ct.rows) == 0 {
		return styles.InfoStyle.Width(ct.width).Render("No cubes")
	}
	return ct.table.View()
}
