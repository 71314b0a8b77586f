/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	kpz "github.com/allbin/go-kpz"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <endpoint>...",
	Short: "Query the status of one or more cubes",
	Long: `Query output state, voltage and position of each cube.

All cubes are queried concurrently. A cube that does not answer is reported
and the command exits non-zero after printing the others.

Examples:
  kpz status /dev/ttyUSB0
  kpz status /dev/serial/by-id/usb-Thorlabs_* --table`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tableFormat, _ := cmd.Flags().GetBool("table")

		s, err := openSession(args)
		if err != nil {
			fail("opening cubes", err)
		}

		ctx, cancel := commandContext()
		statuses, queryErr := s.ctrl.QueryAll(ctx)
		cancel()
		s.Close()

		rows := make([]statusRow, 0, len(statuses))
		for h, st := range statuses {
			rows = append(rows, statusRow{endpoint: s.endpoints[h], status: st})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].endpoint < rows[j].endpoint })

		if tableFormat {
			renderStatusTable(rows)
		} else {
			for _, r := range rows {
				renderStatus(r)
			}
		}

		if queryErr != nil {
			fail("querying status", queryErr)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
}

type statusRow struct {
	endpoint string
	status   kpz.Status
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func loopName(closed bool) string {
	if closed {
		return "closed"
	}
	return "open"
}

func positionText(st kpz.Status) string {
	if !st.HasPosition {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", st.Position)
}

func renderStatus(r statusRow) {
	st := r.status
	fmt.Printf("Cube: %s\n\n", r.endpoint)
	fmt.Printf("  Output:      %s\n", onOff(st.OutputEnabled))
	fmt.Printf("  Voltage:     %.3f V (limit %.0f V)\n", st.Voltage, st.MaxVoltage)
	fmt.Printf("  Position:    %s\n", positionText(st))
	fmt.Printf("  Loop:        %s\n", loopName(st.ClosedLoop))
	fmt.Printf("  Actuator:    %s\n", onOff(st.ActuatorConnected))
	fmt.Printf("  Status bits: 0x%08X\n", st.Bits)
	if st.ErrorCode != 0 {
		fmt.Printf("  Last error:  %d\n", st.ErrorCode)
	}
	fmt.Println()
}

// renderStatusTable renders one line per cube
func renderStatusTable(rows []statusRow) {
	endpointWidth := 24
	outputWidth := 7
	voltWidth := 18
	posWidth := 10
	loopWidth := 8

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("240")).
		PaddingBottom(1)
	cellStyle := lipgloss.NewStyle().
		PaddingRight(2)
	onStyle := cellStyle.
		Foreground(lipgloss.Color("42"))

	header := fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s",
		endpointWidth, "Endpoint",
		outputWidth, "Output",
		voltWidth, "Voltage",
		posWidth, "Position",
		loopWidth, "Loop")
	fmt.Println(headerStyle.Render(header))

	for _, r := range rows {
		st := r.status
		row := fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s",
			endpointWidth, r.endpoint,
			outputWidth, onOff(st.OutputEnabled),
			voltWidth, fmt.Sprintf("%.3f / %.0f V", st.Voltage, st.MaxVoltage),
			posWidth, positionText(st),
			loopWidth, loopName(st.ClosedLoop))
		style := cellStyle
		if st.OutputEnabled {
			style = onStyle
		}
		fmt.Println(style.Render(row))
	}
}
