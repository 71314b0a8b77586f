/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/allbin/go-kpz/serial"
)

// portsCmd represents the ports command
var portsCmd = &cobra.Command{
	Use:     "ports",
	Aliases: []string{"list"},
	Short:   "List serial ports a cube may be attached to",
	Long: `List the serial ports on the system.

K-Cubes show up as USB serial adapters (ttyUSB*). With --table the USB
serial number is shown; it matches the number printed on the cube. The
/dev/serial/by-id link makes a stable endpoint name across reboots.

Examples:
  kpz ports
  kpz ports --filter usb --table`,
	Run: func(cmd *cobra.Command, args []string) {
		ports, err := serial.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
			os.Exit(1)
		}

		filterType, _ := cmd.Flags().GetString("filter")
		tableFormat, _ := cmd.Flags().GetBool("table")

		infos := filterPorts(portInfos(ports), filterType)
		if len(infos) == 0 {
			if filterType != "" {
				fmt.Printf("No serial ports found matching filter: %s\n", filterType)
			} else {
				fmt.Println("No serial ports found")
			}
			return
		}

		if tableFormat {
			renderPortTable(infos)
		} else {
			for _, info := range infos {
				fmt.Println(info.Path)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)

	portsCmd.Flags().StringP("filter", "f", "", "Filter by port type: usb, standard, arm, all")
	portsCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
}

func portInfos(ports []string) []*serial.PortInfo {
	infos := make([]*serial.PortInfo, 0, len(ports))
	for _, port := range ports {
		info, err := serial.GetPortInfo(port)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

// filterPorts filters the port list based on the specified filter type
func filterPorts(infos []*serial.PortInfo, filterType string) []*serial.PortInfo {
	if filterType == "" || filterType == "all" {
		return infos
	}

	var filtered []*serial.PortInfo
	for _, info := range infos {
		name := strings.ToLower(info.Name)
		keep := false
		switch strings.ToLower(filterType) {
		case "usb":
			keep = strings.HasPrefix(name, "ttyusb") || strings.HasPrefix(name, "ttyacm") || info.HasUSBInfo()
		case "standard":
			keep = strings.HasPrefix(name, "ttys")
		case "arm":
			keep = strings.HasPrefix(name, "ttyama")
		}
		if keep {
			filtered = append(filtered, info)
		}
	}
	return filtered
}

// renderPortTable renders the port list in a styled static table format
func renderPortTable(infos []*serial.PortInfo) {
	fmt.Printf("Found %d serial port(s):\n\n", len(infos))

	portWidth := 15
	typeWidth := 16
	idWidth := 10
	serialWidth := 12
	descWidth := 30

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("240")).
		PaddingBottom(1)
	cellStyle := lipgloss.NewStyle().
		PaddingRight(2)
	usbStyle := cellStyle.
		Foreground(lipgloss.Color("42"))
	aliasStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("243")).
		Faint(true).
		PaddingLeft(2)

	header := fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s",
		portWidth, "Port",
		typeWidth, "Type",
		idWidth, "USB ID",
		serialWidth, "Serial",
		descWidth, "Description")
	fmt.Println(headerStyle.Render(header))

	for _, info := range infos {
		desc := info.Description
		if info.Product != "" {
			desc = info.Product
		}
		row := fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s",
			portWidth, info.Name,
			typeWidth, getPortType(info),
			idWidth, info.USBID(),
			serialWidth, info.SerialNumber,
			descWidth, desc)

		style := cellStyle
		if info.SerialNumber != "" {
			style = usbStyle
		}
		fmt.Println(style.Render(row))
		for _, alias := range info.Aliases {
			fmt.Println(aliasStyle.Render("↳ " + alias))
		}
	}
}

// getPortType returns a more specific type classification for the port
func getPortType(info *serial.PortInfo) string {
	name := strings.ToLower(info.Name)
	switch {
	case strings.HasPrefix(name, "ttyusb"):
		return "USB Serial"
	case strings.HasPrefix(name, "ttyacm"):
		return "USB CDC/ACM"
	case strings.HasPrefix(name, "ttyama"):
		return "ARM Serial"
	case strings.HasPrefix(name, "ttys"):
		return "Standard Serial"
	default:
		return "Serial Port"
	}
}
