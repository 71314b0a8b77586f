/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/allbin/go-kpz/internal/link"
	"github.com/allbin/go-kpz/internal/profile"
	"github.com/allbin/go-kpz/internal/trace"
)

// traceCmd groups the frame trace subcommands
var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect frame traces",
	Long: `Every command accepts --trace <file> to append the frames it sends and
receives to a CBOR trace file. The trace subcommands read such files back.`,
}

// traceDumpCmd represents the trace dump command
var traceDumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Print the frames recorded in a trace file",
	Long: `Print the frames recorded in a trace file, one per line, with the
command name resolved from the active profile.

Examples:
  kpz trace dump session.cbor
  kpz trace dump session.cbor --endpoint /dev/ttyUSB0 --dir rx
  kpz trace dump session.cbor --id 0x0661`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		dirName, _ := cmd.Flags().GetString("dir")
		idText, _ := cmd.Flags().GetString("id")

		filter := trace.Filter{Endpoint: endpoint}
		dir, err := parseDirection(dirName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Direction = dir
		if idText != "" {
			id, err := strconv.ParseUint(idText, 0, 16)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing id: %v\n", err)
				os.Exit(1)
			}
			filter.ID = uint16(id)
		}

		// Names are a convenience; an unknown profile only loses them.
		prof, _ := loadProfile()

		r, err := trace.Open(args[0], filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening trace: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		count := 0
		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading trace: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(formatRecord(rec, prof))
			count++
		}
		fmt.Fprintf(os.Stderr, "%d frame(s)\n", count)
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.AddCommand(traceDumpCmd)

	traceDumpCmd.Flags().String("endpoint", "", "Only frames of this endpoint")
	traceDumpCmd.Flags().String("dir", "", "Only this direction: tx, rx, drop")
	traceDumpCmd.Flags().String("id", "", "Only this message id, e.g. 0x0661")
}

func parseDirection(name string) (link.Direction, error) {
	switch strings.ToLower(name) {
	case "":
		return 0, nil
	case "tx", "sent":
		return link.DirSent, nil
	case "rx", "received":
		return link.DirReceived, nil
	case "drop", "dropped":
		return link.DirDropped, nil
	default:
		return 0, fmt.Errorf("invalid direction %q (use tx, rx or drop)", name)
	}
}

var (
	txStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	rxStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dropStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	nameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

func formatRecord(rec trace.Record, prof *profile.Profile) string {
	line := rec.String()
	switch rec.Direction {
	case link.DirSent:
		line = txStyle.Render(line)
	case link.DirReceived:
		line = rxStyle.Render(line)
	case link.DirDropped:
		return dropStyle.Render(line)
	}
	if prof != nil {
		if c, ok := prof.CommandByID(rec.ID); ok {
			line += " " + nameStyle.Render(c.Name)
		}
	}
	return line
}
