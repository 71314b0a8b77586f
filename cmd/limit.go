/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	kpz "github.com/allbin/go-kpz"
)

// limitCmd represents the limit command
var limitCmd = &cobra.Command{
	Use:   "limit <endpoint> <volts>",
	Short: "Select the output voltage limit",
	Long: `Select the maximum output voltage of a cube.

The KPZ101 supports 75, 100 and 150 V. The limit also sets the scale of
every voltage sent afterwards. --feedback picks where the strain gauge
signal enters in closed loop operation.

Examples:
  kpz limit /dev/ttyUSB0 150
  kpz limit /dev/ttyUSB0 100 --feedback hub-a`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		limit, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing limit: %v\n", err)
			os.Exit(1)
		}
		fbName, _ := cmd.Flags().GetString("feedback")
		fb, err := parseFeedback(fbName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		withCube(args[0], "setting limit", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
			if err := c.SetIOSettings(ctx, h, limit, fb); err != nil {
				return err
			}
			fmt.Printf("Voltage limit %.0f V, feedback %s\n", limit, fbName)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(limitCmd)

	limitCmd.Flags().String("feedback", "sma", "Feedback source: sma, hub-a, hub-b")
}

func parseFeedback(name string) (kpz.FeedbackSource, error) {
	switch strings.ToLower(name) {
	case "sma", "ext", "":
		return kpz.FeedbackExtSMA, nil
	case "hub-a", "a":
		return kpz.FeedbackHubA, nil
	case "hub-b", "b":
		return kpz.FeedbackHubB, nil
	default:
		return 0, fmt.Errorf("invalid feedback source %q (use sma, hub-a or hub-b)", name)
	}
}
