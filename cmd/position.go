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

// positionCmd represents the position command
var positionCmd = &cobra.Command{
	Use:   "position <endpoint> <percent>",
	Short: "Set the closed loop position",
	Long: `Set the actuator position as a percentage of its travel.

Only meaningful in closed loop mode with a strain gauge actuator
connected; see 'kpz loop'.

Examples:
  kpz position /dev/ttyUSB0 50
  kpz position /dev/ttyUSB0 12.5%`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		percent, err := strconv.ParseFloat(strings.TrimSuffix(args[1], "%"), 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing position: %v\n", err)
			os.Exit(1)
		}

		withCube(args[0], "setting position", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
			if err := c.SetPosition(ctx, h, percent); err != nil {
				return err
			}
			fmt.Printf("Position set to %.1f%%\n", percent)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(positionCmd)
}
