/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	kpz "github.com/allbin/go-kpz"
)

// outputCmd represents the output command
var outputCmd = &cobra.Command{
	Use:   "output <endpoint> <on|off>",
	Short: "Enable or disable the HV output",
	Long: `Switch the cube's high voltage output on or off.

The cube does not acknowledge the switch; the status is queried afterwards
and the observed state printed.

Examples:
  kpz output /dev/ttyUSB0 on
  kpz output /dev/ttyUSB0 off`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	Run: func(cmd *cobra.Command, args []string) {
		var on bool
		switch strings.ToLower(args[1]) {
		case "on", "1", "true", "enable":
			on = true
		case "off", "0", "false", "disable":
			on = false
		default:
			fmt.Fprintf(os.Stderr, "Error: invalid state %q (use on or off)\n", args[1])
			os.Exit(1)
		}

		withCube(args[0], "switching output", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
			if err := c.EnableOutput(ctx, h, on); err != nil {
				return err
			}
			st, err := c.QueryStatus(ctx, h)
			if err != nil {
				return err
			}
			fmt.Printf("Output %s\n", onOff(st.OutputEnabled))
			if st.OutputEnabled != on {
				return fmt.Errorf("cube reports output %s", onOff(st.OutputEnabled))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(outputCmd)
}
