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

// loopCmd represents the loop command
var loopCmd = &cobra.Command{
	Use:   "loop <endpoint> <open|closed>",
	Short: "Select open or closed loop operation",
	Long: `Select how the cube drives the actuator.

In open loop the output voltage is set directly. Closed loop needs a
strain gauge actuator and holds a position instead. --smooth ramps between
modes rather than switching at once. The PI constants of the position loop
may be set in the same call.

Examples:
  kpz loop /dev/ttyUSB0 closed
  kpz loop /dev/ttyUSB0 closed --smooth --p 100 --i 50
  kpz loop /dev/ttyUSB0 open`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"open", "closed"},
	Run: func(cmd *cobra.Command, args []string) {
		smooth, _ := cmd.Flags().GetBool("smooth")
		mode, err := parseControlMode(args[1], smooth)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		setPI := cmd.Flags().Changed("p") || cmd.Flags().Changed("i")
		p, _ := cmd.Flags().GetInt("p")
		i, _ := cmd.Flags().GetInt("i")

		withCube(args[0], "setting control mode", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
			if setPI {
				if err := c.SetPIConstants(ctx, h, p, i); err != nil {
					return err
				}
			}
			if err := c.SetControlMode(ctx, h, mode); err != nil {
				return err
			}
			fmt.Printf("Control mode %s\n", mode)
			return nil
		})
	},
}

// inputCmd represents the input command
var inputCmd = &cobra.Command{
	Use:   "input <endpoint> <source>[,<source>]",
	Short: "Select the analog inputs summed into the output",
	Long: `Select which inputs drive the HV output besides software commands.

Sources: software, external (rear panel SMA), pot (front panel wheel).
Software control is always active; external and pot may be combined.

Examples:
  kpz input /dev/ttyUSB0 software
  kpz input /dev/ttyUSB0 external,pot`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		src, err := parseInputSource(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		withCube(args[0], "setting input source", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
			if err := c.SetInputSource(ctx, h, src); err != nil {
				return err
			}
			fmt.Printf("Input source set to %s\n", args[1])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(loopCmd)
	rootCmd.AddCommand(inputCmd)

	loopCmd.Flags().Bool("smooth", false, "Ramp smoothly into the new mode")
	loopCmd.Flags().Int("p", 100, "Proportional constant (0-255)")
	loopCmd.Flags().Int("i", 50, "Integral constant (0-255)")
}

func parseControlMode(name string, smooth bool) (kpz.ControlMode, error) {
	switch strings.ToLower(name) {
	case "open":
		if smooth {
			return kpz.OpenLoopSmooth, nil
		}
		return kpz.OpenLoop, nil
	case "closed":
		if smooth {
			return kpz.ClosedLoopSmooth, nil
		}
		return kpz.ClosedLoop, nil
	default:
		return 0, fmt.Errorf("invalid control mode %q (use open or closed)", name)
	}
}

func parseInputSource(list string) (kpz.InputSource, error) {
	src := kpz.InputSoftware
	for _, name := range strings.Split(list, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "software", "sw":
		case "external", "ext", "sma":
			src |= kpz.InputExternal
		case "pot", "potentiometer":
			src |= kpz.InputPotentiometer
		default:
			return 0, fmt.Errorf("invalid input source %q (use software, external or pot)", name)
		}
	}
	return src, nil
}
