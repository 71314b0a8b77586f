/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	kpz "github.com/allbin/go-kpz"
)

// voltageCmd represents the voltage command
var voltageCmd = &cobra.Command{
	Use:   "voltage <endpoint> <volts>",
	Short: "Set the output voltage",
	Long: `Set the HV output voltage of a cube.

The value must lie between 0 and the cube's voltage limit (75 V unless
changed with 'kpz limit'). The cube reads the new value back before the
command returns. The output must be enabled for the voltage to appear on
the connector.

Examples:
  kpz voltage /dev/ttyUSB0 12.5
  kpz voltage sim:a 0`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		volts, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing voltage: %v\n", err)
			os.Exit(1)
		}
		limit, _ := cmd.Flags().GetFloat64("limit")

		withCube(args[0], "setting voltage", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
			if limit != 0 {
				if err := c.SetMaxVoltage(ctx, h, limit); err != nil {
					return err
				}
			}
			if err := c.SetVoltage(ctx, h, volts); err != nil {
				return err
			}
			fmt.Printf("Output set to %.3f V\n", volts)
			return nil
		})
	},
}

// stepCmd represents the step command
var stepCmd = &cobra.Command{
	Use:   "step <endpoint> <delta>",
	Short: "Move the output voltage by a relative amount",
	Long: `Add delta volts to the cube's present output voltage.

The present voltage is read from the cube first. A step that would leave
the 0 V to limit range is refused without sending anything.

Examples:
  kpz step /dev/ttyUSB0 0.5
  kpz step /dev/ttyUSB0 -- -2`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		delta, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing step: %v\n", err)
			os.Exit(1)
		}

		withCube(args[0], "stepping voltage", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
			if _, err := c.QueryStatus(ctx, h); err != nil {
				return err
			}
			if err := c.Step(ctx, h, delta); err != nil {
				return err
			}
			st, err := c.CachedStatus(h)
			if err != nil {
				return err
			}
			fmt.Printf("Output at %.3f V\n", st.Voltage)
			return nil
		})
	},
}

// zeroCmd represents the zero command
var zeroCmd = &cobra.Command{
	Use:   "zero <endpoint>",
	Short: "Drive the output to 0 V",
	Long: `Drive the output voltage to 0 V.

With --position the present position becomes the closed loop datum instead.
This needs a strain gauge actuator and takes the cube a few seconds.

Examples:
  kpz zero /dev/ttyUSB0
  kpz zero /dev/ttyUSB0 --position`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		position, _ := cmd.Flags().GetBool("position")

		withCube(args[0], "zeroing", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
			if position {
				if err := c.ZeroPosition(ctx, h); err != nil {
					return err
				}
				fmt.Println("Position zeroing started")
				return nil
			}
			if err := c.Zero(ctx, h); err != nil {
				return err
			}
			fmt.Println("Output at 0 V")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(voltageCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(zeroCmd)

	voltageCmd.Flags().Float64("limit", 0, "Select the voltage limit first (75, 100 or 150)")
	zeroCmd.Flags().Bool("position", false, "Zero the closed loop position instead of the voltage")
}
