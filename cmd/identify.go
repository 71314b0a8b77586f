/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	kpz "github.com/allbin/go-kpz"
)

// identifyCmd represents the identify command
var identifyCmd = &cobra.Command{
	Use:   "identify <endpoint>",
	Short: "Flash the front panel of a cube",
	Long: `Make a cube flash its front panel display so it can be found in a rack.

Example:
  kpz identify /dev/ttyUSB0`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withCube(args[0], "identifying", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
			if err := c.Identify(ctx, h); err != nil {
				return err
			}
			fmt.Printf("%s is flashing\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}
