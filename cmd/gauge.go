/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	kpz "github.com/allbin/go-kpz"
)

// gaugeCmd represents the gauge command
var gaugeCmd = &cobra.Command{
	Use:   "gauge <endpoint>",
	Short: "Read the strain gauge of a KSG101 cube",
	Long: `Read the strain gauge input of a KSG101 strain gauge reader. The reading
is shown raw, smoothed by the cube, and as a percentage of full scale.

Only profiles that know the reading command support this, so select one
with --profile.

Examples:
  kpz gauge /dev/ttyUSB0 --profile ksg101
  kpz gauge sim:a --profile ksg101 --count 10 --interval 200ms`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		count, _ := cmd.Flags().GetInt("count")
		interval, _ := cmd.Flags().GetDuration("interval")

		withCube(args[0], "reading strain gauge", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
			for i := 0; i < count; i++ {
				if i > 0 {
					time.Sleep(interval)
				}
				r, err := c.StrainGaugeReading(ctx, h)
				if err != nil {
					return err
				}
				fmt.Println(formatGauge(r))
			}
			return nil
		})
	},
}

func formatGauge(r kpz.StrainGaugeReading) string {
	return fmt.Sprintf("ch%d  raw %6d  smoothed %6d  %7.2f%%", r.Channel, r.Raw, r.Smoothed, r.Percent)
}

func init() {
	rootCmd.AddCommand(gaugeCmd)

	gaugeCmd.Flags().Int("count", 1, "Number of readings to take")
	gaugeCmd.Flags().Duration("interval", 500*time.Millisecond, "Pause between readings")
}
