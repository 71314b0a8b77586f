/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	kpz "github.com/allbin/go-kpz"
	"github.com/allbin/go-kpz/serial"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <endpoint>",
	Short: "Display hardware information of a cube",
	Long: `Ask a cube for its identification block and display it together with
the USB metadata of the port it is attached to.

Examples:
  kpz info /dev/ttyUSB0
  kpz info sim:a`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		endpoint := args[0]

		withCube(endpoint, "getting hardware info", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
			info, err := c.HardwareInfo(ctx, h)
			if err != nil {
				return err
			}
			addr, err := c.Address(h)
			if err != nil {
				return err
			}

			fmt.Printf("Cube Information: %s\n\n", endpoint)
			fmt.Printf("  Model:        %s\n", info.Model)
			fmt.Printf("  Serial:       %d\n", info.SerialNumber)
			fmt.Printf("  Firmware:     %s\n", info.Firmware)
			fmt.Printf("  Hardware:     %d\n", info.HardwareVersion)
			fmt.Printf("  Type:         %d\n", info.Type)
			fmt.Printf("  Channels:     %d\n", info.Channels)
			fmt.Printf("  Node:         0x%02X\n", addr.Node)
			if info.Notes != "" {
				fmt.Printf("  Notes:        %s\n", info.Notes)
			}

			// USB Device Information
			port, err := serial.GetPortInfo(endpoint)
			if err != nil || port.VendorID == "" {
				return nil
			}
			fmt.Println("\nUSB Device Information:")
			fmt.Printf("  Vendor ID:    %s\n", port.VendorID)
			fmt.Printf("  Product ID:   %s\n", port.ProductID)
			if port.SerialNumber != "" {
				fmt.Printf("  Serial:       %s\n", port.SerialNumber)
			}
			if port.Product != "" {
				fmt.Printf("  Product:      %s\n", port.Product)
			}
			if len(port.Aliases) > 0 {
				fmt.Printf("  Links:        %s\n", strings.Join(port.Aliases, ", "))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
