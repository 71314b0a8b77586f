/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	kpz "github.com/allbin/go-kpz"
	"github.com/allbin/go-kpz/internal/simulator"
	"github.com/allbin/go-kpz/serial"
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset <endpoint|--serial number>",
	Short: "Reset the USB bridge of a hung cube",
	Long: `Perform a USB-level reset on a cube that stopped answering, without
unplugging it or cycling its power.

The cube is named by its port, by a /dev/serial/by-id link, or by the
serial number printed on it. After the reset the cube re-enumerates and
may come back on another port; kpz follows it by USB serial number and
prints where it reappeared together with its by-id links. With --verify
the cube is then asked for its hardware info.

Requirements:
- usbreset utility must be installed (from usbutils package)
- Root/sudo permissions required for USB operations

Examples:
  sudo kpz reset /dev/ttyUSB0
  sudo kpz reset /dev/serial/by-id/usb-Thorlabs_Kinesis_K-Cube_29250001-if00-port0
  sudo kpz reset --serial 29250001 --verify`,
	Args: func(cmd *cobra.Command, args []string) error {
		serialFlag, _ := cmd.Flags().GetString("serial")
		if serialFlag == "" && len(args) != 1 {
			return errors.New("requires either an endpoint argument or --serial flag")
		}
		if serialFlag != "" && len(args) > 0 {
			return errors.New("cannot specify both endpoint and --serial flag")
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		serialFlag, _ := cmd.Flags().GetString("serial")
		wait, _ := cmd.Flags().GetDuration("wait")
		verify, _ := cmd.Flags().GetBool("verify")

		endpoint := ""
		if len(args) > 0 {
			endpoint = args[0]
		}
		target, err := resolveResetTarget(endpoint, serialFlag, serial.FindBySerial, serial.GetPortInfo)
		if err != nil {
			fail("finding cube", err)
		}

		if !serial.IsUSBResetAvailable() {
			fmt.Fprintln(os.Stderr, "Error: usbreset utility not available")
			fmt.Fprintln(os.Stderr, "Install with: sudo apt-get install usbutils")
			os.Exit(1)
		}

		fmt.Printf("Resetting cube %s\n", target)
		if err := serial.ResetUSBDevice(target.Path); err != nil {
			if errors.Is(err, serial.ErrUSBInfoNotAvailable) {
				fmt.Fprintln(os.Stderr, "This port does not appear to be a USB device")
			}
			fail("resetting "+target.Path, err)
		}
		fmt.Println("USB reset done")

		if target.Serial == "" {
			fmt.Println("The cube reports no USB serial number, so it cannot be followed.")
			fmt.Println("\nUse 'kpz ports --filter usb --table' to find it again")
			return
		}

		path, err := relocate(target.Serial, wait, 250*time.Millisecond, serial.FindBySerial)
		if err != nil {
			fail("waiting for cube "+target.Serial, err)
		}
		fmt.Printf("Cube %s is back on %s", target.Serial, path)
		if path != target.Path {
			fmt.Printf(" (was %s)", target.Path)
		}
		fmt.Println()
		if info, err := serial.GetPortInfo(path); err == nil && len(info.Aliases) > 0 {
			fmt.Printf("  Links: %s\n", strings.Join(info.Aliases, ", "))
		}

		if verify {
			withCube(path, "verifying cube", func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error {
				info, err := c.HardwareInfo(ctx, h)
				if err != nil {
					return err
				}
				fmt.Printf("  Answers as %s serial %d, firmware %s\n", info.Model, info.SerialNumber, info.Firmware)
				return nil
			})
		}
	},
}

// resetTarget is the cube a reset applies to.
type resetTarget struct {
	Named   string // what the user typed
	Path    string // tty device node
	Serial  string // USB serial number, empty when the bridge has none
	Aliases []string
}

func (t resetTarget) String() string {
	var b strings.Builder
	if t.Serial != "" {
		fmt.Fprintf(&b, "%s on ", t.Serial)
	}
	b.WriteString(t.Path)
	if t.Named != "" && t.Named != t.Path {
		fmt.Fprintf(&b, " (via %s)", t.Named)
	}
	return b.String()
}

// resolveResetTarget finds the tty behind endpoint, or behind the cube with
// USB serial usbSerial, and reads its USB identity before the reset.
func resolveResetTarget(endpoint, usbSerial string, find func(string) (string, error), portInfo func(string) (*serial.PortInfo, error)) (resetTarget, error) {
	if strings.HasPrefix(endpoint, simulator.Prefix) {
		return resetTarget{}, fmt.Errorf("%s is a simulated cube and has no USB bridge", endpoint)
	}

	t := resetTarget{Named: endpoint}
	if usbSerial != "" {
		path, err := find(usbSerial)
		if err != nil {
			return resetTarget{}, err
		}
		t.Path = path
	} else if resolved, err := filepath.EvalSymlinks(endpoint); err == nil {
		t.Path = resolved
	} else {
		t.Path = endpoint
	}

	info, err := portInfo(t.Path)
	if err != nil {
		return resetTarget{}, err
	}
	t.Serial = info.SerialNumber
	t.Aliases = info.Aliases
	return t, nil
}

// relocate polls for the port of the cube with USB serial usbSerial until it
// reappears or wait runs out.
func relocate(usbSerial string, wait, every time.Duration, find func(string) (string, error)) (string, error) {
	deadline := time.Now().Add(wait)
	for {
		path, err := find(usbSerial)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, serial.ErrDeviceNotFound) || time.Now().After(deadline) {
			return "", err
		}
		time.Sleep(every)
	}
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringP("serial", "s", "", "Reset cube by USB serial number")
	resetCmd.Flags().Duration("wait", 10*time.Second, "How long to wait for the cube to re-enumerate")
	resetCmd.Flags().Bool("verify", false, "Read hardware info from the cube after the reset")
}
