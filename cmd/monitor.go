/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	kpz "github.com/allbin/go-kpz"
)

var (
	monitorChanges bool
	monitorIdle    time.Duration
)

type pushEvent struct {
	handle kpz.Handle
	status kpz.Status
}

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <endpoint>...",
	Short: "Print status pushes from cubes",
	Long: `Ask each cube to push its status periodically and print every push
until interrupted. Press Ctrl+C to stop; the cubes are told to stop pushing
on exit.

Examples:
  kpz monitor /dev/ttyUSB0
  kpz monitor /dev/ttyUSB0 /dev/ttyUSB1 --changes
  kpz monitor sim:a --idle 5s`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		events := make(chan pushEvent, 64)
		observer := func(h kpz.Handle, m kpz.Message) {
			if m.Status == nil {
				return
			}
			select {
			case events <- pushEvent{handle: h, status: *m.Status}:
			default:
			}
		}

		s, err := openSession(args, kpz.WithObserver(observer))
		if err != nil {
			fail("opening cubes", err)
		}
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()

		for _, h := range s.handles {
			if err := s.ctrl.StartUpdates(ctx, h); err != nil {
				s.Close()
				fail("starting updates on "+s.endpoints[h], err)
			}
		}
		defer stopUpdates(s)

		fmt.Printf("Monitoring %d cube(s)\n", len(s.handles))
		fmt.Println("Press Ctrl+C to stop")

		last := make(map[kpz.Handle]kpz.Status)
		for {
			var idle <-chan time.Time
			if monitorIdle > 0 {
				idle = time.After(monitorIdle)
			}

			select {
			case <-ctx.Done():
				fmt.Println("\nStopping monitor...")
				return
			case <-idle:
				fmt.Printf("[%s] Timeout - no status pushes\n", time.Now().Format("15:04:05"))
			case ev := <-events:
				prev, seen := last[ev.handle]
				last[ev.handle] = ev.status
				if monitorChanges && seen && !statusChanged(prev, ev.status) {
					continue
				}
				printPush(s.endpoints[ev.handle], ev.status)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().BoolVarP(&monitorChanges, "changes", "c", false, "Only print pushes that differ from the previous one")
	monitorCmd.Flags().DurationVar(&monitorIdle, "idle", 0, "Report when no push arrives for this long (0 = never)")
}

func stopUpdates(s *cubeSession) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, h := range s.handles {
		if err := s.ctrl.StopUpdates(ctx, h); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping updates on %s: %v\n", s.endpoints[h], err)
		}
	}
}

func statusChanged(a, b kpz.Status) bool {
	return a.Bits != b.Bits || a.Voltage != b.Voltage || a.Position != b.Position
}

func printPush(endpoint string, st kpz.Status) {
	fmt.Printf("[%s] %s output=%s %.3f V pos=%s loop=%s bits=0x%08X\n",
		st.UpdatedAt.Format("15:04:05.000"),
		endpoint,
		onOff(st.OutputEnabled),
		st.Voltage,
		positionText(st),
		loopName(st.ClosedLoop),
		st.Bits)
}
