/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	kpz "github.com/allbin/go-kpz"
	"github.com/allbin/go-kpz/internal/logging"
	"github.com/allbin/go-kpz/internal/profile"
	"github.com/allbin/go-kpz/internal/simulator"
	"github.com/allbin/go-kpz/internal/trace"
	"github.com/allbin/go-kpz/serial"
	"github.com/allbin/go-kpz/transport"
)

var envKeyReplacer = strings.NewReplacer("-", "_")

// cubeSession is a controller with the cubes named on the command line open.
type cubeSession struct {
	ctrl      *kpz.Controller
	handles   []kpz.Handle
	endpoints map[kpz.Handle]string
	rec       *trace.Recorder
	log       zerolog.Logger
}

func newLogger() zerolog.Logger {
	cfg := logging.DefaultConfig()
	if lvl, ok := logging.ParseLevel(viper.GetString("log-level")); ok {
		cfg.Level = lvl
	}
	return logging.New("kpz", cfg)
}

// loadProfile resolves --profile against the built-in table or --profile-file.
func loadProfile() (*profile.Profile, error) {
	name := viper.GetString("profile")
	if path := viper.GetString("profile-file"); path != "" {
		tbl, err := profile.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return tbl.Lookup(name)
	}
	return profile.Default(name)
}

// endpointOpener sends sim: endpoints to the simulator and everything else
// to the serial port layer.
func endpointOpener(prof *profile.Profile) transport.Opener {
	var opts []serial.Option
	if baud := viper.GetInt("baud"); baud != 0 {
		opts = append(opts, serial.WithBaudRate(baud))
	}
	ser := serial.NewOpener(opts...)
	sim := simulator.Opener{Profile: prof}

	return transport.OpenerFunc(func(endpoint string) (transport.Transport, error) {
		if strings.HasPrefix(endpoint, simulator.Prefix) {
			return sim.Open(endpoint)
		}
		return ser.Open(endpoint)
	})
}

// openSession builds a controller from the global flags and opens every
// endpoint. extra options are applied last.
func openSession(endpoints []string, extra ...kpz.Option) (*cubeSession, error) {
	log := newLogger()

	prof, err := loadProfile()
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	opts := []kpz.Option{
		kpz.WithProfile(viper.GetString("profile")),
		kpz.WithProfileFile(viper.GetString("profile-file")),
		kpz.WithTimeout(viper.GetDuration("timeout")),
		kpz.WithRetries(viper.GetInt("retries")),
		kpz.WithLogger(log),
		kpz.WithOpener(endpointOpener(prof)),
	}

	s := &cubeSession{endpoints: make(map[kpz.Handle]string), log: log}
	if path := viper.GetString("trace"); path != "" {
		rec, err := trace.Create(path)
		if err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
		s.rec = rec
		opts = append(opts, kpz.WithTracer(rec))
	}

	ctrl, err := kpz.New(append(opts, extra...)...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.ctrl = ctrl

	node := byte(viper.GetUint("node"))
	for _, endpoint := range endpoints {
		h, err := ctrl.Open(endpoint, node)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.handles = append(s.handles, h)
		s.endpoints[h] = endpoint
	}
	return s, nil
}

// Close closes the cubes and the trace file.
func (s *cubeSession) Close() {
	if s.ctrl != nil {
		if err := s.ctrl.CloseAll(); err != nil {
			s.log.Warn().Err(err).Msg("close cubes")
		}
	}
	if s.rec != nil {
		_ = s.rec.Close()
	}
}

// first returns the only cube of single-endpoint commands.
func (s *cubeSession) first() kpz.Handle {
	return s.handles[0]
}

// commandContext is cancelled on Ctrl+C.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withCube opens endpoint, runs fn and exits non-zero on failure.
func withCube(endpoint, action string, fn func(ctx context.Context, c *kpz.Controller, h kpz.Handle) error) {
	s, err := openSession([]string{endpoint})
	if err != nil {
		fail("opening "+endpoint, err)
	}

	ctx, cancel := commandContext()
	err = fn(ctx, s.ctrl, s.first())
	cancel()
	s.Close()

	if err != nil {
		fail(action, err)
	}
}

func fail(action string, err error) {
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", action, err)
	if hint := errorHint(err); hint != "" {
		fmt.Fprintln(os.Stderr, hint)
	}
	os.Exit(1)
}

func errorHint(err error) string {
	var rej *kpz.DeviceRejectedError
	switch {
	case errors.Is(err, kpz.ErrCommandTimeout):
		return "The cube did not answer. Check that it is powered and that --node matches."
	case errors.Is(err, serial.ErrDeviceInUse):
		return "Another process holds the port."
	case errors.Is(err, serial.ErrPermissionDenied):
		return "Add yourself to the dialout group or run with sudo."
	case errors.As(err, &rej):
		return fmt.Sprintf("The cube refused command 0x%04X with code %d.", rej.Command, rej.Code)
	case errors.Is(err, kpz.ErrOutOfRange):
		return "Nothing was sent to the cube."
	case errors.Is(err, kpz.ErrUnsupported):
		return "The selected --profile has no such command."
	}
	return ""
}
