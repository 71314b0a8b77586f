package kpz

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/allbin/go-kpz/internal/link"
	"github.com/allbin/go-kpz/internal/profile"
	"github.com/allbin/go-kpz/transport"
)

// Config holds the controller configuration
type Config struct {
	Profile      string
	ProfileFile  string // alternative protocol table, empty for the built-in one
	Timeout      time.Duration
	Retries      int
	PollInterval time.Duration
	Channel      uint16 // 0 uses the profile's channel
	Logger       zerolog.Logger
	Tracer       link.Tracer
	Observer     Observer
	Opener       transport.Opener
}

// Option is a functional option for configuring a Controller
type Option func(*Config) error

// DefaultConfig returns the configuration used by New without options.
func DefaultConfig() Config {
	lc := link.DefaultConfig()
	return Config{
		Profile:      profile.DefaultName,
		Timeout:      lc.Timeout,
		Retries:      lc.Retries,
		PollInterval: lc.PollInterval,
		Logger:       zerolog.Nop(),
	}
}

// WithProfile selects the device family by name, e.g. "kpz101".
func WithProfile(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("%w: empty profile name", ErrInvalidOption)
		}
		c.Profile = name
		return nil
	}
}

// WithProfileFile loads the protocol table from path instead of the
// built-in one.
func WithProfileFile(path string) Option {
	return func(c *Config) error {
		c.ProfileFile = path
		return nil
	}
}

// WithTimeout sets how long one command attempt waits for its reply.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: timeout %v", ErrInvalidOption, d)
		}
		c.Timeout = d
		return nil
	}
}

// WithRetries sets how often a timed-out command is re-sent.
func WithRetries(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("%w: retries %d", ErrInvalidOption, n)
		}
		c.Retries = n
		return nil
	}
}

// WithPollInterval sets the read loop's transport poll period.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: poll interval %v", ErrInvalidOption, d)
		}
		c.PollInterval = d
		return nil
	}
}

// WithChannel overrides the output channel addressed in commands.
func WithChannel(ch uint16) Option {
	return func(c *Config) error {
		c.Channel = ch
		return nil
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) error {
		c.Logger = l
		return nil
	}
}

// WithTracer records every frame sent and received.
func WithTracer(t link.Tracer) Option {
	return func(c *Config) error {
		c.Tracer = t
		return nil
	}
}

// WithObserver receives frames that do not answer a command.
func WithObserver(o Observer) Option {
	return func(c *Config) error {
		c.Observer = o
		return nil
	}
}

// WithOpener sets the transport opener used by Open.
func WithOpener(o transport.Opener) Option {
	return func(c *Config) error {
		c.Opener = o
		return nil
	}
}
