package link

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/allbin/go-kpz/internal/frame"
)

// BackoffConfig paces the read loop after consecutive transport errors.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Address is the physical address of one cube: the transport endpoint it is
// attached to and its node address on that endpoint.
type Address struct {
	Endpoint string
	Node     byte
}

// Observer receives every frame that does not answer a pending request. It
// runs on the session's read goroutine and must not block on the session.
type Observer func(s *Session, f frame.Frame)

// Direction tags a traced frame.
type Direction uint8

const (
	DirSent Direction = iota + 1
	DirReceived
	DirDropped
)

func (d Direction) String() string {
	switch d {
	case DirSent:
		return "tx"
	case DirReceived:
		return "rx"
	case DirDropped:
		return "drop"
	default:
		return "unknown"
	}
}

// Event is one traced frame. Raw holds the wire bytes; for dropped input it
// holds the discarded bytes and Frame is zero.
type Event struct {
	Time     time.Time
	Endpoint string
	Dir      Direction
	Frame    frame.Frame
	Raw      []byte
	Err      string
}

// Tracer records frame traffic.
type Tracer interface {
	Trace(Event)
}

// Config holds the per-session protocol settings.
type Config struct {
	Layout       frame.Layout
	Host         byte     // node address of this side
	Reject       []uint16 // error report ids; a report naming a command outside the current transaction goes to the observer
	Timeout      time.Duration
	Retries      int
	PollInterval time.Duration
	ReadBuffer   int
	Backoff      BackoffConfig

	Logger   zerolog.Logger
	Tracer   Tracer
	Observer Observer
}

// DefaultConfig returns defaults suitable for a cube on USB serial. Layout
// and Host must still be filled in from the device profile.
func DefaultConfig() Config {
	return Config{
		Timeout:      500 * time.Millisecond,
		Retries:      1,
		PollInterval: 20 * time.Millisecond,
		ReadBuffer:   512,
		Backoff: BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     500 * time.Millisecond,
		},
		Logger: zerolog.Nop(),
	}
}

func (c Config) validate() error {
	if err := c.Layout.Validate(); err != nil {
		return err
	}
	switch {
	case c.Timeout <= 0:
		return errors.New("link: timeout must be positive")
	case c.Retries < 0:
		return errors.New("link: retries must not be negative")
	case c.PollInterval <= 0:
		return errors.New("link: poll interval must be positive")
	case c.ReadBuffer <= 0:
		return errors.New("link: read buffer must be positive")
	}
	return nil
}
