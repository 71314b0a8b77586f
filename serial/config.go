package serial

import "time"

// WriteMode represents the write synchronization mode
type WriteMode int

const (
	WriteModeBuffered WriteMode = iota // Default: kernel buffers writes
	WriteModeSynced                    // O_SYNC: writes block until hardware transmission
)

// Config holds the configuration for a serial port
type Config struct {
	BaudRate     int
	DataBits     int
	StopBits     int
	Parity       Parity
	FlowControl  FlowControl
	ReadTimeout  time.Duration // VTIME, multiple of 100ms, at most 25.5s
	WriteMode    WriteMode     // Controls write synchronization behavior
	InitialRTS   *bool
	InitialDTR   *bool
	Exclusive    bool          // TIOCEXCL: refuse further opens of the tty
	PurgeDwell   time.Duration // Settle time around the input/output purge on open
	WriteTimeout time.Duration // Bound on write plus drain through Transport; 0 waits forever
}

// Option is a functional option for configuring a serial port
type Option func(*Config) error

// DefaultConfig returns the line settings the APT controllers expect:
// 115200 8N1, RTS/CTS flow control, exclusive access.
func DefaultConfig() Config {
	return Config{
		BaudRate:     115200,
		DataBits:     8,
		StopBits:     1,
		Parity:       ParityNone,
		FlowControl:  FlowControlRTSCTS,
		ReadTimeout:  100 * time.Millisecond,
		WriteMode:    WriteModeBuffered,
		Exclusive:    true,
		PurgeDwell:   50 * time.Millisecond,
		WriteTimeout: time.Second,
	}
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *Config) error {
		if _, err := getBaudRate(rate); err != nil {
			return err
		}
		c.BaudRate = rate
		return nil
	}
}

// WithDataBits sets the number of data bits (5, 6, 7, or 8)
func WithDataBits(bits int) Option {
	return func(c *Config) error {
		if bits < 5 || bits > 8 {
			return ErrInvalidConfig
		}
		c.DataBits = bits
		return nil
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *Config) error {
		if bits != 1 && bits != 2 {
			return ErrInvalidConfig
		}
		c.StopBits = bits
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *Config) error {
		c.Parity = parity
		return nil
	}
}

// WithFlowControl sets the flow control mode
func WithFlowControl(fc FlowControl) Option {
	return func(c *Config) error {
		if fc != FlowControlNone && fc != FlowControlRTSCTS {
			return ErrInvalidConfig
		}
		c.FlowControl = fc
		return nil
	}
}

// WithReadTimeout sets the blocking read timeout (VTIME). The kernel counts
// in tenths of a second, so the duration must be a multiple of 100ms.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout < 0 || timeout > 25500*time.Millisecond || timeout%(100*time.Millisecond) != 0 {
			return ErrInvalidConfig
		}
		c.ReadTimeout = timeout
		return nil
	}
}

// WithWriteMode sets the write synchronization mode
func WithWriteMode(mode WriteMode) Option {
	return func(c *Config) error {
		c.WriteMode = mode
		return nil
	}
}

// WithSyncWrite enables synchronous writes (O_SYNC) for guaranteed transmission
func WithSyncWrite() Option {
	return func(c *Config) error {
		c.WriteMode = WriteModeSynced
		return nil
	}
}

// WithInitialRTS sets the RTS line state applied right after open
func WithInitialRTS(state bool) Option {
	return func(c *Config) error {
		c.InitialRTS = &state
		return nil
	}
}

// WithInitialDTR sets the DTR line state applied right after open
func WithInitialDTR(state bool) Option {
	return func(c *Config) error {
		c.InitialDTR = &state
		return nil
	}
}

// WithExclusive controls whether the tty is locked against further opens
func WithExclusive(exclusive bool) Option {
	return func(c *Config) error {
		c.Exclusive = exclusive
		return nil
	}
}

// WithPurgeDwell sets the settle time before and after the open-time purge
func WithPurgeDwell(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return ErrInvalidConfig
		}
		c.PurgeDwell = d
		return nil
	}
}

func (c Config) readTimeoutTenths() uint8 {
	return uint8(c.ReadTimeout / (100 * time.Millisecond))
}

// WithWriteTimeout bounds how long a transport write may wait for the
// frame to leave the UART. Zero disables the bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return ErrInvalidConfig
		}
		c.WriteTimeout = d
		return nil
	}
}
