package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Port is an open serial device
type Port struct {
	mu     sync.RWMutex
	fd     int
	path   string
	config Config
	closed bool
}

// FlowControl represents the flow control mode
type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlRTSCTS
)

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// getBaudRate converts an integer baud rate to the unix constant
func getBaudRate(rate int) (uint32, error) {
	switch rate {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 921600:
		return unix.B921600, nil
	default:
		return 0, ErrInvalidBaudRate
	}
}

// setDTR sets DTR signal state
func setDTR(fd int, state bool) error {
	if state {
		return unix.IoctlSetInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR)
	}
	return unix.IoctlSetInt(fd, unix.TIOCMBIC, unix.TIOCM_DTR)
}

// setRTSSignal sets RTS signal state
func setRTSSignal(fd int, state bool) error {
	if state {
		return unix.IoctlSetInt(fd, unix.TIOCMBIS, unix.TIOCM_RTS)
	}
	return unix.IoctlSetInt(fd, unix.TIOCMBIC, unix.TIOCM_RTS)
}

// openError maps errno values from open(2) onto the package errors
func openError(device string, err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		return fmt.Errorf("open %s: %w", device, ErrDeviceNotFound)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("open %s: %w", device, ErrPermissionDenied)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("open %s: %w", device, ErrDeviceInUse)
	default:
		return fmt.Errorf("open %s: %v", device, err)
	}
}

// Open opens a serial port with the given device path and options
func Open(device string, opts ...Option) (*Port, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, err
		}
	}

	flags := unix.O_RDWR | unix.O_NOCTTY | unix.O_CLOEXEC
	if config.WriteMode == WriteModeSynced {
		flags |= unix.O_SYNC
	}

	fd, err := unix.Open(device, flags, 0)
	if err != nil {
		return nil, openError(device, err)
	}

	if config.Exclusive {
		if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("lock %s: %w", device, ErrDeviceInUse)
		}
	}

	if err := configurePort(fd, config); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if config.InitialRTS != nil {
		if err := setRTSSignal(fd, *config.InitialRTS); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set initial RTS: %v", err)
		}
	}
	if config.InitialDTR != nil {
		if err := setDTR(fd, *config.InitialDTR); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set initial DTR: %v", err)
		}
	}

	return &Port{
		fd:     fd,
		path:   device,
		config: config,
	}, nil
}

// configurePort puts the tty in raw mode with the configured line settings
func configurePort(fd int, config Config) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %v", err)
	}

	termios.Cflag = unix.CREAD | unix.CLOCAL
	termios.Iflag = 0
	termios.Oflag = 0
	termios.Lflag = 0

	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = config.readTimeoutTenths()

	baudRate, err := getBaudRate(config.BaudRate)
	if err != nil {
		return err
	}
	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | baudRate
	termios.Ispeed = baudRate
	termios.Ospeed = baudRate

	switch config.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	default:
		termios.Cflag |= unix.CS8
	}

	if config.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	switch config.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	}

	if config.FlowControl == FlowControlRTSCTS {
		termios.Cflag |= unix.CRTSCTS
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("failed to set termios: %v", err)
	}
	return nil
}

// Path returns the device path the port was opened on
func (p *Port) Path() string {
	return p.path
}

// Close closes the serial port
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}
	p.closed = true
	return unix.Close(p.fd)
}

// Read reads data from the serial port, blocking for at most the VTIME timeout
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}
	return unix.Read(p.fd, buf)
}

// ReadTimeout waits up to timeout for input and reads what is available.
// It returns 0, nil when the timeout elapses without data. A hangup from the
// tty (USB device unplugged) is reported as ErrPortClosed.
func (p *Port) ReadTimeout(buf []byte, timeout time.Duration) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	ms := int(timeout / time.Millisecond)
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, nil
		}
		break
	}

	revents := fds[0].Revents
	if revents&unix.POLLIN == 0 && revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return 0, ErrPortClosed
	}

	n, err := unix.Read(p.fd, buf)
	if errors.Is(err, unix.EIO) || errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENXIO) {
		return 0, fmt.Errorf("%w: %v", ErrPortClosed, err)
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Write writes data to the serial port
func (p *Port) Write(data []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	written := 0
	for written < len(data) {
		n, err := unix.Write(p.fd, data[written:])
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			continue
		}
		if errors.Is(err, unix.EIO) || errors.Is(err, unix.ENODEV) {
			return written, fmt.Errorf("%w: %v", ErrPortClosed, err)
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// WriteContext writes data and waits for it to drain, giving up when ctx
// ends. On a timeout the underlying write may still complete later.
func (p *Port) WriteContext(ctx context.Context, data []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	type writeResult struct {
		n   int
		err error
	}
	resultCh := make(chan writeResult, 1)

	go func() {
		n, err := p.Write(data)
		if err == nil {
			err = p.Drain()
		}
		resultCh <- writeResult{n: n, err: err}
	}()

	select {
	case result := <-resultCh:
		return result.n, result.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %w", ErrWriteTimeout, ctx.Err())
		}
		return 0, ctx.Err()
	}
}

// SetRTS manually sets the RTS signal state
func (p *Port) SetRTS(state bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}
	return setRTSSignal(p.fd, state)
}

// Drain waits until all output written to the port has been transmitted
func (p *Port) Drain() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}
	return unix.IoctlSetInt(p.fd, unix.TCSBRK, 1)
}

// FlushInput discards any unread input data
func (p *Port) FlushInput() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}
	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIFLUSH)
}

// FlushOutput discards any unwritten output data
func (p *Port) FlushOutput() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}
	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCOFLUSH)
}
