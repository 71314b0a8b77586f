package serial

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/allbin/go-kpz/transport"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.BaudRate != 115200 {
		t.Errorf("Expected BaudRate 115200, got %d", config.BaudRate)
	}
	if config.DataBits != 8 {
		t.Errorf("Expected DataBits 8, got %d", config.DataBits)
	}
	if config.StopBits != 1 {
		t.Errorf("Expected StopBits 1, got %d", config.StopBits)
	}
	if config.Parity != ParityNone {
		t.Errorf("Expected Parity None, got %v", config.Parity)
	}
	if config.FlowControl != FlowControlRTSCTS {
		t.Errorf("Expected FlowControl RTS/CTS, got %v", config.FlowControl)
	}
	if !config.Exclusive {
		t.Error("Expected exclusive access by default")
	}
}

func TestFunctionalOptions(t *testing.T) {
	config := DefaultConfig()

	if err := WithBaudRate(9600)(&config); err != nil {
		t.Errorf("WithBaudRate failed: %v", err)
	}
	if config.BaudRate != 9600 {
		t.Errorf("Expected BaudRate 9600, got %d", config.BaudRate)
	}

	if err := WithDataBits(7)(&config); err != nil {
		t.Errorf("WithDataBits failed: %v", err)
	}
	if config.DataBits != 7 {
		t.Errorf("Expected DataBits 7, got %d", config.DataBits)
	}

	if err := WithStopBits(2)(&config); err != nil {
		t.Errorf("WithStopBits failed: %v", err)
	}
	if config.StopBits != 2 {
		t.Errorf("Expected StopBits 2, got %d", config.StopBits)
	}

	if err := WithParity(ParityEven)(&config); err != nil {
		t.Errorf("WithParity failed: %v", err)
	}
	if config.Parity != ParityEven {
		t.Errorf("Expected Parity Even, got %v", config.Parity)
	}

	if err := WithFlowControl(FlowControlNone)(&config); err != nil {
		t.Errorf("WithFlowControl failed: %v", err)
	}
	if config.FlowControl != FlowControlNone {
		t.Errorf("Expected FlowControl None, got %v", config.FlowControl)
	}
}

func TestInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want error
	}{
		{"baud rate", WithBaudRate(123456), ErrInvalidBaudRate},
		{"data bits", WithDataBits(9), ErrInvalidConfig},
		{"stop bits", WithStopBits(3), ErrInvalidConfig},
		{"flow control", WithFlowControl(FlowControl(7)), ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			if err := tt.opt(&config); err != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGetBaudRate(t *testing.T) {
	tests := []struct {
		input    int
		hasError bool
	}{
		{115200, false},
		{9600, false},
		{57600, false},
		{123456, true},
	}

	for _, test := range tests {
		result, err := getBaudRate(test.input)
		if test.hasError {
			if err != ErrInvalidBaudRate {
				t.Errorf("Expected ErrInvalidBaudRate for %d, got %v", test.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unexpected error for baud rate %d: %v", test.input, err)
		}
		if result == 0 {
			t.Errorf("Got zero result for valid baud rate %d", test.input)
		}
	}
}

func TestOpenNonExistentDevice(t *testing.T) {
	_, err := Open("/dev/nonexistent")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func TestClosedPort(t *testing.T) {
	port := &Port{fd: -1, closed: true}
	buf := make([]byte, 10)

	if _, err := port.Read(buf); err != ErrPortClosed {
		t.Errorf("Read: expected ErrPortClosed, got %v", err)
	}
	if _, err := port.ReadTimeout(buf, time.Millisecond); err != ErrPortClosed {
		t.Errorf("ReadTimeout: expected ErrPortClosed, got %v", err)
	}
	if _, err := port.Write([]byte("test")); err != ErrPortClosed {
		t.Errorf("Write: expected ErrPortClosed, got %v", err)
	}
	if err := port.Close(); err != ErrPortClosed {
		t.Errorf("Close: expected ErrPortClosed, got %v", err)
	}
}

func TestContextTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	port := &Port{fd: -1}
	if _, err := port.WriteContext(ctx, []byte("test")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// pipePort returns a Port writing into a pipe and the pipe's read end.
func pipePort(t *testing.T) (*Port, int) {
	t.Helper()
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return &Port{fd: fds[1], path: "pipe"}, fds[0]
}

func TestWriteContextDrainsAfterWrite(t *testing.T) {
	port, r := pipePort(t)

	// A pipe accepts the bytes but is not a tty, so the drain ioctl fails.
	n, err := port.WriteContext(context.Background(), []byte{0x05, 0x00})
	if n != 2 {
		t.Errorf("WriteContext wrote %d bytes, want 2", n)
	}
	if !errors.Is(err, unix.ENOTTY) {
		t.Errorf("Expected ENOTTY from the drain, got %v", err)
	}

	buf := make([]byte, 4)
	if got, _ := unix.Read(r, buf); got != 2 || buf[0] != 0x05 {
		t.Errorf("pipe holds %x, want 0500", buf[:got])
	}
}

func TestWriteContextDeadline(t *testing.T) {
	port, _ := pipePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Larger than the pipe buffer with nobody reading, so the write blocks.
	_, err := port.WriteContext(ctx, make([]byte, 1<<20))
	if !errors.Is(err, ErrWriteTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected ErrWriteTimeout, got %v", err)
	}
}

func TestTransportMapsClosedPort(t *testing.T) {
	tr := NewTransport(&Port{fd: -1, path: "/dev/ttyUSB9", closed: true})

	if tr.Endpoint() != "/dev/ttyUSB9" {
		t.Errorf("Endpoint() = %q, want /dev/ttyUSB9", tr.Endpoint())
	}
	_, err := tr.Read(make([]byte, 4), time.Millisecond)
	if !errors.Is(err, transport.ErrClosed) || !errors.Is(err, ErrPortClosed) {
		t.Errorf("Read: expected transport.ErrClosed wrapping ErrPortClosed, got %v", err)
	}
	if _, err := tr.Write([]byte{1}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Write: expected transport.ErrClosed, got %v", err)
	}
}
