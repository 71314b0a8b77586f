package link

import (
	"errors"
	"fmt"
)

var (
	ErrTransport      = errors.New("transport failure")
	ErrCommandTimeout = errors.New("command timed out")
	ErrSessionClosed  = errors.New("session closed")
	ErrDeviceRejected = errors.New("device rejected command")
)

// TransportError reports a failed read or write on the underlying transport.
type TransportError struct {
	Op       string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) hold for every TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// DeviceRejectedError carries the error report a cube sent in place of the
// expected reply.
type DeviceRejectedError struct {
	MsgID   uint16 // reporting message id
	Command uint16 // command the cube complained about, when reported
	Code    uint16
	Message string
}

func (e *DeviceRejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("device rejected command 0x%04X: code %d: %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("device rejected command 0x%04X: code %d", e.Command, e.Code)
}

func (e *DeviceRejectedError) Is(target error) bool { return target == ErrDeviceRejected }
