package kpz

import (
	"errors"

	"github.com/allbin/go-kpz/internal/frame"
	"github.com/allbin/go-kpz/internal/link"
	"github.com/allbin/go-kpz/internal/profile"
	"github.com/allbin/go-kpz/internal/registry"
)

var (
	ErrTransport       = link.ErrTransport
	ErrCommandTimeout  = link.ErrCommandTimeout
	ErrSessionClosed   = link.ErrSessionClosed
	ErrDeviceRejected  = link.ErrDeviceRejected
	ErrAddressInUse    = registry.ErrAddressInUse
	ErrUnknownHandle   = registry.ErrUnknownHandle
	ErrMalformed       = frame.ErrMalformed
	ErrPayloadTooLarge = frame.ErrPayloadTooLarge
	ErrUnsupported     = profile.ErrUnknownCommand

	ErrOutOfRange    = errors.New("value out of range")
	ErrNoOpener      = errors.New("no transport opener configured")
	ErrShortReply    = errors.New("reply too short")
	ErrInvalidOption = errors.New("invalid controller option")
)

// TransportError reports a failed read or write on a cube's transport.
type TransportError = link.TransportError

// DeviceRejectedError carries the error report a cube sent back.
type DeviceRejectedError = link.DeviceRejectedError
