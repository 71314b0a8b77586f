// Package transport defines the byte-stream channel the protocol core runs on.
//
// A Transport knows nothing about frames. It moves raw bytes to and from one
// virtual serial endpoint. Implementations live in package serial (real
// hardware) and internal/simulator (an in-process cube).
package transport

import (
	"errors"
	"time"
)

// ErrClosed is returned by a Transport once it has been closed, either by the
// caller or because the underlying device went away.
var ErrClosed = errors.New("transport closed")

// Transport is a raw byte-stream channel bound to one endpoint.
type Transport interface {
	// Read reads up to len(buf) bytes, waiting at most timeout for the first
	// byte. It returns 0, nil when nothing arrived in time.
	Read(buf []byte, timeout time.Duration) (int, error)

	// Write writes all of p or returns an error.
	Write(p []byte) (int, error)

	// Close releases the endpoint. Further calls return ErrClosed.
	Close() error

	// Endpoint names the endpoint this transport was opened on.
	Endpoint() string
}

// Opener opens transports by endpoint identifier, e.g. "/dev/ttyUSB0".
type Opener interface {
	Open(endpoint string) (Transport, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(endpoint string) (Transport, error)

// Open calls f(endpoint).
func (f OpenerFunc) Open(endpoint string) (Transport, error) {
	return f(endpoint)
}
