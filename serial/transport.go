package serial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allbin/go-kpz/transport"
)

// Transport adapts a Port to transport.Transport.
type Transport struct {
	port *Port
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport wraps an open port.
func NewTransport(p *Port) *Transport {
	return &Transport{port: p}
}

func closedErr(err error) error {
	if errors.Is(err, ErrPortClosed) {
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}
	return err
}

// Read implements transport.Transport.
func (t *Transport) Read(buf []byte, timeout time.Duration) (int, error) {
	n, err := t.port.ReadTimeout(buf, timeout)
	return n, closedErr(err)
}

// Write implements transport.Transport. It returns once the frame has been
// transmitted so the caller's reply timeout does not include queueing time.
func (t *Transport) Write(p []byte) (int, error) {
	ctx := context.Background()
	if d := t.port.config.WriteTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	n, err := t.port.WriteContext(ctx, p)
	return n, closedErr(err)
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	return closedErr(t.port.Close())
}

// Endpoint returns the device path.
func (t *Transport) Endpoint() string {
	return t.port.Path()
}

// Opener opens serial endpoints and runs the APT line initialisation:
// dwell, purge both directions, dwell, then assert RTS.
type Opener struct {
	Options []Option
}

var _ transport.Opener = (*Opener)(nil)

// NewOpener returns an Opener applying opts on top of DefaultConfig.
func NewOpener(opts ...Option) *Opener {
	return &Opener{Options: opts}
}

// Open implements transport.Opener.
func (o *Opener) Open(endpoint string) (transport.Transport, error) {
	p, err := Open(endpoint, o.Options...)
	if err != nil {
		return nil, err
	}

	time.Sleep(p.config.PurgeDwell)
	if err := p.FlushInput(); err != nil {
		p.Close()
		return nil, fmt.Errorf("purge input %s: %v", endpoint, err)
	}
	if err := p.FlushOutput(); err != nil {
		p.Close()
		return nil, fmt.Errorf("purge output %s: %v", endpoint, err)
	}
	time.Sleep(p.config.PurgeDwell)

	if p.config.FlowControl == FlowControlRTSCTS {
		if err := p.SetRTS(true); err != nil {
			p.Close()
			return nil, fmt.Errorf("assert RTS %s: %v", endpoint, err)
		}
	}
	return NewTransport(p), nil
}
