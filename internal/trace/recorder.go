package trace

import (
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/allbin/go-kpz/internal/link"
)

// Recorder appends records to a writer. It is safe for concurrent use and
// implements link.Tracer.
type Recorder struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	closer  io.Closer
	closed  bool
	written int
}

var _ link.Tracer = (*Recorder)(nil)

// NewRecorder writes to w. Close closes w when it is an io.Closer.
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{enc: newEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// Create opens path for appending, creating it if needed.
func Create(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return NewRecorder(f), nil
}

// Trace records ev. Encoding errors are dropped; tracing must not disturb
// the session.
func (r *Recorder) Trace(ev link.Event) {
	r.Write(FromEvent(ev))
}

// Write records rec.
func (r *Recorder) Write(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err := r.enc.Encode(rec); err == nil {
		r.written++
	}
}

// Written returns the number of records written.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close stops recording. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
