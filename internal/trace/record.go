// Package trace records frame traffic to a CBOR file and reads it back.
//
// A trace file is a plain concatenation of CBOR-encoded Records, so it can be
// appended to across runs and streamed without loading it whole.
package trace

import (
	"fmt"
	"time"

	"github.com/allbin/go-kpz/internal/frame"
	"github.com/allbin/go-kpz/internal/link"
)

// Record is one traced frame. CBOR encoding uses integer keys.
type Record struct {
	Timestamp time.Time      `cbor:"1,keyasint"`
	Endpoint  string         `cbor:"2,keyasint"`
	Direction link.Direction `cbor:"3,keyasint"`
	ID        uint16         `cbor:"4,keyasint,omitempty"`
	Dest      uint8          `cbor:"5,keyasint,omitempty"`
	Src       uint8          `cbor:"6,keyasint,omitempty"`
	Params    []byte         `cbor:"7,keyasint,omitempty"`
	Payload   []byte         `cbor:"8,keyasint,omitempty"`
	Raw       []byte         `cbor:"9,keyasint,omitempty"`
	Error     string         `cbor:"10,keyasint,omitempty"`
}

// FromEvent converts a session trace event.
func FromEvent(ev link.Event) Record {
	r := Record{
		Timestamp: ev.Time,
		Endpoint:  ev.Endpoint,
		Direction: ev.Dir,
		ID:        ev.Frame.ID,
		Dest:      ev.Frame.Dest,
		Src:       ev.Frame.Src,
		Payload:   ev.Frame.Payload,
		Raw:       ev.Raw,
		Error:     ev.Err,
	}
	if ev.Frame.Params != [2]byte{} {
		r.Params = ev.Frame.Params[:]
	}
	return r
}

// Frame rebuilds the traced frame.
func (r Record) Frame() frame.Frame {
	f := frame.Frame{ID: r.ID, Dest: r.Dest, Src: r.Src, Payload: r.Payload}
	copy(f.Params[:], r.Params)
	return f
}

func (r Record) String() string {
	ts := r.Timestamp.Format("15:04:05.000000")
	if r.Direction == link.DirDropped {
		return fmt.Sprintf("%s %-4s %s %s", ts, r.Direction, r.Endpoint, r.Error)
	}
	return fmt.Sprintf("%s %-4s %s %s % X", ts, r.Direction, r.Endpoint, r.Frame(), r.Raw)
}
