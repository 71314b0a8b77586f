package trace

import (
	"errors"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/allbin/go-kpz/internal/link"
)

// Filter selects records. Zero fields match everything.
type Filter struct {
	Endpoint  string
	Direction link.Direction
	ID        uint16
}

func (f Filter) matches(r Record) bool {
	if f.Endpoint != "" && r.Endpoint != f.Endpoint {
		return false
	}
	if f.Direction != 0 && r.Direction != f.Direction {
		return false
	}
	if f.ID != 0 && r.ID != f.ID {
		return false
	}
	return true
}

// Reader streams records from a trace.
type Reader struct {
	dec    *cbor.Decoder
	closer io.Closer
	filter Filter
}

// NewReader reads records from r.
func NewReader(r io.Reader, filter Filter) *Reader {
	rd := &Reader{dec: newDecoder(r), filter: filter}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd
}

// Open reads records from the file at path.
func Open(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewReader(f, filter), nil
}

// Next returns the next matching record, or io.EOF.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, err
		}
		if r.filter.matches(rec) {
			return rec, nil
		}
	}
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
