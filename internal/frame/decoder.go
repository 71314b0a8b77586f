package frame

import "errors"

// Decoder accumulates bytes from successive transport reads and yields
// complete frames, resynchronising after malformed input.
type Decoder struct {
	codec   *Codec
	buf     []byte
	skipped []byte
	dropped int
}

// NewDecoder returns a decoder for c.
func NewDecoder(c *Codec) *Decoder {
	return &Decoder{codec: c}
}

// Feed appends p to the pending input.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes waiting to be decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Dropped returns the total number of bytes discarded while resynchronising.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Skipped returns a copy of the bytes discarded by the last malformed
// result of Next.
func (d *Decoder) Skipped() []byte {
	return append([]byte(nil), d.skipped...)
}

// Reset discards all pending input.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Next returns the next complete frame. It returns ErrNeedMoreBytes when the
// pending input holds no complete frame. When it returns an error wrapping
// ErrMalformed the offending bytes have already been skipped; calling Next
// again continues with the remaining input.
func (d *Decoder) Next() (Frame, error) {
	f, n, err := d.codec.Decode(d.buf)
	switch {
	case err == nil:
		d.consume(n)
		return f, nil
	case errors.Is(err, ErrMalformed):
		d.skipped = append(d.skipped[:0], d.buf[:n]...)
		d.consume(n)
		d.dropped += n
		return Frame{}, err
	default:
		return Frame{}, err
	}
}

func (d *Decoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}
