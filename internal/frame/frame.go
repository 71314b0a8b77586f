// Package frame encodes and decodes the fixed-header binary messages spoken
// by APT-family motion controllers.
//
// The header shape is not hardcoded: a Layout taken from the device table
// places the message id, length and address fields. Decoding is incremental
// and never blocks; partial input yields ErrNeedMoreBytes.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrInvalidAddress  = errors.New("frame: address collides with data flag")
	ErrNeedMoreBytes   = errors.New("frame: need more bytes")
	ErrMalformed       = errors.New("frame: malformed")
	ErrInvalidLayout   = errors.New("frame: invalid layout")
)

// Frame is one complete wire message.
type Frame struct {
	ID      uint16
	Dest    byte
	Src     byte
	Params  [2]byte // header parameters of header-only messages (DataFlag layouts)
	Payload []byte
}

// HasPayload reports whether the frame carries a data packet.
func (f Frame) HasPayload() bool {
	return len(f.Payload) > 0
}

func (f Frame) String() string {
	if f.HasPayload() {
		return fmt.Sprintf("0x%04X %02X->%02X len=%d", f.ID, f.Src, f.Dest, len(f.Payload))
	}
	return fmt.Sprintf("0x%04X %02X->%02X p=%02X,%02X", f.ID, f.Src, f.Dest, f.Params[0], f.Params[1])
}

// Layout places the header fields. Ids and lengths are 16-bit little endian,
// addresses are single bytes.
type Layout struct {
	HeaderLen   int
	HasMagic    bool
	Magic       byte
	MagicOffset int
	IDOffset    int
	LenOffset   int
	DestOffset  int
	SrcOffset   int

	// DataFlag, when non-zero, is OR-ed into the destination byte to signal
	// that a payload follows. Frames without it carry Params in the length
	// slot instead.
	DataFlag byte

	MaxPayload int

	// ValidNodes, when set, lists every address a well-formed frame may carry.
	ValidNodes []byte
}

// Validate checks that all fields fit inside the header without overlap.
func (l Layout) Validate() error {
	if l.HeaderLen <= 0 || l.MaxPayload < 0 || l.MaxPayload > 0xFFFF {
		return ErrInvalidLayout
	}
	used := make([]bool, l.HeaderLen)
	claim := func(off, width int) error {
		if off < 0 || off+width > l.HeaderLen {
			return fmt.Errorf("%w: field at %d+%d outside header of %d", ErrInvalidLayout, off, width, l.HeaderLen)
		}
		for i := off; i < off+width; i++ {
			if used[i] {
				return fmt.Errorf("%w: overlapping fields at offset %d", ErrInvalidLayout, i)
			}
			used[i] = true
		}
		return nil
	}
	if l.HasMagic {
		if err := claim(l.MagicOffset, 1); err != nil {
			return err
		}
	}
	for _, f := range []struct{ off, width int }{
		{l.IDOffset, 2}, {l.LenOffset, 2}, {l.DestOffset, 1}, {l.SrcOffset, 1},
	} {
		if err := claim(f.off, f.width); err != nil {
			return err
		}
	}
	return nil
}

// Codec encodes and decodes frames for one layout.
type Codec struct {
	layout Layout
	nodes  [256]bool
	anyOK  bool
}

// NewCodec validates l and returns a codec for it.
func NewCodec(l Layout) (*Codec, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	c := &Codec{layout: l, anyOK: len(l.ValidNodes) == 0}
	for _, n := range l.ValidNodes {
		c.nodes[n] = true
	}
	return c, nil
}

// Layout returns the codec's layout.
func (c *Codec) Layout() Layout {
	return c.layout
}

// Encode serialises f. It fails without producing any bytes when the payload
// exceeds the layout maximum.
func (c *Codec) Encode(f Frame) ([]byte, error) {
	l := c.layout
	if len(f.Payload) > l.MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(f.Payload), l.MaxPayload)
	}
	if l.DataFlag != 0 && (f.Dest&l.DataFlag != 0 || f.Src&l.DataFlag != 0) {
		return nil, fmt.Errorf("%w: dest 0x%02X src 0x%02X", ErrInvalidAddress, f.Dest, f.Src)
	}

	buf := make([]byte, l.HeaderLen+len(f.Payload))
	if l.HasMagic {
		buf[l.MagicOffset] = l.Magic
	}
	binary.LittleEndian.PutUint16(buf[l.IDOffset:], f.ID)
	buf[l.SrcOffset] = f.Src

	switch {
	case l.DataFlag == 0:
		binary.LittleEndian.PutUint16(buf[l.LenOffset:], uint16(len(f.Payload)))
		buf[l.DestOffset] = f.Dest
	case f.HasPayload():
		binary.LittleEndian.PutUint16(buf[l.LenOffset:], uint16(len(f.Payload)))
		buf[l.DestOffset] = f.Dest | l.DataFlag
	default:
		buf[l.LenOffset] = f.Params[0]
		buf[l.LenOffset+1] = f.Params[1]
		buf[l.DestOffset] = f.Dest
	}

	copy(buf[l.HeaderLen:], f.Payload)
	return buf, nil
}

// Decode parses one frame from the start of buf.
//
// On success it returns the frame and the number of bytes consumed. With a
// partial frame it returns ErrNeedMoreBytes and 0. With a malformed header it
// returns ErrMalformed and the number of bytes to discard before the next
// plausible header start (always at least 1).
func (c *Codec) Decode(buf []byte) (Frame, int, error) {
	l := c.layout
	if l.HasMagic && len(buf) > l.MagicOffset && buf[l.MagicOffset] != l.Magic {
		return Frame{}, c.skip(buf), fmt.Errorf("%w: magic 0x%02X", ErrMalformed, buf[l.MagicOffset])
	}
	if len(buf) < l.HeaderLen {
		return Frame{}, 0, ErrNeedMoreBytes
	}

	dest := buf[l.DestOffset]
	src := buf[l.SrcOffset]
	hasData := l.DataFlag == 0 || dest&l.DataFlag != 0
	dest &^= l.DataFlag

	if !c.anyOK && (!c.nodes[dest] || !c.nodes[src]) {
		return Frame{}, c.skip(buf), fmt.Errorf("%w: unknown address %02X->%02X", ErrMalformed, src, dest)
	}

	f := Frame{
		ID:   binary.LittleEndian.Uint16(buf[l.IDOffset:]),
		Dest: dest,
		Src:  src,
	}

	if !hasData {
		f.Params = [2]byte{buf[l.LenOffset], buf[l.LenOffset+1]}
		return f, l.HeaderLen, nil
	}

	n := int(binary.LittleEndian.Uint16(buf[l.LenOffset:]))
	if n > l.MaxPayload {
		return Frame{}, c.skip(buf), fmt.Errorf("%w: payload length %d > %d", ErrMalformed, n, l.MaxPayload)
	}
	if len(buf) < l.HeaderLen+n {
		return Frame{}, 0, ErrNeedMoreBytes
	}
	if n > 0 {
		f.Payload = make([]byte, n)
		copy(f.Payload, buf[l.HeaderLen:l.HeaderLen+n])
	}
	return f, l.HeaderLen + n, nil
}

// skip returns how many bytes to drop so that buf starts at the next
// plausible header: the next magic byte, or simply the next byte.
func (c *Codec) skip(buf []byte) int {
	l := c.layout
	if !l.HasMagic {
		return 1
	}
	for i := 1; i+l.MagicOffset < len(buf); i++ {
		if buf[i+l.MagicOffset] == l.Magic {
			return i
		}
	}
	if n := len(buf) - l.MagicOffset; n > 1 {
		return n
	}
	return 1
}
