package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aptLayout() Layout {
	return Layout{
		HeaderLen:  6,
		IDOffset:   0,
		LenOffset:  2,
		DestOffset: 4,
		SrcOffset:  5,
		DataFlag:   0x80,
		MaxPayload: 255,
		ValidNodes: []byte{0x01, 0x11, 0x21, 0x22, 0x50},
	}
}

func framedLayout() Layout {
	return Layout{
		HeaderLen:   7,
		HasMagic:    true,
		Magic:       0xA5,
		MagicOffset: 0,
		IDOffset:    1,
		DestOffset:  3,
		SrcOffset:   4,
		LenOffset:   5,
		MaxPayload:  64,
	}
}

func mustCodec(t *testing.T, l Layout) *Codec {
	t.Helper()
	c, err := NewCodec(l)
	require.NoError(t, err)
	return c
}

func TestEncodeMatchesAPTWireFormat(t *testing.T) {
	c := mustCodec(t, aptLayout())

	// MOD_SET_CHANENABLESTATE, channel 1, enable.
	b, err := c.Encode(Frame{ID: 0x0210, Dest: 0x50, Src: 0x01, Params: [2]byte{0x01, 0x01}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x02, 0x01, 0x01, 0x50, 0x01}, b)

	// PZ_SET_OUTPUTVOLTS, channel 1, 0x7FFF.
	b, err = c.Encode(Frame{ID: 0x0643, Dest: 0x50, Src: 0x01, Payload: []byte{0x01, 0x00, 0xFF, 0x7F}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x43, 0x06, 0x04, 0x00, 0xD0, 0x01, 0x01, 0x00, 0xFF, 0x7F}, b)
}

func TestEncodeMatchesFramedWireFormat(t *testing.T) {
	c := mustCodec(t, framedLayout())

	b, err := c.Encode(Frame{ID: 0x1234, Dest: 0x02, Src: 0x01, Payload: []byte{0xAA}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA5, 0x34, 0x12, 0x02, 0x01, 0x01, 0x00, 0xAA}, b)
}

func TestRoundTrip(t *testing.T) {
	big := bytes.Repeat([]byte{0x5A}, 255)

	tests := []struct {
		name   string
		layout Layout
		frame  Frame
	}{
		{"apt header only", aptLayout(), Frame{ID: 0x0660, Dest: 0x50, Src: 0x01, Params: [2]byte{1, 0}}},
		{"apt zero params", aptLayout(), Frame{ID: 0x0005, Dest: 0x50, Src: 0x01}},
		{"apt payload", aptLayout(), Frame{ID: 0x0661, Dest: 0x01, Src: 0x50, Payload: []byte{1, 0, 2, 3, 4, 5, 6, 7, 8, 9}}},
		{"apt max payload", aptLayout(), Frame{ID: 0x0006, Dest: 0x01, Src: 0x50, Payload: big}},
		{"framed empty", framedLayout(), Frame{ID: 0x0001, Dest: 0x02, Src: 0x01}},
		{"framed payload", framedLayout(), Frame{ID: 0xFFFF, Dest: 0xFF, Src: 0x00, Payload: []byte{0xA5, 0xA5}}},
		{"framed max payload", framedLayout(), Frame{ID: 0x0100, Dest: 0x10, Src: 0x20, Payload: big[:64]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustCodec(t, tt.layout)
			b, err := c.Encode(tt.frame)
			require.NoError(t, err)

			got, n, err := c.Decode(b)
			require.NoError(t, err)
			assert.Equal(t, len(b), n)
			assert.Equal(t, tt.frame, got)
		})
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	for _, l := range []Layout{aptLayout(), framedLayout()} {
		c := mustCodec(t, l)
		b, err := c.Encode(Frame{ID: 1, Dest: 0x50, Src: 0x01, Payload: make([]byte, l.MaxPayload+1)})
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
		assert.Nil(t, b)
	}
}

func TestEncodeRejectsFlaggedAddress(t *testing.T) {
	c := mustCodec(t, aptLayout())
	_, err := c.Encode(Frame{ID: 1, Dest: 0xD0, Src: 0x01})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestDecodeByteAtATime(t *testing.T) {
	for _, l := range []Layout{aptLayout(), framedLayout()} {
		c := mustCodec(t, l)
		want := Frame{ID: 0x0661, Dest: 0x01, Src: 0x50, Payload: []byte{1, 0, 0, 0, 0, 0, 0, 0, 0, 0}}
		if l.ValidNodes == nil {
			want.Dest, want.Src = 0x02, 0x03
		}
		b, err := c.Encode(want)
		require.NoError(t, err)

		d := NewDecoder(c)
		for i, by := range b {
			d.Feed([]byte{by})
			f, err := d.Next()
			if i < len(b)-1 {
				require.ErrorIs(t, err, ErrNeedMoreBytes, "byte %d", i)
				continue
			}
			require.NoError(t, err)
			assert.Equal(t, want, f)
		}
		_, err = d.Next()
		assert.ErrorIs(t, err, ErrNeedMoreBytes)
		assert.Zero(t, d.Buffered())
	}
}

func TestDecodePartialPayload(t *testing.T) {
	c := mustCodec(t, aptLayout())
	b, err := c.Encode(Frame{ID: 0x0645, Dest: 0x01, Src: 0x50, Payload: []byte{1, 0, 0x10, 0x20}})
	require.NoError(t, err)

	_, n, err := c.Decode(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrNeedMoreBytes)
	assert.Zero(t, n)
}

func TestDecodeBadMagicResyncs(t *testing.T) {
	c := mustCodec(t, framedLayout())
	want := Frame{ID: 0x0042, Dest: 0x02, Src: 0x01, Payload: []byte{9}}
	b, err := c.Encode(want)
	require.NoError(t, err)

	d := NewDecoder(c)
	d.Feed([]byte{0x00, 0x13, 0x37})
	d.Feed(b)

	_, err = d.Next()
	require.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 3, d.Dropped())
	assert.Equal(t, []byte{0x00, 0x13, 0x37}, d.Skipped())

	f, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, want, f)
}

func TestDecodeUnknownAddressResyncs(t *testing.T) {
	c := mustCodec(t, aptLayout())
	want := Frame{ID: 0x0212, Dest: 0x01, Src: 0x50, Params: [2]byte{1, 2}}
	b, err := c.Encode(want)
	require.NoError(t, err)

	d := NewDecoder(c)
	d.Feed([]byte{0xFF, 0xEE})
	d.Feed(b)

	var got []Frame
	for {
		f, err := d.Next()
		if errors.Is(err, ErrNeedMoreBytes) {
			break
		}
		if errors.Is(err, ErrMalformed) {
			continue
		}
		require.NoError(t, err)
		got = append(got, f)
	}
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0])
	assert.Equal(t, 2, d.Dropped())
}

func TestDecodeOversizedLengthIsMalformed(t *testing.T) {
	c := mustCodec(t, framedLayout())
	_, n, err := c.Decode([]byte{0xA5, 0x01, 0x00, 0x02, 0x01, 0xFF, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 7, n)
}

func TestDecodedPayloadIsCopied(t *testing.T) {
	c := mustCodec(t, aptLayout())
	b, err := c.Encode(Frame{ID: 0x0645, Dest: 0x01, Src: 0x50, Payload: []byte{1, 0, 2, 0}})
	require.NoError(t, err)

	f, _, err := c.Decode(b)
	require.NoError(t, err)
	b[6] = 0xEE
	assert.Equal(t, byte(1), f.Payload[0])
}

func TestLayoutValidate(t *testing.T) {
	assert.NoError(t, aptLayout().Validate())
	assert.NoError(t, framedLayout().Validate())

	overlap := aptLayout()
	overlap.SrcOffset = 4
	assert.ErrorIs(t, overlap.Validate(), ErrInvalidLayout)

	outside := framedLayout()
	outside.LenOffset = 6
	assert.ErrorIs(t, outside.Validate(), ErrInvalidLayout)

	_, err := NewCodec(Layout{})
	assert.ErrorIs(t, err, ErrInvalidLayout)
}
