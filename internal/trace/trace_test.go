package trace

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allbin/go-kpz/internal/frame"
	"github.com/allbin/go-kpz/internal/link"
)

func sampleEvents() []link.Event {
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	return []link.Event{
		{
			Time: now, Endpoint: "/dev/ttyUSB0", Dir: link.DirSent,
			Frame: frame.Frame{ID: 0x0660, Dest: 0x50, Src: 0x01, Params: [2]byte{1, 0}},
			Raw:   []byte{0x60, 0x06, 0x01, 0x00, 0x50, 0x01},
		},
		{
			Time: now.Add(time.Millisecond), Endpoint: "/dev/ttyUSB0", Dir: link.DirReceived,
			Frame: frame.Frame{ID: 0x0661, Dest: 0x01, Src: 0x50, Payload: []byte{1, 0, 0xFF, 0x3F, 0, 0, 0, 0, 0, 0x80}},
		},
		{
			Time: now.Add(2 * time.Millisecond), Endpoint: "/dev/ttyUSB1", Dir: link.DirDropped,
			Err: "frame: malformed: unknown address 07->09",
		},
	}
}

func TestRecordRoundTripThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kpz.trace")
	rec, err := Create(path)
	require.NoError(t, err)
	for _, ev := range sampleEvents() {
		rec.Trace(ev)
	}
	assert.Equal(t, 3, rec.Written())
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	rd, err := Open(path, Filter{})
	require.NoError(t, err)
	defer rd.Close()

	for _, ev := range sampleEvents() {
		got, err := rd.Next()
		require.NoError(t, err)
		assert.True(t, ev.Time.Equal(got.Timestamp))
		assert.Equal(t, ev.Endpoint, got.Endpoint)
		assert.Equal(t, ev.Dir, got.Direction)
		assert.Equal(t, ev.Err, got.Error)
		assert.Equal(t, ev.Frame, got.Frame())
	}
	_, err = rd.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderFilter(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	for _, ev := range sampleEvents() {
		rec.Trace(ev)
	}

	rd := NewReader(bytes.NewReader(buf.Bytes()), Filter{Direction: link.DirReceived})
	got, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0661), got.ID)
	_, err = rd.Next()
	assert.ErrorIs(t, err, io.EOF)

	rd = NewReader(bytes.NewReader(buf.Bytes()), Filter{Endpoint: "/dev/ttyUSB1"})
	got, err = rd.Next()
	require.NoError(t, err)
	assert.Equal(t, link.DirDropped, got.Direction)
}

func TestRecorderIgnoresWritesAfterClose(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	require.NoError(t, rec.Close())
	rec.Trace(sampleEvents()[0])
	assert.Zero(t, buf.Len())
}

func TestRecordString(t *testing.T) {
	evs := sampleEvents()
	assert.Contains(t, FromEvent(evs[0]).String(), "tx")
	assert.Contains(t, FromEvent(evs[0]).String(), "60 06 01 00 50 01")
	assert.Contains(t, FromEvent(evs[2]).String(), "unknown address")
}
