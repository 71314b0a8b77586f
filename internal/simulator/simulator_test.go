package simulator

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allbin/go-kpz/internal/frame"
	"github.com/allbin/go-kpz/internal/profile"
	"github.com/allbin/go-kpz/transport"
)

func newDevice(t *testing.T, opts ...Option) (*Device, *frame.Codec, *profile.Profile) {
	t.Helper()
	p, err := profile.Default(profile.DefaultName)
	require.NoError(t, err)
	d, err := New("sim:test", p, opts...)
	require.NoError(t, err)
	c, err := frame.NewCodec(p.Layout)
	require.NoError(t, err)
	return d, c, p
}

func send(t *testing.T, d *Device, c *frame.Codec, f frame.Frame) {
	t.Helper()
	f.Dest, f.Src = 0x50, 0x01
	b, err := c.Encode(f)
	require.NoError(t, err)
	n, err := d.Write(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
}

func recv(t *testing.T, d *Device, c *frame.Codec) frame.Frame {
	t.Helper()
	dec := frame.NewDecoder(c)
	buf := make([]byte, 128)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := d.Read(buf, 20*time.Millisecond)
		require.NoError(t, err)
		dec.Feed(buf[:n])
		f, err := dec.Next()
		if err == nil {
			return f
		}
	}
	t.Fatal("no reply")
	return frame.Frame{}
}

func TestStatusReflectsOutputVoltage(t *testing.T) {
	d, c, _ := newDevice(t)
	defer d.Close()

	send(t, d, c, frame.Frame{ID: 0x0210, Params: [2]byte{1, enableOn}})
	send(t, d, c, frame.Frame{ID: 0x0643, Payload: []byte{1, 0, 0xFF, 0x3F}})
	send(t, d, c, frame.Frame{ID: 0x0660, Params: [2]byte{1, 0}})

	f := recv(t, d, c)
	require.Equal(t, uint16(0x0661), f.ID)
	assert.Equal(t, byte(0x01), f.Dest)
	assert.Equal(t, byte(0x50), f.Src)
	require.Len(t, f.Payload, statusLen)
	assert.Equal(t, uint16(0x3FFF), binary.LittleEndian.Uint16(f.Payload[2:]))
	bits := binary.LittleEndian.Uint32(f.Payload[6:])
	assert.NotZero(t, bits&0x80000000, "enabled bit")
	assert.NotZero(t, bits&0x1, "actuator bit")
}

func TestOutputVoltsReadBack(t *testing.T) {
	d, c, _ := newDevice(t)
	defer d.Close()

	send(t, d, c, frame.Frame{ID: 0x0643, Payload: []byte{1, 0, 0x00, 0x10}})
	send(t, d, c, frame.Frame{ID: 0x0644, Params: [2]byte{1, 0}})
	f := recv(t, d, c)
	assert.Equal(t, uint16(0x0645), f.ID)
	assert.Equal(t, []byte{1, 0, 0x00, 0x10}, f.Payload)
}

func TestHardwareInfo(t *testing.T) {
	d, c, _ := newDevice(t, WithSerial(29250042))
	defer d.Close()

	send(t, d, c, frame.Frame{ID: 0x0005})
	f := recv(t, d, c)
	assert.Equal(t, uint16(0x0006), f.ID)
	require.Len(t, f.Payload, infoLen)
	assert.Equal(t, uint32(29250042), binary.LittleEndian.Uint32(f.Payload))
	assert.Equal(t, "KPZ101", string(f.Payload[4:10]))
}

func TestNegativeVoltageIsRejected(t *testing.T) {
	d, c, _ := newDevice(t)
	defer d.Close()

	send(t, d, c, frame.Frame{ID: 0x0643, Payload: []byte{1, 0, 0x00, 0x80}})
	f := recv(t, d, c)
	assert.Equal(t, uint16(0x0081), f.ID)
	assert.Equal(t, uint16(0x0643), binary.LittleEndian.Uint16(f.Payload))
	assert.Zero(t, d.Snapshot().Volts)
}

func TestModelCommands(t *testing.T) {
	d, c, _ := newDevice(t)
	defer d.Close()

	send(t, d, c, frame.Frame{ID: 0x0640, Params: [2]byte{1, 2}})
	send(t, d, c, frame.Frame{ID: 0x0646, Payload: []byte{1, 0, 0x00, 0x20}})
	send(t, d, c, frame.Frame{ID: 0x0652, Payload: []byte{1, 0, 0x02, 0x00}})
	send(t, d, c, frame.Frame{ID: 0x0655, Payload: []byte{1, 0, 100, 0, 15, 0}})
	send(t, d, c, frame.Frame{ID: 0x07D4, Payload: []byte{1, 0, 0x03, 0, 0, 0, 0, 0, 0, 0}})
	send(t, d, c, frame.Frame{ID: 0x0223})

	s := d.Snapshot()
	assert.Equal(t, uint16(2), s.Mode)
	assert.Equal(t, int16(0x2000), s.Position)
	assert.Equal(t, int16(0x2000), s.Volts)
	assert.Equal(t, uint16(2), s.InputSrc)
	assert.Equal(t, uint16(100), s.P)
	assert.Equal(t, uint16(15), s.I)
	assert.Equal(t, uint8(3), s.LimitCode)
	assert.Equal(t, 1, s.Identified)

	send(t, d, c, frame.Frame{ID: 0x0658, Params: [2]byte{1, 0}})
	assert.Zero(t, d.Snapshot().Position)
	assert.True(t, d.Snapshot().Zeroed)
	assert.Len(t, d.Received(), 7)
}

func TestUpdateMessagesPushStatus(t *testing.T) {
	d, c, _ := newDevice(t, WithUpdateInterval(10*time.Millisecond))
	defer d.Close()

	send(t, d, c, frame.Frame{ID: 0x0011})
	assert.True(t, d.Snapshot().Updating)
	assert.Equal(t, uint16(0x0661), recv(t, d, c).ID)

	send(t, d, c, frame.Frame{ID: 0x0012})
	assert.False(t, d.Snapshot().Updating)
}

func TestMuteAndFaults(t *testing.T) {
	d, c, _ := newDevice(t)
	defer d.Close()

	d.Mute(true)
	send(t, d, c, frame.Frame{ID: 0x0660, Params: [2]byte{1, 0}})
	n, err := d.Read(make([]byte, 16), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)

	boom := errors.New("boom")
	d.FailRead(boom)
	_, err = d.Read(make([]byte, 16), time.Second)
	assert.ErrorIs(t, err, boom)

	d.Mute(false)
	d.RejectNext(0x0660)
	send(t, d, c, frame.Frame{ID: 0x0660, Params: [2]byte{1, 0}})
	assert.Equal(t, uint16(0x0081), recv(t, d, c).ID)
}

func TestUnknownCommandIsReported(t *testing.T) {
	d, c, _ := newDevice(t)
	defer d.Close()

	send(t, d, c, frame.Frame{ID: 0x0999})
	f := recv(t, d, c)
	assert.Equal(t, uint16(0x0081), f.ID)
	assert.Equal(t, uint16(codeUnknownCommand), binary.LittleEndian.Uint16(f.Payload[2:]))
}

func TestCloseUnblocksRead(t *testing.T) {
	d, _, _ := newDevice(t)

	errc := make(chan error, 1)
	go func() {
		_, err := d.Read(make([]byte, 16), 5*time.Second)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("read not released by Close")
	}
	_, err := d.Write([]byte{0})
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestOpener(t *testing.T) {
	p, err := profile.Default(profile.DefaultName)
	require.NoError(t, err)
	o := Opener{Profile: p}

	tr, err := o.Open("sim:bench")
	require.NoError(t, err)
	assert.Equal(t, "sim:bench", tr.Endpoint())
	require.NoError(t, tr.Close())

	_, err = o.Open("/dev/ttyUSB0")
	assert.Error(t, err)
}

func TestStrainGaugeReading(t *testing.T) {
	p, err := profile.Default("ksg101")
	require.NoError(t, err)
	d, err := New("sim:gauge", p)
	require.NoError(t, err)
	defer d.Close()
	c, err := frame.NewCodec(p.Layout)
	require.NoError(t, err)

	d.SetGauge(-1000)
	send(t, d, c, frame.Frame{ID: 0x07DD, Params: [2]byte{1, 0}})

	f := recv(t, d, c)
	require.Equal(t, uint16(0x07DE), f.ID)
	require.Len(t, f.Payload, 6)
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(f.Payload[0:]))
	assert.Equal(t, int16(-1000), int16(binary.LittleEndian.Uint16(f.Payload[2:])))
	assert.Equal(t, int16(-500), int16(binary.LittleEndian.Uint16(f.Payload[4:])))
}
