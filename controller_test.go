package kpz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allbin/go-kpz/internal/profile"
	"github.com/allbin/go-kpz/internal/simulator"
	"github.com/allbin/go-kpz/transport"
)

func newTestController(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	base := []Option{WithPollInterval(5 * time.Millisecond), WithTimeout(200 * time.Millisecond)}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseAll() })
	return c
}

func attachSim(t *testing.T, c *Controller, endpoint string, opts ...simulator.Option) (Handle, *simulator.Device) {
	t.Helper()
	p, err := profile.Default(c.ProfileName())
	require.NoError(t, err)
	d, err := simulator.New(endpoint, p, opts...)
	require.NoError(t, err)
	h, err := c.Register(d, Address{Endpoint: endpoint})
	require.NoError(t, err)
	return h, d
}

func TestSetVoltageOutOfRangeWritesNothing(t *testing.T) {
	c := newTestController(t)
	h, d := attachSim(t, c, "sim:a")
	ctx := context.Background()

	for _, v := range []float64{-0.1, 75.01, 200} {
		err := c.SetVoltage(ctx, h, v)
		assert.ErrorIs(t, err, ErrOutOfRange, "%v V", v)
	}
	assert.Empty(t, d.Received())
}

func TestSetVoltageRoundTrip(t *testing.T) {
	c := newTestController(t)
	h, d := attachSim(t, c, "sim:a")
	ctx := context.Background()

	require.NoError(t, c.SetVoltage(ctx, h, 37.5))
	assert.Equal(t, int16(16384), d.Snapshot().Volts)

	cached, err := c.CachedStatus(h)
	require.NoError(t, err)
	assert.InDelta(t, 37.5, cached.Voltage, 0.01)

	st, err := c.QueryStatus(ctx, h)
	require.NoError(t, err)
	assert.True(t, st.Valid)
	assert.InDelta(t, 37.5, st.Voltage, 0.01)
	assert.Equal(t, 75.0, st.MaxVoltage)
}

func TestZeroThenQueryReportsZeroVolts(t *testing.T) {
	c := newTestController(t)
	h, _ := attachSim(t, c, "sim:a")
	ctx := context.Background()

	require.NoError(t, c.SetVoltage(ctx, h, 50))
	require.NoError(t, c.Zero(ctx, h))

	st, err := c.QueryStatus(ctx, h)
	require.NoError(t, err)
	assert.Zero(t, st.Voltage)
}

func TestCommandTimeout(t *testing.T) {
	c := newTestController(t, WithTimeout(50*time.Millisecond), WithRetries(1))
	h, d := attachSim(t, c, "sim:a")
	d.Mute(true)

	start := time.Now()
	_, err := c.QueryStatus(context.Background(), h)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrCommandTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Len(t, d.Received(), 2)
}

func TestCloseDuringQueryReturnsSessionClosed(t *testing.T) {
	c := newTestController(t, WithTimeout(5*time.Second))
	h, d := attachSim(t, c, "sim:a")
	d.Mute(true)

	errc := make(chan error, 1)
	go func() {
		_, err := c.QueryStatus(context.Background(), h)
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(d.Received()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close(h))
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("query not released by Close")
	}

	_, err := c.QueryStatus(context.Background(), h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestRegisterSameAddressTwice(t *testing.T) {
	c := newTestController(t)
	attachSim(t, c, "sim:a")

	p, err := profile.Default(profile.DefaultName)
	require.NoError(t, err)
	d, err := simulator.New("sim:a", p)
	require.NoError(t, err)
	_, err = c.Register(d, Address{Endpoint: "sim:a", Node: 0x50})
	assert.ErrorIs(t, err, ErrAddressInUse)
	assert.Len(t, c.Handles(), 1)
}

func TestUnknownHandle(t *testing.T) {
	c := newTestController(t)
	var h Handle
	ctx := context.Background()

	assert.ErrorIs(t, c.SetVoltage(ctx, h, 1), ErrUnknownHandle)
	assert.ErrorIs(t, c.EnableOutput(ctx, h, true), ErrUnknownHandle)
	_, err := c.QueryStatus(ctx, h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	_, err = c.CachedStatus(h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.ErrorIs(t, c.Close(h), ErrUnknownHandle)
}

func TestStep(t *testing.T) {
	c := newTestController(t)
	h, d := attachSim(t, c, "sim:a")
	ctx := context.Background()

	require.NoError(t, c.SetVoltage(ctx, h, 20))
	require.NoError(t, c.Step(ctx, h, 10))
	st, err := c.QueryStatus(ctx, h)
	require.NoError(t, err)
	assert.InDelta(t, 30, st.Voltage, 0.01)

	require.NoError(t, c.Step(ctx, h, -5))
	st, err = c.CachedStatus(h)
	require.NoError(t, err)
	assert.InDelta(t, 25, st.Voltage, 0.01)

	before := len(d.Received())
	assert.ErrorIs(t, c.Step(ctx, h, 60), ErrOutOfRange)
	assert.ErrorIs(t, c.Step(ctx, h, -26), ErrOutOfRange)
	assert.Len(t, d.Received(), before, "rejected steps must not reach the cube")
}

func TestStepQueriesStaleStatus(t *testing.T) {
	c := newTestController(t)
	h, d := attachSim(t, c, "sim:a")
	ctx := context.Background()

	require.NoError(t, c.Step(ctx, h, 5))
	got := d.Received()
	require.NotEmpty(t, got)
	assert.Equal(t, uint16(0x0660), got[0].ID)
	st, err := c.CachedStatus(h)
	require.NoError(t, err)
	assert.InDelta(t, 5, st.Voltage, 0.01)
}

func TestDeviceRejection(t *testing.T) {
	c := newTestController(t)
	h, d := attachSim(t, c, "sim:a")
	d.RejectNext(0x0643)

	err := c.SetVoltage(context.Background(), h, 10)
	require.ErrorIs(t, err, ErrDeviceRejected)
	var rej *DeviceRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, uint16(0x0643), rej.Command)

	st, err := c.CachedStatus(h)
	require.NoError(t, err)
	assert.NotZero(t, st.ErrorCode)
	assert.Zero(t, d.Snapshot().Volts)
}

func TestEnableOutput(t *testing.T) {
	c := newTestController(t)
	h, d := attachSim(t, c, "sim:a")
	ctx := context.Background()

	require.NoError(t, c.EnableOutput(ctx, h, true))
	st, err := c.QueryStatus(ctx, h)
	require.NoError(t, err)
	assert.True(t, st.OutputEnabled)
	assert.True(t, st.ActuatorConnected)

	require.NoError(t, c.EnableOutput(ctx, h, false))
	assert.Eventually(t, func() bool { return !d.Snapshot().Enabled }, time.Second, 5*time.Millisecond)
}

func TestHardwareInfo(t *testing.T) {
	c := newTestController(t)
	h, _ := attachSim(t, c, "sim:a", simulator.WithSerial(29250042))

	info, err := c.HardwareInfo(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, uint32(29250042), info.SerialNumber)
	assert.Equal(t, "KPZ101", info.Model)
	assert.Equal(t, "1.0.3", info.Firmware)
	assert.Equal(t, uint16(1), info.Channels)
	assert.Contains(t, info.Notes, "KPZ101")
}

func TestStrainGaugeReading(t *testing.T) {
	c := newTestController(t, WithProfile("ksg101"))
	h, d := attachSim(t, c, "sim:gauge")
	ctx := context.Background()

	d.SetGauge(16384)
	r, err := c.StrainGaugeReading(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), r.Channel)
	assert.Equal(t, int16(16384), r.Raw)
	assert.Equal(t, int16(8192), r.Smoothed)
	assert.InDelta(t, 50.0, r.Percent, 0.01)
}

func TestStrainGaugeReadingUnsupported(t *testing.T) {
	c := newTestController(t)
	h, d := attachSim(t, c, "sim:a")

	_, err := c.StrainGaugeReading(context.Background(), h)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Empty(t, d.Received())
}

func TestSetMaxVoltage(t *testing.T) {
	c := newTestController(t)
	h, d := attachSim(t, c, "sim:a")
	ctx := context.Background()

	assert.ErrorIs(t, c.SetMaxVoltage(ctx, h, 120), ErrOutOfRange)
	assert.ErrorIs(t, c.SetMaxVoltage(ctx, h, 75.5), ErrOutOfRange)
	assert.Empty(t, d.Received())

	require.NoError(t, c.SetMaxVoltage(ctx, h, 150))
	assert.Eventually(t, func() bool { return d.Snapshot().LimitCode == 3 }, time.Second, 5*time.Millisecond)
	st, err := c.CachedStatus(h)
	require.NoError(t, err)
	assert.Equal(t, 150.0, st.MaxVoltage)

	require.NoError(t, c.SetVoltage(ctx, h, 120))
	assert.Equal(t, int16(26214), d.Snapshot().Volts)
}

func TestClosedLoopSettings(t *testing.T) {
	c := newTestController(t)
	h, d := attachSim(t, c, "sim:a")
	ctx := context.Background()

	assert.ErrorIs(t, c.SetControlMode(ctx, h, 5), ErrOutOfRange)
	assert.ErrorIs(t, c.SetPIConstants(ctx, h, 256, 0), ErrOutOfRange)
	assert.ErrorIs(t, c.SetPosition(ctx, h, 100.5), ErrOutOfRange)
	assert.ErrorIs(t, c.SetInputSource(ctx, h, 0x04), ErrOutOfRange)
	assert.Empty(t, d.Received())

	require.NoError(t, c.SetControlMode(ctx, h, ClosedLoop))
	require.NoError(t, c.SetPIConstants(ctx, h, 100, 15))
	require.NoError(t, c.SetInputSource(ctx, h, InputExternal|InputPotentiometer))
	require.NoError(t, c.SetPosition(ctx, h, 50))
	require.NoError(t, c.Identify(ctx, h))

	st, err := c.QueryStatus(ctx, h)
	require.NoError(t, err)
	assert.True(t, st.ClosedLoop)
	assert.InDelta(t, 50, st.Position, 0.01)

	snap := d.Snapshot()
	assert.Equal(t, uint16(2), snap.Mode)
	assert.Equal(t, uint16(100), snap.P)
	assert.Equal(t, uint16(15), snap.I)
	assert.Equal(t, uint16(3), snap.InputSrc)
	assert.Equal(t, 1, snap.Identified)

	require.NoError(t, c.ZeroPosition(ctx, h))
	st, err = c.QueryStatus(ctx, h)
	require.NoError(t, err)
	assert.Zero(t, st.Position)
}

func TestStatusPushesReachObserver(t *testing.T) {
	var (
		mu   sync.Mutex
		msgs []Message
		from Handle
	)
	c := newTestController(t, WithObserver(func(h Handle, m Message) {
		mu.Lock()
		defer mu.Unlock()
		from = h
		msgs = append(msgs, m)
	}))
	h, d := attachSim(t, c, "sim:a", simulator.WithUpdateInterval(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, c.EnableOutput(ctx, h, true))
	require.NoError(t, c.StartUpdates(ctx, h))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) >= 2
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, c.StopUpdates(ctx, h))

	mu.Lock()
	assert.Equal(t, h, from)
	require.NotNil(t, msgs[0].Status)
	assert.True(t, msgs[0].Status.OutputEnabled)
	mu.Unlock()

	st, err := c.CachedStatus(h)
	require.NoError(t, err)
	assert.True(t, st.Valid)

	assert.Eventually(t, func() bool {
		for _, f := range d.Received() {
			if f.ID == 0x0662 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "status pushes must be acknowledged")
}

func TestQueryAll(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()
	ha, _ := attachSim(t, c, "sim:a")
	hb, _ := attachSim(t, c, "sim:b")

	require.NoError(t, c.SetVoltage(ctx, ha, 10))
	require.NoError(t, c.SetVoltage(ctx, hb, 20))

	all, err := c.QueryAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.InDelta(t, 10, all[ha].Voltage, 0.01)
	assert.InDelta(t, 20, all[hb].Voltage, 0.01)
}

func TestOpenUsesOpener(t *testing.T) {
	p, err := profile.Default(profile.DefaultName)
	require.NoError(t, err)
	var opened atomic.Int32
	opener := transport.OpenerFunc(func(ep string) (transport.Transport, error) {
		opened.Add(1)
		return simulator.Opener{Profile: p}.Open(ep)
	})
	c := newTestController(t, WithOpener(opener))

	h, err := c.Open("sim:bench", 0)
	require.NoError(t, err)
	addr, err := c.Address(h)
	require.NoError(t, err)
	assert.Equal(t, Address{Endpoint: "sim:bench", Node: 0x50}, addr)

	_, err = c.Open("sim:bench", 0)
	assert.ErrorIs(t, err, ErrAddressInUse)
	assert.Equal(t, int32(1), opened.Load(), "a busy address must not be opened again")

	_, err = c.Open("/dev/nonexistent", 0)
	assert.ErrorIs(t, err, ErrTransport)

	bare := newTestController(t)
	_, err = bare.Open("sim:x", 0)
	assert.ErrorIs(t, err, ErrNoOpener)
}

func TestReadErrorKeepsHandleOpen(t *testing.T) {
	c := newTestController(t)
	h, d := attachSim(t, c, "sim:a")
	ctx := context.Background()

	d.Mute(true)
	errc := make(chan error, 1)
	go func() {
		_, err := c.QueryStatus(ctx, h)
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(d.Received()) == 1 }, time.Second, 5*time.Millisecond)
	d.FailRead(errors.New("usb glitch"))

	err := <-errc
	assert.ErrorIs(t, err, ErrTransport)

	d.Mute(false)
	_, err = c.QueryStatus(ctx, h)
	assert.NoError(t, err)
}

func TestNewOptions(t *testing.T) {
	_, err := New(WithTimeout(0))
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = New(WithRetries(-1))
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = New(WithProfile("nope"))
	assert.ErrorIs(t, err, profile.ErrUnknownProfile)

	c, err := New(WithProfile("tpz001"))
	require.NoError(t, err)
	assert.Equal(t, "tpz001", c.ProfileName())
	assert.Equal(t, []int{75, 100, 150}, c.VoltageLimits())
}
