// Package simulator emulates a KPZ101-family cube behind a transport.Transport
// so the stack can be exercised without hardware.
//
// The emulator decodes every written frame, applies it to an internal model
// of the cube and queues the replies a real cube would send. Faults (silence,
// line noise, read errors, error reports) can be injected for testing.
package simulator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/allbin/go-kpz/internal/frame"
	"github.com/allbin/go-kpz/internal/profile"
	"github.com/allbin/go-kpz/transport"
)

// Prefix marks simulator endpoints, e.g. "sim:bench".
const Prefix = "sim:"

const (
	enableOn  = 0x01
	enableOff = 0x02

	infoLen   = 84
	statusLen = 10
	notesLen  = 64

	codeUnknownCommand = 0x0001
	codeOutOfRange     = 0x0002
)

// Option configures a Device.
type Option func(*Device)

// WithSerial sets the serial number reported by the hardware info reply.
func WithSerial(sn uint32) Option {
	return func(d *Device) { d.serial = sn }
}

// WithUpdateInterval sets the period of status pushes once update messages
// are started.
func WithUpdateInterval(iv time.Duration) Option {
	return func(d *Device) { d.updateEvery = iv }
}

// WithNode overrides the node address the cube answers as.
func WithNode(node byte) Option {
	return func(d *Device) { d.node = node }
}

// Device is an emulated cube. It implements transport.Transport.
type Device struct {
	endpoint    string
	prof        *profile.Profile
	codec       *frame.Codec
	dec         *frame.Decoder
	node        byte
	serial      uint32
	updateEvery time.Duration
	ids         map[uint16]string

	mu       sync.Mutex
	out      []byte
	notify   chan struct{}
	closed   bool
	closedCh chan struct{}
	received []frame.Frame

	// cube model
	enabled    bool
	volts      int16
	pos        int16
	limitCode  uint8
	mode       uint16
	inputSrc   uint16
	piP, piI   uint16
	zeroed     bool
	identified int
	stopUpd    chan struct{}
	gauge      int16
	smoothed   int16

	// fault injection
	mute     bool
	garbage  []byte
	readErrs []error
	rejectID uint16
}

var _ transport.Transport = (*Device)(nil)

// New returns a powered-on cube with output disabled at 0 V.
func New(endpoint string, prof *profile.Profile, opts ...Option) (*Device, error) {
	codec, err := frame.NewCodec(prof.Layout)
	if err != nil {
		return nil, err
	}
	d := &Device{
		endpoint:    endpoint,
		prof:        prof,
		codec:       codec,
		dec:         frame.NewDecoder(codec),
		node:        prof.Node,
		serial:      29250001,
		updateEvery: 100 * time.Millisecond,
		ids:         make(map[uint16]string),
		notify:      make(chan struct{}, 1),
		closedCh:    make(chan struct{}),
		limitCode:   prof.VoltageLimits[int(prof.VoltageLimit)],
		mode:        1,
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, name := range []string{
		profile.CmdReqInfo, profile.CmdGetInfo, profile.CmdStartUpdates, profile.CmdStopUpdates,
		profile.CmdRichResponse, profile.CmdSetChanEnableState, profile.CmdReqChanEnableState,
		profile.CmdGetChanEnableState, profile.CmdIdentify, profile.CmdSetPosControlMode,
		profile.CmdSetOutputVolts, profile.CmdReqOutputVolts, profile.CmdGetOutputVolts,
		profile.CmdSetOutputPos, profile.CmdSetInputVoltsSource, profile.CmdSetPIConsts,
		profile.CmdSetZero, profile.CmdReqStatusUpdate, profile.CmdGetStatusUpdate,
		profile.CmdAckStatusUpdate, profile.CmdSetIOSettings, profile.CmdDisconnect,
	} {
		if c, err := prof.Command(name); err == nil {
			d.ids[c.ID] = name
		}
	}
	return d, nil
}

// Opener opens simulator endpoints ("sim:<name>") with the given profile.
type Opener struct {
	Profile *profile.Profile
	Options []Option
}

// Open implements transport.Opener.
func (o Opener) Open(endpoint string) (transport.Transport, error) {
	if !strings.HasPrefix(endpoint, Prefix) {
		return nil, fmt.Errorf("simulator: %q is not a %s endpoint", endpoint, Prefix)
	}
	return New(endpoint, o.Profile, o.Options...)
}

// Endpoint implements transport.Transport.
func (d *Device) Endpoint() string { return d.endpoint }

// Read implements transport.Transport.
func (d *Device) Read(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return 0, transport.ErrClosed
		}
		if len(d.readErrs) > 0 {
			err := d.readErrs[0]
			d.readErrs = d.readErrs[1:]
			d.mu.Unlock()
			return 0, err
		}
		if len(d.out) > 0 {
			n := copy(buf, d.out)
			d.out = d.out[n:]
			d.mu.Unlock()
			return n, nil
		}
		d.mu.Unlock()

		select {
		case <-d.notify:
		case <-d.closedCh:
		case <-deadline.C:
			return 0, nil
		}
	}
}

// Write implements transport.Transport.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, transport.ErrClosed
	}

	d.dec.Feed(p)
	for {
		f, err := d.dec.Next()
		if errors.Is(err, frame.ErrNeedMoreBytes) {
			break
		}
		if err != nil {
			continue
		}
		if f.Dest != d.node {
			continue
		}
		d.received = append(d.received, f)
		d.handle(f)
	}
	return len(p), nil
}

// Close implements transport.Transport.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return transport.ErrClosed
	}
	d.closed = true
	close(d.closedCh)
	d.stopUpdatesLocked()
	return nil
}

// Mute stops the cube from answering while on is true.
func (d *Device) Mute(on bool) {
	d.mu.Lock()
	d.mute = on
	d.mu.Unlock()
}

// InjectGarbage queues line noise ahead of the next reply.
func (d *Device) InjectGarbage(b []byte) {
	d.mu.Lock()
	d.garbage = append(d.garbage, b...)
	d.mu.Unlock()
}

// FailRead makes the next read return err.
func (d *Device) FailRead(err error) {
	d.mu.Lock()
	d.readErrs = append(d.readErrs, err)
	d.mu.Unlock()
	d.wake()
}

// RejectNext makes the cube answer the next command with message id id with
// an error report instead of executing it.
func (d *Device) RejectNext(id uint16) {
	d.mu.Lock()
	d.rejectID = id
	d.mu.Unlock()
}

// SetGauge sets the strain gauge input a KSG101 cube reports.
func (d *Device) SetGauge(raw int16) {
	d.mu.Lock()
	d.gauge = raw
	d.mu.Unlock()
}

// Received returns every frame the cube has accepted so far.
func (d *Device) Received() []frame.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]frame.Frame(nil), d.received...)
}

// Snapshot is the cube's internal state.
type Snapshot struct {
	Enabled    bool
	Volts      int16
	Position   int16
	LimitCode  uint8
	Mode       uint16
	InputSrc   uint16
	P, I       uint16
	Zeroed     bool
	Identified int
	Updating   bool
}

// Snapshot returns the cube's internal state.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Enabled:    d.enabled,
		Volts:      d.volts,
		Position:   d.pos,
		LimitCode:  d.limitCode,
		Mode:       d.mode,
		InputSrc:   d.inputSrc,
		P:          d.piP,
		I:          d.piI,
		Zeroed:     d.zeroed,
		Identified: d.identified,
		Updating:   d.stopUpd != nil,
	}
}

// Push queues an unsolicited status update, as sent while update messages
// are running.
func (d *Device) Push() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.emit(d.cmdID(profile.CmdGetStatusUpdate), [2]byte{}, d.statusPayload())
}

func (d *Device) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Device) cmdID(name string) uint16 {
	c, _ := d.prof.Command(name)
	return c.ID
}

// emit queues one reply. Callers hold d.mu.
func (d *Device) emit(id uint16, params [2]byte, payload []byte) {
	if d.mute {
		return
	}
	b, err := d.codec.Encode(frame.Frame{ID: id, Dest: d.prof.Host, Src: d.node, Params: params, Payload: payload})
	if err != nil {
		return
	}
	d.out = append(d.out, d.garbage...)
	d.garbage = nil
	d.out = append(d.out, b...)
	d.wake()
}

func (d *Device) rejectLocked(cmd uint16, code uint16, msg string) {
	p := make([]byte, 4+notesLen)
	binary.LittleEndian.PutUint16(p[0:], cmd)
	binary.LittleEndian.PutUint16(p[2:], code)
	copy(p[4:], msg)
	d.emit(d.cmdID(profile.CmdRichResponse), [2]byte{}, p)
}

func (d *Device) handle(f frame.Frame) {
	if d.rejectID != 0 && f.ID == d.rejectID {
		d.rejectID = 0
		d.rejectLocked(f.ID, codeOutOfRange, "command rejected")
		return
	}

	name, ok := d.ids[f.ID]
	if !ok {
		d.rejectLocked(f.ID, codeUnknownCommand, "unknown command")
		return
	}

	switch name {
	case profile.CmdReqInfo:
		d.emit(d.cmdID(profile.CmdGetInfo), [2]byte{}, d.infoPayload())

	case profile.CmdStartUpdates:
		d.startUpdatesLocked()

	case profile.CmdStopUpdates:
		d.stopUpdatesLocked()

	case profile.CmdSetChanEnableState:
		d.enabled = f.Params[1] == enableOn

	case profile.CmdReqChanEnableState:
		state := byte(enableOff)
		if d.enabled {
			state = enableOn
		}
		d.emit(d.cmdID(profile.CmdGetChanEnableState), [2]byte{f.Params[0], state}, nil)

	case profile.CmdIdentify:
		d.identified++

	case profile.CmdSetPosControlMode:
		d.mode = uint16(f.Params[1])

	case profile.CmdSetOutputVolts:
		if len(f.Payload) < 4 {
			return
		}
		v := int16(binary.LittleEndian.Uint16(f.Payload[2:]))
		if v < 0 {
			d.rejectLocked(f.ID, codeOutOfRange, "voltage out of range")
			return
		}
		d.volts = v
		if !d.closedLoop() {
			d.pos = v
		}

	case profile.CmdReqOutputVolts:
		p := make([]byte, 4)
		binary.LittleEndian.PutUint16(p[0:], uint16(f.Params[0]))
		binary.LittleEndian.PutUint16(p[2:], uint16(d.volts))
		d.emit(d.cmdID(profile.CmdGetOutputVolts), [2]byte{}, p)

	case profile.CmdSetOutputPos:
		if len(f.Payload) < 4 {
			return
		}
		v := int16(binary.LittleEndian.Uint16(f.Payload[2:]))
		if v < 0 {
			d.rejectLocked(f.ID, codeOutOfRange, "position out of range")
			return
		}
		d.pos = v
		if d.closedLoop() {
			d.volts = v
		}

	case profile.CmdSetInputVoltsSource:
		if len(f.Payload) >= 4 {
			d.inputSrc = binary.LittleEndian.Uint16(f.Payload[2:])
		}

	case profile.CmdSetPIConsts:
		if len(f.Payload) >= 6 {
			d.piP = binary.LittleEndian.Uint16(f.Payload[2:])
			d.piI = binary.LittleEndian.Uint16(f.Payload[4:])
		}

	case profile.CmdSetZero:
		d.pos = 0
		d.zeroed = true

	case profile.CmdReqStatusUpdate:
		d.emit(d.cmdID(profile.CmdGetStatusUpdate), [2]byte{}, d.statusPayload())

	case profile.CmdSetIOSettings:
		if len(f.Payload) >= 4 {
			code := uint8(binary.LittleEndian.Uint16(f.Payload[2:]))
			if !d.knownLimit(code) {
				d.rejectLocked(f.ID, codeOutOfRange, "unknown voltage limit")
				return
			}
			d.limitCode = code
		}

	case profile.CmdReqTSGReading:
		// each reading moves the smoothed value halfway towards the input
		d.smoothed = int16((int32(d.smoothed) + int32(d.gauge)) / 2)
		p := make([]byte, 6)
		binary.LittleEndian.PutUint16(p[0:], uint16(f.Params[0]))
		binary.LittleEndian.PutUint16(p[2:], uint16(d.gauge))
		binary.LittleEndian.PutUint16(p[4:], uint16(d.smoothed))
		d.emit(d.cmdID(profile.CmdGetTSGReading), [2]byte{}, p)

	case profile.CmdAckStatusUpdate, profile.CmdDisconnect, profile.CmdSetTSGIOSettings:
	}
}

func (d *Device) knownLimit(code uint8) bool {
	for _, c := range d.prof.VoltageLimits {
		if c == code {
			return true
		}
	}
	return false
}

func (d *Device) closedLoop() bool {
	return d.mode == 2 || d.mode == 4
}

func (d *Device) statusPayload() []byte {
	bits := d.prof.StatusBits.ActuatorConnected
	if d.enabled {
		bits |= d.prof.StatusBits.Enabled
	}
	if d.closedLoop() {
		bits |= d.prof.StatusBits.ClosedLoop
	}
	if d.zeroed {
		bits |= d.prof.StatusBits.Zeroed
	}
	p := make([]byte, statusLen)
	binary.LittleEndian.PutUint16(p[0:], d.prof.Channel)
	binary.LittleEndian.PutUint16(p[2:], uint16(d.volts))
	binary.LittleEndian.PutUint16(p[4:], uint16(d.pos))
	binary.LittleEndian.PutUint32(p[6:], bits)
	return p
}

func (d *Device) infoPayload() []byte {
	p := make([]byte, infoLen)
	binary.LittleEndian.PutUint32(p[0:], d.serial)
	copy(p[4:12], strings.ToUpper(d.prof.Name))
	binary.LittleEndian.PutUint16(p[12:], 16) // piezo controller
	p[14], p[15], p[16] = 3, 0, 1             // firmware 1.0.3
	copy(p[18:66], d.prof.Description)
	binary.LittleEndian.PutUint16(p[78:], 1)
	binary.LittleEndian.PutUint16(p[80:], 0)
	binary.LittleEndian.PutUint16(p[82:], 1)
	return p
}

func (d *Device) startUpdatesLocked() {
	if d.stopUpd != nil {
		return
	}
	stop := make(chan struct{})
	d.stopUpd = stop
	go func() {
		t := time.NewTicker(d.updateEvery)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				d.Push()
			}
		}
	}()
}

func (d *Device) stopUpdatesLocked() {
	if d.stopUpd != nil {
		close(d.stopUpd)
		d.stopUpd = nil
	}
}
