package kpz

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/allbin/go-kpz/internal/frame"
	"github.com/allbin/go-kpz/internal/link"
	"github.com/allbin/go-kpz/internal/profile"
	"github.com/allbin/go-kpz/internal/registry"
	"github.com/allbin/go-kpz/transport"
)

const (
	enableOn  = 0x01
	enableOff = 0x02

	statusLen = 10
	infoLen   = 84
)

// Controller drives any number of cubes. It is safe for concurrent use;
// commands to one cube are serialised, different cubes run independently.
type Controller struct {
	cfg     Config
	prof    *profile.Profile
	reg     *registry.Registry
	log     zerolog.Logger
	channel uint16
}

// New returns a Controller with no cubes registered.
func New(opts ...Option) (*Controller, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	table := profile.DefaultTable()
	if cfg.ProfileFile != "" {
		var err error
		if table, err = profile.LoadFile(cfg.ProfileFile); err != nil {
			return nil, err
		}
	}
	prof, err := table.Lookup(cfg.Profile)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:     cfg,
		prof:    prof,
		log:     cfg.Logger.With().Str("profile", prof.Name).Logger(),
		channel: cfg.Channel,
	}
	if c.channel == 0 {
		c.channel = prof.Channel
	}
	c.reg = registry.New(c.newSession)
	return c, nil
}

// ProfileName returns the device family the controller speaks to.
func (c *Controller) ProfileName() string { return c.prof.Name }

// VoltageLimits returns the output limits SetMaxVoltage accepts.
func (c *Controller) VoltageLimits() []int { return c.prof.Limits() }

func (c *Controller) newSession(tr transport.Transport, addr link.Address) (*link.Session, error) {
	lc := link.DefaultConfig()
	lc.Layout = c.prof.Layout
	lc.Host = c.prof.Host
	lc.Reject = c.prof.Reject
	lc.Timeout = c.cfg.Timeout
	lc.Retries = c.cfg.Retries
	lc.PollInterval = c.cfg.PollInterval
	lc.Logger = c.log
	lc.Tracer = c.cfg.Tracer
	lc.Observer = c.observe

	s, err := link.New(tr, addr, lc)
	if err != nil {
		return nil, err
	}
	s.UpdateStatus(func(st *Status) {
		if st.MaxVoltage == 0 {
			st.MaxVoltage = c.prof.VoltageLimit
		}
	})
	return s, nil
}

// Register attaches a cube reachable over tr at addr. A zero node selects
// the profile's node address. Nothing is sent to the cube.
func (c *Controller) Register(tr transport.Transport, addr Address) (Handle, error) {
	if addr.Node == 0 {
		addr.Node = c.prof.Node
	}
	h, err := c.reg.Register(tr, addr)
	if err != nil {
		return registry.Nil, err
	}
	c.log.Info().
		Str("handle", h.String()).
		Str("endpoint", addr.Endpoint).
		Hex("node", []byte{addr.Node}).
		Msg("cube registered")
	return h, nil
}

// Open opens endpoint with the configured opener and registers the cube on
// it. A zero node selects the profile's node address.
func (c *Controller) Open(endpoint string, node byte) (Handle, error) {
	if c.cfg.Opener == nil {
		return registry.Nil, ErrNoOpener
	}
	if node == 0 {
		node = c.prof.Node
	}
	addr := Address{Endpoint: endpoint, Node: node}
	if c.reg.InUse(addr) {
		return registry.Nil, fmt.Errorf("%w: %s node 0x%02X", ErrAddressInUse, endpoint, node)
	}

	tr, err := c.cfg.Opener.Open(endpoint)
	if err != nil {
		return registry.Nil, &TransportError{Op: "open", Endpoint: endpoint, Err: err}
	}
	h, err := c.Register(tr, addr)
	if err != nil {
		_ = tr.Close()
		return registry.Nil, err
	}
	return h, nil
}

// Close closes the cube's session and transport. Commands in flight fail
// with ErrSessionClosed.
func (c *Controller) Close(h Handle) error {
	if err := c.reg.Deregister(h); err != nil {
		return err
	}
	c.log.Info().Str("handle", h.String()).Msg("cube closed")
	return nil
}

// CloseAll closes every registered cube.
func (c *Controller) CloseAll() error {
	return c.reg.CloseAll()
}

// Handles returns the registered handles.
func (c *Controller) Handles() []Handle {
	return c.reg.Handles()
}

// Address returns the physical address of h.
func (c *Controller) Address(h Handle) (Address, error) {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return Address{}, err
	}
	return s.Address(), nil
}

// SetVoltage sets the output voltage and confirms it by reading it back.
func (c *Controller) SetVoltage(ctx context.Context, h Handle, volts float64) error {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	limit := s.Status().MaxVoltage
	if err := checkVoltage(volts, limit); err != nil {
		return err
	}
	return c.setVoltage(ctx, s, volts, limit)
}

// Step moves the output voltage by delta from its current value. The
// current value is queried first when no status is cached.
func (c *Controller) Step(ctx context.Context, h Handle, delta float64) error {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return fmt.Errorf("%w: step %v", ErrOutOfRange, delta)
	}
	st := s.Status()
	if !st.Valid {
		if st, err = c.queryStatus(ctx, s); err != nil {
			return err
		}
	}
	target := st.Voltage + delta
	if err := checkVoltage(target, st.MaxVoltage); err != nil {
		return fmt.Errorf("step %+.3f V from %.3f V: %w", delta, st.Voltage, err)
	}
	return c.setVoltage(ctx, s, target, st.MaxVoltage)
}

// Zero drives the output to 0 V.
func (c *Controller) Zero(ctx context.Context, h Handle) error {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	return c.setVoltage(ctx, s, 0, s.Status().MaxVoltage)
}

// ZeroPosition makes the current position the closed loop datum.
func (c *Controller) ZeroPosition(ctx context.Context, h Handle) error {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, s, profile.CmdSetZero, c.chanParams(0), nil)
	return err
}

// EnableOutput switches the HV output on or off. The cube does not confirm
// the change; query the status to observe it.
func (c *Controller) EnableOutput(ctx context.Context, h Handle, on bool) error {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	state := byte(enableOff)
	if on {
		state = enableOn
	}
	_, err = c.send(ctx, s, profile.CmdSetChanEnableState, c.chanParams(state), nil)
	return err
}

// QueryStatus asks the cube for its status and refreshes the cache.
func (c *Controller) QueryStatus(ctx context.Context, h Handle) (Status, error) {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return Status{}, err
	}
	return c.queryStatus(ctx, s)
}

// CachedStatus returns the last known status without talking to the cube.
func (c *Controller) CachedStatus(h Handle) (Status, error) {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// QueryAll queries every registered cube concurrently. On error the map holds
// the cubes that answered.
func (c *Controller) QueryAll(ctx context.Context) (map[Handle]Status, error) {
	var (
		mu  sync.Mutex
		out = make(map[Handle]Status)
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, h := range c.Handles() {
		h := h
		g.Go(func() error {
			st, err := c.QueryStatus(ctx, h)
			if err != nil {
				return fmt.Errorf("%s: %w", h, err)
			}
			mu.Lock()
			out[h] = st
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return out, err
}

// SetPosition sets the closed loop position as a percentage of travel.
func (c *Controller) SetPosition(ctx context.Context, h Handle, percent float64) error {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return fmt.Errorf("%w: position %.3f%% not in [0, 100]", ErrOutOfRange, percent)
	}
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	p := c.chanPayload(4)
	binary.LittleEndian.PutUint16(p[2:], uint16(toRaw(percent, 100, c.prof.PositionFullScale)))
	_, err = c.send(ctx, s, profile.CmdSetOutputPos, [2]byte{}, p)
	return err
}

// SetMaxVoltage selects the output voltage limit, routing closed loop
// feedback through the rear panel SMA connector.
func (c *Controller) SetMaxVoltage(ctx context.Context, h Handle, limit float64) error {
	return c.SetIOSettings(ctx, h, limit, FeedbackExtSMA)
}

// SetIOSettings selects the output voltage limit and the feedback source.
func (c *Controller) SetIOSettings(ctx context.Context, h Handle, limit float64, fb FeedbackSource) error {
	code, ok := c.prof.VoltageLimits[int(limit)]
	if !ok || float64(int(limit)) != limit {
		return fmt.Errorf("%w: voltage limit %v not one of %v", ErrOutOfRange, limit, c.prof.Limits())
	}
	if fb < FeedbackHubA || fb > FeedbackExtSMA {
		return fmt.Errorf("%w: feedback source %d", ErrOutOfRange, fb)
	}
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	p := c.chanPayload(10)
	binary.LittleEndian.PutUint16(p[2:], uint16(code))
	binary.LittleEndian.PutUint16(p[4:], uint16(fb))
	if _, err := c.send(ctx, s, profile.CmdSetIOSettings, [2]byte{}, p); err != nil {
		return err
	}
	s.UpdateStatus(func(st *Status) { st.MaxVoltage = limit })
	return nil
}

// SetInputSource selects the analog sources summed into the output.
func (c *Controller) SetInputSource(ctx context.Context, h Handle, src InputSource) error {
	if src > InputExternal|InputPotentiometer {
		return fmt.Errorf("%w: input source 0x%02X", ErrOutOfRange, uint16(src))
	}
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	p := c.chanPayload(4)
	binary.LittleEndian.PutUint16(p[2:], uint16(src))
	_, err = c.send(ctx, s, profile.CmdSetInputVoltsSource, [2]byte{}, p)
	return err
}

// SetControlMode selects open or closed loop operation.
func (c *Controller) SetControlMode(ctx context.Context, h Handle, mode ControlMode) error {
	if mode < OpenLoop || mode > ClosedLoopSmooth {
		return fmt.Errorf("%w: control mode %d", ErrOutOfRange, mode)
	}
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, s, profile.CmdSetPosControlMode, c.chanParams(byte(mode)), nil)
	return err
}

// SetPIConstants sets the closed loop proportional and integral terms.
func (c *Controller) SetPIConstants(ctx context.Context, h Handle, p, i int) error {
	if p < 0 || p > 255 || i < 0 || i > 255 {
		return fmt.Errorf("%w: PI constants %d/%d not in [0, 255]", ErrOutOfRange, p, i)
	}
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	pl := c.chanPayload(6)
	binary.LittleEndian.PutUint16(pl[2:], uint16(p))
	binary.LittleEndian.PutUint16(pl[4:], uint16(i))
	_, err = c.send(ctx, s, profile.CmdSetPIConsts, [2]byte{}, pl)
	return err
}

// HardwareInfo reads the cube's identification block.
func (c *Controller) HardwareInfo(ctx context.Context, h Handle) (HardwareInfo, error) {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return HardwareInfo{}, err
	}
	f, err := c.send(ctx, s, profile.CmdReqInfo, [2]byte{}, nil)
	if err != nil {
		return HardwareInfo{}, err
	}
	return decodeHardwareInfo(f.Payload)
}

// StrainGaugeReading reads the strain gauge of a KSG101 cube. Profiles
// without the reading command fail with ErrUnsupported before
// anything is sent.
func (c *Controller) StrainGaugeReading(ctx context.Context, h Handle) (StrainGaugeReading, error) {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return StrainGaugeReading{}, err
	}
	f, err := c.send(ctx, s, profile.CmdReqTSGReading, c.chanParams(0), nil)
	if err != nil {
		return StrainGaugeReading{}, err
	}
	return decodeStrainGauge(f.Payload)
}

// Identify flashes the cube's front panel LED.
func (c *Controller) Identify(ctx context.Context, h Handle) error {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, s, profile.CmdIdentify, [2]byte{}, nil)
	return err
}

// StartUpdates makes the cube push its status periodically. Pushes refresh
// the cached status and reach the observer.
func (c *Controller) StartUpdates(ctx context.Context, h Handle) error {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, s, profile.CmdStartUpdates, [2]byte{}, nil)
	return err
}

// StopUpdates stops periodic status pushes.
func (c *Controller) StopUpdates(ctx context.Context, h Handle) error {
	s, err := c.reg.Lookup(h)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, s, profile.CmdStopUpdates, [2]byte{}, nil)
	return err
}

func (c *Controller) setVoltage(ctx context.Context, s *link.Session, volts, limit float64) error {
	set, err := c.prof.Command(profile.CmdSetOutputVolts)
	if err != nil {
		return err
	}
	get, err := c.prof.Command(profile.CmdReqOutputVolts)
	if err != nil {
		return err
	}
	p := c.chanPayload(4)
	binary.LittleEndian.PutUint16(p[2:], uint16(toRaw(volts, limit, c.prof.VoltageFullScale)))

	f, err := s.Transact(ctx, 0,
		link.Request{ID: set.ID, Payload: p},
		link.Request{ID: get.ID, Params: c.chanParams(0), Reply: get.Reply},
	)
	if err != nil {
		return c.failed(s, profile.CmdSetOutputVolts, err)
	}
	if len(f.Payload) < 4 {
		return fmt.Errorf("%s: %w: %d bytes", profile.CmdGetOutputVolts, ErrShortReply, len(f.Payload))
	}
	got := fromRaw(int16(binary.LittleEndian.Uint16(f.Payload[2:])), limit, c.prof.VoltageFullScale)
	s.UpdateStatus(func(st *Status) {
		st.Voltage = got
		st.ErrorCode = 0
	})
	c.log.Debug().Str("endpoint", s.Address().Endpoint).Float64("volts", got).Msg("output voltage set")
	return nil
}

func (c *Controller) queryStatus(ctx context.Context, s *link.Session) (Status, error) {
	f, err := c.send(ctx, s, profile.CmdReqStatusUpdate, c.chanParams(0), nil)
	if err != nil {
		return Status{}, err
	}
	if len(f.Payload) < statusLen {
		return Status{}, fmt.Errorf("%s: %w: %d bytes", profile.CmdGetStatusUpdate, ErrShortReply, len(f.Payload))
	}
	return c.applyStatus(s, f.Payload), nil
}

// applyStatus decodes a status payload into the session cache.
func (c *Controller) applyStatus(s *link.Session, p []byte) Status {
	return s.UpdateStatus(func(st *Status) {
		limit := st.MaxVoltage
		if limit == 0 {
			limit = c.prof.VoltageLimit
		}
		bits := binary.LittleEndian.Uint32(p[6:])
		sb := c.prof.StatusBits

		st.Valid = true
		st.MaxVoltage = limit
		st.Voltage = fromRaw(int16(binary.LittleEndian.Uint16(p[2:])), limit, c.prof.VoltageFullScale)
		st.Position = fromRaw(int16(binary.LittleEndian.Uint16(p[4:])), 100, c.prof.PositionFullScale)
		st.Bits = bits
		st.OutputEnabled = bits&sb.Enabled != 0
		st.ClosedLoop = bits&sb.ClosedLoop != 0
		st.ActuatorConnected = bits&sb.ActuatorConnected != 0
		st.HasPosition = st.ActuatorConnected
		st.UpdatedAt = time.Now()
	})
}

// send issues one profile command and waits for its reply, if it has one.
func (c *Controller) send(ctx context.Context, s *link.Session, name string, params [2]byte, payload []byte) (frame.Frame, error) {
	cmd, err := c.prof.Command(name)
	if err != nil {
		return frame.Frame{}, err
	}
	f, err := s.SendCommand(ctx, link.Request{ID: cmd.ID, Params: params, Payload: payload, Reply: cmd.Reply}, 0)
	if err != nil {
		return frame.Frame{}, c.failed(s, name, err)
	}
	return f, nil
}

func (c *Controller) failed(s *link.Session, name string, err error) error {
	var rej *DeviceRejectedError
	if errors.As(err, &rej) {
		s.UpdateStatus(func(st *Status) { st.ErrorCode = rej.Code })
	}
	c.log.Debug().Err(err).Str("endpoint", s.Address().Endpoint).Str("command", name).Msg("command failed")
	return fmt.Errorf("%s: %w", name, err)
}

// observe handles frames that answered no command.
func (c *Controller) observe(s *link.Session, f frame.Frame) {
	m := Message{ID: f.ID, Node: f.Src, Params: f.Params, Payload: f.Payload}

	if push, err := c.prof.Command(profile.CmdGetStatusUpdate); err == nil && f.ID == push.ID && len(f.Payload) >= statusLen {
		st := c.applyStatus(s, f.Payload)
		m.Status = &st
		if ack, err := c.prof.Command(profile.CmdAckStatusUpdate); err == nil {
			go c.ack(s, ack.ID)
		}
	}

	if c.cfg.Observer == nil {
		return
	}
	h, ok := c.reg.HandleOf(s.Address())
	if !ok {
		return
	}
	c.cfg.Observer(h, m)
}

// ack keeps update messages flowing; cubes stop pushing when unacknowledged.
func (c *Controller) ack(s *link.Session, id uint16) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	if _, err := s.SendCommand(ctx, link.Request{ID: id}, 0); err != nil && !errors.Is(err, ErrSessionClosed) {
		c.log.Debug().Err(err).Msg("status ack failed")
	}
}

func (c *Controller) chanParams(p2 byte) [2]byte {
	return [2]byte{byte(c.channel), p2}
}

func (c *Controller) chanPayload(n int) []byte {
	p := make([]byte, n)
	binary.LittleEndian.PutUint16(p, c.channel)
	return p
}

func checkVoltage(v, limit float64) error {
	if math.IsNaN(v) || v < 0 || v > limit {
		return fmt.Errorf("%w: %.3f V not in [0, %g]", ErrOutOfRange, v, limit)
	}
	return nil
}

func toRaw(v, limit float64, fullScale int) int16 {
	return int16(math.Round(v * float64(fullScale) / limit))
}

func fromRaw(raw int16, limit float64, fullScale int) float64 {
	return float64(raw) * limit / float64(fullScale)
}
