package link

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/allbin/go-kpz/internal/frame"
	"github.com/allbin/go-kpz/transport"
)

// State is the lifecycle state of a session. Closed is terminal.
type State int32

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Request is one outgoing command. Reply is the message id of the expected
// answer; zero means the command is fire-and-forget.
type Request struct {
	ID      uint16
	Params  [2]byte
	Payload []byte
	Reply   uint16
}

type pendingKey struct {
	id   uint16
	node byte
}

type result struct {
	f   frame.Frame
	err error
}

// Session owns the conversation with one cube over one transport. Commands
// are serialised: a second caller waits until the first has its reply.
type Session struct {
	cfg    Config
	tr     transport.Transport
	addr   Address
	codec  *frame.Codec
	log    zerolog.Logger
	reject map[uint16]bool

	sem chan struct{}

	mu       sync.Mutex
	pending  map[pendingKey]chan result
	inflight map[uint16]bool // command ids of the transaction awaiting a reply
	status   Status
	state    State

	closing   chan struct{}
	done      chan struct{}
	shutOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// New starts a session on tr. No frames are sent.
func New(tr transport.Transport, addr Address, cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	codec, err := frame.NewCodec(cfg.Layout)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		tr:      tr,
		addr:    addr,
		codec:   codec,
		reject:  make(map[uint16]bool, len(cfg.Reject)),
		sem:     make(chan struct{}, 1),
		pending: make(map[pendingKey]chan result),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, id := range cfg.Reject {
		s.reject[id] = true
	}
	s.log = cfg.Logger.With().
		Str("endpoint", addr.Endpoint).
		Hex("node", []byte{addr.Node}).
		Logger()

	go s.readLoop()
	return s, nil
}

// Address returns the physical address the session talks to.
func (s *Session) Address() Address { return s.addr }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed is closed once the session has left the Open state.
func (s *Session) Closed() <-chan struct{} { return s.closing }

// Status returns a copy of the cached status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// UpdateStatus applies fn to the cached status under the session lock and
// returns the result.
func (s *Session) UpdateStatus(fn func(*Status)) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
	return s.status
}

// SendCommand writes req and, when req.Reply is set, waits up to timeout for
// the reply from this session's node. A timed-out command is re-sent up to
// Config.Retries times. Transport errors are returned at once.
func (s *Session) SendCommand(ctx context.Context, req Request, timeout time.Duration) (frame.Frame, error) {
	return s.Transact(ctx, timeout, req)
}

// Transact writes reqs back to back while holding the session and waits for
// the reply to the last one. Only the last request may expect a reply. An
// error report from the cube at any point fails the whole transaction, which
// lets a fire-and-forget setter be confirmed by a trailing query. On timeout
// the whole sequence is re-sent.
func (s *Session) Transact(ctx context.Context, timeout time.Duration, reqs ...Request) (frame.Frame, error) {
	if len(reqs) == 0 {
		return frame.Frame{}, nil
	}
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}

	frames := make([]frame.Frame, len(reqs))
	raws := make([][]byte, len(reqs))
	for i, req := range reqs {
		if req.Reply != 0 && i != len(reqs)-1 {
			return frame.Frame{}, fmt.Errorf("link: request 0x%04X expects a reply but is not last", req.ID)
		}
		frames[i] = frame.Frame{
			ID:      req.ID,
			Dest:    s.addr.Node,
			Src:     s.cfg.Host,
			Params:  req.Params,
			Payload: req.Payload,
		}
		raw, err := s.codec.Encode(frames[i])
		if err != nil {
			return frame.Frame{}, err
		}
		raws[i] = raw
	}
	last := reqs[len(reqs)-1]

	if err := s.acquire(ctx); err != nil {
		return frame.Frame{}, err
	}
	defer func() { <-s.sem }()

	var ch chan result
	if last.Reply != 0 {
		key := pendingKey{id: last.Reply, node: s.addr.Node}
		ch = make(chan result, 1)
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return frame.Frame{}, ErrSessionClosed
		}
		s.pending[key] = ch
		s.inflight = make(map[uint16]bool, len(reqs))
		for _, req := range reqs {
			s.inflight[req.ID] = true
		}
		s.mu.Unlock()
		defer s.forget(key, ch)
	}

	for attempt := 1; ; attempt++ {
		for i := range raws {
			if err := s.write(raws[i], frames[i]); err != nil {
				return frame.Frame{}, err
			}
		}
		if ch == nil {
			return frame.Frame{}, nil
		}

		timer := time.NewTimer(timeout)
		select {
		case r := <-ch:
			timer.Stop()
			return r.f, r.err
		case <-timer.C:
			if attempt <= s.cfg.Retries {
				s.log.Debug().Uint16("id", last.ID).Int("attempt", attempt).Msg("no reply, resending")
				continue
			}
			return frame.Frame{}, fmt.Errorf("%w: 0x%04X after %d attempts", ErrCommandTimeout, last.ID, attempt)
		case <-ctx.Done():
			timer.Stop()
			return frame.Frame{}, ctx.Err()
		case <-s.closing:
			timer.Stop()
			select {
			case r := <-ch:
				return r.f, r.err
			default:
				return frame.Frame{}, ErrSessionClosed
			}
		}
	}
}

// Close moves the session to Closed, fails pending requests with
// ErrSessionClosed, closes the transport and waits for the read loop.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.markClosed(ErrSessionClosed)
		if err := s.tr.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			s.closeErr = &TransportError{Op: "close", Endpoint: s.addr.Endpoint, Err: err}
		}
		<-s.done
		s.log.Debug().Msg("session closed")
	})
	return s.closeErr
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case <-s.closing:
		return ErrSessionClosed
	default:
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closing:
		return ErrSessionClosed
	}
}

func (s *Session) write(raw []byte, f frame.Frame) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	n, err := s.tr.Write(raw)
	if err == nil && n != len(raw) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if s.State() == StateClosed {
			return ErrSessionClosed
		}
		terr := &TransportError{Op: "write", Endpoint: s.addr.Endpoint, Err: err}
		if errors.Is(err, transport.ErrClosed) {
			s.markClosed(terr)
		}
		return terr
	}
	s.trace(DirSent, f, raw, "")
	return nil
}

func (s *Session) forget(key pendingKey, ch chan result) {
	s.mu.Lock()
	if s.pending[key] == ch {
		delete(s.pending, key)
	}
	s.inflight = nil
	s.mu.Unlock()
}

// failPending completes every pending request with err.
func (s *Session) failPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[pendingKey]chan result)
	s.mu.Unlock()
	for _, ch := range pending {
		ch <- result{err: err}
	}
}

// markClosed fails pending requests with cause and enters Closed.
func (s *Session) markClosed(cause error) {
	s.shutOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.failPending(cause)
		close(s.closing)
	})
}

func (s *Session) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *Session) readLoop() {
	defer close(s.done)

	buf := make([]byte, s.cfg.ReadBuffer)
	dec := frame.NewDecoder(s.codec)
	failures := 0

	for {
		if s.isClosing() {
			return
		}
		n, err := s.tr.Read(buf, s.cfg.PollInterval)
		if err != nil {
			if s.isClosing() {
				return
			}
			terr := &TransportError{Op: "read", Endpoint: s.addr.Endpoint, Err: err}
			if errors.Is(err, transport.ErrClosed) {
				s.log.Warn().Err(err).Msg("transport closed")
				s.markClosed(terr)
				return
			}
			s.failPending(terr)
			dec.Reset()

			failures++
			delay := NextBackoffDelay(s.cfg.Backoff, failures, nil)
			s.log.Warn().Err(err).Int("failures", failures).Dur("backoff", delay).Msg("read failed")
			select {
			case <-s.closing:
				return
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		if n == 0 {
			continue
		}
		dec.Feed(buf[:n])
		s.drain(dec)
	}
}

func (s *Session) drain(dec *frame.Decoder) {
	for {
		before := dec.Dropped()
		f, err := dec.Next()
		switch {
		case err == nil:
			s.trace(DirReceived, f, nil, "")
			s.dispatch(f)
		case errors.Is(err, frame.ErrNeedMoreBytes):
			return
		default:
			s.log.Debug().Err(err).Int("dropped", dec.Dropped()-before).Msg("discarding malformed input")
			s.trace(DirDropped, frame.Frame{}, dec.Skipped(), err.Error())
		}
	}
}

func (s *Session) dispatch(f frame.Frame) {
	key := pendingKey{id: f.ID, node: f.Src}

	s.mu.Lock()
	if ch, ok := s.pending[key]; ok {
		delete(s.pending, key)
		s.mu.Unlock()
		ch <- result{f: f}
		return
	}
	if s.reject[f.ID] && f.Src == s.addr.Node && len(s.pending) > 0 {
		rej := rejection(f)
		// A report naming a command outside the current transaction belongs
		// to an earlier fire-and-forget command.
		if rej.Command == 0 || s.inflight[rej.Command] {
			s.mu.Unlock()
			s.log.Warn().Err(rej).Msg("command rejected")
			s.failPending(rej)
			return
		}
		s.mu.Unlock()
		s.log.Warn().Err(rej).Msg("earlier command rejected")
		if s.cfg.Observer != nil {
			s.cfg.Observer(s, f)
		}
		return
	}
	s.mu.Unlock()

	if s.cfg.Observer != nil {
		s.cfg.Observer(s, f)
	}
}

func (s *Session) trace(dir Direction, f frame.Frame, raw []byte, msg string) {
	if s.cfg.Tracer == nil {
		return
	}
	if raw == nil && dir == DirReceived {
		raw, _ = s.codec.Encode(f)
	}
	s.cfg.Tracer.Trace(Event{
		Time:     time.Now(),
		Endpoint: s.addr.Endpoint,
		Dir:      dir,
		Frame:    f,
		Raw:      raw,
		Err:      msg,
	})
}

// rejection decodes a short (params only) or rich (payload) error report.
func rejection(f frame.Frame) *DeviceRejectedError {
	e := &DeviceRejectedError{MsgID: f.ID}
	p := f.Payload
	if len(p) < 4 {
		e.Code = binary.LittleEndian.Uint16(f.Params[:])
		return e
	}
	e.Command = binary.LittleEndian.Uint16(p[0:])
	e.Code = binary.LittleEndian.Uint16(p[2:])
	notes := p[4:]
	if i := bytes.IndexByte(notes, 0); i >= 0 {
		notes = notes[:i]
	}
	e.Message = string(bytes.TrimSpace(notes))
	return e
}
