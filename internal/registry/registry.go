// Package registry maps opaque handles to live link sessions and enforces
// one session per physical address.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/allbin/go-kpz/internal/link"
	"github.com/allbin/go-kpz/transport"
)

var (
	ErrAddressInUse  = errors.New("address already registered")
	ErrUnknownHandle = errors.New("unknown handle")
)

// Handle identifies a registered cube for the lifetime of the process.
type Handle uuid.UUID

// Nil is the zero handle; it is never issued.
var Nil Handle

func (h Handle) String() string { return uuid.UUID(h).String() }

// ParseHandle parses the textual form returned by Handle.String.
func ParseHandle(s string) (Handle, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("%w: %q", ErrUnknownHandle, s)
	}
	return Handle(u), nil
}

// Factory starts a session on tr for addr.
type Factory func(tr transport.Transport, addr link.Address) (*link.Session, error)

type entry struct {
	handle  Handle
	session *link.Session
}

// Registry is safe for concurrent use.
type Registry struct {
	factory Factory

	mu        sync.RWMutex
	byHandle  map[Handle]*entry
	byAddress map[link.Address]*entry
}

// New returns an empty registry that builds sessions with factory.
func New(factory Factory) *Registry {
	return &Registry{
		factory:   factory,
		byHandle:  make(map[Handle]*entry),
		byAddress: make(map[link.Address]*entry),
	}
}

// Register starts a session for addr on tr and returns its handle. When addr
// is already registered it fails with ErrAddressInUse and tr is left
// untouched.
func (r *Registry) Register(tr transport.Transport, addr link.Address) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byAddress[addr]; ok {
		return Nil, fmt.Errorf("%w: %s node 0x%02X (handle %s)", ErrAddressInUse, addr.Endpoint, addr.Node, e.handle)
	}
	s, err := r.factory(tr, addr)
	if err != nil {
		return Nil, err
	}

	e := &entry{handle: Handle(uuid.New()), session: s}
	r.byHandle[e.handle] = e
	r.byAddress[addr] = e
	return e.handle, nil
}

// InUse reports whether a session exists for addr.
func (r *Registry) InUse(addr link.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAddress[addr]
	return ok
}

// HandleOf returns the handle registered for addr.
func (r *Registry) HandleOf(addr link.Address) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byAddress[addr]
	if !ok {
		return Nil, false
	}
	return e.handle, true
}

// Lookup returns the session for h.
func (r *Registry) Lookup(h Handle) (*link.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byHandle[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return e.session, nil
}

// Deregister removes h and closes its session. Requests in flight on the
// session fail with link.ErrSessionClosed.
func (r *Registry) Deregister(h Handle) error {
	r.mu.Lock()
	e, ok := r.byHandle[h]
	if ok {
		delete(r.byHandle, h)
		delete(r.byAddress, e.session.Address())
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return e.session.Close()
}

// Handles returns all registered handles in a stable order.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	out := make([]Handle, 0, len(r.byHandle))
	for h := range r.byHandle {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}

// CloseAll deregisters every handle and returns the joined close errors.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, h := range r.Handles() {
		if err := r.Deregister(h); err != nil && !errors.Is(err, ErrUnknownHandle) {
			errs = append(errs, fmt.Errorf("close %s: %w", h, err))
		}
	}
	return errors.Join(errs...)
}
