// Package reactor implements the single-threaded event loop described by
// this repository's core specification: it multiplexes interval timers,
// user-triggered wakeups and TCP servers (with their accepted peers) over
// an OS readiness backend (kqueue on BSD/Darwin, epoll on Linux), owns
// every registered source by a caller-supplied 16-bit id, and dispatches
// readiness to user callbacks.
//
// The control-flow shape is a single backend.Wait call feeding a
// dispatch switch, with a two-phase mark/drain removal protocol so a
// callback may safely remove any source including itself. Each
// registered source carries its own *registry.Record as an ordinary Go
// interface value, so the dispatch switch routes on a type switch
// rather than an unsafe.Pointer cast.
package reactor

import (
	"net"

	"github.com/pkg/errors"

	"github.com/stack/woodpeckers/internal/backend"
	"github.com/stack/woodpeckers/internal/logging"
	"github.com/stack/woodpeckers/internal/registry"
)

// StopID is the reserved user-event id the reactor uses internally to
// implement Stop. All other ids are available for caller-registered
// user events.
const StopID uint16 = 0xFFFF

// ErrDuplicateID is returned by an Add* call when id is already
// registered within that kind.
var ErrDuplicateID = errors.New("reactor: id already registered")

// ErrReservedID is returned by AddUserEvent(StopID, ...) called by
// anything other than the reactor itself.
var ErrReservedID = errors.New("reactor: id 0xFFFF is reserved for the internal stop wakeup")

// TimerFiredFunc is invoked on every firing of a registered timer.
type TimerFiredFunc func(r *Reactor, id uint16, ctx interface{})

// UserEventFiredFunc is invoked once per drained batch for each triggered
// user event.
type UserEventFiredFunc func(r *Reactor, id uint16, ctx interface{})

// ShouldAcceptFunc decides whether to complete accepting a new peer
// connection. A nil callback always accepts.
type ShouldAcceptFunc func(r *Reactor, serverID uint16, remoteAddr net.Addr, ctx interface{}) bool

// DidAcceptFunc is invoked once a peer connection has been accepted and
// registered for read readiness.
type DidAcceptFunc func(r *Reactor, serverID, peerID uint16, remoteAddr net.Addr, ctx interface{})

// DidReceiveDataFunc is invoked with bytes read from a peer. data is only
// valid for the duration of the call; the reactor reuses the backing
// buffer on the peer's next read.
type DidReceiveDataFunc func(r *Reactor, serverID, peerID uint16, data []byte, ctx interface{})

// PeerDidDisconnectFunc is invoked when a peer hangs up or a read on it
// fails. Peers dropped by RemoveServer do not trigger it.
type PeerDidDisconnectFunc func(r *Reactor, serverID, peerID uint16, ctx interface{})

// ServerDescriptor is the input to AddServer.
type ServerDescriptor struct {
	ID   uint16
	Port int

	ShouldAccept      ShouldAcceptFunc
	DidAccept         DidAcceptFunc
	DidReceiveData    DidReceiveDataFunc
	PeerDidDisconnect PeerDidDisconnectFunc
}

type serverPayload struct {
	fd   int
	port int

	shouldAccept      ShouldAcceptFunc
	didAccept         DidAcceptFunc
	didReceiveData    DidReceiveDataFunc
	peerDidDisconnect PeerDidDisconnectFunc
}

type peerPayload struct {
	fd       int
	serverID uint16
	buf      []byte

	didReceiveData    DidReceiveDataFunc
	peerDidDisconnect PeerDidDisconnectFunc
}

type timerPayload struct {
	intervalMS uint32
	timerFired TimerFiredFunc
}

type userPayload struct {
	userEventFired UserEventFiredFunc
}

// Reactor is the event loop. The zero value is not usable; construct one
// with New.
type Reactor struct {
	backend backend.Backend
	logger  logging.Logger

	servers *registry.Table[*serverPayload]
	peers   *registry.Table[*peerPayload]
	timers  *registry.Table[*timerPayload]
	users   *registry.Table[*userPayload]

	peerCounter uint32
	ctx         interface{}
	keepRunning bool

	batch []backend.SlotEvent
}

// New creates a reactor, opening the OS readiness backend and installing
// the reserved stop wakeup. It fails only if the backend itself cannot be
// created.
func New() (*Reactor, error) {
	return NewWithLogger(logging.Default)
}

// NewWithLogger creates a reactor that logs anomalies through logger
// instead of the package-level default.
func NewWithLogger(logger logging.Logger) (*Reactor, error) {
	be, err := backend.New()
	if err != nil {
		return nil, errors.Wrap(err, "create reactor")
	}
	r := &Reactor{
		backend: be,
		logger:  logger,
		servers: registry.New[*serverPayload](),
		peers:   registry.New[*peerPayload](),
		timers:  registry.New[*timerPayload](),
		users:   registry.New[*userPayload](),
		batch:   make([]backend.SlotEvent, backend.BatchSize),
	}
	payload := &userPayload{userEventFired: func(rr *Reactor, _ uint16, _ interface{}) {
		rr.keepRunning = false
	}}
	rec, _ := r.users.Insert(StopID, payload)
	if err := r.backend.RegisterUser(StopID, rec); err != nil {
		_ = be.Close()
		return nil, errors.Wrap(err, "create reactor: install stop wakeup")
	}
	return r, nil
}

// SetCallbackContext installs the opaque pointer threaded to every
// callback invocation. Ownership of the pointee remains the caller's.
func (r *Reactor) SetCallbackContext(ctx interface{}) {
	r.ctx = ctx
}

// Destroy releases every resource the reactor owns: every peer and server
// socket, every timer and user-event descriptor, and the backend itself.
// Unlike RemoveServer/RemoveTimer/RemoveUserEvent, Destroy does not wait
// for a following run_once to drain — it closes everything synchronously,
// since there is no longer a dispatch batch whose in-flight references
// must be respected.
func (r *Reactor) Destroy() error {
	releasePeer := func(rec *registry.Record[*peerPayload]) {
		_ = r.backend.UnregisterPeerRead(rec.Payload.fd)
		_ = closeFD(rec.Payload.fd)
	}
	r.peers.Each(releasePeer)
	// A peer removed (e.g. via RemoveServer or a disconnect) since the
	// last RunOnce sits in the pending queue, not in byID, so Each above
	// never sees it; Drain must release it with the same closure or its
	// fd is never closed.
	r.peers.Drain(releasePeer)

	releaseServer := func(rec *registry.Record[*serverPayload]) {
		_ = r.backend.UnregisterServerRead(rec.Payload.fd)
		_ = closeFD(rec.Payload.fd)
	}
	r.servers.Each(releaseServer)
	r.servers.Drain(releaseServer)

	r.timers.Each(func(rec *registry.Record[*timerPayload]) {
		_ = r.backend.UnregisterTimer(rec.ID)
	})
	r.timers.Drain(func(*registry.Record[*timerPayload]) {})

	r.users.Each(func(rec *registry.Record[*userPayload]) {
		_ = r.backend.UnregisterUser(rec.ID)
	})
	r.users.Drain(func(*registry.Record[*userPayload]) {})

	return r.backend.Close()
}
