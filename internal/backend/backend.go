// Package backend provides the OS-specific readiness primitive behind the
// reactor: kqueue on BSD/Darwin, epoll (plus timerfd and eventfd) on Linux.
// It is the narrowest contract both facilities can satisfy; the reactor
// never sees kqueue/epoll types directly.
package backend

import "fmt"

// Filter classifies one readiness notification returned by Wait.
type Filter int

// The three readiness filters the backend can report.
const (
	FilterRead Filter = iota
	FilterTimer
	FilterUser
)

// String implements fmt.Stringer.
func (f Filter) String() string {
	switch f {
	case FilterRead:
		return "Read"
	case FilterTimer:
		return "Timer"
	case FilterUser:
		return "User"
	default:
		return fmt.Sprintf("Filter(%d)", int(f))
	}
}

// BatchSize bounds the number of slot events a single Wait call returns.
// Small values preserve fairness across kinds, since the reactor drains
// its deferred-free list between batches.
const BatchSize = 5

// SlotEvent is one readiness notification translated from the OS-specific
// representation into the reactor's vocabulary. Attachment is whatever
// value the caller passed to the matching Register* call, handed back
// verbatim so the dispatcher can route without re-looking-up the source.
type SlotEvent struct {
	Filter     Filter
	EOF        bool
	Attachment interface{}
}

// Backend is the OS readiness primitive the reactor drives. Every method
// is called from the reactor's single goroutine except TriggerUser, which
// may be called from any goroutine; implementations guard their
// attachment maps with a lock for that case.
type Backend interface {
	// Wait blocks up to timeoutMS (-1 indefinite, 0 poll) and fills out
	// with up to BatchSize slot events, returning how many were written.
	Wait(timeoutMS int64, out []SlotEvent) (int, error)

	// RegisterServerRead and RegisterPeerRead arm read-readiness on a
	// listening or connected socket fd, attaching attachment for retrieval
	// in the returned SlotEvent.
	RegisterServerRead(fd int, attachment interface{}) error
	RegisterPeerRead(fd int, attachment interface{}) error

	// RegisterTimer arms a periodic timer identified by id, firing every
	// intervalMS until UnregisterTimer(id) is called.
	RegisterTimer(id uint16, intervalMS uint32, attachment interface{}) error

	// RegisterUser arms a coalescing, caller-triggerable wakeup.
	RegisterUser(id uint16, attachment interface{}) error

	// TriggerUser wakes the backend's Wait with exactly one FilterUser
	// notification per drained batch, regardless of how many times
	// TriggerUser was called in between.
	TriggerUser(id uint16) error

	// UnregisterServerRead and UnregisterPeerRead remove the given fd's
	// read registration. The caller closes the fd itself.
	UnregisterServerRead(fd int) error
	UnregisterPeerRead(fd int) error

	// UnregisterTimer and UnregisterUser remove the registration for id
	// and release any descriptor the backend owns for it (timerfd/eventfd
	// on epoll; nothing extra on kqueue).
	UnregisterTimer(id uint16) error
	UnregisterUser(id uint16) error

	// Close releases the backend's own descriptor (the kqueue or epoll fd).
	Close() error
}
