//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package backend

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueueBackend implements Backend on BSD/Darwin using kqueue's native
// EVFILT_TIMER and EVFILT_USER filters. Unlike epoll, timers and user
// events consume no extra fd.
//
// mu guards the attachment maps against TriggerUser being called from a
// goroutine other than the reactor's own, the one method on this type
// meant to be safe for that (see the equivalent comment on
// epollBackend).
type kqueueBackend struct {
	kq int
	mu sync.RWMutex

	readAttachments  map[int]interface{}
	timerAttachments map[uint16]interface{}
	userAttachments  map[uint16]interface{}

	events []unix.Kevent_t
}

// New opens the kqueue instance backing a reactor.
func New() (Backend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("kqueue", err), "create backend")
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, "create backend")
	}
	return &kqueueBackend{
		kq:               fd,
		readAttachments:  make(map[int]interface{}),
		timerAttachments: make(map[uint16]interface{}),
		userAttachments:  make(map[uint16]interface{}),
		events:           make([]unix.Kevent_t, BatchSize),
	}, nil
}

func (b *kqueueBackend) submit(ev unix.Kevent_t) error {
	_, err := unix.Kevent(b.kq, []unix.Kevent_t{ev}, nil, nil)
	if err != nil && err != unix.EINPROGRESS {
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

func (b *kqueueBackend) RegisterServerRead(fd int, attachment interface{}) error {
	err := b.submit(unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	})
	if err != nil {
		return errors.Wrap(err, "register server read")
	}
	b.mu.Lock()
	b.readAttachments[fd] = attachment
	b.mu.Unlock()
	return nil
}

func (b *kqueueBackend) RegisterPeerRead(fd int, attachment interface{}) error {
	err := b.submit(unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	})
	if err != nil {
		return errors.Wrap(err, "register peer read")
	}
	b.mu.Lock()
	b.readAttachments[fd] = attachment
	b.mu.Unlock()
	return nil
}

// UnregisterServerRead deletes the EVFILT_READ registration for the
// listening fd. Must stay EVFILT_READ, not EVFILT_USER — the two filter
// namespaces are unrelated and deleting the wrong one silently leaves
// the listening fd armed.
func (b *kqueueBackend) UnregisterServerRead(fd int) error {
	b.mu.Lock()
	delete(b.readAttachments, fd)
	b.mu.Unlock()
	err := b.submit(unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	return errors.Wrap(err, "unregister server read")
}

func (b *kqueueBackend) UnregisterPeerRead(fd int) error {
	b.mu.Lock()
	delete(b.readAttachments, fd)
	b.mu.Unlock()
	err := b.submit(unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	return errors.Wrap(err, "unregister peer read")
}

// RegisterTimer adds an EVFILT_TIMER event with NOTE_CRITICAL, carrying
// the interval in milliseconds as Data; kqueue rearms it automatically.
func (b *kqueueBackend) RegisterTimer(id uint16, intervalMS uint32, attachment interface{}) error {
	err := b.submit(unix.Kevent_t{
		Ident:  uint64(id),
		Filter: unix.EVFILT_TIMER,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
		Fflags: unix.NOTE_CRITICAL,
		Data:   int64(intervalMS),
	})
	if err != nil {
		return errors.Wrap(err, "register timer")
	}
	b.mu.Lock()
	b.timerAttachments[id] = attachment
	b.mu.Unlock()
	return nil
}

func (b *kqueueBackend) UnregisterTimer(id uint16) error {
	b.mu.Lock()
	if _, ok := b.timerAttachments[id]; !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.timerAttachments, id)
	b.mu.Unlock()
	err := b.submit(unix.Kevent_t{Ident: uint64(id), Filter: unix.EVFILT_TIMER, Flags: unix.EV_DELETE})
	return errors.Wrap(err, "unregister timer")
}

// RegisterUser adds an EVFILT_USER event with EV_CLEAR, which is what
// gives trigger_user_event its coalescing semantics: once fired, the
// filter's state resets and must be explicitly re-triggered.
func (b *kqueueBackend) RegisterUser(id uint16, attachment interface{}) error {
	err := b.submit(unix.Kevent_t{
		Ident:  uint64(id),
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	})
	if err != nil {
		return errors.Wrap(err, "register user event")
	}
	b.mu.Lock()
	b.userAttachments[id] = attachment
	b.mu.Unlock()
	return nil
}

// TriggerUser is safe to call from any goroutine; the attachment lookup
// takes the read lock rather than assuming the reactor's own goroutine.
func (b *kqueueBackend) TriggerUser(id uint16) error {
	b.mu.RLock()
	_, ok := b.userAttachments[id]
	b.mu.RUnlock()
	if !ok {
		return errors.New("trigger unknown user event")
	}
	err := b.submit(unix.Kevent_t{
		Ident:  uint64(id),
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	})
	return errors.Wrap(err, "trigger user event")
}

func (b *kqueueBackend) UnregisterUser(id uint16) error {
	b.mu.Lock()
	if _, ok := b.userAttachments[id]; !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.userAttachments, id)
	b.mu.Unlock()
	err := b.submit(unix.Kevent_t{Ident: uint64(id), Filter: unix.EVFILT_USER, Flags: unix.EV_DELETE})
	return errors.Wrap(err, "unregister user event")
}

func (b *kqueueBackend) Wait(timeoutMS int64, out []SlotEvent) (int, error) {
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		spec := unix.NsecToTimespec(timeoutMS * int64(1e6))
		ts = &spec
	}
	n, err := unix.Kevent(b.kq, nil, b.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("kevent", err)
	}
	count := 0
	b.mu.RLock()
	for i := 0; i < n && count < len(out); i++ {
		ev := b.events[i]
		switch ev.Filter {
		case unix.EVFILT_READ:
			if att, ok := b.readAttachments[int(ev.Ident)]; ok {
				out[count] = SlotEvent{Filter: FilterRead, EOF: ev.Flags&unix.EV_EOF != 0, Attachment: att}
				count++
			}
		case unix.EVFILT_TIMER:
			if att, ok := b.timerAttachments[uint16(ev.Ident)]; ok {
				out[count] = SlotEvent{Filter: FilterTimer, Attachment: att}
				count++
			}
		case unix.EVFILT_USER:
			if att, ok := b.userAttachments[uint16(ev.Ident)]; ok {
				out[count] = SlotEvent{Filter: FilterUser, Attachment: att}
				count++
			}
		}
		// Any other filter, or an attachment not found: skip silently.
	}
	b.mu.RUnlock()
	return count, nil
}

func (b *kqueueBackend) Close() error {
	return os.NewSyscallError("close", unix.Close(b.kq))
}
