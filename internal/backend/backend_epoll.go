//go:build linux
// +build linux

package backend

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const readFlags = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLPRI

// epollBackend implements Backend on Linux using epoll, with timerfd for
// periodic timers and eventfd for coalescing user wakeups.
//
// Every method, Wait included, is meant to be called from the reactor's own
// goroutine, with one exception: TriggerUser must be safe to call from
// any goroutine, since waking the reactor (e.g. to implement Stop from an
// OS signal handler) is the entire point of a user event. mu guards the
// attachment maps against that cross-goroutine case.
type epollBackend struct {
	epfd int
	mu   sync.RWMutex

	readAttachments  map[int]interface{}
	timerFDs         map[uint16]int
	timerAttachments map[int]interface{}
	userFDs          map[uint16]int
	userAttachments  map[int]interface{}

	events []unix.EpollEvent
}

// New opens the epoll instance backing a reactor. It fails if
// epoll_create1 fails.
func New() (Backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("epoll_create1", err), "create backend")
	}
	return &epollBackend{
		epfd:             fd,
		readAttachments:  make(map[int]interface{}),
		timerFDs:         make(map[uint16]int),
		timerAttachments: make(map[int]interface{}),
		userFDs:          make(map[uint16]int),
		userAttachments:  make(map[int]interface{}),
		events:           make([]unix.EpollEvent, BatchSize),
	}, nil
}

func (b *epollBackend) ctl(op int, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if op == unix.EPOLL_CTL_DEL {
		return os.NewSyscallError("epoll_ctl", unix.EpollCtl(b.epfd, op, fd, nil))
	}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(b.epfd, op, fd, &ev))
}

func (b *epollBackend) RegisterServerRead(fd int, attachment interface{}) error {
	if err := b.ctl(unix.EPOLL_CTL_ADD, fd, readFlags); err != nil {
		return errors.Wrap(err, "register server read")
	}
	b.mu.Lock()
	b.readAttachments[fd] = attachment
	b.mu.Unlock()
	return nil
}

func (b *epollBackend) RegisterPeerRead(fd int, attachment interface{}) error {
	if err := b.ctl(unix.EPOLL_CTL_ADD, fd, readFlags); err != nil {
		return errors.Wrap(err, "register peer read")
	}
	b.mu.Lock()
	b.readAttachments[fd] = attachment
	b.mu.Unlock()
	return nil
}

func (b *epollBackend) UnregisterServerRead(fd int) error {
	b.mu.Lock()
	delete(b.readAttachments, fd)
	b.mu.Unlock()
	return errors.Wrap(b.ctl(unix.EPOLL_CTL_DEL, fd, 0), "unregister server read")
}

func (b *epollBackend) UnregisterPeerRead(fd int) error {
	b.mu.Lock()
	delete(b.readAttachments, fd)
	b.mu.Unlock()
	return errors.Wrap(b.ctl(unix.EPOLL_CTL_DEL, fd, 0), "unregister peer read")
}

// RegisterTimer creates a CLOCK_MONOTONIC timerfd armed with
// it_value == it_interval == intervalMS, so it fires periodically without
// rearming, and adds it to the epoll set for EPOLLIN.
func (b *epollBackend) RegisterTimer(id uint16, intervalMS uint32, attachment interface{}) error {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return errors.Wrap(os.NewSyscallError("timerfd_create", err), "register timer")
	}
	spec := msToItimerspec(intervalMS)
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		_ = unix.Close(fd)
		return errors.Wrap(os.NewSyscallError("timerfd_settime", err), "register timer")
	}
	if err := b.ctl(unix.EPOLL_CTL_ADD, fd, unix.EPOLLIN); err != nil {
		_ = unix.Close(fd)
		return errors.Wrap(err, "register timer")
	}
	b.mu.Lock()
	b.timerFDs[id] = fd
	b.timerAttachments[fd] = attachment
	b.mu.Unlock()
	return nil
}

func (b *epollBackend) UnregisterTimer(id uint16) error {
	b.mu.Lock()
	fd, ok := b.timerFDs[id]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.timerFDs, id)
	delete(b.timerAttachments, fd)
	b.mu.Unlock()
	err := b.ctl(unix.EPOLL_CTL_DEL, fd, 0)
	if closeErr := unix.Close(fd); closeErr != nil && err == nil {
		err = os.NewSyscallError("close", closeErr)
	}
	return errors.Wrap(err, "unregister timer")
}

// RegisterUser creates a non-blocking eventfd and adds it for EPOLLIN.
func (b *epollBackend) RegisterUser(id uint16, attachment interface{}) error {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return errors.Wrap(os.NewSyscallError("eventfd", err), "register user event")
	}
	if err := b.ctl(unix.EPOLL_CTL_ADD, fd, unix.EPOLLIN); err != nil {
		_ = unix.Close(fd)
		return errors.Wrap(err, "register user event")
	}
	b.mu.Lock()
	b.userFDs[id] = fd
	b.userAttachments[fd] = attachment
	b.mu.Unlock()
	return nil
}

// TriggerUser writes the 8-byte value 1 to the eventfd; eventfd semantics
// already coalesce concurrent writes into one pending readiness. Unlike
// every other method here, callers may invoke this from a goroutine other
// than the reactor's own (e.g. an OS signal handler), so the fd lookup
// takes the read lock.
func (b *epollBackend) TriggerUser(id uint16) error {
	b.mu.RLock()
	fd, ok := b.userFDs[id]
	b.mu.RUnlock()
	if !ok {
		return errors.New("trigger unknown user event")
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return errors.Wrap(os.NewSyscallError("write", err), "trigger user event")
	}
	return nil
}

func (b *epollBackend) UnregisterUser(id uint16) error {
	b.mu.Lock()
	fd, ok := b.userFDs[id]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.userFDs, id)
	delete(b.userAttachments, fd)
	b.mu.Unlock()
	err := b.ctl(unix.EPOLL_CTL_DEL, fd, 0)
	if closeErr := unix.Close(fd); closeErr != nil && err == nil {
		err = os.NewSyscallError("close", closeErr)
	}
	return errors.Wrap(err, "unregister user event")
}

func (b *epollBackend) Wait(timeoutMS int64, out []SlotEvent) (int, error) {
	n, err := unix.EpollWait(b.epfd, b.events, int(timeoutMS))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	count := 0
	b.mu.RLock()
	for i := 0; i < n && count < len(out); i++ {
		ev := b.events[i]
		fd := int(ev.Fd)
		hup := ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0
		if att, ok := b.readAttachments[fd]; ok {
			out[count] = SlotEvent{Filter: FilterRead, EOF: hup, Attachment: att}
			count++
			continue
		}
		if att, ok := b.timerAttachments[fd]; ok {
			drainFD(fd)
			out[count] = SlotEvent{Filter: FilterTimer, Attachment: att}
			count++
			continue
		}
		if att, ok := b.userAttachments[fd]; ok {
			drainFD(fd)
			out[count] = SlotEvent{Filter: FilterUser, Attachment: att}
			count++
			continue
		}
		// Attachment not found: the fd was unregistered concurrently with
		// the wait returning it. Skip silently.
	}
	b.mu.RUnlock()
	return count, nil
}

func (b *epollBackend) Close() error {
	return os.NewSyscallError("close", unix.Close(b.epfd))
}

func drainFD(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}

func msToItimerspec(ms uint32) unix.ItimerSpec {
	sec := int64(ms / 1000)
	nsec := int64(ms%1000) * int64(1e6)
	ts := unix.NsecToTimespec(sec*1e9 + nsec)
	return unix.ItimerSpec{Interval: ts, Value: ts}
}
