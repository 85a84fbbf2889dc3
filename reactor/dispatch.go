package reactor

import (
	"github.com/stack/woodpeckers/internal/backend"
	"github.com/stack/woodpeckers/internal/registry"
)

// Run repeatedly calls RunOnce with an indefinite timeout until Stop
// triggers the reserved wakeup.
func (r *Reactor) Run() error {
	r.keepRunning = true
	for r.keepRunning {
		if err := r.RunOnce(-1); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce blocks on the backend up to timeoutMS (-1 indefinite, 0 poll),
// translates whatever readiness it returns into typed dispatch, invokes
// the matching user callbacks in the order the backend returned them, and
// finally drains every source marked for removal during this batch.
//
// Re-entrancy: a callback may register or remove any source, including
// itself. Registrations are visible to the very next Wait. Removals are
// visible to Has* immediately but the underlying descriptor is not closed
// until this drain step, so a record a still-unprocessed slot in the
// current batch references remains safe to read — it is simply skipped
// by the Active/Pending check below. Replacing this two-phase protocol
// with an immediate free would let the loop above dereference a closed fd.
func (r *Reactor) RunOnce(timeoutMS int64) error {
	n, err := r.backend.Wait(timeoutMS, r.batch)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		r.dispatchOne(r.batch[i])
	}
	r.drain()
	return nil
}

func (r *Reactor) dispatchOne(slot backend.SlotEvent) {
	switch slot.Filter {
	case backend.FilterRead:
		switch rec := slot.Attachment.(type) {
		case *registry.Record[*serverPayload]:
			if !rec.Active || rec.Pending {
				return
			}
			r.dispatchAccept(rec)
		case *registry.Record[*peerPayload]:
			if !rec.Active || rec.Pending {
				return
			}
			if slot.EOF {
				r.disconnectPeer(rec)
				return
			}
			r.dispatchPeerRead(rec)
		default:
			r.logger.Warnf("reactor: read event with unexpected attachment %T", slot.Attachment)
		}
	case backend.FilterTimer:
		rec, ok := slot.Attachment.(*registry.Record[*timerPayload])
		if !ok {
			r.logger.Warnf("reactor: timer event with unexpected attachment %T", slot.Attachment)
			return
		}
		if !rec.Active || rec.Pending {
			return
		}
		r.fireTimer(rec)
	case backend.FilterUser:
		rec, ok := slot.Attachment.(*registry.Record[*userPayload])
		if !ok {
			r.logger.Warnf("reactor: user event with unexpected attachment %T", slot.Attachment)
			return
		}
		if !rec.Active || rec.Pending {
			return
		}
		r.fireUserEvent(rec)
	default:
		r.logger.Warnf("reactor: unexpected filter %v", slot.Filter)
	}
}

func (r *Reactor) drain() {
	r.servers.Drain(func(rec *registry.Record[*serverPayload]) {
		_ = r.backend.UnregisterServerRead(rec.Payload.fd)
		_ = closeFD(rec.Payload.fd)
	})
	r.peers.Drain(func(rec *registry.Record[*peerPayload]) {
		_ = r.backend.UnregisterPeerRead(rec.Payload.fd)
		_ = closeFD(rec.Payload.fd)
	})
	// Timers and user events are unregistered (and, on epoll, have their
	// owned fd closed) synchronously in RemoveTimer/RemoveUserEvent;
	// draining just clears their pending queues.
	r.timers.Drain(func(*registry.Record[*timerPayload]) {})
	r.users.Drain(func(*registry.Record[*userPayload]) {})
}
