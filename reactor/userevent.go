package reactor

import "github.com/stack/woodpeckers/internal/registry"

// AddUserEvent registers a coalescing, caller-triggerable wakeup.
// Registering id StopID from outside the reactor's own construction is
// rejected.
func (r *Reactor) AddUserEvent(id uint16, cb UserEventFiredFunc) error {
	if id == StopID {
		r.logger.Warnf("reactor: user event id 0x%x is reserved", StopID)
		return ErrReservedID
	}
	payload := &userPayload{userEventFired: cb}
	rec, inserted := r.users.Insert(id, payload)
	if !inserted {
		r.logger.Warnf("reactor: duplicate user event id %d ignored", id)
		return ErrDuplicateID
	}
	if err := r.backend.RegisterUser(id, rec); err != nil {
		r.users.Discard(id)
		return err
	}
	return nil
}

// HasUserEvent reports whether id is currently a live user event.
func (r *Reactor) HasUserEvent(id uint16) bool {
	return r.users.Has(id)
}

// RemoveUserEvent unregisters the user event identified by id. Removing
// an absent id is a no-op. Removing StopID is refused; the reactor owns
// that registration for its own lifetime.
func (r *Reactor) RemoveUserEvent(id uint16) {
	if id == StopID {
		return
	}
	if !r.users.Has(id) {
		return
	}
	_ = r.backend.UnregisterUser(id)
	r.users.Remove(id)
}

// TriggerUserEvent wakes the reactor with exactly one callback invocation
// per drained batch, no matter how many times TriggerUserEvent is called
// in between. Safe to call from any goroutine.
func (r *Reactor) TriggerUserEvent(id uint16) error {
	return r.backend.TriggerUser(id)
}

// Stop requests that Run return after its next wakeup. It is implemented
// as triggering the reserved StopID user event, and is safe to call from
// any goroutine — including an OS signal handler running independently
// of the reactor's own goroutine.
func (r *Reactor) Stop() {
	_ = r.backend.TriggerUser(StopID)
}

func (r *Reactor) fireUserEvent(rec *registry.Record[*userPayload]) {
	if rec.Payload.userEventFired != nil {
		rec.Payload.userEventFired(r, rec.ID, r.ctx)
	}
}
