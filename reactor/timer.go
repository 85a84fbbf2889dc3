package reactor

import "github.com/stack/woodpeckers/internal/registry"

// AddTimer registers a periodic timer that fires every intervalMS until
// removed. Duplicate ids are rejected.
func (r *Reactor) AddTimer(id uint16, intervalMS uint32, cb TimerFiredFunc) error {
	payload := &timerPayload{intervalMS: intervalMS, timerFired: cb}
	rec, inserted := r.timers.Insert(id, payload)
	if !inserted {
		r.logger.Warnf("reactor: duplicate timer id %d ignored", id)
		return ErrDuplicateID
	}
	if err := r.backend.RegisterTimer(id, intervalMS, rec); err != nil {
		r.timers.Discard(id)
		return err
	}
	return nil
}

// HasTimer reports whether id is currently a live timer.
func (r *Reactor) HasTimer(id uint16) bool {
	return r.timers.Has(id)
}

// RemoveTimer unregisters the timer identified by id. The backend
// unregisters (and, on epoll, closes) the timerfd synchronously.
// Removing an absent id is a no-op.
func (r *Reactor) RemoveTimer(id uint16) {
	if !r.timers.Has(id) {
		return
	}
	_ = r.backend.UnregisterTimer(id)
	r.timers.Remove(id)
}

func (r *Reactor) fireTimer(rec *registry.Record[*timerPayload]) {
	if rec.Payload.timerFired != nil {
		rec.Payload.timerFired(r, rec.ID, r.ctx)
	}
}
