// Package registry implements the reactor's four keyed event tables
// (servers, peers, timers, user events) and the two-phase mark-then-drain
// removal protocol: a callback may remove any event, including itself,
// and the removal must be visible to Has immediately while the
// underlying resources are released only once the current dispatch
// batch finishes.
package registry

// Record is one entry owned by a Table. Active and Pending are read by the
// dispatcher before invoking a callback: a Record observed with
// Active == false or Pending == true is skipped.
type Record[T any] struct {
	ID      uint16
	Active  bool
	Pending bool
	Payload T
}

// Table is a set of event records keyed by a caller-supplied 16-bit id,
// one per reactor kind (Server, Peer, Timer, User).
type Table[T any] struct {
	byID    map[uint16]*Record[T]
	pending []*Record[T]
}

// New creates an empty Table.
func New[T any]() *Table[T] {
	return &Table[T]{byID: make(map[uint16]*Record[T])}
}

// Has reports whether id is currently a live member: present and not
// pending removal.
func (t *Table[T]) Has(id uint16) bool {
	r, ok := t.byID[id]
	return ok && r.Active && !r.Pending
}

// Get returns the record for id, if live.
func (t *Table[T]) Get(id uint16) (*Record[T], bool) {
	r, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return r, true
}

// Insert adds a new record for id if absent. It returns (record, true) on
// success, or (existing, false) if id is already registered — the caller
// logs the duplicate-registration diagnostic and leaves the first
// registration unchanged.
func (t *Table[T]) Insert(id uint16, payload T) (*Record[T], bool) {
	if existing, ok := t.byID[id]; ok {
		return existing, false
	}
	r := &Record[T]{ID: id, Active: true, Payload: payload}
	t.byID[id] = r
	return r, true
}

// Remove marks id for deferred release: membership (Has) reflects the
// removal immediately, but the record is only appended to the drain list
// for a caller to close its resources at the end of the current batch.
// Removing an absent id is a no-op.
func (t *Table[T]) Remove(id uint16) (*Record[T], bool) {
	r, ok := t.byID[id]
	if !ok || r.Pending {
		return nil, false
	}
	r.Active = false
	r.Pending = true
	delete(t.byID, id)
	t.pending = append(t.pending, r)
	return r, true
}

// Discard removes id's record without queuing it for Drain. It is used
// only to roll back a registration that failed after Insert, once the
// caller has already undone any side effect it made (such as closing an
// opened fd), so there is nothing for a later Drain to release.
func (t *Table[T]) Discard(id uint16) {
	delete(t.byID, id)
}

// Drain calls release for every record queued by Remove since the last
// Drain, then clears the queue. release typically unregisters the record
// from the backend and closes any owned file descriptor.
func (t *Table[T]) Drain(release func(*Record[T])) {
	if len(t.pending) == 0 {
		return
	}
	batch := t.pending
	t.pending = nil
	for _, r := range batch {
		release(r)
	}
}

// Each iterates every live record.
func (t *Table[T]) Each(fn func(*Record[T])) {
	for _, r := range t.byID {
		fn(r)
	}
}

// Len returns the number of live records.
func (t *Table[T]) Len() int {
	return len(t.byID)
}
