/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package seek

import "sync"

// Handle is a registry reservation for one seek.
type Handle struct {
	RequestID string
	Requester Identity
	Invitees  []Identity
	OriginRef string
}

// Registry tracks who is seeking a game and who is being sought by one.
// Reservation is all-or-nothing: readers never observe a partial insert.
type Registry struct {
	mu      sync.Mutex
	seeking map[Identity]*Handle
	sought  map[Identity]*Handle
}

func NewRegistry() *Registry {
	return &Registry{
		seeking: make(map[Identity]*Handle),
		sought:  make(map[Identity]*Handle),
	}
}

// TryReserve registers h.Requester as seeking and every invitee as sought.
// If any of them is already in either partition, nothing is inserted and a
// *ConflictError naming the first conflict is returned.
func (r *Registry) TryReserve(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.conflictLocked(h.Requester); err != nil {
		return err
	}
	for _, id := range h.Invitees {
		if err := r.conflictLocked(id); err != nil {
			return err
		}
	}

	r.seeking[h.Requester] = h
	for _, id := range h.Invitees {
		r.sought[id] = h
	}

	return nil
}

func (r *Registry) conflictLocked(id Identity) error {
	if other, ok := r.seeking[id]; ok {
		return &ConflictError{Identity: id, Role: RoleSeeking, OriginRef: other.OriginRef, RequestID: other.RequestID}
	}
	if other, ok := r.sought[id]; ok {
		return &ConflictError{Identity: id, Role: RoleSought, OriginRef: other.OriginRef, RequestID: other.RequestID}
	}
	return nil
}

// Release removes h's reservations. Entries that belong to another handle
// are left alone, so releasing a handle that never reserved is a no-op.
func (r *Registry) Release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seeking[h.Requester] == h {
		delete(r.seeking, h.Requester)
	}
	for _, id := range h.Invitees {
		if r.sought[id] == h {
			delete(r.sought, id)
		}
	}
}

// lookup reports the seek id is involved in, if any.
func (r *Registry) lookup(id Identity) (*Handle, Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.seeking[id]; ok {
		return h, RoleSeeking, true
	}
	if h, ok := r.sought[id]; ok {
		return h, RoleSought, true
	}
	return nil, 0, false
}

// Len returns the number of reserved identities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.seeking) + len(r.sought)
}

// Reset drops every reservation.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.seeking)
	clear(r.sought)
}
