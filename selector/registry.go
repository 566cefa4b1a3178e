package selector

import "sync/atomic"

// Registry holds the active snapshot behind an atomic pointer. Readers
// never block writers and writers never block readers; a selection keeps
// whatever snapshot it observed even across a concurrent install.
type Registry struct {
	active atomic.Pointer[Snapshot]
}

func NewRegistry() *Registry { return &Registry{} }

// Current returns the active snapshot, or ErrNoActiveSnapshot before
// the first install. The returned reference stays valid for the whole
// of the caller's selection regardless of concurrent installs.
func (r *Registry) Current() (*Snapshot, error) {
	snap := r.active.Load()
	if snap == nil {
		return nil, ErrNoActiveSnapshot
	}
	return snap, nil
}

// Install atomically publishes snap and returns the prior snapshot, nil
// on the first install. Exactly one snapshot is active at all times
// after that; installing nil is a programming error.
func (r *Registry) Install(snap *Snapshot) *Snapshot {
	if snap == nil {
		panic("selector: install of nil snapshot")
	}
	return r.active.Swap(snap)
}

// ActiveID reports the active snapshot's identity for observability.
func (r *Registry) ActiveID() (id, version int64, ok bool) {
	snap := r.active.Load()
	if snap == nil {
		return 0, 0, false
	}
	return snap.ID, snap.Version, true
}
