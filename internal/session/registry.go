package session

import "time"

// Registry maps participant ids to participants for every connected user,
// whatever their state. It remembers registration order so snapshots are
// deterministic.
//
// Registry is not goroutine-safe; callers serialize access.
type Registry struct {
	byID  map[string]*Participant
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Participant)}
}

// Register inserts the participant or overwrites its profile. An overwrite
// keeps the original registration position, connect time and room mapping.
func (r *Registry) Register(id string, profile Profile) {
	p, ok := r.byID[id]
	if !ok {
		p = &Participant{ID: id, ConnectedAt: time.Now()}
		r.byID[id] = p
		r.order = append(r.order, id)
	}
	p.Gender = profile.Gender
	p.Preference = profile.Preference
	p.Interests = NormalizeInterests(profile.Interests)
}

// Unregister removes the participant. Removing an absent id is a no-op.
func (r *Registry) Unregister(id string) {
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of the participant.
func (r *Registry) Get(id string) (Participant, bool) {
	p, ok := r.byID[id]
	if !ok {
		return Participant{}, false
	}
	return p.Clone(), true
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// SetRoom records the participant's active room.
func (r *Registry) SetRoom(id, roomID string) {
	if p, ok := r.byID[id]; ok {
		p.RoomID = roomID
	}
}

// ClearRoom drops the participant's room mapping.
func (r *Registry) ClearRoom(id string) {
	r.SetRoom(id, "")
}

// Snapshot returns copies of every participant in registration order.
func (r *Registry) Snapshot() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	return len(r.byID)
}
