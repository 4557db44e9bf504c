package segments

import "time"

// Registry is the insertion-ordered slot table. It is owned by the
// gatherer's control loop and is not safe for concurrent use.
type Registry struct {
	slots     map[string]*Slot
	order     []string
	tolerance time.Duration
}

// NewRegistry creates a registry with the given slot-matching tolerance.
func NewRegistry(tolerance time.Duration) *Registry {
	return &Registry{
		slots:     make(map[string]*Slot),
		tolerance: tolerance,
	}
}

// Find returns the key of an existing slot whose acquisition time is
// within the tolerance of t, in either direction.
func (r *Registry) Find(t time.Time) (string, bool) {
	for _, key := range r.order {
		slot, ok := r.slots[key]
		if !ok {
			continue
		}
		diff := t.Sub(slot.time)
		if diff < 0 {
			diff = -diff
		}
		if diff < r.tolerance {
			return key, true
		}
	}
	return "", false
}

// Get returns the slot stored under key.
func (r *Registry) Get(key string) (*Slot, bool) {
	slot, ok := r.slots[key]
	return slot, ok
}

// Add stores a slot under its own key, preserving insertion order.
func (r *Registry) Add(slot *Slot) {
	if _, ok := r.slots[slot.key]; !ok {
		r.order = append(r.order, slot.key)
	}
	r.slots[slot.key] = slot
}

// Remove evicts a slot.
func (r *Registry) Remove(key string) {
	if _, ok := r.slots[key]; !ok {
		return
	}
	delete(r.slots, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Keys returns a stable snapshot of the current keys in insertion
// order, so a sweep can mutate the registry while iterating.
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	return keys
}

// Len returns the number of active slots.
func (r *Registry) Len() int {
	return len(r.slots)
}
