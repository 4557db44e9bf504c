package segments

import (
	"time"
)

// DatasetItem is one collected fragment reference.
type DatasetItem struct {
	URI string `json:"uri"`
	UID string `json:"uid"`
}

// Slot is the aggregation state for one acquisition time window.
type Slot struct {
	key  string
	time time.Time

	// metadata is the shared record seeded from the first fragment,
	// minus identity-only fields. The acquisition time entry is
	// immutable after creation.
	metadata map[string]any

	dataset []DatasetItem
	sensors []string

	// timeout is the zero value until the slot is first evaluated, then
	// fixed and never advanced.
	timeout time.Time

	sources map[string]*SourceTracker
	order   []string
}

func newSlot(t time.Time, metadata map[string]any) *Slot {
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	return &Slot{
		key:      formatSlotTime(t),
		time:     t,
		metadata: meta,
		sources:  make(map[string]*SourceTracker),
	}
}

// formatSlotTime renders the boundary string form of an acquisition
// time, with microseconds only when present.
func formatSlotTime(t time.Time) string {
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02 15:04:05.000000")
	}
	return t.Format("2006-01-02 15:04:05")
}

// Key returns the slot's registry key.
func (s *Slot) Key() string {
	return s.key
}

// Time returns the typed acquisition time.
func (s *Slot) Time() time.Time {
	return s.time
}

// Timeout returns the slot deadline; zero until the first evaluation.
func (s *Slot) Timeout() time.Time {
	return s.timeout
}

// Source returns the tracker for a pattern key.
func (s *Slot) Source(key string) (*SourceTracker, bool) {
	tracker, ok := s.sources[key]
	return tracker, ok
}

// addSource registers a tracker under key, preserving insertion order.
func (s *Slot) addSource(key string, tracker *SourceTracker) {
	if _, ok := s.sources[key]; !ok {
		s.order = append(s.order, key)
	}
	s.sources[key] = tracker
}

// AddDataset appends one fragment reference to the accumulator.
func (s *Slot) AddDataset(uri, uid string) {
	s.dataset = append(s.dataset, DatasetItem{URI: uri, UID: uid})
}

// AddSensors merges sensor values preserving first-seen order.
func (s *Slot) AddSensors(values []string) {
	for _, v := range values {
		seen := false
		for _, existing := range s.sensors {
			if existing == v {
				seen = true
				break
			}
		}
		if !seen {
			s.sensors = append(s.sensors, v)
		}
	}
}

// Evaluate computes the overall slot status. The first call fixes the
// timeout to now+timeliness and always defers.
func (s *Slot) Evaluate(now time.Time, timeliness time.Duration) Status {
	if s.timeout.IsZero() {
		s.timeout = now.Add(timeliness)
		return StatusNotReady
	}

	statuses := make(map[string]Status, len(s.sources))
	for key, tracker := range s.sources {
		statuses[key] = tracker.evaluate()
	}

	return combineStatus(statuses, now, s.timeout)
}

// Missing returns the union of missing identities across sources, sorted.
func (s *Slot) Missing() []string {
	missing := newStringSet()
	for _, tracker := range s.sources {
		missing.update(tracker.all.difference(tracker.received))
	}
	return missing.sorted()
}

// Delayed returns the merged late-arrival report across sources.
func (s *Slot) Delayed() map[string]float64 {
	out := make(map[string]float64)
	for _, tracker := range s.sources {
		for uid, seconds := range tracker.delayed {
			out[uid] = seconds
		}
	}
	return out
}

// publishMetadata assembles the outbound payload: the shared record
// minus transient fields, plus the dataset and sensor accumulators.
func (s *Slot) publishMetadata() map[string]any {
	out := make(map[string]any, len(s.metadata)+2)
	for k, v := range s.metadata {
		out[k] = v
	}
	delete(out, "path")
	delete(out, "segment")

	dataset := make([]DatasetItem, len(s.dataset))
	copy(dataset, s.dataset)
	out["dataset"] = dataset

	sensors := make([]string, len(s.sensors))
	copy(sensors, s.sensors)
	out["sensor"] = sensors

	return out
}
