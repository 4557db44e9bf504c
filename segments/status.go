package segments

import "time"

// Status is the completeness state of a slot or of one of its sources.
type Status int

// Slot statuses, in evaluation priority order.
const (
	// StatusNotReady means a mandatory source is still incomplete.
	StatusNotReady Status = iota
	// StatusNoncriticalNotReady means only optional sources are incomplete.
	StatusNoncriticalNotReady
	// StatusReady means every source satisfied its completeness rules.
	StatusReady
	// StatusReadyButWaitForMore means the premature-publish threshold was
	// reached: publish now but keep the slot open for more fragments.
	StatusReadyButWaitForMore
	// StatusObsoleteTimeout means the timeout expired with a mandatory
	// source incomplete; the slot is discarded unpublished.
	StatusObsoleteTimeout
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNotReady:
		return "not_ready"
	case StatusNoncriticalNotReady:
		return "noncritical_not_ready"
	case StatusReady:
		return "ready"
	case StatusReadyButWaitForMore:
		return "ready_but_wait_for_more"
	case StatusObsoleteTimeout:
		return "obsolete_timeout"
	default:
		return "unknown"
	}
}

// combineStatus folds per-source statuses into one overall slot status.
// The ordering is a strict priority ladder: after the timeout any source
// short of its mandatory set discards the slot, everything else is
// published as-is.
func combineStatus(statuses map[string]Status, now, timeout time.Time) Status {
	if len(statuses) == 0 {
		return StatusNotReady
	}

	anyOf := func(want Status) bool {
		for _, s := range statuses {
			if s == want {
				return true
			}
		}
		return false
	}

	if now.After(timeout) {
		if anyOf(StatusNotReady) {
			return StatusObsoleteTimeout
		}
		return StatusReady
	}

	if anyOf(StatusNotReady) {
		return StatusNotReady
	}
	if anyOf(StatusNoncriticalNotReady) {
		return StatusNoncriticalNotReady
	}

	allReady := true
	for _, s := range statuses {
		if s != StatusReady {
			allReady = false
			break
		}
	}
	if allReady {
		return StatusReady
	}

	if anyOf(StatusReadyButWaitForMore) {
		return StatusReadyButWaitForMore
	}

	return StatusNotReady
}
