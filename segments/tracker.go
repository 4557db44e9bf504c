package segments

// prematurePublishDisabled marks the one-shot counter as spent or never
// configured.
const prematurePublishDisabled = -1

// SourceTracker holds the per-source completeness state of one slot:
// which fragment identities are expected, which have arrived, and which
// arrived late.
type SourceTracker struct {
	isCriticalSet bool

	critical stringSet
	wanted   stringSet
	all      stringSet
	received stringSet

	// delayed maps fragment id to seconds-late, populated only after the
	// critical set is complete.
	delayed map[string]float64

	// filesTillPrematurePublish is one-shot: set to -1 permanently the
	// first time the matched count equals it.
	filesTillPrematurePublish int
}

func newSourceTracker(isCriticalSet bool, filesTillPrematurePublish int) *SourceTracker {
	return &SourceTracker{
		isCriticalSet:             isCriticalSet,
		critical:                  newStringSet(),
		wanted:                    newStringSet(),
		all:                       newStringSet(),
		received:                  newStringSet(),
		delayed:                   make(map[string]float64),
		filesTillPrematurePublish: filesTillPrematurePublish,
	}
}

// Knows reports whether the identity belongs to this source's full set.
func (t *SourceTracker) Knows(identity string) bool {
	return t.all.has(identity)
}

// Received reports whether the identity has already been counted.
func (t *SourceTracker) Received(identity string) bool {
	return t.received.has(identity)
}

// AddReceived counts an identity. Re-delivery is a no-op.
func (t *SourceTracker) AddReceived(identity string) {
	t.received.add(identity)
}

// CriticalComplete reports whether a non-empty critical set has been
// fully received.
func (t *SourceTracker) CriticalComplete() bool {
	return len(t.critical) > 0 && t.critical.subsetOf(t.received)
}

// RecordDelay flags a fragment that arrived past the nominal window.
func (t *SourceTracker) RecordDelay(uid string, seconds float64) {
	t.delayed[uid] = seconds
}

// Missing returns the expected identities not yet received, sorted.
func (t *SourceTracker) Missing() []string {
	return t.all.difference(t.received).sorted()
}

// evaluate computes the source status and spends the premature-publish
// counter when the matched count first equals it.
func (t *SourceTracker) evaluate() Status {
	status := StatusNotReady
	if !t.isCriticalSet {
		status = StatusNoncriticalNotReady
	}

	wantedAndCritical := t.wanted.union(t.critical)
	matched := wantedAndCritical.intersectCount(t.received)

	// Strict equality: a count that jumps over the threshold never fires.
	if matched == t.filesTillPrematurePublish {
		t.filesTillPrematurePublish = prematurePublishDisabled
		status = StatusReadyButWaitForMore
	}

	if wantedAndCritical.subsetOf(t.received) {
		status = StatusReady
	}

	return status
}
