// Package segments implements the slot-aggregation engine: it groups
// "file arrived" events into time-windowed slots, tracks which expected
// fragments have arrived against per-source completeness rules, and
// publishes a "dataset" notification once a slot satisfies its rules or
// its timeout expires.
//
// The Gatherer owns a single control loop that alternates between a
// full sweep of the slot registry and a bounded wait on the inbound
// event channel. All slot state is mutated on that loop; the NATS
// handler only decodes envelopes and enqueues them.
package segments
