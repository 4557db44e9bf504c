// Package pytrollcollectors gathers satellite data fragments into
// complete datasets.
//
// Geostationary imagers deliver an image as many segment files;
// polar-orbiter processing chains deliver a pass as several granule
// files. Downstream production wants one notification per complete
// acquisition, not one per file. The segment gatherer bridges that gap:
// it subscribes to "file arrived" events on NATS, resolves each file to
// a fragment identity with a filename template, groups fragments into
// time slots, and publishes a "dataset" notification once a slot's
// completeness rules are satisfied or its timeout expires.
//
// Package layout:
//
//   - segments: the slot-aggregation engine (slots, completeness
//     trackers, status evaluation, the control loop)
//   - trollsift: the filename template engine (parse, format, globify)
//   - config: YAML configuration loading and validation
//   - message: the bus message envelope
//   - natsclient: NATS connectivity with circuit breaking and health
//     monitoring
//   - metric: Prometheus metrics registry and HTTP exposure
//   - errors: error classification (transient, invalid, fatal)
//
// The cmd/segment-gatherer binary wires these together into a service.
package pytrollcollectors
