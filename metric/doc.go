// Package metric provides Prometheus instrumentation for the segment
// gatherer.
//
// A MetricsRegistry owns the process-wide prometheus.Registry and the
// core transport metrics (message counters, NATS connectivity). Domain
// components register their own collectors through the MetricsRegistrar
// interface, keyed by component and metric name so duplicate
// registrations fail early. Server exposes the registry over HTTP in
// OpenMetrics format together with a /health endpoint.
//
// All core metrics use the "pytroll" namespace:
//
//	pytroll_messages_received_total{subject="..."}
//	pytroll_messages_published_total{subject="..."}
//	pytroll_processing_duration_seconds{operation="..."}
//	pytroll_errors_total{component="...",class="..."}
//	pytroll_nats_connected
//	pytroll_nats_reconnects_total
package metric
