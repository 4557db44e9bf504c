package segments

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adybbroe/pytroll-collectors/metric"
)

// gathererMetrics holds Prometheus metrics for slot aggregation.
// All record methods are nil-safe so the gatherer can run without a
// metrics registry.
type gathererMetrics struct {
	slotsCreated   prometheus.Counter
	slotsPublished *prometheus.CounterVec // by outcome (ready/premature/timeout)
	slotsTimedOut  prometheus.Counter
	activeSlots    prometheus.Gauge
	filesDiscarded *prometheus.CounterVec // by reason (duplicate/unknown/no_uid/unparsed)
	publishTime    prometheus.Histogram
}

// newGathererMetrics creates and registers slot aggregation metrics
// with the provided registry. A nil registry disables metrics.
func newGathererMetrics(registry *metric.MetricsRegistry) (*gathererMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &gathererMetrics{
		slotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pytroll",
			Subsystem: "gatherer",
			Name:      "slots_created_total",
			Help:      "Total number of time slots opened",
		}),

		slotsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pytroll",
			Subsystem: "gatherer",
			Name:      "slots_published_total",
			Help:      "Total number of dataset notifications published",
		}, []string{"outcome"}), // outcome: ready, premature, timeout

		slotsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pytroll",
			Subsystem: "gatherer",
			Name:      "slots_timed_out_total",
			Help:      "Total number of slots discarded with critical fragments missing",
		}),

		activeSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pytroll",
			Subsystem: "gatherer",
			Name:      "active_slots",
			Help:      "Number of slots currently being collected",
		}),

		filesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pytroll",
			Subsystem: "gatherer",
			Name:      "files_discarded_total",
			Help:      "Total number of file events dropped before aggregation",
		}, []string{"reason"}), // reason: duplicate, unknown, no_uid, unparsed

		publishTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pytroll",
			Subsystem: "gatherer",
			Name:      "publish_duration_seconds",
			Help:      "Dataset notification publish duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}

	if err := registry.RegisterCounter("gatherer", "slots_created", m.slotsCreated); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("gatherer", "slots_published", m.slotsPublished); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("gatherer", "slots_timed_out", m.slotsTimedOut); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("gatherer", "active_slots", m.activeSlots); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("gatherer", "files_discarded", m.filesDiscarded); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("gatherer", "publish_duration", m.publishTime); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *gathererMetrics) recordSlotCreated(active int) {
	if m == nil {
		return
	}
	m.slotsCreated.Inc()
	m.activeSlots.Set(float64(active))
}

func (m *gathererMetrics) recordSlotClosed(active int) {
	if m == nil {
		return
	}
	m.activeSlots.Set(float64(active))
}

func (m *gathererMetrics) recordPublish(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.slotsPublished.WithLabelValues(outcome).Inc()
	m.publishTime.Observe(duration.Seconds())
}

func (m *gathererMetrics) recordTimeout() {
	if m == nil {
		return
	}
	m.slotsTimedOut.Inc()
}

func (m *gathererMetrics) recordDiscard(reason string) {
	if m == nil {
		return
	}
	m.filesDiscarded.WithLabelValues(reason).Inc()
}
