package metric

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slots_created_total",
		Help: "Test counter",
	})

	require.NoError(t, registry.RegisterCounter("gatherer", "slots_created_total", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["slots_created_total"])
}

func TestMetricsRegistry_RegisterGauge(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "slots_active",
		Help: "Test gauge",
	})

	require.NoError(t, registry.RegisterGauge("gatherer", "slots_active", gauge))
	gauge.Set(3)

	assert.True(t, gatheredNames(t, registry)["slots_active"])
}

func TestMetricsRegistry_RegisterHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "slot_completion_seconds",
		Help:    "Test histogram",
		Buckets: prometheus.DefBuckets,
	})

	require.NoError(t, registry.RegisterHistogram("gatherer", "slot_completion_seconds", histogram))
	histogram.Observe(1.5)

	assert.True(t, gatheredNames(t, registry)["slot_completion_seconds"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter1 := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_counter",
		Help: "First counter",
	})
	counter2 := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_counter",
		Help: "First counter",
	})

	require.NoError(t, registry.RegisterCounter("gatherer", "duplicate_counter", counter1))

	// Same key at our registry level
	err := registry.RegisterCounter("gatherer", "duplicate_counter", counter2)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	// Different key, same Prometheus name
	err = registry.RegisterCounter("other", "duplicate_counter", counter2)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "short_lived_counter",
		Help: "A counter to unregister",
	})

	require.NoError(t, registry.RegisterCounter("gatherer", "short_lived_counter", counter))
	assert.True(t, gatheredNames(t, registry)["short_lived_counter"])

	assert.True(t, registry.Unregister("gatherer", "short_lived_counter"))
	assert.False(t, gatheredNames(t, registry)["short_lived_counter"])

	assert.False(t, registry.Unregister("gatherer", "short_lived_counter"))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	numGoroutines := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", id),
				Help: "A concurrent counter",
			})

			assert.NoError(t, registry.RegisterCounter("gatherer",
				fmt.Sprintf("concurrent_counter_%d", id), counter))
		}(i)
	}

	wg.Wait()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	count := 0
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "concurrent_counter_") {
			count++
		}
	}
	assert.Equal(t, numGoroutines, count)
}

func TestMetricsRegistrar_Interface(t *testing.T) {
	var registrar MetricsRegistrar = NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "interface_counter",
		Help: "Counter registered through interface",
	})
	require.NoError(t, registrar.RegisterCounter("gatherer", "interface_counter", counter))
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordMessageReceived("file.msg.hrit")
	core.RecordMessagePublished("segment.gathered.msg")
	core.RecordProcessingDuration("process_message", 100*time.Millisecond)
	core.RecordError("gatherer", "invalid")
	core.RecordNATSStatus(true)
	core.RecordNATSRTT(50 * time.Millisecond)
	core.RecordNATSReconnect()

	names := gatheredNames(t, registry)
	for _, expected := range []string{
		"pytroll_messages_received_total",
		"pytroll_messages_published_total",
		"pytroll_processing_duration_seconds",
		"pytroll_errors_total",
		"pytroll_nats_connected",
		"pytroll_nats_rtt_milliseconds",
		"pytroll_nats_reconnects_total",
	} {
		assert.True(t, names[expected], "core metric %s should be registered", expected)
	}
}
