//go:build integration

package natsclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adybbroe/pytroll-collectors/metric"
)

func TestIntegration_ConnectToRealNATS(t *testing.T) {
	tc := NewTestClient(t)

	assert.True(t, tc.Client.IsHealthy())
	assert.Equal(t, StatusConnected, tc.Client.Status())

	rtt, err := tc.Client.RTT()
	assert.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestIntegration_PublishSubscribeRoundTrip(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	var received atomic.Int32
	payload := make(chan []byte, 1)

	err := tc.Client.Subscribe(ctx, "file.msg.hrit", func(_ context.Context, data []byte) {
		received.Add(1)
		payload <- data
	})
	require.NoError(t, err)

	err = tc.Client.Publish(ctx, "file.msg.hrit", []byte(`{"uid":"segment-1"}`))
	require.NoError(t, err)

	select {
	case data := <-payload:
		assert.JSONEq(t, `{"uid":"segment-1"}`, string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}

	assert.Equal(t, int32(1), received.Load())
}

func TestIntegration_MetricsMirrorConnectivity(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	tcRaw, err := NewSharedTestClient()
	require.NoError(t, err)
	defer func() { _ = tcRaw.Terminate() }()

	client, err := NewClient(tcRaw.URL,
		WithMetrics(registry.CoreMetrics()),
		WithHealthInterval(0),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	defer func() { _ = client.Close(context.Background()) }()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	var connected float64 = -1
	for _, mf := range families {
		if mf.GetName() == "pytroll_nats_connected" {
			connected = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 1.0, connected)
}

func TestIntegration_CircuitBreakerWithRealConnection(t *testing.T) {
	ctx := context.Background()

	client, err := NewClient("nats://invalid-host:4222",
		WithTimeout(500*time.Millisecond),
	)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		err = client.Connect(ctx)
		assert.Error(t, err)
		assert.NotEqual(t, StatusCircuitOpen, client.Status())
	}

	err = client.Connect(ctx)
	assert.Error(t, err)

	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())

	// Attempts while open fail fast
	start := time.Now()
	err = client.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
