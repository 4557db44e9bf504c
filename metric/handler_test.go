package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerDefaults(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry())

	assert.Equal(t, "http://localhost:9090/metrics", server.Address())
}

func TestServerScrape(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordMessageReceived("file.msg.hrit")

	handler := promhttp.HandlerFor(
		registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)

	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerStopWithoutStart(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry())

	assert.NoError(t, server.Stop())
}

func TestServerStartNilRegistry(t *testing.T) {
	server := NewServer(0, "", nil)

	assert.Error(t, server.Start())
}
