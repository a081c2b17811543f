package metric

import (
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
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

func TestCoreMetricsRegistered(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.ClusterConnected()
	core.ConsumerStarted()
	core.MessageDelivered("orders")
	core.ReceiveFailure("orders")
	core.AckFailure("orders")

	names := gatheredNames(t, registry)
	assert.True(t, names["streamscope_cluster_connected"])
	assert.True(t, names["streamscope_stream_consumers"])
	assert.True(t, names["streamscope_stream_delivered_total"])
	assert.True(t, names["streamscope_stream_receive_failures_total"])
	assert.True(t, names["streamscope_stream_ack_failures_total"])
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	err := registry.RegisterCounter("test-component", "test_counter", counter)
	require.NoError(t, err)

	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestRegisterDuplicate(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dup_counter",
		Help: "A test counter",
	})

	require.NoError(t, registry.RegisterCounter("c", "dup_counter", counter))

	err := registry.RegisterCounter("c", "dup_counter", counter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "A test gauge",
	})

	require.NoError(t, registry.RegisterGauge("c", "test_gauge", gauge))
	assert.True(t, registry.Unregister("c", "test_gauge"))
	assert.False(t, registry.Unregister("c", "test_gauge"))

	// Re-registration works after unregister.
	require.NoError(t, registry.RegisterGauge("c", "test_gauge", gauge))
}

func TestHandlerServesMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().ClusterConnected()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "streamscope_cluster_connected 1")
}

func TestConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", i),
				Help: "A test counter",
			})
			errs[i] = registry.RegisterCounter("c", fmt.Sprintf("concurrent_counter_%d", i), counter)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}
