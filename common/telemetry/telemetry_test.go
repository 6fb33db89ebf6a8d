package telemetry

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	tel := New(0, 0, logger.Discard())
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "kyx_test_total", Help: "test"})
	tel.Registry().MustRegister(c)
	c.Add(3)

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "kyx_test_total 3")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStartDisabled(t *testing.T) {
	tel := New(0, 0, logger.Discard())
	require.NoError(t, tel.Start(context.Background()))
	assert.Empty(t, tel.servers)
	assert.NoError(t, tel.Close())
}

func TestSetupTracing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	shutdown, err := SetupTracing(ctx, TracingConfig{ServiceName: "kyx-test", Endpoint: "127.0.0.1:1"})
	require.NoError(t, err)
	assert.NotNil(t, shutdown)
	_ = shutdown(ctx)
}
