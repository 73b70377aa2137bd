package health

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svcgate/svcgate/internal/balancer"
	"github.com/svcgate/svcgate/internal/config"
	"github.com/svcgate/svcgate/internal/registry"
)

func countingBackend(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var probes atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		probes.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &probes
}

func registerService(reg *registry.Registry, name, url string) {
	reg.Register(config.ServiceConfig{
		Name:       name,
		URL:        url,
		HealthPath: "/health",
		Timeout:    config.NewDuration(2 * time.Second),
		Weight:     1,
		Strategy:   "round-robin",
	})
}

func TestChecker_ProbesImmediatelyOnStart(t *testing.T) {
	backend, probes := countingBackend(t, http.StatusOK)

	reg := registry.New(balancer.New())
	defer reg.Teardown()
	registerService(reg, "orders", backend.URL)

	checker := New(reg, time.Hour)
	checker.Start()
	defer checker.Stop()

	require.Eventually(t, func() bool {
		return probes.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	svc, ok := reg.Get("orders")
	require.True(t, ok)
	assert.Equal(t, registry.StatusHealthy, svc.Status())
}

func TestChecker_ProbesOnInterval(t *testing.T) {
	backend, probes := countingBackend(t, http.StatusOK)

	reg := registry.New(balancer.New())
	defer reg.Teardown()
	registerService(reg, "orders", backend.URL)

	checker := New(reg, 30*time.Millisecond)
	checker.Start()
	defer checker.Stop()

	require.Eventually(t, func() bool {
		return probes.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChecker_IsolatesFailingService(t *testing.T) {
	healthy, healthyProbes := countingBackend(t, http.StatusOK)
	failing, _ := countingBackend(t, http.StatusInternalServerError)

	reg := registry.New(balancer.New())
	defer reg.Teardown()
	registerService(reg, "orders", healthy.URL)
	registerService(reg, "payments", failing.URL)

	checker := New(reg, 30*time.Millisecond)
	checker.Start()
	defer checker.Stop()

	require.Eventually(t, func() bool {
		return healthyProbes.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	orders, ok := reg.Get("orders")
	require.True(t, ok)
	payments, ok := reg.Get("payments")
	require.True(t, ok)

	assert.Equal(t, registry.StatusHealthy, orders.Status())
	assert.Equal(t, registry.StatusUnhealthy, payments.Status())
}

func TestChecker_StartIsIdempotent(t *testing.T) {
	backend, _ := countingBackend(t, http.StatusOK)

	reg := registry.New(balancer.New())
	defer reg.Teardown()
	registerService(reg, "orders", backend.URL)

	checker := New(reg, time.Hour)
	checker.Start()
	assert.NotPanics(t, checker.Start)
	checker.Stop()
}

func TestChecker_StopIsIdempotent(t *testing.T) {
	backend, _ := countingBackend(t, http.StatusOK)

	reg := registry.New(balancer.New())
	defer reg.Teardown()
	registerService(reg, "orders", backend.URL)

	checker := New(reg, time.Hour)
	checker.Start()
	checker.Stop()
	assert.NotPanics(t, checker.Stop)
}

func TestChecker_StopWithoutStart(t *testing.T) {
	reg := registry.New(balancer.New())
	defer reg.Teardown()

	checker := New(reg, time.Hour)
	assert.NotPanics(t, checker.Stop)
}

func TestNew_DefaultsNonPositiveInterval(t *testing.T) {
	reg := registry.New(balancer.New())
	defer reg.Teardown()

	checker := New(reg, 0)
	assert.Equal(t, config.DefaultHealthCheckInterval, checker.interval)
}
