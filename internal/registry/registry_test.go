package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svcgate/svcgate/internal/balancer"
	"github.com/svcgate/svcgate/internal/circuitbreaker"
	"github.com/svcgate/svcgate/internal/config"
)

func newTestRegistry() *Registry {
	return New(balancer.New())
}

func serviceConfig(name, url string) config.ServiceConfig {
	return config.ServiceConfig{
		Name:       name,
		URL:        url,
		HealthPath: "/health",
		Timeout:    config.NewDuration(2 * time.Second),
		Weight:     1,
		Strategy:   "round-robin",
	}
}

func TestRegister_InitialState(t *testing.T) {
	r := newTestRegistry()
	defer r.Teardown()

	svc := r.Register(serviceConfig("orders", "http://orders:8080"))

	assert.Equal(t, StatusUnknown, svc.Status())
	assert.Equal(t, circuitbreaker.StateClosed, svc.Breaker().State())
	assert.Equal(t, []string{"http://orders:8080"}, svc.Instances)
}

func TestRegister_ReplacesExisting(t *testing.T) {
	r := newTestRegistry()
	defer r.Teardown()

	first := r.Register(serviceConfig("orders", "http://old:8080"))
	second := r.Register(serviceConfig("orders", "http://new:8080"))

	got, ok := r.Get("orders")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.NotSame(t, first.Breaker(), second.Breaker())
	assert.Equal(t, []string{"http://new:8080"}, got.Instances)
}

func TestResolveInstance_UnknownService(t *testing.T) {
	r := newTestRegistry()
	defer r.Teardown()

	_, err := r.ResolveInstance("ghost")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestResolveInstance_ReturnsInstance(t *testing.T) {
	r := newTestRegistry()
	defer r.Teardown()

	r.Register(serviceConfig("orders", "http://orders:8080"))

	instance, err := r.ResolveInstance("orders")
	require.NoError(t, err)
	assert.Equal(t, "http://orders:8080", instance)
}

func TestResolveInstance_OpenBreaker(t *testing.T) {
	r := newTestRegistry()
	defer r.Teardown()

	svc := r.Register(serviceConfig("orders", "http://orders:8080"))
	require.NoError(t, svc.Breaker().ForceState(circuitbreaker.StateOpen))

	_, err := r.ResolveInstance("orders")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	var openErr *circuitbreaker.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "orders", openErr.Name)
}

func TestResolveInstance_FallsBackToConfiguredURL(t *testing.T) {
	r := newTestRegistry()
	defer r.Teardown()

	// The balancer rejects non-absolute URLs, so the configured URL is
	// returned as-is for a last-ditch attempt.
	svc := r.Register(serviceConfig("orders", "http://orders:8080"))
	svc.Instances = []string{"not-a-url"}

	instance, err := r.ResolveInstance("orders")
	require.NoError(t, err)
	assert.Equal(t, "not-a-url", instance)
}

func TestReportOutcome_UnknownServiceIsNoOp(t *testing.T) {
	r := newTestRegistry()
	defer r.Teardown()

	assert.NotPanics(t, func() {
		r.ReportOutcome("ghost", false, errors.New("boom"))
	})
}

func TestReportOutcome_UpdatesStatusAndBreaker(t *testing.T) {
	r := newTestRegistry()
	defer r.Teardown()

	svc := r.Register(serviceConfig("orders", "http://orders:8080"))

	r.ReportOutcome("orders", false, errors.New("connection refused"))
	assert.Equal(t, StatusUnhealthy, svc.Status())
	assert.Equal(t, 1, svc.Breaker().Stats().FailureCount)

	r.ReportOutcome("orders", true, nil)
	assert.Equal(t, StatusHealthy, svc.Status())
	assert.Equal(t, 0, svc.Breaker().Stats().FailureCount)
}

func TestReportOutcome_FilteredErrorsDoNotTripBreaker(t *testing.T) {
	r := newTestRegistry()
	defer r.Teardown()

	svc := r.Register(serviceConfig("orders", "http://orders:8080"))

	for i := 0; i < 10; i++ {
		r.ReportOutcome("orders", false, circuitbreaker.NewHTTPError(http.StatusNotFound))
	}

	assert.Equal(t, circuitbreaker.StateClosed, svc.Breaker().State())
	assert.Equal(t, StatusUnhealthy, svc.Status())
}

func TestProbeHealth_HealthyBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/health", req.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	r := newTestRegistry()
	defer r.Teardown()

	svc := r.Register(serviceConfig("orders", backend.URL))

	result, err := r.ProbeHealth(context.Background(), "orders")
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, StatusHealthy, svc.Status())
}

func TestProbeHealth_UnhealthyBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	r := newTestRegistry()
	defer r.Teardown()

	svc := r.Register(serviceConfig("orders", backend.URL))

	result, err := r.ProbeHealth(context.Background(), "orders")
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	assert.Equal(t, StatusUnhealthy, svc.Status())
	assert.Equal(t, 1, svc.Breaker().Stats().FailureCount)
}

func TestProbeHealth_UnreachableBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	backend.Close()

	r := newTestRegistry()
	defer r.Teardown()

	svc := r.Register(serviceConfig("orders", backend.URL))

	result, err := r.ProbeHealth(context.Background(), "orders")
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, StatusUnhealthy, svc.Status())
}

func TestProbeHealth_UnknownService(t *testing.T) {
	r := newTestRegistry()
	defer r.Teardown()

	_, err := r.ProbeHealth(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestProbeAllHealth_MixedResults(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer unhealthy.Close()

	r := newTestRegistry()
	defer r.Teardown()

	r.Register(serviceConfig("orders", healthy.URL))
	r.Register(serviceConfig("payments", unhealthy.URL))

	results := r.ProbeAllHealth(context.Background())
	require.Len(t, results, 2)

	byName := make(map[string]ProbeResult, len(results))
	for _, res := range results {
		byName[res.Service] = res
	}
	assert.True(t, byName["orders"].Healthy)
	assert.False(t, byName["payments"].Healthy)

	stats := r.Statistics()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Healthy)
	assert.Equal(t, 1, stats.Unhealthy)
}

func TestListAll_Snapshots(t *testing.T) {
	r := newTestRegistry()
	defer r.Teardown()

	r.Register(serviceConfig("orders", "http://orders:8080"))
	r.ReportOutcome("orders", false, errors.New("timeout"))

	snapshots := r.ListAll()
	require.Len(t, snapshots, 1)

	snap := snapshots[0]
	assert.Equal(t, "orders", snap.Name)
	assert.Equal(t, "unhealthy", snap.Status)
	assert.Equal(t, 1, snap.FailureCount)
	assert.Equal(t, "timeout", snap.LastError)
	assert.Equal(t, "closed", snap.CircuitBreakerState)
}

func TestTeardown_Idempotent(t *testing.T) {
	r := newTestRegistry()

	r.Register(serviceConfig("orders", "http://orders:8080"))
	r.Teardown()

	assert.Empty(t, r.ListAll())
	assert.NotPanics(t, r.Teardown)
}
