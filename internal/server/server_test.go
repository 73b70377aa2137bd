package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svcgate/svcgate/internal/auth"
	"github.com/svcgate/svcgate/internal/balancer"
	"github.com/svcgate/svcgate/internal/config"
	"github.com/svcgate/svcgate/internal/proxy"
	"github.com/svcgate/svcgate/internal/ratelimit"
	"github.com/svcgate/svcgate/internal/ratelimit/store"
	"github.com/svcgate/svcgate/internal/registry"
)

type serverFixture struct {
	server   *Server
	registry *registry.Registry
}

func newServerFixture(t *testing.T, cfg *config.Config, opts func(*Options)) *serverFixture {
	t.Helper()

	lb := balancer.New()
	reg := registry.New(lb)
	t.Cleanup(reg.Teardown)

	for _, svcCfg := range cfg.Services {
		reg.Register(svcCfg)
	}

	options := Options{
		Config:   cfg,
		Registry: reg,
		Proxy:    proxy.New(reg, lb),
	}
	if opts != nil {
		opts(&options)
	}

	return &serverFixture{
		server:   New(options),
		registry: reg,
	}
}

func baseConfig(serviceURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Services = []config.ServiceConfig{{
		Name:     "orders",
		URL:      serviceURL,
		Timeout:  config.NewDuration(2 * time.Second),
		Weight:   1,
		Strategy: "round-robin",
	}}
	return cfg
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t, baseConfig("http://orders:8080"), nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/gateway/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string              `json:"status"`
		Services registry.Statistics `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Services.Total)
	assert.Equal(t, 1, body.Services.Unknown)
}

func TestServicesEndpoint(t *testing.T) {
	f := newServerFixture(t, baseConfig("http://orders:8080"), nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/gateway/services", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Services []registry.Snapshot `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Services, 1)
	assert.Equal(t, "orders", body.Services[0].Name)
	assert.Equal(t, "unknown", body.Services[0].Status)
	assert.Equal(t, "closed", body.Services[0].CircuitBreakerState)
}

func TestStatsEndpoint(t *testing.T) {
	f := newServerFixture(t, baseConfig("http://orders:8080"), nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/gateway/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "circuitBreaker")
	assert.Contains(t, rec.Body.String(), "orders")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t, baseConfig("http://orders:8080"), nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "circuit_breaker_state")
}

func TestProxyRoute_ForwardsToBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/items", req.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer backend.Close()

	f := newServerFixture(t, baseConfig(backend.URL), nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/orders/v1/items", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestProxyRoute_UnknownService(t *testing.T) {
	f := newServerFixture(t, baseConfig("http://orders:8080"), nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/ghost/x", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	f := newServerFixture(t, baseConfig("http://orders:8080"), nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/gateway/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/gateway/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec = f.do(req)
	assert.Equal(t, "caller-supplied", rec.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	cfg := baseConfig("http://orders:8080")
	cfg.RateLimit.Enabled = true

	limiter := ratelimit.NewFixedWindowLimiter(store.NewMemoryStore(), 2, time.Minute, nil)
	f := newServerFixture(t, cfg, func(o *Options) {
		o.Limiter = limiter
	})

	for i := 0; i < 2; i++ {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/gateway/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/gateway/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	cfg := baseConfig("http://orders:8080")
	cfg.CORS.Enabled = true
	cfg.CORS.AllowOrigins = []string{"https://app.example.com"}

	f := newServerFixture(t, cfg, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/orders/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := f.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	cfg := baseConfig("http://orders:8080")
	cfg.Auth.Enabled = true
	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"

	validator, err := auth.NewValidator(context.Background(), auth.Config{Secret: cfg.Auth.Secret}, nil)
	require.NoError(t, err)

	f := newServerFixture(t, cfg, func(o *Options) {
		o.Validator = validator
	})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/orders/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	// Health stays public.
	rec = f.do(httptest.NewRequest(http.MethodGet, "/gateway/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_AcceptsValidToken(t *testing.T) {
	var gotSubject string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get("X-User-Subject")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	secret := "0123456789abcdef0123456789abcdef"
	cfg := baseConfig(backend.URL)
	cfg.Auth.Enabled = true
	cfg.Auth.Secret = secret

	validator, err := auth.NewValidator(context.Background(), auth.Config{Secret: secret}, nil)
	require.NoError(t, err)

	f := newServerFixture(t, cfg, func(o *Options) {
		o.Validator = validator
	})

	tok, err := jwt.NewBuilder().
		Subject("user-1").
		Expiration(time.Now().Add(time.Hour)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(secret)))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/x", nil)
	req.Header.Set("Authorization", "Bearer "+string(signed))

	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", gotSubject)
}

func TestShutdown_WithoutStart(t *testing.T) {
	f := newServerFixture(t, baseConfig("http://orders:8080"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, f.server.Shutdown(ctx))
}
