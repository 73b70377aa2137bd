package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
gateway:
  listen: ":9090"
  readTimeout: 15s
logging:
  level: debug
  format: console
auth:
  enabled: true
  secret: topsecret
  publicPaths:
    - /gateway/health
rateLimit:
  enabled: true
  requests: 50
  window: 30s
healthCheck:
  interval: 10s
services:
  - name: orders
    url: http://orders:8080
    healthPath: /healthz
    timeout: 5s
    weight: 3
  - name: payments
    url: http://payments-1:8080
    urls:
      - http://payments-2:8080
    strategy: least-connections
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svcgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Gateway.Listen)
	assert.Equal(t, 15*time.Second, cfg.Gateway.ReadTimeout.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, 50, cfg.RateLimit.Requests)
	assert.Equal(t, 10*time.Second, cfg.HealthCheck.Interval.Duration())

	require.Len(t, cfg.Services, 2)
	orders := cfg.Services[0]
	assert.Equal(t, "orders", orders.Name)
	assert.Equal(t, "/healthz", orders.HealthPath)
	assert.Equal(t, 5*time.Second, orders.Timeout.Duration())
	assert.Equal(t, 3, orders.Weight)

	payments := cfg.Services[1]
	assert.Equal(t, []string{"http://payments-1:8080", "http://payments-2:8080"}, payments.Instances())
	assert.Equal(t, "least-connections", payments.Strategy)
}

func TestLoad_AppliesServiceDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
services:
  - name: orders
    url: http://orders:8080
`))
	require.NoError(t, err)

	svc := cfg.Services[0]
	assert.Equal(t, DefaultHealthPath, svc.HealthPath)
	assert.Equal(t, DefaultServiceTimeout, svc.Timeout.Duration())
	assert.Equal(t, DefaultServiceWeight, svc.Weight)
	assert.Equal(t, "round-robin", svc.Strategy)
}

func TestLoad_CapsServiceTimeout(t *testing.T) {
	cfg, err := Parse([]byte(`
services:
  - name: payments
    url: http://payments:8080
    timeout: 5m
`))
	require.NoError(t, err)
	assert.Equal(t, MaxServiceTimeout, cfg.Services[0].Timeout.Duration())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestLoad_EmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("services: [unbalanced"))
	assert.ErrorContains(t, err, "parse")
}

func TestValidate_NoServices(t *testing.T) {
	_, err := Parse([]byte("gateway:\n  listen: \":8080\"\n"))
	assert.ErrorContains(t, err, "at least one service")
}

func TestValidate_DuplicateServiceName(t *testing.T) {
	_, err := Parse([]byte(`
services:
  - name: orders
    url: http://a:8080
  - name: orders
    url: http://b:8080
`))
	assert.ErrorContains(t, err, "duplicate service name")
}

func TestValidate_InvalidServiceURL(t *testing.T) {
	_, err := Parse([]byte(`
services:
  - name: orders
    url: not-a-url
`))
	assert.ErrorContains(t, err, "invalid url")
}

func TestValidate_AuthWithoutKeyMaterial(t *testing.T) {
	_, err := Parse([]byte(`
auth:
  enabled: true
services:
  - name: orders
    url: http://orders:8080
`))
	assert.ErrorContains(t, err, "neither secret nor jwksURL")
}

func TestDuration_UnmarshalSecondsInteger(t *testing.T) {
	cfg, err := Parse([]byte(`
healthCheck:
  interval: 45
services:
  - name: orders
    url: http://orders:8080
`))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.HealthCheck.Interval.Duration())
}

func TestDuration_UnmarshalInvalid(t *testing.T) {
	_, err := Parse([]byte(`
healthCheck:
  interval: soon
services:
  - name: orders
    url: http://orders:8080
`))
	assert.ErrorContains(t, err, "invalid duration")
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfigFile(t, validYAML)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start())
	defer w.Stop()

	updated := validYAML + `
  - name: inventory
    url: http://inventory:8080
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Len(t, cfg.Services, 3)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload configuration")
	}
}

func TestWatcher_InvalidChangeKeepsPrevious(t *testing.T) {
	path := writeConfigFile(t, validYAML)

	reloadErrs := make(chan error, 1)
	w, err := NewWatcher(path,
		func(cfg *Config) { t.Error("callback invoked for invalid config") },
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(err error) {
			select {
			case reloadErrs <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("services: []"), 0o600))

	select {
	case err := <-reloadErrs:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("error callback was not invoked")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := writeConfigFile(t, validYAML)

	w, err := NewWatcher(path, func(*Config) {})
	require.NoError(t, err)
	require.NoError(t, w.Start())

	w.Stop()
	assert.NotPanics(t, w.Stop)
}
