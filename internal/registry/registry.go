// Package registry provides the authoritative map from service name to
// Service and circuit breaker. It is the single point consulted before any
// proxied call.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/svcgate/svcgate/internal/balancer"
	"github.com/svcgate/svcgate/internal/circuitbreaker"
	"github.com/svcgate/svcgate/internal/config"
	"github.com/svcgate/svcgate/internal/observability"
)

// ErrServiceNotFound is returned when an unknown service name is requested.
var ErrServiceNotFound = errors.New("service not found")

// DefaultProbeTimeout bounds every health probe request.
const DefaultProbeTimeout = 10 * time.Second

// ProbeResult is the transient outcome of a single health probe. It is
// consumed immediately and not retained beyond the latest per-service state.
type ProbeResult struct {
	Service      string        `json:"service"`
	Healthy      bool          `json:"healthy"`
	StatusCode   int           `json:"statusCode,omitempty"`
	Error        string        `json:"error,omitempty"`
	ResponseTime time.Duration `json:"responseTimeMs"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Statistics is an aggregate snapshot for observability endpoints.
type Statistics struct {
	Total        int `json:"total"`
	Healthy      int `json:"healthy"`
	Unhealthy    int `json:"unhealthy"`
	Unknown      int `json:"unknown"`
	CircuitsOpen int `json:"circuitsOpen"`
}

// Registry owns the set of known services, their health status, and their
// circuit breakers.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service

	lb          *balancer.LoadBalancer
	logger      observability.Logger
	probeClient *http.Client
}

// Option is a functional option for configuring the registry.
type Option func(*Registry)

// WithLogger sets the logger for the registry.
func WithLogger(logger observability.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithProbeClient sets the HTTP client used for health probes.
func WithProbeClient(client *http.Client) Option {
	return func(r *Registry) {
		r.probeClient = client
	}
}

// New creates a new service registry.
func New(lb *balancer.LoadBalancer, opts ...Option) *Registry {
	r := &Registry{
		services: make(map[string]*Service),
		lb:       lb,
		logger:   observability.NopLogger(),
		probeClient: &http.Client{
			Timeout: DefaultProbeTimeout,
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register creates a service with status unknown and a fresh circuit breaker.
// Re-registering an existing name replaces it: the previous breaker is closed
// and balancer state for the name is reset.
func (r *Registry) Register(cfg config.ServiceConfig) *Service {
	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = config.DefaultServiceTimeout
	}

	breakerCfg := circuitbreaker.DefaultConfig().WithCallTimeout(timeout)
	breaker := circuitbreaker.New(cfg.Name, breakerCfg, nil)

	svc := &Service{
		Name:       cfg.Name,
		Instances:  cfg.Instances(),
		HealthPath: cfg.HealthPath,
		Timeout:    timeout,
		Retries:    cfg.Retries,
		Weight:     cfg.Weight,
		Strategy:   balancer.Strategy(cfg.Strategy),
		breaker:    breaker,
		status:     StatusUnknown,
	}
	if svc.HealthPath == "" {
		svc.HealthPath = config.DefaultHealthPath
	}

	r.mu.Lock()
	old := r.services[cfg.Name]
	r.services[cfg.Name] = svc
	r.mu.Unlock()

	if old != nil {
		old.breaker.Close()
		r.lb.Reset(cfg.Name)
	}

	r.logger.Info("registered service",
		observability.String("service", cfg.Name),
		observability.Int("instances", len(svc.Instances)),
		observability.Duration("timeout", timeout),
	)

	return svc
}

// Deregister removes a service, closing its breaker and clearing balancer
// state. Unknown names are a no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	svc, ok := r.services[name]
	if ok {
		delete(r.services, name)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	svc.breaker.Close()
	r.lb.Reset(name)
	r.logger.Info("deregistered service",
		observability.String("service", name),
	)
}

// Get returns a service by name.
func (r *Registry) Get(name string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// ResolveInstance returns a usable endpoint URL for the named service.
// Unknown names fail with ErrServiceNotFound; an open breaker fails with a
// circuitbreaker.OpenError before the load balancer is consulted. When the
// balancer has no valid instance, the first configured URL is returned as a
// courtesy attempt rather than refusing outright.
func (r *Registry) ResolveInstance(name string) (string, error) {
	r.mu.RLock()
	svc, ok := r.services[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	if !svc.breaker.Allow() {
		return "", &circuitbreaker.OpenError{
			Name:        name,
			State:       svc.breaker.State(),
			NextAttempt: svc.breaker.NextAttemptTime(),
		}
	}

	instance, err := r.lb.SelectInstance(name, svc.Instances, svc.Weight, svc.Strategy)
	if err != nil {
		// A courtesy attempt against the configured URL can reveal the
		// service is actually back; the proxied call fails normally if not.
		fallback := svc.Instances[0]
		r.logger.Warn("load balancer found no valid instance, falling back to configured URL",
			observability.String("service", name),
			observability.String("fallback", fallback),
			observability.Error(err),
		)
		return fallback, nil
	}

	return instance, nil
}

// ReportOutcome records the result of a forwarded call. Unknown service names
// are a no-op: outcome reporting must never crash request handling.
func (r *Registry) ReportOutcome(name string, success bool, err error) {
	r.mu.RLock()
	svc, ok := r.services[name]
	r.mu.RUnlock()

	if !ok {
		return
	}

	if success {
		svc.markHealthy(0)
		svc.breaker.RecordSuccess()
		return
	}

	errMsg := "request failed"
	if err != nil {
		errMsg = err.Error()
	}
	svc.markUnhealthy(errMsg, 0)
	svc.breaker.RecordFailure(err)
	recordServiceStatus(svc)
}

// ProbeHealth issues a bounded GET to the service's health endpoint and
// updates the service and its breaker as a side effect. Any 2xx response is
// healthy; a non-2xx response or transport-level failure is unhealthy.
func (r *Registry) ProbeHealth(ctx context.Context, name string) (ProbeResult, error) {
	r.mu.RLock()
	svc, ok := r.services[name]
	r.mu.RUnlock()

	if !ok {
		return ProbeResult{}, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	result := r.probe(ctx, svc)
	r.applyProbeResult(svc, result)
	return result, nil
}

// ProbeAllHealth probes every registered service concurrently. A single
// service's probe failure never aborts or delays the others.
func (r *Registry) ProbeAllHealth(ctx context.Context) []ProbeResult {
	r.mu.RLock()
	services := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		services = append(services, svc)
	}
	r.mu.RUnlock()

	results := make([]ProbeResult, len(services))
	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			result := r.probe(ctx, svc)
			r.applyProbeResult(svc, result)
			results[i] = result
		}(i, svc)
	}
	wg.Wait()

	return results
}

// probe performs the outbound health check without holding any lock.
func (r *Registry) probe(ctx context.Context, svc *Service) ProbeResult {
	result := ProbeResult{
		Service:   svc.Name,
		Timestamp: time.Now(),
	}

	probeURL := strings.TrimSuffix(svc.Instances[0], "/") + svc.HealthPath

	probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, probeURL, http.NoBody)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	resp, err := r.probeClient.Do(req)
	result.ResponseTime = time.Since(start)

	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		result.Healthy = true
	} else {
		result.Error = fmt.Sprintf("health endpoint returned status %d", resp.StatusCode)
	}

	return result
}

// applyProbeResult feeds a probe outcome into the service record and its
// circuit breaker.
func (r *Registry) applyProbeResult(svc *Service, result ProbeResult) {
	recordProbe(svc.Name, result.Healthy, result.ResponseTime)

	if result.Healthy {
		svc.markHealthy(result.ResponseTime)
		svc.breaker.RecordSuccess()
	} else {
		svc.markUnhealthy(result.Error, result.ResponseTime)
		if result.StatusCode > 0 {
			svc.breaker.RecordFailure(circuitbreaker.NewHTTPError(result.StatusCode))
		} else {
			svc.breaker.RecordFailure(errors.New(result.Error))
		}
	}
	recordServiceStatus(svc)
}

// ListAll returns read-only snapshots of every registered service.
func (r *Registry) ListAll() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(r.services))
	for _, svc := range r.services {
		snapshots = append(snapshots, svc.snapshot())
	}
	return snapshots
}

// Statistics returns aggregate counts for observability endpoints.
func (r *Registry) Statistics() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Statistics{Total: len(r.services)}
	for _, svc := range r.services {
		switch svc.Status() {
		case StatusHealthy:
			stats.Healthy++
		case StatusUnhealthy:
			stats.Unhealthy++
		default:
			stats.Unknown++
		}
		if svc.breaker.State() == circuitbreaker.StateOpen {
			stats.CircuitsOpen++
		}
	}
	return stats
}

// Teardown stops all circuit breaker background timers and clears the
// registry. Idempotent and safe to call during shutdown.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, svc := range r.services {
		svc.breaker.Close()
		delete(r.services, name)
	}

	r.logger.Info("service registry torn down")
}
