package registry

import (
	"sync"
	"time"

	"github.com/svcgate/svcgate/internal/balancer"
	"github.com/svcgate/svcgate/internal/circuitbreaker"
)

// Status represents the health status of a service.
type Status int32

const (
	// StatusUnknown indicates the status has not been determined yet.
	StatusUnknown Status = iota
	// StatusHealthy indicates the service is healthy.
	StatusHealthy
	// StatusUnhealthy indicates the service is unhealthy.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Service represents one registered backend dependency. Every service owns
// exactly one circuit breaker for its lifetime.
type Service struct {
	Name       string
	Instances  []string
	HealthPath string
	Timeout    time.Duration
	Retries    int
	Weight     int
	Strategy   balancer.Strategy

	breaker *circuitbreaker.CircuitBreaker

	mu               sync.Mutex
	status           Status
	failureCount     int
	lastHealthCheck  time.Time
	lastResponseTime time.Duration
	lastError        string
}

// Breaker returns the service's circuit breaker.
func (s *Service) Breaker() *circuitbreaker.CircuitBreaker {
	return s.breaker
}

// Status returns the current health status.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// markHealthy records a successful outcome.
func (s *Service) markHealthy(responseTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusHealthy
	s.failureCount = 0
	s.lastHealthCheck = time.Now()
	s.lastError = ""
	if responseTime > 0 {
		s.lastResponseTime = responseTime
	}
}

// markUnhealthy records a failed outcome.
func (s *Service) markUnhealthy(errMsg string, responseTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusUnhealthy
	s.failureCount++
	s.lastHealthCheck = time.Now()
	s.lastError = errMsg
	if responseTime > 0 {
		s.lastResponseTime = responseTime
	}
}

// Snapshot is a read-only view of a service for observability endpoints.
type Snapshot struct {
	Name                string        `json:"name"`
	Instances           []string      `json:"instances"`
	Status              string        `json:"status"`
	FailureCount        int           `json:"failureCount"`
	LastHealthCheck     time.Time     `json:"lastHealthCheck"`
	LastResponseTime    time.Duration `json:"lastResponseTimeMs"`
	LastError           string        `json:"lastError,omitempty"`
	CircuitBreakerState string        `json:"circuitBreakerState"`
	NextAttemptTime     time.Time     `json:"nextAttemptTime,omitzero"`
}

// snapshot captures the current state of the service.
func (s *Service) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	instances := make([]string, len(s.Instances))
	copy(instances, s.Instances)

	return Snapshot{
		Name:                s.Name,
		Instances:           instances,
		Status:              s.status.String(),
		FailureCount:        s.failureCount,
		LastHealthCheck:     s.lastHealthCheck,
		LastResponseTime:    s.lastResponseTime / time.Millisecond,
		LastError:           s.lastError,
		CircuitBreakerState: s.breaker.State().String(),
		NextAttemptTime:     s.breaker.NextAttemptTime(),
	}
}
