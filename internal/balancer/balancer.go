// Package balancer provides instance selection strategies for the API Gateway.
// Selection is purely syntactic: health filtering happens in the caller
// before the balancer is invoked.
package balancer

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net/url"
	"sync"
)

// Strategy identifies a load balancing strategy.
type Strategy string

const (
	// StrategyRoundRobin cycles through instances in stable order.
	StrategyRoundRobin Strategy = "round-robin"

	// StrategyLeastConnections picks the instance with the fewest active
	// connections. Counters are maintained by explicit caller calls.
	StrategyLeastConnections Strategy = "least-connections"

	// StrategyWeighted performs a weighted random draw. Every instance shares
	// the service's single configured weight.
	StrategyWeighted Strategy = "weighted"

	// StrategyRandom picks a uniformly random instance.
	StrategyRandom Strategy = "random"
)

// ErrNoAvailableInstances is returned when filtering leaves no syntactically
// valid instance URL to select from.
var ErrNoAvailableInstances = errors.New("no available instances")

// LoadBalancer selects instance URLs for services. State is process-wide and
// keyed by service name: a round-robin cursor per service and an
// active-connection counter per (service, instance) pair.
type LoadBalancer struct {
	mu          sync.Mutex
	cursors     map[string]int
	connections map[string]map[string]int64
}

// New creates a new load balancer.
func New() *LoadBalancer {
	return &LoadBalancer{
		cursors:     make(map[string]int),
		connections: make(map[string]map[string]int64),
	}
}

// SelectInstance picks one instance URL from the given list under the named
// strategy. Instances that are not syntactically valid absolute URLs are
// filtered out first; if nothing remains, SelectInstance fails with
// ErrNoAvailableInstances. Unrecognized strategies fall back to round-robin.
func (lb *LoadBalancer) SelectInstance(service string, instances []string, weight int, strategy Strategy) (string, error) {
	valid := filterValid(instances)
	if len(valid) == 0 {
		return "", ErrNoAvailableInstances
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	switch strategy {
	case StrategyLeastConnections:
		return lb.leastConnectionsLocked(service, valid), nil
	case StrategyWeighted:
		return lb.weightedLocked(service, valid, weight), nil
	case StrategyRandom:
		return valid[secureRandomInt(len(valid))], nil
	default:
		return lb.roundRobinLocked(service, valid), nil
	}
}

// roundRobinLocked returns instances[cursor] and advances the cursor,
// wrapping modulo the instance count. Caller must hold lb.mu.
func (lb *LoadBalancer) roundRobinLocked(service string, instances []string) string {
	cursor := lb.cursors[service] % len(instances)
	lb.cursors[service] = (cursor + 1) % len(instances)
	return instances[cursor]
}

// leastConnectionsLocked returns the instance with the lowest active
// connection count, ties broken by first-seen order. Caller must hold lb.mu.
func (lb *LoadBalancer) leastConnectionsLocked(service string, instances []string) string {
	conns := lb.connections[service]

	selected := instances[0]
	minConns := int64(-1)
	for _, instance := range instances {
		c := conns[instance]
		if minConns < 0 || c < minConns {
			minConns = c
			selected = instance
		}
	}
	return selected
}

// weightedLocked performs a weighted random draw with every instance sharing
// the service's configured weight, falling back to round-robin when the total
// weight is zero. Caller must hold lb.mu.
func (lb *LoadBalancer) weightedLocked(service string, instances []string, weight int) string {
	totalWeight := weight * len(instances)
	if totalWeight <= 0 {
		return lb.roundRobinLocked(service, instances)
	}

	r := secureRandomInt(totalWeight)
	for _, instance := range instances {
		r -= weight
		if r < 0 {
			return instance
		}
	}
	return instances[len(instances)-1]
}

// IncrementConnections increments the active-connection counter for the
// instance. Callers bracket the proxied call with Increment/Decrement.
func (lb *LoadBalancer) IncrementConnections(service, instance string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	conns, ok := lb.connections[service]
	if !ok {
		conns = make(map[string]int64)
		lb.connections[service] = conns
	}
	conns[instance]++
}

// DecrementConnections decrements the active-connection counter for the
// instance. The counter never goes below zero.
func (lb *LoadBalancer) DecrementConnections(service, instance string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if conns, ok := lb.connections[service]; ok && conns[instance] > 0 {
		conns[instance]--
	}
}

// Connections returns the active-connection counter for the instance.
func (lb *LoadBalancer) Connections(service, instance string) int64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.connections[service][instance]
}

// Reset clears all cursors and counters for a service. Used when a service
// is re-registered with a new instance list.
func (lb *LoadBalancer) Reset(service string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	delete(lb.cursors, service)
	delete(lb.connections, service)
}

// filterValid keeps only syntactically valid absolute http(s) URLs.
func filterValid(instances []string) []string {
	valid := make([]string, 0, len(instances))
	for _, instance := range instances {
		u, err := url.Parse(instance)
		if err != nil {
			continue
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		valid = append(valid, instance)
	}
	return valid
}

// secureRandomInt returns a cryptographically secure random int in [0, n).
func secureRandomInt(n int) int {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	// Safe conversion: result of modulo is always < n, which fits in int
	return int(binary.LittleEndian.Uint64(b[:]) % uint64(n)) //nolint:gosec // bounds checked
}
