// Package circuitbreaker provides circuit breaker functionality for the API Gateway.
// It implements the circuit breaker pattern to prevent cascading failures.
package circuitbreaker

import (
	"time"
)

// Default configuration values.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultMonitoringPeriod = 10 * time.Second
	DefaultSuccessThreshold = 2
	DefaultCallTimeout      = 30 * time.Second
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int

	// RecoveryTimeout is the duration the circuit stays open before a trial
	// call is allowed through (transition to half-open).
	RecoveryTimeout time.Duration

	// MonitoringPeriod is the duration of the rolling metrics window. The
	// window counters are reset every period by a background timer. The
	// window is observability-only; state transitions use the consecutive
	// counters.
	MonitoringPeriod time.Duration

	// SuccessThreshold is the number of consecutive successes needed to close
	// the circuit from half-open state.
	SuccessThreshold int

	// CallTimeout is the deadline applied to operations run through Execute.
	CallTimeout time.Duration

	// FailureFilter decides whether an error counts as a failure. If nil,
	// DefaultFailureFilter is used.
	FailureFilter func(err error) bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		MonitoringPeriod: DefaultMonitoringPeriod,
		SuccessThreshold: DefaultSuccessThreshold,
		CallTimeout:      DefaultCallTimeout,
	}
}

// Validate validates the configuration, replacing out-of-range values with
// defaults.
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout < time.Millisecond {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.MonitoringPeriod < time.Millisecond {
		c.MonitoringPeriod = DefaultMonitoringPeriod
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.CallTimeout < time.Millisecond {
		c.CallTimeout = DefaultCallTimeout
	}
	return nil
}

// WithFailureThreshold sets the failure threshold.
func (c *Config) WithFailureThreshold(n int) *Config {
	c.FailureThreshold = n
	return c
}

// WithRecoveryTimeout sets the recovery timeout.
func (c *Config) WithRecoveryTimeout(d time.Duration) *Config {
	c.RecoveryTimeout = d
	return c
}

// WithMonitoringPeriod sets the monitoring period.
func (c *Config) WithMonitoringPeriod(d time.Duration) *Config {
	c.MonitoringPeriod = d
	return c
}

// WithSuccessThreshold sets the success threshold.
func (c *Config) WithSuccessThreshold(n int) *Config {
	c.SuccessThreshold = n
	return c
}

// WithCallTimeout sets the per-call timeout.
func (c *Config) WithCallTimeout(d time.Duration) *Config {
	c.CallTimeout = d
	return c
}

// WithFailureFilter sets the failure classification function.
func (c *Config) WithFailureFilter(fn func(err error) bool) *Config {
	c.FailureFilter = fn
	return c
}
