// Package health runs periodic background health probes against every
// registered service.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/svcgate/svcgate/internal/config"
	"github.com/svcgate/svcgate/internal/observability"
	"github.com/svcgate/svcgate/internal/registry"
)

// Checker drives the registry's health probes on a fixed interval.
type Checker struct {
	registry *registry.Registry
	interval time.Duration
	logger   observability.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	stoppedCh chan struct{}
}

// Option is a functional option for configuring the checker.
type Option func(*Checker)

// WithLogger sets the logger for the checker.
func WithLogger(logger observability.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// New creates a health checker probing at the given interval. A non-positive
// interval falls back to the default.
func New(reg *registry.Registry, interval time.Duration, opts ...Option) *Checker {
	if interval <= 0 {
		interval = config.DefaultHealthCheckInterval
	}

	c := &Checker{
		registry: reg,
		interval: interval,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start launches the probe loop. Calling Start on a running checker logs a
// warning and returns without spawning a second loop.
func (c *Checker) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.logger.Warn("health checker already running, ignoring start")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.stoppedCh = make(chan struct{})

	go c.run(ctx)

	c.logger.Info("health checker started",
		observability.Duration("interval", c.interval),
	)
}

// Stop terminates the probe loop and waits for it to exit. Idempotent.
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	stoppedCh := c.stoppedCh
	c.mu.Unlock()

	cancel()
	<-stoppedCh

	c.logger.Info("health checker stopped")
}

// run probes immediately on startup, then on every tick. Waiting a full
// interval before the first probe would leave every service in the unknown
// state during the most failure-prone minutes of a deploy.
func (c *Checker) run(ctx context.Context) {
	defer close(c.stoppedCh)

	c.probeAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeAll(ctx)
		}
	}
}

func (c *Checker) probeAll(ctx context.Context) {
	results := c.registry.ProbeAllHealth(ctx)

	unhealthy := 0
	for _, res := range results {
		if !res.Healthy {
			unhealthy++
			c.logger.Warn("service health probe failed",
				observability.String("service", res.Service),
				observability.Int("statusCode", res.StatusCode),
				observability.String("error", res.Error),
				observability.Duration("responseTime", res.ResponseTime),
			)
		}
	}

	c.logger.Debug("health probe pass completed",
		observability.Int("probed", len(results)),
		observability.Int("unhealthy", unhealthy),
	)
}
