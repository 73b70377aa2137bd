package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/svcgate/svcgate/internal/circuitbreaker"
)

// registerRoutes wires the management endpoints and the proxy catch-all.
func (s *Server) registerRoutes() {
	gw := s.engine.Group("/gateway")
	{
		gw.GET("/health", s.handleHealth)
		gw.GET("/services", s.handleServices)
		gw.GET("/stats", s.handleStats)
	}

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// RedirectTrailingSlash sends /api/<service> to /api/<service>/, so the
	// catch-all covers the bare form too.
	s.engine.Any("/api/:service/*path", s.handleProxy)
}

// handleHealth reports gateway liveness plus a per-service summary. The
// gateway itself is healthy as long as it can answer; degraded services are
// reported, not fatal.
func (s *Server) handleHealth(c *gin.Context) {
	stats := s.registry.Statistics()

	status := "ok"
	if stats.Total > 0 && stats.Healthy == 0 && stats.Unknown == 0 {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"services": stats,
	})
}

// handleServices lists every registered service with its health and breaker
// state.
func (s *Server) handleServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"services": s.registry.ListAll(),
	})
}

// serviceStats is the per-service entry of the stats endpoint.
type serviceStats struct {
	Service string               `json:"service"`
	Status  string               `json:"status"`
	Breaker circuitbreaker.Stats `json:"circuitBreaker"`
}

// handleStats exposes circuit breaker counters and rolling window metrics.
func (s *Server) handleStats(c *gin.Context) {
	snapshots := s.registry.ListAll()

	entries := make([]serviceStats, 0, len(snapshots))
	for _, snap := range snapshots {
		svc, ok := s.registry.Get(snap.Name)
		if !ok {
			continue
		}
		entries = append(entries, serviceStats{
			Service: snap.Name,
			Status:  snap.Status,
			Breaker: svc.Breaker().Stats(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":  s.registry.Statistics(),
		"services": entries,
	})
}

// handleProxy forwards /api/<service>/<rest> to a backend instance.
func (s *Server) handleProxy(c *gin.Context) {
	service := c.Param("service")
	rest := c.Param("path")
	if rest == "" {
		rest = "/"
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}

	s.proxy.Forward(c.Writer, c.Request, service, rest)
	c.Abort()
}
