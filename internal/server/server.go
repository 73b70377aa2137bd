// Package server assembles the gateway's HTTP surface: the middleware chain,
// the management endpoints, and the proxy routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/svcgate/svcgate/internal/auth"
	"github.com/svcgate/svcgate/internal/config"
	"github.com/svcgate/svcgate/internal/observability"
	"github.com/svcgate/svcgate/internal/proxy"
	"github.com/svcgate/svcgate/internal/ratelimit"
	"github.com/svcgate/svcgate/internal/registry"
	"github.com/svcgate/svcgate/internal/server/middleware"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// Server is the gateway HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     observability.Logger

	registry *registry.Registry
	proxy    *proxy.Proxy

	mu      sync.Mutex
	running bool
}

// Options carries the collaborators wired into the server.
type Options struct {
	Config    *config.Config
	Registry  *registry.Registry
	Proxy     *proxy.Proxy
	Limiter   ratelimit.Limiter
	Validator *auth.Validator
	Logger    observability.Logger
}

// New builds the gin engine with the full middleware chain and all routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logging(logger),
	)

	cfg := opts.Config
	if cfg.CORS.Enabled {
		engine.Use(middleware.CORS(cfg.CORS))
	}
	if cfg.RateLimit.Enabled && opts.Limiter != nil {
		engine.Use(middleware.RateLimit(opts.Limiter, logger))
	}
	if cfg.Auth.Enabled && opts.Validator != nil {
		engine.Use(middleware.Auth(opts.Validator, authPublicPaths(cfg), logger))
	}

	s := &Server{
		engine:   engine,
		logger:   logger,
		registry: opts.Registry,
		proxy:    opts.Proxy,
		httpServer: &http.Server{
			Addr:         cfg.Gateway.Listen,
			Handler:      engine,
			ReadTimeout:  cfg.Gateway.ReadTimeout.Duration(),
			WriteTimeout: cfg.Gateway.WriteTimeout.Duration(),
			IdleTimeout:  cfg.Gateway.IdleTimeout.Duration(),
		},
	}

	s.registerRoutes()
	return s
}

// authPublicPaths returns the configured public paths plus the management
// endpoints, which must stay reachable for probes and scrapers.
func authPublicPaths(cfg *config.Config) []string {
	paths := []string{"/gateway/health", "/metrics"}
	paths = append(paths, cfg.Auth.PublicPaths...)
	return paths
}

// Engine returns the underlying gin engine, used by tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("http server listening",
		observability.String("addr", s.httpServer.Addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
