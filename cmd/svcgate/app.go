package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/svcgate/svcgate/internal/auth"
	"github.com/svcgate/svcgate/internal/balancer"
	"github.com/svcgate/svcgate/internal/config"
	"github.com/svcgate/svcgate/internal/health"
	"github.com/svcgate/svcgate/internal/observability"
	"github.com/svcgate/svcgate/internal/proxy"
	"github.com/svcgate/svcgate/internal/ratelimit"
	"github.com/svcgate/svcgate/internal/ratelimit/store"
	"github.com/svcgate/svcgate/internal/registry"
	"github.com/svcgate/svcgate/internal/server"
)

// shutdownTimeout bounds graceful drain on SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

// app wires every gateway component together.
type app struct {
	flags  cliFlags
	cfg    *config.Config
	logger observability.Logger

	registry *registry.Registry
	checker  *health.Checker
	server   *server.Server
	watcher  *config.Watcher
	limStore store.Store

	cancelValidator context.CancelFunc
}

// newApp loads configuration and constructs all components.
func newApp(flags cliFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	logCfg := observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}

	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	observability.SetGlobalLogger(logger)

	a := &app{
		flags:  flags,
		cfg:    cfg,
		logger: logger,
	}

	lb := balancer.New()
	a.registry = registry.New(lb, registry.WithLogger(logger))
	for _, svcCfg := range cfg.Services {
		a.registry.Register(svcCfg)
	}

	a.checker = health.New(a.registry, cfg.HealthCheck.Interval.Duration(),
		health.WithLogger(logger))

	limiter, limStore, err := buildLimiter(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.limStore = limStore

	validator, cancelValidator, err := buildValidator(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.cancelValidator = cancelValidator

	a.server = server.New(server.Options{
		Config:    cfg,
		Registry:  a.registry,
		Proxy:     proxy.New(a.registry, lb, proxy.WithLogger(logger)),
		Limiter:   limiter,
		Validator: validator,
		Logger:    logger,
	})

	watcher, err := config.NewWatcher(flags.configPath, a.applyConfig,
		config.WithWatcherLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	a.watcher = watcher

	return a, nil
}

// buildLimiter selects the rate limit backend from configuration.
func buildLimiter(cfg *config.Config, logger observability.Logger) (ratelimit.Limiter, store.Store, error) {
	if !cfg.RateLimit.Enabled {
		return ratelimit.NewNoopLimiter(), nil, nil
	}

	var s store.Store
	if cfg.RateLimit.Redis.Addr != "" {
		redisCfg := store.DefaultRedisConfig()
		redisCfg.Address = cfg.RateLimit.Redis.Addr
		redisCfg.Password = cfg.RateLimit.Redis.Password
		redisCfg.DB = cfg.RateLimit.Redis.DB
		redisCfg.Logger = logger

		redisStore, err := store.NewRedisStore(redisCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize redis rate limit store: %w", err)
		}
		s = redisStore
		logger.Info("rate limiting with redis counters",
			observability.String("addr", cfg.RateLimit.Redis.Addr),
		)
	} else {
		s = store.NewMemoryStore()
		logger.Info("rate limiting with in-memory counters")
	}

	limiter := ratelimit.NewFixedWindowLimiter(s,
		cfg.RateLimit.Requests, cfg.RateLimit.Window.Duration(), logger)
	return limiter, s, nil
}

// buildValidator constructs the JWT validator when auth is enabled. The
// returned cancel func stops background JWKS refreshing.
func buildValidator(cfg *config.Config, logger observability.Logger) (*auth.Validator, context.CancelFunc, error) {
	if !cfg.Auth.Enabled {
		return nil, nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	validator, err := auth.NewValidator(ctx, auth.Config{
		Secret:   cfg.Auth.Secret,
		JWKSURL:  cfg.Auth.JWKSURL,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	}, logger)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to initialize token validator: %w", err)
	}
	return validator, cancel, nil
}

// applyConfig re-registers services after a config file reload. Listener and
// middleware settings require a restart; service changes apply live.
func (a *app) applyConfig(cfg *config.Config) {
	known := make(map[string]bool)
	for _, snap := range a.registry.ListAll() {
		known[snap.Name] = true
	}

	for _, svcCfg := range cfg.Services {
		a.registry.Register(svcCfg)
		delete(known, svcCfg.Name)
	}
	for name := range known {
		a.registry.Deregister(name)
	}

	a.logger.Info("service registrations reloaded",
		observability.Int("services", len(cfg.Services)),
	)
}

// run starts everything and blocks until a shutdown signal arrives.
func (a *app) run() error {
	defer func() { _ = a.logger.Sync() }()

	a.logger.Info("starting svcgate",
		observability.String("version", version),
		observability.String("config", a.flags.configPath),
		observability.Int("services", len(a.cfg.Services)),
	)

	a.checker.Start()
	if err := a.watcher.Start(); err != nil {
		a.logger.Warn("config watcher failed to start, hot reload disabled",
			observability.Error(err),
		)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		a.shutdown()
		return err
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received",
			observability.String("signal", sig.String()),
		)
		a.shutdown()
		return <-errCh
	}
}

// shutdown stops components in reverse dependency order.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown failed",
			observability.Error(err),
		)
	}

	a.watcher.Stop()
	a.checker.Stop()

	if a.cancelValidator != nil {
		a.cancelValidator()
	}
	if a.limStore != nil {
		if err := a.limStore.Close(); err != nil {
			a.logger.Warn("rate limit store close failed",
				observability.Error(err),
			)
		}
	}

	a.registry.Teardown()
	a.logger.Info("shutdown complete")
}
