// Package config provides configuration management for the API Gateway.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Default configuration values.
const (
	DefaultListenAddr          = ":8080"
	DefaultHealthPath          = "/health"
	DefaultServiceTimeout      = 30 * time.Second
	MaxServiceTimeout          = 60 * time.Second
	DefaultServiceRetries      = 3
	DefaultServiceWeight       = 1
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultRateLimitRequests   = 100
	DefaultRateLimitWindow     = time.Minute
)

// Config is the root gateway configuration.
type Config struct {
	Gateway     GatewayConfig     `yaml:"gateway"`
	Logging     LoggingConfig     `yaml:"logging"`
	Auth        AuthConfig        `yaml:"auth"`
	CORS        CORSConfig        `yaml:"cors"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	HealthCheck HealthCheckConfig `yaml:"healthCheck"`
	Services    []ServiceConfig   `yaml:"services"`
}

// GatewayConfig holds HTTP listener settings.
type GatewayConfig struct {
	Listen       string   `yaml:"listen"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
	IdleTimeout  Duration `yaml:"idleTimeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuthConfig holds JWT authentication settings.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`

	// Secret enables HS256 shared-secret validation.
	Secret string `yaml:"secret"`

	// JWKSURL enables RS256 validation against a remote key set.
	JWKSURL string `yaml:"jwksURL"`

	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	// PublicPaths are request paths served without authentication.
	PublicPaths []string `yaml:"publicPaths"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowMethods     []string `yaml:"allowMethods"`
	AllowHeaders     []string `yaml:"allowHeaders"`
	ExposeHeaders    []string `yaml:"exposeHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// RateLimitConfig holds fixed-window rate limit settings.
type RateLimitConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`

	// Redis enables a distributed counter store for multi-replica
	// deployments. Empty address means in-memory counters.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// HealthCheckConfig holds health checker settings.
type HealthCheckConfig struct {
	Interval Duration `yaml:"interval"`
}

// ServiceConfig describes one backend service.
type ServiceConfig struct {
	Name string `yaml:"name"`

	// URL is the primary instance. URLs lists additional instances; the
	// effective instance list is URL followed by URLs.
	URL  string   `yaml:"url"`
	URLs []string `yaml:"urls"`

	HealthPath string   `yaml:"healthPath"`
	Timeout    Duration `yaml:"timeout"`
	Retries    int      `yaml:"retries"`
	Weight     int      `yaml:"weight"`
	Strategy   string   `yaml:"strategy"`
}

// Instances returns the effective instance list (URL first).
func (s ServiceConfig) Instances() []string {
	instances := make([]string, 0, len(s.URLs)+1)
	if s.URL != "" {
		instances = append(instances, s.URL)
	}
	instances = append(instances, s.URLs...)
	return instances
}

// DefaultConfig returns a Config with default values and no services.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Listen:       DefaultListenAddr,
			ReadTimeout:  NewDuration(30 * time.Second),
			WriteTimeout: NewDuration(30 * time.Second),
			IdleTimeout:  NewDuration(120 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		RateLimit: RateLimitConfig{
			Requests: DefaultRateLimitRequests,
			Window:   NewDuration(DefaultRateLimitWindow),
		},
		HealthCheck: HealthCheckConfig{
			Interval: NewDuration(DefaultHealthCheckInterval),
		},
	}
}

// Validate validates the configuration and applies defaults in place.
func (c *Config) Validate() error {
	if c.Gateway.Listen == "" {
		c.Gateway.Listen = DefaultListenAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.HealthCheck.Interval.IsZero() {
		c.HealthCheck.Interval = NewDuration(DefaultHealthCheckInterval)
	}
	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = DefaultRateLimitRequests
	}
	if c.RateLimit.Window.IsZero() {
		c.RateLimit.Window = NewDuration(DefaultRateLimitWindow)
	}

	if c.Auth.Enabled && c.Auth.Secret == "" && c.Auth.JWKSURL == "" {
		return fmt.Errorf("auth is enabled but neither secret nor jwksURL is set")
	}

	if len(c.Services) == 0 {
		return fmt.Errorf("at least one service is required")
	}

	seen := make(map[string]bool, len(c.Services))
	for i := range c.Services {
		svc := &c.Services[i]
		if err := svc.validate(); err != nil {
			return err
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service name: %s", svc.Name)
		}
		seen[svc.Name] = true
	}

	return nil
}

// validate validates a single service config and applies defaults.
func (s *ServiceConfig) validate() error {
	if s.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if len(s.Instances()) == 0 {
		return fmt.Errorf("service %s: at least one url is required", s.Name)
	}
	for _, instance := range s.Instances() {
		u, err := url.Parse(instance)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("service %s: invalid url %q", s.Name, instance)
		}
	}
	if s.HealthPath == "" {
		s.HealthPath = DefaultHealthPath
	}
	if s.Timeout.IsZero() {
		s.Timeout = NewDuration(DefaultServiceTimeout)
	}
	if s.Timeout.Duration() > MaxServiceTimeout {
		s.Timeout = NewDuration(MaxServiceTimeout)
	}
	if s.Retries < 0 {
		s.Retries = DefaultServiceRetries
	}
	if s.Weight <= 0 {
		s.Weight = DefaultServiceWeight
	}
	if s.Strategy == "" {
		s.Strategy = "round-robin"
	}
	return nil
}
