// Package proxy forwards gateway requests to backend service instances and
// reports every outcome back to the registry's circuit breakers.
package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/svcgate/svcgate/internal/balancer"
	"github.com/svcgate/svcgate/internal/circuitbreaker"
	"github.com/svcgate/svcgate/internal/observability"
	"github.com/svcgate/svcgate/internal/registry"
)

// hopHeaders are headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy dispatches requests to backend instances selected by the registry.
type Proxy struct {
	registry      *registry.Registry
	lb            *balancer.LoadBalancer
	logger        observability.Logger
	transport     http.RoundTripper
	flushInterval time.Duration
}

// Option is a functional option for configuring the proxy.
type Option func(*Proxy)

// WithLogger sets the logger for the proxy.
func WithLogger(logger observability.Logger) Option {
	return func(p *Proxy) {
		p.logger = logger
	}
}

// WithTransport sets the transport used for upstream requests.
func WithTransport(transport http.RoundTripper) Option {
	return func(p *Proxy) {
		p.transport = transport
	}
}

// WithFlushInterval sets the flush interval for streaming responses.
func WithFlushInterval(interval time.Duration) Option {
	return func(p *Proxy) {
		p.flushInterval = interval
	}
}

// New creates a new proxy backed by the given registry and load balancer.
func New(reg *registry.Registry, lb *balancer.LoadBalancer, opts ...Option) *Proxy {
	p := &Proxy{
		registry:      reg,
		lb:            lb,
		logger:        observability.NopLogger(),
		flushInterval: -1, // Immediate flush
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Forward proxies the request to an instance of the named service. rest is
// the request path with the gateway routing prefix already stripped.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, service, rest string) {
	instance, err := p.registry.ResolveInstance(service)
	if err != nil {
		p.writeResolveError(w, service, err)
		return
	}

	target, err := url.Parse(instance)
	if err != nil {
		p.logger.Error("invalid instance URL",
			observability.String("service", service),
			observability.String("instance", instance),
			observability.Error(err),
		)
		writeError(w, http.StatusBadGateway, "bad gateway", "invalid upstream address")
		recordProxyError(service, "invalid_target")
		return
	}

	svc, ok := p.registry.Get(service)
	if !ok {
		writeError(w, http.StatusBadGateway, "bad gateway", "unknown service")
		return
	}

	p.lb.IncrementConnections(service, instance)
	defer p.lb.DecrementConnections(service, instance)

	ctx, cancel := context.WithTimeout(r.Context(), svc.Timeout)
	defer cancel()
	r = r.WithContext(ctx)

	start := time.Now()
	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			p.director(req, target, r, rest)
		},
		Transport:     p.transport,
		FlushInterval: p.flushInterval,
		ModifyResponse: func(resp *http.Response) error {
			p.reportResponse(service, resp.StatusCode)
			recordProxyRequest(service, resp.StatusCode, time.Since(start))
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			p.handleUpstreamError(w, req, service, instance, err)
		},
	}

	rp.ServeHTTP(w, r)
}

// director rewrites the outbound request for the selected instance.
func (p *Proxy) director(req *http.Request, target *url.URL, originalReq *http.Request, rest string) {
	req.URL.Scheme = target.Scheme
	req.URL.Host = target.Host
	req.URL.Path = joinPath(target.Path, rest)
	req.URL.RawQuery = originalReq.URL.RawQuery

	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	if clientIP, _, err := net.SplitHostPort(originalReq.RemoteAddr); err == nil {
		if prior := originalReq.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		req.Header.Set("X-Forwarded-For", clientIP)
	}

	if originalReq.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}
	req.Header.Set("X-Forwarded-Host", originalReq.Host)

	req.Host = target.Host
}

// reportResponse feeds the upstream status code back into the registry. Only
// 5xx responses count against the service; client errors are the caller's
// problem.
func (p *Proxy) reportResponse(service string, statusCode int) {
	if statusCode >= http.StatusInternalServerError {
		p.registry.ReportOutcome(service, false, newUpstreamStatusError(statusCode))
		return
	}
	p.registry.ReportOutcome(service, true, nil)
}

// handleUpstreamError classifies transport-level failures and reports them.
func (p *Proxy) handleUpstreamError(w http.ResponseWriter, req *http.Request, service, instance string, err error) {
	p.registry.ReportOutcome(service, false, err)

	status := http.StatusBadGateway
	errorType := "upstream_error"
	message := "failed to reach upstream service"

	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		status = http.StatusGatewayTimeout
		errorType = "timeout"
		message = "upstream request timed out"
	} else if errors.Is(err, context.Canceled) {
		// Client went away; 499 in nginx terms, but nothing standard fits.
		status = http.StatusBadGateway
		errorType = "client_canceled"
		message = "request canceled"
	}

	p.logger.Warn("upstream request failed",
		observability.String("service", service),
		observability.String("instance", instance),
		observability.String("path", req.URL.Path),
		observability.String("errorType", errorType),
		observability.Error(err),
	)
	recordProxyError(service, errorType)

	writeError(w, status, http.StatusText(status), message)
}

// writeResolveError maps registry resolution failures onto HTTP status codes.
func (p *Proxy) writeResolveError(w http.ResponseWriter, service string, err error) {
	switch {
	case errors.Is(err, registry.ErrServiceNotFound):
		p.logger.Debug("service not found",
			observability.String("service", service),
		)
		recordProxyError(service, "service_not_found")
		writeError(w, http.StatusBadGateway, "bad gateway", "unknown service: "+service)

	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		if secs := retryAfterSeconds(err); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		p.logger.Warn("circuit open, rejecting request",
			observability.String("service", service),
		)
		recordProxyError(service, "circuit_open")
		writeError(w, http.StatusServiceUnavailable, "service unavailable",
			"service "+service+" is temporarily unavailable")

	default:
		p.logger.Error("instance resolution failed",
			observability.String("service", service),
			observability.Error(err),
		)
		recordProxyError(service, "resolve_failed")
		writeError(w, http.StatusBadGateway, "bad gateway", "no instance available")
	}
}

// isTimeout reports whether err is a network-level timeout.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// joinPath joins a base path and a request path with exactly one slash.
func joinPath(base, rest string) string {
	base = strings.TrimSuffix(base, "/")
	if rest == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return base + rest
}
