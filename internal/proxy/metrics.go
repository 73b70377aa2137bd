package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_requests_total",
			Help: "Total number of proxied requests by service and status code",
		},
		[]string{"service", "code"},
	)

	proxyErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_errors_total",
			Help: "Total number of proxy errors by service and error type",
		},
		[]string{"service", "error_type"},
	)

	proxyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_proxy_duration_seconds",
			Help:    "Duration of proxied requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service"},
	)
)

func recordProxyRequest(service string, statusCode int, duration time.Duration) {
	proxyRequestsTotal.WithLabelValues(service, strconv.Itoa(statusCode)).Inc()
	proxyDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func recordProxyError(service, errorType string) {
	proxyErrorsTotal.WithLabelValues(service, errorType).Inc()
}
