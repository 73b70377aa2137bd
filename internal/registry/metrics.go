package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	serviceStatusGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_service_status",
			Help: "Service health status (0=unknown, 1=healthy, 2=unhealthy)",
		},
		[]string{"service"},
	)

	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_health_probes_total",
			Help: "Total number of health probes by result",
		},
		[]string{"service", "result"},
	)

	probeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_health_probe_duration_seconds",
			Help:    "Health probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
)

func recordProbe(service string, healthy bool, duration time.Duration) {
	result := "failure"
	if healthy {
		result = "success"
	}
	probesTotal.WithLabelValues(service, result).Inc()
	probeDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func recordServiceStatus(svc *Service) {
	serviceStatusGauge.WithLabelValues(svc.Name).Set(float64(svc.Status()))
}
