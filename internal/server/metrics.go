package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	fetches         *prometheus.CounterVec
	bytesServed     prometheus.Counter
	activeSessions  prometheus.Gauge
	sessionDuration prometheus.Histogram
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetrics creates all metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assetview_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assetview_remote_fetches_total",
			Help: "Remote asset fetches by result",
		}, []string{"result"}),
		bytesServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetview_bytes_served_total",
			Help: "Total asset bytes written to clients",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assetview_sftp_sessions_active",
			Help: "SFTP sessions currently open",
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "assetview_sftp_session_seconds",
			Help:    "Lifetime of an SFTP session serving one asset",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetview_cache_hits_total",
			Help: "Assets served from the local cache",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetview_cache_misses_total",
			Help: "Cacheable assets that had to be transferred",
		}),
	}
}

// Registry exposes the registry for the metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
