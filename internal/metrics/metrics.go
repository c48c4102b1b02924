// Package metrics exports authentication and session outcomes to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "secretauth").
	Namespace string

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is where metrics are registered and gathered from.
	// Default: a new registry.
	Registry *prometheus.Registry
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// Collector implements secretauth.Observer on top of Prometheus counters.
type Collector struct {
	registry *prometheus.Registry

	authTotal       *prometheus.CounterVec
	sessionTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates a collector and registers its metrics.
//
// Metrics collected:
//   - secretauth_auth_attempts_total: login attempts by method (local, signup, link, provider name) and outcome
//   - secretauth_session_events_total: sessions issued, revoked and found stale
//   - secretauth_http_request_duration_seconds: request latency by method and status code
func New(opts ...Option) *Collector {
	cfg := Config{Namespace: "secretauth", Buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		registry: cfg.Registry,
		authTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by method and outcome",
		}, []string{"method", "outcome"}),
		sessionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events",
		}, []string{"event"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"method", "code"}),
	}
}

func (c *Collector) ObserveAuth(method, outcome string) {
	c.authTotal.WithLabelValues(method, outcome).Inc()
}

func (c *Collector) ObserveSession(event string) {
	c.sessionTotal.WithLabelValues(event).Inc()
}

// Middleware records the duration of every request
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(c.requestDuration, next)
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the registry the collector writes to
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
