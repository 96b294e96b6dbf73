// Package metrics exposes Prometheus collectors for the signup server.
//
// All methods are safe to call on a nil *Metrics, which is how metrics are
// switched off.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the server's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	dbConnects      *prometheus.CounterVec
	authEvents      *prometheus.CounterVec
}

// New creates a Metrics instance on a fresh registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signup_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signup_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		rateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "signup_ratelimit_rejections_total",
				Help: "Total number of requests refused by the rate limiter",
			},
		),

		dbConnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signup_db_connect_total",
				Help: "Database connection attempts by result",
			},
			[]string{"result"},
		),

		authEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signup_auth_events_total",
				Help: "Signup and login attempts by result",
			},
			[]string{"event", "result"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency. Unmatched paths are
// grouped under a single route label to keep cardinality bounded.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// RateLimited counts a refused request.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// DBConnect counts a connection attempt; result is "success" or "failure".
func (m *Metrics) DBConnect(result string) {
	if m == nil {
		return
	}
	m.dbConnects.WithLabelValues(result).Inc()
}

// AuthEvent counts a signup or login outcome.
func (m *Metrics) AuthEvent(event, result string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(event, result).Inc()
}
