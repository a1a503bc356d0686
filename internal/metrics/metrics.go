package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds the Prometheus collectors of the engine on a private registry.
type Metrics struct {
	registry          *prometheus.Registry
	recomputes        *prometheus.CounterVec
	recomputeDuration *prometheus.HistogramVec
	requestDuration   *prometheus.HistogramVec
	requestsInFlight  prometheus.Gauge
}

// New builds and registers every collector.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		recomputes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_recompute_total",
				Help: "Answer quality recomputes, by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		recomputeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quorum_recompute_duration_seconds",
				Help:    "Duration of answer quality recomputes, by trigger.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quorum_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds, by route, method and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		requestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quorum_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served.",
			},
		),
	}
	registry.MustRegister(
		m.recomputes,
		m.recomputeDuration,
		m.requestDuration,
		m.requestsInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRecompute records one recompute attempt.
func (m *Metrics) ObserveRecompute(trigger quality.TriggerKind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.recomputes.WithLabelValues(trigger.String(), outcome).Inc()
	m.recomputeDuration.WithLabelValues(trigger.String()).Observe(elapsed.Seconds())
}

// Middleware records request latency keyed by the matched route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		started := time.Now()
		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(started).Seconds())
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
