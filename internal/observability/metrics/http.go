package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
}

// NewRegistry returns a registry with the process and Go runtime
// collectors that every binary exports.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func NewHTTPServerMetrics(service string, registry *prometheus.Registry) *HTTPServerMetrics {
	serviceLabel := prometheus.Labels{"service": service}
	m := &HTTPServerMetrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "rag",
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total HTTP requests processed.",
			ConstLabels: serviceLabel,
		}, []string{"code", "method", "path"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "rag",
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: serviceLabel,
		}, []string{"method", "path"}),
		requestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "rag",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: serviceLabel,
		}),
	}
	registry.MustRegister(m.requestTotal, m.requestDuration, m.requestInFlight)
	return m
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return Handler(m.registry)
}

// Handler serves a registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

type routeContextKey struct{}

func routeFromContext(ctx context.Context) string {
	route, _ := ctx.Value(routeContextKey{}).(string)
	return route
}

// Middleware instruments next with the promhttp helpers. The path label is
// the route template so episode ids do not explode cardinality.
func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	pathLabel := promhttp.WithLabelFromCtx("path", routeFromContext)
	instrumented := promhttp.InstrumentHandlerInFlight(m.requestInFlight,
		promhttp.InstrumentHandlerDuration(m.requestDuration,
			promhttp.InstrumentHandlerCounter(m.requestTotal, next, pathLabel),
			pathLabel,
		),
	)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), routeContextKey{}, normalizePath(r.URL.Path))
		instrumented.ServeHTTP(w, r.WithContext(ctx))
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/episodes/"):
		return "/v1/episodes/{episode_id}"
	case path == "/v1/answer", path == "/v1/retrieve", path == "/healthz", path == "/metrics":
		return path
	default:
		return "other"
	}
}
