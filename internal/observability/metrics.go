package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// Metrics collects the Prometheus metrics of a station.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	commits         *prometheus.CounterVec
	snapshots       *prometheus.CounterVec
	subscribeErrors *prometheus.CounterVec
}

// NewMetrics initialises the registry and the HTTP and domain collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rxoptima_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rxoptima_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rxoptima_commits_total",
		Help: "Atomic batch commits by engine and outcome.",
	}, []string{"engine", "status"})
	snapshots := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rxoptima_snapshot_pushes_total",
		Help: "Live snapshots delivered per collection.",
	}, []string{"collection"})
	subscribeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rxoptima_subscribe_errors_total",
		Help: "Live subscription errors per collection.",
	}, []string{"collection"})
	registry.MustRegister(requests, duration, commits, snapshots, subscribeErrors)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		commits:         commits,
		snapshots:       snapshots,
		subscribeErrors: subscribeErrors,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveCommit counts one engine commit.
func (m *Metrics) ObserveCommit(engine string, err error) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(engine, commitStatus(err)).Inc()
}

// SnapshotPushed counts one live snapshot delivery.
func (m *Metrics) SnapshotPushed(collection string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(collection).Inc()
}

// SubscribeFailed counts one live subscription error.
func (m *Metrics) SubscribeFailed(collection string) {
	if m == nil {
		return
	}
	m.subscribeErrors.WithLabelValues(collection).Inc()
}

func commitStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, docstore.ErrPrecondition), errors.Is(err, docstore.ErrConflict):
		return "conflict"
	case errors.Is(err, docstore.ErrDocumentNotFound), errors.Is(err, shared.ErrNotFound):
		return "missing"
	default:
		return "error"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming responses working behind the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
