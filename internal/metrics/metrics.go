// Package metrics registers the Prometheus collectors exposed at /metrics
// and the HTTP middleware that feeds the request counters/histogram.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_created_total",
			Help: "Total number of jobs accepted by webhook intake",
		},
		[]string{"command_type"},
	)
	OutboxPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Total number of outbox events marked SENT",
		},
	)
	OutboxStuckSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_stuck_swept_total",
			Help: "Total number of outbox events recovered from a stuck SENT state",
		},
	)
	ExecutionsByStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executions_by_status_total",
			Help: "Total number of execution transitions by resulting status",
		},
		[]string{"status"},
	)
	RunnerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runner_retries_total",
			Help: "Total number of runner-level retries by reason",
		},
		[]string{"reason"},
	)
	HostLockContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "host_lock_contention_total",
			Help: "Total number of times a runner could not acquire the per-host advisory lock",
		},
	)
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		JobsCreatedTotal,
		OutboxPublishedTotal,
		OutboxStuckSweptTotal,
		ExecutionsByStatusTotal,
		RunnerRetriesTotal,
		HostLockContentionTotal,
	)
}

// HTTPMiddleware records request counters/latency per chi route pattern.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
