// Package metrics exposes Prometheus collectors for recovery workers.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsTotal                 *prometheus.CounterVec
	itemDurationSeconds        *prometheus.HistogramVec
	rotationsTotal             *prometheus.CounterVec
	reauthTotal                *prometheus.CounterVec
	checkpointFlushesTotal     *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_items_total",
				Help: "Work items classified, labeled by worker and status.",
			},
			[]string{"worker", "status"},
		)

		itemDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recovery_item_duration_seconds",
				Help:    "Time spent on one work item including retries.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"worker"},
		)

		rotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_session_rotations_total",
				Help: "Browser session rotations, labeled by worker and reason.",
			},
			[]string{"worker", "reason"},
		)

		reauthTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_reauthentications_total",
				Help: "In-place re-authentications, labeled by worker and result.",
			},
			[]string{"worker", "result"},
		)

		checkpointFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_checkpoint_flushes_total",
				Help: "Checkpoint saves, labeled by worker and result.",
			},
			[]string{"worker", "result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "recovery_active_workers",
				Help: "Number of workers currently running.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// ObserveItem records the classification and duration of one item.
func ObserveItem(worker int, status string, duration time.Duration) {
	w := strconv.Itoa(worker)
	itemsTotal.WithLabelValues(w, status).Inc()
	itemDurationSeconds.WithLabelValues(w).Observe(duration.Seconds())
}

// ObserveRotation counts a session rotation.
func ObserveRotation(worker int, reason string) {
	rotationsTotal.WithLabelValues(strconv.Itoa(worker), reason).Inc()
}

// ObserveReauth counts an in-place re-authentication attempt.
func ObserveReauth(worker int, ok bool) {
	reauthTotal.WithLabelValues(strconv.Itoa(worker), result(ok)).Inc()
}

// ObserveCheckpointFlush counts a checkpoint save.
func ObserveCheckpointFlush(worker int, ok bool) {
	checkpointFlushesTotal.WithLabelValues(strconv.Itoa(worker), result(ok)).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware records request counts and latencies using the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ObserveHTTPRequest(r.Method, route, status, time.Since(start))
	})
}
