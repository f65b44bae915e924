// Package metrics provides Prometheus instrumentation for the pool engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts engine operations by name and outcome (an
	// error kind, or "ok").
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmm_operations_total",
		Help: "Total number of engine operations",
	}, []string{"op", "outcome"})

	// OperationLatency is the time from guard acquisition to commit.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rmm_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// GuardRejections counts calls rejected because an account was locked.
	GuardRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmm_guard_rejections_total",
		Help: "Operations rejected by the reentrancy guard",
	}, []string{"scope"})

	// LimitRejections counts borrows rejected by the debt limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rmm_limit_rejections_total",
		Help: "Borrows rejected by the debt limiter",
	})

	// Pools tracks the number of pools.
	Pools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rmm_pools",
		Help: "Number of pools",
	})

	// PoolInvariant is each pool's invariant in stable tokens after its last
	// committed operation.
	PoolInvariant = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rmm_pool_invariant",
		Help: "Pool invariant in stable tokens",
	}, []string{"pool_id"})

	// PoolReserve tracks reserves in whole tokens, by side.
	PoolReserve = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rmm_pool_reserve",
		Help: "Pool reserve in whole tokens",
	}, []string{"pool_id", "token"})

	// SwapVolume tracks cumulative swap input in whole tokens.
	SwapVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmm_swap_volume_total",
		Help: "Cumulative swap input in whole tokens",
	}, []string{"pool_id", "direction"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rmm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rmm_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label by route pattern; pool ids and owners would explode cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
