// Package metrics provides Prometheus instrumentation for the hedging
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EvaluationsTotal counts hedge evaluations, partitioned by outcome
	// status (hedged, hedge_removed, no_action_needed, error).
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedger_evaluations_total",
		Help: "Total number of hedge evaluations",
	}, []string{"status"})

	// EvaluationDuration tracks how long one evaluation takes end to end,
	// including broker calls.
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedger_evaluation_seconds",
		Help:    "Hedge evaluation duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HedgeTradesTotal counts executed hedge trades by direction.
	HedgeTradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedger_trades_total",
		Help: "Total number of hedge trades executed",
	}, []string{"direction"})

	// ActivePositions tracks the number of active positions in the cache.
	ActivePositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedger_active_positions",
		Help: "Number of active positions under management",
	})

	// MarketDataFailures counts failed quote fetches.
	MarketDataFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedger_market_data_failures_total",
		Help: "Failed market data fetches",
	})

	// LimitRejections counts hedges rejected by the exposure limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedger_limit_rejections_total",
		Help: "Hedges rejected by the exposure limiter",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hedger_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
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
