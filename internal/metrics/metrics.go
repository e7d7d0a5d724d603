// Package metrics provides Prometheus instrumentation for the wager engine.
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
	// WagersOpened counts wagers opened, partitioned by side.
	WagersOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_engine_wagers_opened_total",
		Help: "Total number of wagers opened",
	}, []string{"side"})

	// WagersClosed counts wagers closed by their owner before resolution.
	WagersClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_engine_wagers_closed_total",
		Help: "Total number of wagers closed before resolution",
	}, []string{"side"})

	// WagersSettled counts wagers settled at market resolution, by result.
	WagersSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_engine_wagers_settled_total",
		Help: "Total number of wagers settled at resolution",
	}, []string{"result"})

	// OrdersSubmitted counts limit orders submitted, partitioned by side.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_engine_orders_submitted_total",
		Help: "Total number of limit orders submitted",
	}, []string{"side"})

	// OrderFills counts matched order pairs.
	OrderFills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_engine_order_fills_total",
		Help: "Total number of order fills",
	})

	// MilestoneClaims counts successful milestone claims.
	MilestoneClaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_engine_milestone_claims_total",
		Help: "Total number of milestone rewards claimed",
	})

	// ContentionErrors counts operations that failed to acquire an entity
	// lock within the bounded wait.
	ContentionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_engine_lock_contention_total",
		Help: "Operations rejected due to entity lock contention",
	})

	// LimitRejections counts wagers rejected by the exposure limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_engine_limit_rejections_total",
		Help: "Wagers rejected by the exposure limiter",
	})

	// OpenMarkets tracks the number of markets open for wagering.
	OpenMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_engine_open_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_engine_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
