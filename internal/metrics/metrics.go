// Package metrics provides Prometheus instrumentation for the portfolio engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts ledger operations by side and outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_trades_total",
		Help: "Total number of virtual trades attempted",
	}, []string{"side", "outcome"})

	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeVolume tracks cumulative traded shares per symbol.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_trade_volume_shares_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"symbol", "side"})

	// BasketExecutions counts basket executions by action.
	BasketExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_basket_executions_total",
		Help: "Basket executions",
	}, []string{"action"})

	// PendingBasketOrders tracks orders waiting in baskets.
	PendingBasketOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_basket_pending_orders",
		Help: "Number of basket orders awaiting execution",
	})

	// PriceLookups counts price resolutions by the source that answered.
	PriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_price_lookups_total",
		Help: "Price lookups by answering source",
	}, []string{"kind", "source"})

	// PriceFailures counts providers that failed inside a fallback chain.
	PriceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_price_provider_failures_total",
		Help: "Price provider failures",
	}, []string{"kind", "source"})

	// AIFallbacks counts optimizations that fell back to traditional weights.
	AIFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_ai_fallbacks_total",
		Help: "Optimizations that used the traditional fallback",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventsPublished counts trade events by sink and outcome.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_events_published_total",
		Help: "Trade events published",
	}, []string{"sink", "outcome"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5},
	}, []string{"method", "path"})
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
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

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
