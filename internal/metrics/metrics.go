// Package metrics provides Prometheus instrumentation for the offramp engine.
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
	// SettlementsTotal counts credited-deposit invocations by outcome status.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offramp_settlements_total",
		Help: "Credited deposit notifications processed, by outcome",
	}, []string{"status", "source"})

	// VerificationsTotal counts chain verification verdicts by reason.
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offramp_verifications_total",
		Help: "Chain verification verdicts",
	}, []string{"asset", "reason"})

	// VerificationLatency covers the whole verify loop including retries.
	VerificationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offramp_verification_latency_seconds",
		Help:    "Deposit verification latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	}, []string{"asset"})

	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offramp_payouts_total",
		Help: "Payout status changes",
	}, []string{"status"})

	// FeesKobo accumulates accrued fees by ledger kind.
	FeesKobo = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offramp_fees_kobo_total",
		Help: "Fees accrued in kobo",
	}, []string{"kind"})

	ExpiredOrders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offramp_expired_orders_total",
		Help: "Orders expired by the sweeper",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offramp_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offramp_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offramp_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5, 30},
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

		// Route pattern keeps path cardinality bounded.
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
