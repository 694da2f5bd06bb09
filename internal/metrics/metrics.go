// Package metrics provides Prometheus instrumentation for the insurance engine.
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
	// LedgerOperations counts pool ledger operations by operation and outcome.
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liqguard_ledger_operations_total",
		Help: "Pool ledger operations by outcome",
	}, []string{"op", "result"})

	// PoolBalance is the pool's custodied balance in smallest units.
	PoolBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liqguard_pool_balance_units",
		Help: "Pool balance in smallest monetary units",
	})

	// ActivePolicies tracks the number of unclaimed policies.
	ActivePolicies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liqguard_active_policies",
		Help: "Number of active (unclaimed) policies",
	})

	// LPShares tracks total outstanding LP shares.
	LPShares = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liqguard_lp_shares",
		Help: "Total outstanding liquidity provider shares",
	})

	// ClaimPayouts accumulates claim payouts in smallest units.
	ClaimPayouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liqguard_claim_payouts_units_total",
		Help: "Cumulative claim payouts in smallest monetary units",
	})

	// MonitorCycles counts liquidation monitor ticks by result
	// (completed, skipped).
	MonitorCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liqguard_monitor_cycles_total",
		Help: "Liquidation monitor cycles by result",
	}, []string{"result"})

	// MonitorCycleDuration tracks how long a full monitor cycle takes.
	MonitorCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liqguard_monitor_cycle_duration_seconds",
		Help:    "Liquidation monitor cycle duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// OracleErrors counts position checks that failed or timed out.
	OracleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liqguard_oracle_errors_total",
		Help: "Position oracle checks that errored or timed out",
	})

	// LiquidationsDetected counts liquidations seen by the monitor.
	LiquidationsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liqguard_liquidations_detected_total",
		Help: "Liquidations detected by the monitor",
	})

	// ClaimTransitions counts claim record transitions by target status.
	ClaimTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liqguard_claim_transitions_total",
		Help: "Claim record status transitions",
	}, []string{"status"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liqguard_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// NotificationsDropped counts notifications a sink could not deliver.
	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liqguard_notifications_dropped_total",
		Help: "Notifications dropped by a sink",
	}, []string{"sink"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liqguard_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liqguard_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Result labels an outcome for counters keyed by "result".
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps the path label low-cardinality
		// (/policies/{owner} rather than one series per address).
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

// Hijack passes through to the underlying writer so websocket upgrades
// work behind the middleware.
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
