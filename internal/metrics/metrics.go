// Package metrics provides Prometheus instrumentation for the round engine.
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
	// RoundsCreated counts rounds created, partitioned by asset.
	RoundsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakecast_rounds_created_total",
		Help: "Total number of prediction rounds created",
	}, []string{"asset"})

	// RoundsResolved counts rounds resolved, partitioned by asset.
	RoundsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakecast_rounds_resolved_total",
		Help: "Total number of prediction rounds resolved",
	}, []string{"asset"})

	// PredictionsTotal counts accepted predictions by sentiment.
	PredictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakecast_predictions_total",
		Help: "Total number of accepted predictions",
	}, []string{"sentiment"})

	// ClaimsTotal counts successful claims by correctness.
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakecast_claims_total",
		Help: "Total number of successful reward claims",
	}, []string{"correct"})

	// StakedVolume accumulates accepted stake in micro-units.
	StakedVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakecast_staked_volume_microunits_total",
		Help: "Cumulative accepted stake volume in micro-units",
	})

	// RewardsPaid accumulates net rewards paid out in micro-units.
	RewardsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakecast_rewards_paid_microunits_total",
		Help: "Cumulative net rewards paid out in micro-units",
	})

	// FeesCollected accumulates protocol fees in micro-units.
	FeesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakecast_fees_collected_microunits_total",
		Help: "Cumulative protocol fees withheld in micro-units",
	})

	// GuardRejections counts operations rejected by lifecycle guards.
	GuardRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakecast_guard_rejections_total",
		Help: "Operations rejected by lifecycle guards",
	}, []string{"operation", "reason"})

	// ResolvableRounds tracks rounds past their target height that remain
	// unresolved. Set by the monitor sweep.
	ResolvableRounds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stakecast_resolvable_rounds",
		Help: "Rounds past target height awaiting resolution",
	})

	// EventClients tracks connected WebSocket event clients.
	EventClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stakecast_event_clients",
		Help: "Number of connected WebSocket event clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakecast_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stakecast_http_request_duration_seconds",
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
