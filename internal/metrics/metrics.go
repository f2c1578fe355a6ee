// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nesthaus/riskengine/internal/domain"
)

const namespace = "riskengine"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SecurityEventsTotal counts logged security events.
	SecurityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Security events logged by type and severity.",
		},
		[]string{"type", "severity"},
	)

	// SecurityAlertsTotal counts alerts when they are first raised.
	SecurityAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_alerts_total",
			Help:      "Security alerts raised by type.",
		},
		[]string{"type"},
	)

	// CollectorBatchEvents observes how many events a collector batch carried.
	CollectorBatchEvents = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "collector_batch_events",
		Help:      "Tracked events accepted per collector batch.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	// CollectorRejectedTotal counts collector requests refused by the rate limiter.
	CollectorRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collector_rejected_total",
		Help:      "Collector requests rejected by the per-client rate limit.",
	})

	// ClassificationsTotal counts bot classifications by outcome.
	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_classifications_total",
			Help:      "Bot classifications by outcome and risk level.",
		},
		[]string{"outcome", "risk_level"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SecurityEventsTotal,
		SecurityAlertsTotal,
		CollectorBatchEvents,
		CollectorRejectedTotal,
		ClassificationsTotal,
	)
}

// ObserveEvent records a security event. It is meant to be a monitor listener.
func ObserveEvent(ev domain.SecurityEvent) {
	SecurityEventsTotal.WithLabelValues(string(ev.Type), string(ev.Severity)).Inc()
}

// ObserveAlert records an alert the first time the monitor reports it.
func ObserveAlert(a domain.SecurityAlert) {
	if a.Count == 1 && a.Active() {
		SecurityAlertsTotal.WithLabelValues(a.Type).Inc()
	}
}

// ObserveClassification records the outcome of one bot classification.
func ObserveClassification(rec domain.BotDetectionRecord) {
	outcome := "human"
	if rec.IsBot {
		outcome = "bot"
	}
	ClassificationsTotal.WithLabelValues(outcome, string(rec.RiskLevel)).Inc()
}

// Middleware records request metrics under the matched chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(status)).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
