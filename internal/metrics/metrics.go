// Package metrics exposes Prometheus collectors for the Session Manager:
// admission-rejection and persistence-retry counters, live-session gauges,
// event-log size and turn duration histograms, and the HTTP request
// instrumentation middleware, grounded on the promauto + promhttp idiom
// from HyphaGroup-oubliette's internal/metrics/metrics.go (adapted from
// container/MCP-session labels to this domain's session lifecycle).
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
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessiond_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessiond_active_sessions",
			Help: "Number of sessions currently in the Active registry.",
		},
	)

	RecentSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessiond_recent_sessions",
			Help: "Number of sessions currently in the Recent registry.",
		},
	)

	EventLogSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessiond_event_log_size",
			Help:    "Event log length at session finalization.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"status"},
	)

	AdmissionRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessiond_admission_rejections_total",
			Help: "Total number of create requests rejected by admission control.",
		},
	)

	PersistenceRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_persistence_retries_total",
			Help: "Total number of persistence attempts beyond the first.",
		},
		[]string{"outcome"},
	)

	SubscriberDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_subscriber_drops_total",
			Help: "Total number of subscriber channels closed for being too slow to drain.",
		},
		[]string{"session_id"},
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessiond_session_duration_seconds",
			Help:    "Wall-clock duration of a session's most recent turn.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush makes responseWriter an http.Flusher so it doesn't break SSE
// streaming when Middleware wraps the stream endpoint.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request count and latency. Wrap the gin engine's
// http.Handler with this before handing it to the net/http server.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath collapses path parameters to avoid unbounded label
// cardinality from session ids appearing in the URL.
func normalizePath(path string) string {
	switch {
	case path == "/sessions":
		return "/sessions"
	case path == "/healthz" || path == "/metrics":
		return path
	case len(path) > len("/sessions/"):
		return "/sessions/:id"
	default:
		return "other"
	}
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPersistAttempt records a retried persistence attempt's outcome
// ("success" or "failure").
func RecordPersistAttempt(outcome string) {
	PersistenceRetries.WithLabelValues(outcome).Inc()
}

// RecordSubscriberDrop records a slow-subscriber disconnection.
func RecordSubscriberDrop(sessionID string) {
	SubscriberDrops.WithLabelValues(sessionID).Inc()
}

// RecordAdmissionRejection records a TooMany rejection.
func RecordAdmissionRejection() {
	AdmissionRejections.Inc()
}

// RecordFinalization records a session reaching a terminal status.
func RecordFinalization(status string, eventLogSize int, durationSeconds float64) {
	EventLogSize.WithLabelValues(status).Observe(float64(eventLogSize))
	SessionDuration.WithLabelValues(status).Observe(durationSeconds)
}

// SetRegistrySizes updates the Active/Recent gauges. Called by the Session
// Manager after admitting a session and after moving one to Recent.
func SetRegistrySizes(active, recent int) {
	ActiveSessions.Set(float64(active))
	RecentSessions.Set(float64(recent))
}
