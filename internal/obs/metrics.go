package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication flow events by outcome.",
		},
		[]string{"event", "result"},
	)

	testRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edi_test_runs_total",
			Help: "Simulated connectivity test runs by status.",
		},
		[]string{"status"},
	)
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, authEvents, testRuns)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthEvent counts an auth flow step, e.g. AuthEvent("login", "failure").
func AuthEvent(event, result string) {
	authEvents.WithLabelValues(event, result).Inc()
}

// CountTestRun counts a simulated test execution by status.
func CountTestRun(status string) {
	testRuns.WithLabelValues(status).Inc()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// idCollections are the path segments whose next segment is an identifier.
var idCollections = map[string]bool{
	"apps":         true,
	"certificates": true,
	"deployments":  true,
	"docs":         true,
	"testing":      true,
}

// CanonicalPath collapses identifiers so metric label cardinality stays bounded:
// /api/apps/app-01J/certificates -> /api/apps/:id/certificates.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		return raw
	}
	for i := 2; i < len(parts); i++ {
		if idCollections[parts[i-1]] && parts[i] != "" {
			parts[i] = ":id"
			if len(parts) > i+2 {
				// deeper paths are not part of the API surface
				return raw
			}
			break
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
