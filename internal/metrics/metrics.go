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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikgaihub_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ikgaihub_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	schedulesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikgaihub_schedules_generated_total",
			Help: "Schedules written by expansion, by source (create, regenerate, topup)",
		},
		[]string{"source"},
	)

	dispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikgaihub_dispatch_attempts_total",
			Help: "Notification delivery attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	dispatchSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikgaihub_dispatch_suppressed_total",
			Help: "Due schedules not delivered, by reason",
		},
		[]string{"reason"},
	)

	dispatchLateness = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ikgaihub_dispatch_lateness_seconds",
			Help:    "Delay between a schedule's notification window opening and dispatch",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 3600},
		},
	)

	deadlineAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikgaihub_deadline_alerts_total",
			Help: "Goal deadline alerts emitted by kind",
		},
		[]string{"kind"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ikgaihub_active_sessions",
			Help: "Users with a running session task",
		},
	)

	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikgaihub_job_runs_total",
			Help: "Periodic job runs by job and result",
		},
		[]string{"job", "result"},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ikgaihub_sqs_messages_in_flight",
			Help: "Current dispatch jobs being processed from SQS",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ikgaihub_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ikgaihub_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ikgaihub_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ikgaihub_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSchedulesGenerated counts schedules inserted by an expansion.
func RecordSchedulesGenerated(source string, n int) {
	if n <= 0 {
		return
	}
	schedulesGenerated.WithLabelValues(source).Add(float64(n))
}

// RecordDispatch records one channel delivery attempt.
func RecordDispatch(channel, status string) {
	dispatchAttempts.WithLabelValues(channel, status).Inc()
}

// RecordSuppressed records a due schedule the policy declined to deliver.
func RecordSuppressed(reason string) {
	dispatchSuppressed.WithLabelValues(reason).Inc()
}

// RecordDispatchLateness observes how late a dispatch happened.
func RecordDispatchLateness(d time.Duration) {
	if d < 0 {
		d = 0
	}
	dispatchLateness.Observe(d.Seconds())
}

// RecordDeadlineAlert counts an emitted goal deadline alert.
func RecordDeadlineAlert(kind string) {
	deadlineAlerts.WithLabelValues(kind).Inc()
}

// SetActiveSessions sets the number of running session tasks.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// RecordJobRun records the result ("ok" or "error") of a periodic job.
func RecordJobRun(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	jobRuns.WithLabelValues(job, result).Inc()
}

// SetSQSMessagesInFlight sets the current in-flight message count
func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. Paths are
// labelled with the chi route pattern so ids do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
