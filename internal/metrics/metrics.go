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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wishwell_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wishwell_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	greetingsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wishwell_greetings_dispatched_total",
			Help: "Total greeting dispatch attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	providerSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wishwell_provider_send_duration_seconds",
			Help:    "Provider send call latency by channel",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	schedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wishwell_scheduler_runs_total",
			Help: "Total daily dispatch runs by outcome",
		},
		[]string{"status"},
	)

	schedulerBirthdays = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wishwell_scheduler_birthdays_matched",
			Help:    "Contacts matched per daily dispatch run",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	deliveryCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wishwell_delivery_callbacks_total",
			Help: "Provider delivery-status callbacks by result",
		},
		[]string{"result"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wishwell_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"principal"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wishwell_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wishwell_redis_connections_active",
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

// RecordGreetingDispatched records one dispatch attempt outcome
func RecordGreetingDispatched(channel, status string) {
	greetingsDispatched.WithLabelValues(channel, status).Inc()
}

// RecordProviderSendDuration records a provider send call latency
func RecordProviderSendDuration(channel string, duration time.Duration) {
	providerSendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordSchedulerRun records a daily dispatch run outcome
func RecordSchedulerRun(status string, birthdaysMatched int) {
	schedulerRuns.WithLabelValues(status).Inc()
	schedulerBirthdays.Observe(float64(birthdaysMatched))
}

// RecordDeliveryCallback records a delivery-status callback result
func RecordDeliveryCallback(result string) {
	deliveryCallbacks.WithLabelValues(result).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(principal string) {
	rateLimitRejections.WithLabelValues(principal).Inc()
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

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
