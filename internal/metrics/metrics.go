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
			Name: "slotgate_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slotgate_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	bookingsCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotgate_bookings_committed_total",
			Help: "Bookings successfully committed, by tenant",
		},
		[]string{"tenant_id"},
	)

	bookingConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotgate_booking_conflicts_total",
			Help: "Commit attempts rejected by admission control, by reason (slot_held, slot_full)",
		},
		[]string{"reason"},
	)

	locksAcquired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slotgate_locks_acquired_total",
			Help: "Slot locks successfully acquired",
		},
	)

	locksExpiredSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slotgate_locks_swept_total",
			Help: "Expired slot locks removed by the sweeper",
		},
	)

	remindersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotgate_reminders_processed_total",
			Help: "Reminder attempts by kind and outcome (sent, failed, skipped)",
		},
		[]string{"kind", "outcome"},
	)

	reminderScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slotgate_reminder_scan_duration_seconds",
			Help:    "Duration of a full reminder scan pass",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	notificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotgate_notifications_delivered_total",
			Help: "Notification delivery attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotgate_rate_limit_rejections_total",
			Help: "Requests rejected by the per-tenant rate limiter",
		},
		[]string{"tenant_id"},
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

// RecordBookingCommitted records a successful booking commit
func RecordBookingCommitted(tenantID string) {
	bookingsCommitted.WithLabelValues(tenantID).Inc()
}

// RecordBookingConflict records a commit rejected for contention
func RecordBookingConflict(reason string) {
	bookingConflicts.WithLabelValues(reason).Inc()
}

// RecordLockAcquired records a successful lock acquisition
func RecordLockAcquired() {
	locksAcquired.Inc()
}

// RecordLocksSwept records expired locks removed by the sweeper
func RecordLocksSwept(count int64) {
	locksExpiredSwept.Add(float64(count))
}

// RecordReminder records one reminder attempt outcome
func RecordReminder(kind, outcome string) {
	remindersProcessed.WithLabelValues(kind, outcome).Inc()
}

// RecordScanDuration records how long a reminder scan pass took
func RecordScanDuration(kind string, d time.Duration) {
	reminderScanDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordNotification records a delivery attempt result
func RecordNotification(channel, status string) {
	notificationsDelivered.WithLabelValues(channel, status).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(tenantID string) {
	rateLimitRejections.WithLabelValues(tenantID).Inc()
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
