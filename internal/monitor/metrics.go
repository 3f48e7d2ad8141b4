package monitor

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reservation lifecycle
	reservationTransitionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodrescue_reservation_transition_total",
			Help: "Total number of reservation state transitions",
		},
		[]string{"from", "to"},
	)

	// Redemption protocol
	redemptionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodrescue_redemption_total",
			Help: "Total number of redemption attempts by outcome",
		},
		[]string{"outcome"},
	)

	redemptionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foodrescue_redemption_duration_seconds",
			Help:    "Duration of redemption validation",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Notification fan-out
	notificationEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodrescue_notification_emitted_total",
			Help: "Total number of notifications persisted",
		},
		[]string{"kind"},
	)

	pushDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foodrescue_push_delivered_total",
			Help: "Total number of notifications delivered to a live subscription",
		},
	)

	pushMissedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foodrescue_push_missed_total",
			Help: "Total number of push deliveries absorbed because no subscription was reachable",
		},
	)

	// HTTP surface
	httpRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodrescue_http_request_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foodrescue_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// ReservationTransition records a successful state transition.
func ReservationTransition(from, to string) {
	reservationTransitionTotal.WithLabelValues(from, to).Inc()
}

// Redemption outcome labels.
const (
	OutcomeSuccess         = "success"
	OutcomeNotFound        = "not_found"
	OutcomeInvalidState    = "invalid_state"
	OutcomePinMismatch     = "pin_mismatch"
	OutcomeTooManyAttempts = "too_many_attempts"
	OutcomeError           = "error"
)

// RedemptionAttempt records one validation attempt.
func RedemptionAttempt(outcome string, elapsed time.Duration) {
	redemptionTotal.WithLabelValues(outcome).Inc()
	redemptionDuration.Observe(elapsed.Seconds())
}

// NotificationEmitted records a persisted notification.
func NotificationEmitted(kind string) {
	notificationEmittedTotal.WithLabelValues(kind).Inc()
}

// PushDelivered records a successful push delivery.
func PushDelivered() {
	pushDeliveredTotal.Inc()
}

// PushMissed records an absorbed push delivery.
func PushMissed() {
	pushMissedTotal.Inc()
}

// GinMiddleware records request metrics for every route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
