// Package metrics exposes Prometheus instrumentation for the HTTP
// surface, the scheduler and the notification path.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	invitationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invitations_created_total",
			Help: "Total number of invitations created",
		},
		[]string{"scale_id", "delivery_method"},
	)

	invitationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invitations_completed_total",
			Help: "Total number of completed assessments",
		},
		[]string{"scale_id", "interpretation"},
	)

	invitationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invitations_expired_total",
			Help: "Total number of invitations expired by the scheduler",
		},
	)

	remindersSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_sent_total",
			Help: "Total number of deadline reminders sent",
		},
		[]string{"stage"},
	)

	cascadeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_cascades_total",
			Help: "Total number of freed-slot cascades by outcome",
		},
		[]string{"outcome"},
	)

	notificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Total number of failed notification deliveries",
		},
		[]string{"channel"},
	)

	schedulerTicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_skipped_total",
			Help: "Total number of scheduler ticks skipped because the previous tick was still running",
		},
	)

	schedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Scheduler tick duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per route. The echo route
// template keeps the path label's cardinality bounded.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			httpRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// --- Business metric helpers ---

// RecordInvitationCreated records an invitation creation.
func RecordInvitationCreated(scaleID, deliveryMethod string) {
	invitationsCreated.WithLabelValues(scaleID, deliveryMethod).Inc()
}

// RecordInvitationCompleted records a completed assessment.
func RecordInvitationCompleted(scaleID, interpretation string) {
	invitationsCompleted.WithLabelValues(scaleID, interpretation).Inc()
}

// RecordInvitationExpired records a scheduler expiration.
func RecordInvitationExpired() {
	invitationsExpired.Inc()
}

// RecordReminderSent records a dispatched deadline reminder.
func RecordReminderSent(stage string) {
	remindersSent.WithLabelValues(stage).Inc()
}

// RecordCascadeOutcome records a freed-slot cascade outcome
// (offered, released, failed).
func RecordCascadeOutcome(outcome string) {
	cascadeOutcomes.WithLabelValues(outcome).Inc()
}

// RecordNotificationFailure records a failed delivery.
func RecordNotificationFailure(channel string) {
	notificationFailures.WithLabelValues(channel).Inc()
}

// RecordTickSkipped records an overlapping tick that was skipped.
func RecordTickSkipped() {
	schedulerTicksSkipped.Inc()
}

// ObserveTickDuration records how long a scheduler tick took.
func ObserveTickDuration(d time.Duration) {
	schedulerTickDuration.Observe(d.Seconds())
}
