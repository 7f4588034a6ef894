package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Role is 1 for the role this node currently holds, labeled by role name.
	// Callers reset the vec on every change, so no series exists for the
	// other roles.
	Role = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgcontrold_role",
			Help: "Set to 1 for the role this node currently holds; other roles have no series",
		},
		[]string{"role"},
	)

	CheckPassing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgcontrold_check_passing",
			Help: "Whether the named health check is currently passing (1) or failing (0)",
		},
		[]string{"check"},
	)

	CheckFailureCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgcontrold_check_consecutive_failures",
			Help: "Consecutive failure count for the named health check",
		},
		[]string{"check"},
	)

	CheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgcontrold_check_duration_seconds",
			Help:    "Time taken to run a health check probe",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"check"},
	)

	CoordinationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcontrold_coordination_requests_total",
			Help: "Total number of coordination service HTTP requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	ElectionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcontrold_election_attempts_total",
			Help: "Total number of lock-acquire attempts by outcome (leader, follower, error)",
		},
		[]string{"outcome"},
	)

	PromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcontrold_promotions_total",
			Help: "Total number of pg_promote attempts by outcome (success, failure)",
		},
		[]string{"outcome"},
	)

	SessionRecreationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgcontrold_session_recreations_total",
			Help: "Total number of times the election session was recreated after invalidation",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Role,
		CheckPassing,
		CheckFailureCount,
		CheckDuration,
		CoordinationRequestsTotal,
		ElectionAttemptsTotal,
		PromotionsTotal,
		SessionRecreationsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
