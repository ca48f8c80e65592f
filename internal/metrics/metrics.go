package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposits_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deposits_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RequestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposits_requests_created_total",
			Help: "Total number of pending requests filed",
		},
		[]string{"kind"},
	)

	// outcome is approved, denied, rejected or failed
	RequestsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposits_requests_resolved_total",
			Help: "Total number of requests resolved by an admin",
		},
		[]string{"kind", "outcome"},
	)

	InterestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposits_interest_runs_total",
			Help: "Total number of pay-interest-to-all runs",
		},
		[]string{"status"},
	)

	InterestPaid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deposits_interest_paid_total",
			Help: "Total monthly interest credited to wallets",
		},
	)

	MaturedRequestsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deposits_matured_requests_created_total",
			Help: "Total number of matured FD requests filed by the sweep",
		},
	)

	TxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deposits_tx_retries_total",
			Help: "Total number of store transactions retried after a conflict",
		},
	)

	MirrorReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposits_mirror_reloads_total",
			Help: "Total number of read-model collection reloads",
		},
		[]string{"collection", "status"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposits_notifications_sent_total",
			Help: "Total number of post-approval notifications",
		},
		[]string{"event", "status"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordNotification(event, status string) {
	NotificationsSent.WithLabelValues(event, status).Inc()
}
