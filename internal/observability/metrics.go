package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes recorded by RecordWebhook.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeInvalid   = "invalid"
	OutcomeStatus    = "status"
	OutcomeError     = "error"
)

var (
	// HTTPRequests counts requests by method, route path, and status code.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPLatency records request duration in seconds by method and route.
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPInflight gauges requests currently being served.
	HTTPInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// HTTPResponseSize captures response sizes in bytes by method and route.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10,
				10 << 10, 25 << 10, 50 << 10,
				100 << 10, 250 << 10, 500 << 10,
				1 << 20, 2 << 20, 5 << 20,
			},
		},
		[]string{"method", "path"},
	)

	// APIErrors counts error envelopes by route and stable error code.
	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Error responses by route and error code.",
		},
		[]string{"path", "code"},
	)

	// RateLimited counts requests rejected by the rate limiter, by key kind
	// ("user" or "ip").
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected with 429.",
		},
		[]string{"kind"},
	)

	// MessagesTotal counts ledger writes by channel and direction.
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_messages_total",
			Help: "Messages recorded in the ledger.",
		},
		[]string{"channel", "direction"},
	)

	// DispatchFailures counts outbound sends that did not reach a provider
	// successfully, by channel and reason.
	DispatchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_dispatch_failures_total",
			Help: "Outbound provider dispatch failures.",
		},
		[]string{"channel", "reason"},
	)

	// WebhookEvents counts provider callbacks by provider and outcome.
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_webhook_events_total",
			Help: "Provider webhook callbacks by outcome.",
		},
		[]string{"provider", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequests, HTTPLatency, HTTPInflight, HTTPResponseSize, APIErrors, RateLimited,
		MessagesTotal, DispatchFailures, WebhookEvents,
	)
}

// RecordMessage counts one ledger write.
func RecordMessage(channel, direction string) {
	MessagesTotal.WithLabelValues(channel, direction).Inc()
}

// RecordDispatchFailure counts one failed outbound send.
func RecordDispatchFailure(channel, reason string) {
	DispatchFailures.WithLabelValues(channel, reason).Inc()
}

// RecordWebhook counts one provider callback.
func RecordWebhook(provider, outcome string) {
	WebhookEvents.WithLabelValues(provider, outcome).Inc()
}
