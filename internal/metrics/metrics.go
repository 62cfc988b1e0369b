package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SendAttempts counts provider send attempts by channel and outcome.
	SendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_send_attempts_total",
			Help: "Provider send attempts by channel and outcome",
		},
		[]string{"channel", "outcome"}, // outcome: sent, failed
	)

	// QuotaDenials counts consume attempts rejected at the daily limit.
	QuotaDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_quota_denials_total",
			Help: "Quota consume attempts denied at the daily limit",
		},
		[]string{"action"},
	)

	// WebhookEvents counts normalized inbound provider events.
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_webhook_events_total",
			Help: "Inbound provider events by type and result",
		},
		[]string{"type", "result"}, // result: applied, stale, unmatched, error
	)

	// DispatchRunDuration tracks the wall time of a full dispatch run.
	DispatchRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_dispatch_run_duration_seconds",
			Help:    "Duration of a campaign dispatch run in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"status"},
	)

	// TransportRetries counts retried transport attempts by reason.
	TransportRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_transport_retries_total",
			Help: "Transport client retries by reason",
		},
		[]string{"reason"}, // reason: timeout, rate_limited, server_error
	)
)
