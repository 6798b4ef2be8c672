package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_webhook_events_total",
			Help: "Verified webhook events received, by event type",
		},
		[]string{"type"},
	)

	WebhookRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_webhook_rejected_total",
			Help: "Webhook deliveries rejected at the boundary",
		},
	)

	WebhookDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_webhook_duplicates_total",
			Help: "Redelivered webhook events short-circuited by the event log",
		},
	)

	WebhookHandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_webhook_handler_failures_total",
			Help: "Handler failures recorded after acknowledgment, by event type",
		},
		[]string{"type"},
	)

	CommissionsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_commissions_recorded_total",
			Help: "Commission records derived at settlement",
		},
	)

	PayoutsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_payouts_created_total",
			Help: "Payout batches created",
		},
	)

	PayoutAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_payout_amount_total",
			Help: "Total amount settled through payouts, in minor units",
		},
	)
)
