package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptomart_http_requests_total",
		Help: "HTTP requests by method, path pattern and status code.",
	}, []string{"method", "path", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cryptomart_http_request_duration_seconds",
		Help:    "HTTP request latency by method and path pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	PaymentsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptomart_payments_initiated_total",
		Help: "Conversions that debited coins and created a pending payment.",
	})

	PaymentsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptomart_payments_confirmed_total",
		Help: "Payments that transitioned to CONFIRMED and credited crypto.",
	})

	PaymentsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptomart_payments_expired_total",
		Help: "Pending payments expired by the sweeper with coins restored.",
	})

	WebhooksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptomart_webhooks_rejected_total",
		Help: "Webhook deliveries dropped by the rate limiter.",
	})
)
