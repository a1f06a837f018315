package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_initiated_total",
		Help: "Total number of checkouts that created purchase intents",
	}, []string{"method"})

	CheckoutsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_rejected_total",
		Help: "Total number of rejected checkouts",
	}, []string{"reason"})

	PurchaseIntentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchase_intents_created_total",
		Help: "Total number of purchase intents persisted",
	})

	PaymentCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Total number of gateway completion callbacks by outcome",
	}, []string{"outcome"})

	PaymentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_callback_replays_total",
		Help: "Total number of completion callbacks for payments that were already recorded",
	})

	PaymentsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Total number of payment records written",
	})

	StockDecrementClampedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_decrement_clamped_total",
		Help: "Total number of stock decrements floored at zero",
	})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	GatewayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Total number of failed payment gateway calls",
	}, []string{"operation", "status"})

	OTPRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otp_requests_total",
		Help: "Total number of OTP codes issued",
	})

	OTPVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_verifications_total",
		Help: "Total number of OTP verification attempts by result",
	}, []string{"result"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of emails sent by kind and result",
	}, []string{"kind", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
