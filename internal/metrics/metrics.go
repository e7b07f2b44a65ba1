package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Bookings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staybook_bookings_total",
			Help: "Reservation create attempts by result",
		},
		[]string{"result"},
	)

	PaymentPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staybook_payment_polls_total",
			Help: "Payment status polls by result",
		},
		[]string{"result"},
	)

	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staybook_settlements_total",
			Help: "Terminal settlement outcomes",
		},
		[]string{"outcome"},
	)

	ActiveSettlements = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "staybook_active_settlements",
			Help: "Settlement attempts currently awaiting payment",
		},
	)

	SettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "staybook_settlement_duration_seconds",
			Help:    "Time from payment intent to terminal outcome",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"outcome"},
	)

	APIRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "staybook_api_request_duration_seconds",
			Help:    "Booking API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)
