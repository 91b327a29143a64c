package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckoutTotal counts checkout attempts by result (ok, invalid, conflict, error).
	CheckoutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "checkout_total",
			Help:      "The total number of checkout attempts",
		},
		[]string{"result"},
	)

	// FinalizationsTotal counts payment finalizations by outcome.
	FinalizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "finalizations_total",
			Help:      "The total number of processed payment outcomes",
		},
		[]string{"outcome"},
	)

	// SeatConflictsTotal counts seats lost to a concurrent booking, by the
	// phase in which the conflict was detected (checkout, finalize, retry).
	SeatConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "seat_conflicts_total",
			Help:      "The total number of seat conflicts",
		},
		[]string{"phase"},
	)

	// PaymentCallbacksTotal counts gateway callbacks by result.
	PaymentCallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Name:      "callbacks_total",
			Help:      "The total number of payment gateway callbacks",
		},
		[]string{"result"},
	)

	// PointsAwardedTotal counts loyalty points credited to customers.
	PointsAwardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "points_awarded_total",
			Help:      "The total number of loyalty points awarded",
		},
	)
)
