package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_created_total", Help: "Total number of rides created"})
	LocationUpdates = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "driver_location_updates_total", Help: "Total accepted driver location pushes"})

	// ClaimsTotal is labelled by outcome: won, not_available, error.
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "claims_total", Help: "Claim attempts by outcome"},
		[]string{"outcome"},
	)
	// PINVerifications is labelled by outcome: ok, rejected, error.
	PINVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "pin_verifications_total", Help: "PIN verification attempts by outcome"},
		[]string{"outcome"},
	)
	StatusUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "status_updates_total", Help: "Unconditional status updates by target status"},
		[]string{"status"},
	)
	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "event_publish_errors_total", Help: "Failed lifecycle event publishes"},
		[]string{"type"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
