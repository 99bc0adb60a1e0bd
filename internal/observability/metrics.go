package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "rides_requested_total", Help: "Total number of rides created"})
	TicksTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "ticks_total", Help: "Total tracking ticks evaluated"})
	ActiveTrackers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_tracking", Name: "active_trackers", Help: "Number of rides with a running tracking task"})

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_tracking", Name: "transitions_total", Help: "Ride status transitions"},
		[]string{"from", "to"},
	)
	GeocodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_tracking",
			Name:      "geocode_duration_seconds",
			Help:      "Geocoder latency by outcome",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_tracking", Name: "notifications_total", Help: "Notifications handled by outcome"},
		[]string{"kind", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_tracking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_tracking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RecordTransition counts a status change.
func RecordTransition(from, to string) {
	TransitionsTotal.WithLabelValues(from, to).Inc()
}
