package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's collectors. Each process registers its own set
// so tests can use a fresh registry.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	Commands            *prometheus.CounterVec
	RatingsRecorded     *prometheus.CounterVec
	OrdersCreated       prometheus.Counter
	EventsProjected     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_commands_total",
				Help: "Order commands by name and outcome (ok, rejected, error)",
			},
			[]string{"command", "outcome"},
		),
		RatingsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratings_recorded_total",
				Help: "Ratings appended to the ledger",
			},
			[]string{"value", "system"},
		),
		OrdersCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orders_created_total",
				Help: "Orders opened from auction handoffs",
			},
		),
		EventsProjected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "projector_events_total",
				Help: "Events handled by the order projector",
			},
			[]string{"event_type", "outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequests,
			m.HTTPRequestDuration,
			m.Commands,
			m.RatingsRecorded,
			m.OrdersCreated,
			m.EventsProjected,
		)
	}
	return m
}
