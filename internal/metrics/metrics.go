package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Passes               *prometheus.CounterVec
	MessagesFound        prometheus.Counter
	ParseFailures        prometheus.Counter
	TicketsCreated       prometheus.Counter
	TicketFailures       prometheus.Counter
	Duplicates           prometheus.Counter
	NotificationFailures prometheus.Counter
	PassDuration         prometheus.Histogram
	LastPassTimestamp    prometheus.Gauge
}

// NewMetrics registers the relay metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Passes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_ticket_relay_passes_total",
			Help: "Total number of inbox passes by result",
		}, []string{"result"}),
		MessagesFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_ticket_relay_messages_found_total",
			Help: "Total number of unseen messages found",
		}),
		ParseFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_ticket_relay_parse_failures_total",
			Help: "Total number of messages that could not be fetched or parsed",
		}),
		TicketsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_ticket_relay_tickets_created_total",
			Help: "Total number of tickets created",
		}),
		TicketFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_ticket_relay_ticket_failures_total",
			Help: "Total number of ticket creation failures",
		}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_ticket_relay_duplicates_total",
			Help: "Total number of messages skipped because a record already existed",
		}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_ticket_relay_notification_failures_total",
			Help: "Total number of notification emails that could not be delivered",
		}),
		PassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inbox_ticket_relay_pass_duration_seconds",
			Help:    "Time spent on one inbox pass",
			Buckets: prometheus.DefBuckets,
		}),
		LastPassTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "inbox_ticket_relay_last_pass_timestamp_seconds",
			Help: "Unix time of the last completed pass",
		}),
	}
}
