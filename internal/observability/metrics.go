package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scrap_pickup"

var (
	AcceptOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_accept_total", Help: "Order accept attempts by outcome"},
		[]string{"outcome"},
	)
	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_transitions_total", Help: "Committed order state transitions"},
		[]string{"event"},
	)
	AssignmentsTimedOut = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "assignments_timed_out_total", Help: "Stale offers flipped to TIMED_OUT by the sweeper"},
	)

	SettlementOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "settlement_total", Help: "Wallet operations by kind and outcome"},
		[]string{"operation", "outcome"},
	)
	SettledAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "settled_amount_minor_total", Help: "Minor units moved by committed wallet operations"},
		[]string{"operation"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Domain events handed to a publisher"},
		[]string{"sink", "outcome"},
	)
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "websocket_clients", Help: "Connected order feed clients"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Outcome labels a business call by its result.
func Outcome(err error, classify func(error) bool) string {
	switch {
	case err == nil:
		return "ok"
	case classify(err):
		return "rejected"
	default:
		return "error"
	}
}
