// Package metrics provides Prometheus instrumentation for modbot. It exposes
// counters for inbound traffic and dialogue outcomes, gauges for queue and
// session sizes, and a histogram for message handling latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InboundTotal counts inbound messages by source ("gateway", "console")
	// and result ("handled", "ignored", "invalid", "rate_limited", "banned").
	InboundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_inbound_messages_total",
		Help: "Total number of inbound messages",
	}, []string{"source", "result"})

	// HandleLatency records how long the dispatcher takes per message.
	HandleLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "modbot_handle_latency_seconds",
		Help:    "Inbound message handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// ActiveSessions tracks live dialogues by kind ("report", "moderation").
	ActiveSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "modbot_active_sessions",
		Help: "Current number of live dialogues",
	}, []string{"kind"})

	// DialoguesEnded counts finished dialogues by kind and end ("complete",
	// "cancelled").
	DialoguesEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_dialogues_ended_total",
		Help: "Total number of dialogues that reached a terminal state",
	}, []string{"kind", "end"})

	// ReportsQueued counts reports entering the queue by origin ("human",
	// "automatic").
	ReportsQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_reports_queued_total",
		Help: "Total number of reports queued for moderation",
	}, []string{"origin"})

	// QueueSize tracks the number of reports awaiting moderation.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modbot_queue_size",
		Help: "Current number of queued reports",
	})

	// ModerationOutcomes counts finished moderations by outcome.
	ModerationOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_moderation_outcomes_total",
		Help: "Total number of moderation outcomes",
	}, []string{"outcome"})

	// WatchlistSize tracks the number of watched users.
	WatchlistSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modbot_watchlist_size",
		Help: "Current number of watch-listed users",
	})

	// GatewayRequests counts gateway request/reply calls by subject and
	// result ("ok", "error").
	GatewayRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_gateway_requests_total",
		Help: "Total number of gateway requests",
	}, []string{"subject", "result"})

	// ConsoleConnections tracks the current number of console WebSocket
	// connections.
	ConsoleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modbot_console_connections",
		Help: "Current number of console WebSocket connections",
	})
)

func init() {
	prometheus.MustRegister(
		InboundTotal,
		HandleLatency,
		ActiveSessions,
		DialoguesEnded,
		ReportsQueued,
		QueueSize,
		ModerationOutcomes,
		WatchlistSize,
		GatewayRequests,
		ConsoleConnections,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
