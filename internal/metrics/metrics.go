// Package metrics provides Prometheus instrumentation for the stranger chat
// server. It exposes gauges for connections, participants, the waiting queue
// and rooms, counters for pairing and message throughput, and a histogram of
// queue wait times.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stranger_connections_total",
		Help: "Current number of open WebSocket connections",
	})

	// OnlineParticipants tracks the number of registered participants.
	OnlineParticipants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stranger_online_participants",
		Help: "Current number of registered participants",
	})

	// MessagesTotal counts chat messages, labeled by outcome:
	// "relayed", "rejected" or "persist_failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stranger_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"type"})

	// PairingsTotal counts rooms created.
	PairingsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stranger_pairings_total",
		Help: "Total number of rooms created",
	})

	// StaleCandidatesTotal counts queue entries discarded because their
	// connection had already closed when they were picked.
	StaleCandidatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stranger_stale_candidates_total",
		Help: "Queue entries discarded because the connection was gone",
	})

	// MatchDuration records how long a participant waited in the queue
	// before being picked by a seeker.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stranger_match_wait_seconds",
		Help:    "Time spent in the waiting queue before being matched",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	// ActiveChats tracks rooms whose two members are both still present.
	ActiveChats = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stranger_active_chats",
		Help: "Current number of rooms with both members present",
	})

	// MatchQueueSize tracks the current number of participants waiting.
	MatchQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stranger_match_queue_size",
		Help: "Current number of participants in the waiting queue",
	})

	// RateLimitedTotal counts requests refused by the rate limiter, labeled
	// by action.
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stranger_rate_limited_total",
		Help: "Requests refused by the rate limiter",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineParticipants,
		MessagesTotal,
		PairingsTotal,
		StaleCandidatesTotal,
		MatchDuration,
		ActiveChats,
		MatchQueueSize,
		RateLimitedTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
