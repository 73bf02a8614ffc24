// ABOUTME: Prometheus collectors for the chat core
// ABOUTME: Store transaction latency, message volume, real-time fan-out and presence gauges

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store metrics
	StoreTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "huddle_store_tx_duration_seconds",
			Help:    "Duration of store units of work",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"outcome"}, // "commit" or "rollback"
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"conversation_type"},
	)

	ConversationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_conversations_created_total",
			Help: "Total conversations created",
		},
		[]string{"conversation_type"},
	)

	Reactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_reactions_total",
			Help: "Reaction changes by action",
		},
		[]string{"action"},
	)

	ServiceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_service_errors_total",
			Help: "Caller errors returned by the conversation service",
		},
		[]string{"kind"},
	)

	// Real-time metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_events_published_total",
			Help: "Real-time events handed to the presence registry",
		},
		[]string{"type"},
	)

	EventDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_event_deliveries_total",
			Help: "Per-connection delivery attempts",
		},
		[]string{"result"}, // "ok" or "failed"
	)

	TypingSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_typing_suppressed_total",
			Help: "Typing indicators dropped as repeats",
		},
	)

	// Presence metrics
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_live_connections",
			Help: "Currently registered real-time connections",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_online_users",
			Help: "Users with at least one live connection",
		},
	)
)
