// Package metrics exposes the Prometheus instruments for the signaling
// core. Registration happens at import time via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_connections_active",
		Help: "The current number of live WebSocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_connections_total",
		Help: "The total number of WebSocket connections accepted.",
	})
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_users_online",
		Help: "The current number of users with at least one connection.",
	})

	SignalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_signals_relayed_total",
		Help: "Call-setup messages forwarded, by kind.",
	}, []string{"kind"})
	SignalsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_signals_dropped_total",
		Help: "Call-setup messages dropped, by reason.",
	}, []string{"reason"})

	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_calls_active",
		Help: "The current number of live call sessions.",
	})
	CallsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_calls_started_total",
		Help: "Call sessions created.",
	})
	CallsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_calls_ended_total",
		Help: "Call sessions released, by reason.",
	}, []string{"reason"})

	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_chat_messages_delivered_total",
		Help: "Chat messages fanned out to joined connections.",
	})
	UnreadNotices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_chat_unread_notices_total",
		Help: "Unread markers pushed to online, not-joined users.",
	})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_auth_failures_total",
		Help: "Handshake or sender-identity authentication failures.",
	})
	HistoryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_history_dropped_total",
		Help: "Messages dropped because the history write queue was full.",
	})
)
