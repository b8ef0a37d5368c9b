// Package metrics holds the Prometheus collectors shared by the relay core
// and the WebSocket transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relay"

var (
	// ConnectionsActive counts open WebSocket connections, identified or not.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Open connections, identified or not.",
	})

	// UsersOnline counts registry entries.
	UsersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "users_online",
		Help:      "Users with a registered connection.",
	})

	// MessagesRouted counts routed messages by outcome (delivered, offline, failed).
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_routed_total",
		Help:      "Messages handled by the router, by outcome.",
	}, []string{"outcome"})

	// PresenceEvents counts presence notifications actually handed to a friend's connection.
	PresenceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "presence_events_total",
		Help:      "Presence events delivered to friends, by event.",
	}, []string{"event"})

	// TypingEvents counts typing signals by whether the receiver was online.
	TypingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "typing_events_total",
		Help:      "Typing signals relayed, by delivery result.",
	}, []string{"result"})

	// InboundEvents counts inbound events by name and dispatch result.
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_events_total",
		Help:      "Inbound events by name and result.",
	}, []string{"event", "result"})

	// FramesDropped counts inbound frames discarded before dispatch, by reason.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Inbound frames discarded before dispatch, by reason.",
	}, []string{"reason"})

	// SlowConsumers counts connections closed because their send buffer filled up.
	SlowConsumers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "slow_consumers_total",
		Help:      "Connections closed because their outbound buffer was full.",
	})
)
