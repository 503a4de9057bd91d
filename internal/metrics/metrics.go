// Package metrics holds the daemon's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// connectionsAccepted tracks connections accepted by the listener
	connectionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayd_connections_accepted_total",
			Help: "Total connections accepted",
		},
	)

	// registrations tracks clients that completed registration
	registrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayd_registrations_total",
			Help: "Total clients assigned a UID",
		},
	)

	// busPublished tracks events published to the bus
	busPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayd_bus_events_published_total",
			Help: "Total events published by event kind",
		},
		[]string{"kind"},
	)

	// busDropped tracks events a slow subscriber lost
	busDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayd_bus_events_dropped_total",
			Help: "Total events overwritten in a subscriber's buffer by event kind",
		},
		[]string{"kind"},
	)

	// commands tracks commands dispatched by role and command name
	commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayd_commands_total",
			Help: "Total commands dispatched by role and command",
		},
		[]string{"role", "command"},
	)

	// linkHandshakes tracks server link handshake outcomes
	linkHandshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayd_link_handshakes_total",
			Help: "Total server link handshakes by result",
		},
		[]string{"result"},
	)

	// activeSessions tracks open connections
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayd_active_sessions",
			Help: "Number of open connections",
		},
	)

	// activeLinks tracks connections promoted to server links
	activeLinks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayd_active_links",
			Help: "Number of connections acting as server links",
		},
	)
)

// RecordConnection increments the accepted connection counter
func RecordConnection() {
	connectionsAccepted.Inc()
}

// RecordRegistration increments the registration counter
func RecordRegistration() {
	registrations.Inc()
}

// RecordPublished increments the published event counter
func RecordPublished(kind string) {
	busPublished.WithLabelValues(kind).Inc()
}

// RecordDropped increments the dropped event counter
func RecordDropped(kind string) {
	busDropped.WithLabelValues(kind).Inc()
}

// RecordCommand increments the command counter
func RecordCommand(role, command string) {
	commands.WithLabelValues(role, command).Inc()
}

// RecordHandshake increments the link handshake counter. result is "ok" or
// a short failure reason.
func RecordHandshake(result string) {
	linkHandshakes.WithLabelValues(result).Inc()
}

// SessionOpened and SessionClosed track active sessions.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func SessionClosed() { activeSessions.Dec() }

// LinkOpened increments the active link gauge.
func LinkOpened() { activeLinks.Inc() }

// LinkClosed decrements the active link gauge.
func LinkClosed() { activeLinks.Dec() }
