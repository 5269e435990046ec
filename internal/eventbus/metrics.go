// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import "github.com/prometheus/client_golang/prometheus"

// Metrics for event publication and delivery.
var (
	publishedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_events_published_total",
		Help: "Total number of domain events published, by type and scope",
	}, []string{"type", "scope"})

	deliveredEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_events_delivered_total",
		Help: "Total number of domain events handed to local handlers",
	}, []string{"type"})

	handlerPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_event_handler_panics_total",
		Help: "Total number of recovered panics in event handlers",
	}, []string{"type"})

	// remoteEvents counts events received from other processes.
	remoteEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_events_remote_total",
		Help: "Total number of fleet events received from the transport",
	}, []string{"type"})

	decodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetauth_event_decode_errors_total",
		Help: "Total number of fleet messages that could not be decoded",
	})

	resubscribes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetauth_event_resubscribes_total",
		Help: "Total number of times the fleet subscription was re-established",
	})
)

// RegisterMetrics registers event bus metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(publishedEvents, deliveredEvents, handlerPanics, remoteEvents, decodeErrors, resubscribes)
}
