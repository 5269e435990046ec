// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sessioncache

import "github.com/prometheus/client_golang/prometheus"

var (
	entries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetauth_session_cache_entries",
		Help: "Number of connections tracked by the session cache",
	})

	lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_session_cache_lookups_total",
		Help: "Session cache reads by result (hit, anonymous, expired, miss)",
	}, []string{"result"})

	handled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_session_cache_events_total",
		Help: "Bus events handled by the session cache by type and outcome",
	}, []string{"type", "outcome"})

	updates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_session_cache_updates_total",
		Help: "Entry updates by kind (filled, replaced, stale, cleared)",
	}, []string{"kind"})
)

// RegisterMetrics registers session cache metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(entries, lookups, handled, updates)
}
