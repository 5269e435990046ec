// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package profile

import "github.com/prometheus/client_golang/prometheus"

var (
	mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_profile_mutations_total",
		Help: "Profile mutations by operation and outcome (changed, unchanged, error)",
	}, []string{"operation", "outcome"})

	achievementsGranted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_profile_achievements_granted_total",
		Help: "Playtime achievements granted by achievement",
	}, []string{"achievement"})
)

// RegisterMetrics registers profile metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(mutations, achievementsGranted)
}
