// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_scheduler_runs_total",
		Help: "Scheduled task runs by task and outcome",
	}, []string{"task", "outcome"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetauth_scheduler_run_duration_seconds",
		Help:    "Duration of scheduled task runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})
)

// RegisterMetrics registers scheduler metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(runs, runDuration)
}
