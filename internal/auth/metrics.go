// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/fleetauth/internal/account"
)

// Metrics for authentication operations.
var (
	// outcomes counts operations by their result variant.
	outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_auth_outcomes_total",
		Help: "Total number of authentication operations by operation and result",
	}, []string{"operation", "result"})

	// faults counts operations that failed with an error instead of a result.
	faults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_auth_faults_total",
		Help: "Total number of authentication operations that failed with an error",
	}, []string{"operation"})

	hashDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetauth_password_hash_duration_seconds",
		Help:    "Histogram of password derivation latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"operation"})

	logouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetauth_logouts_total",
		Help: "Total number of logouts that deleted at least one session",
	}, []string{"scope"})
)

// RegisterMetrics registers authentication metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(outcomes, faults, hashDuration, logouts)
}

func recordOutcome(operation string, r account.Result, err error) {
	if err != nil {
		faults.WithLabelValues(operation).Inc()
		return
	}
	outcomes.WithLabelValues(operation, account.Label(r)).Inc()
}

func observeHash(operation string, start time.Time) {
	hashDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
