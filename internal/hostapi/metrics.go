// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostapi

import "github.com/prometheus/client_golang/prometheus"

var requests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "fleetauth_host_requests_total",
	Help: "Host API calls by method and gRPC status code",
}, []string{"method", "code"})

// RegisterMetrics registers the host API collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(requests)
}
