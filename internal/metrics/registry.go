// SPDX-License-Identifier: MIT

// Package metrics declares the Prometheus collectors of the registry and the
// peer node and small helpers to record them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distvote_registry_session_ops_total",
		Help: "Session operations handled by the registry by operation and outcome",
	}, []string{"op", "outcome"}) // outcome=success|not_found|invalid|error

	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distvote_registry_cache_requests_total",
		Help: "Session cache lookups by result",
	}, []string{"result"}) // result=hit|miss

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distvote_registry_sessions",
		Help: "Number of sessions known to the registry at the last listing",
	})
)

// RecordSessionOp counts one registry session operation.
func RecordSessionOp(op, outcome string) {
	sessionOps.WithLabelValues(op, outcome).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheRequests.WithLabelValues("hit").Inc()
		return
	}
	cacheRequests.WithLabelValues("miss").Inc()
}

// SetSessionsActive records the current number of sessions.
func SetSessionsActive(n int) {
	sessionsActive.Set(float64(n))
}
