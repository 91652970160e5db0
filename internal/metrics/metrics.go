// Package metrics provides Prometheus metrics for matching and the HTTP API
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	matchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cadastre",
			Subsystem: "match",
			Name:      "requests_total",
			Help:      "Match and reconcile requests by outcome",
		},
		[]string{"operation", "outcome"},
	)

	matchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cadastre",
			Subsystem: "match",
			Name:      "duration_seconds",
			Help:      "Duration of match and reconcile requests",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	matchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cadastre",
			Subsystem: "match",
			Name:      "results",
			Help:      "Visible results returned per match request",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		},
	)

	proposalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cadastre",
			Subsystem: "proposal",
			Name:      "transitions_total",
			Help:      "Proposal status transitions",
		},
		[]string{"status"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cadastre",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cadastre",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
		},
		[]string{"method", "route"},
	)
)

// Outcome labels
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeInvalid = "invalid"
)

// ObserveMatch records one match or reconcile call
func ObserveMatch(operation, outcome string, started time.Time, results int) {
	matchRequests.WithLabelValues(operation, outcome).Inc()
	matchDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if outcome == OutcomeOK {
		matchResults.Observe(float64(results))
	}
}

// ObserveTransition counts a proposal reaching a status
func ObserveTransition(status string) {
	proposalTransitions.WithLabelValues(status).Inc()
}

// ObserveHTTP records one HTTP request against its route template
func ObserveHTTP(method, route string, status int, took time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
