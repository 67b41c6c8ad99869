// Copyright 2025 Albatross Validators
//
// Aggregation Metrics
// Prometheus collectors for the aggregation driver and contribution store.
//
// Package metrics wires the aggregation driver's operational counters into
// Prometheus, giving the corpus's prometheus/client_golang dependency — long
// present in go.mod but never wired to a concrete registry anywhere in the
// tree — an actual home.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds every metric the aggregation driver and verification
// worker pool update. One instance is registered per process; every
// concurrently running aggregation shares it, labeled by aggregation ID.
type Collectors struct {
	ContributionsReceived *prometheus.CounterVec
	ContributionsDropped  *prometheus.CounterVec
	BestContributionSize  *prometheus.GaugeVec
	ScoringLatency        prometheus.Histogram
	VerifyQueueDepth      *prometheus.GaugeVec
	LevelsCompleted       *prometheus.CounterVec
}

// Registry bundles a prometheus.Registry with the Collectors registered to
// it, exposing an http.Handler for a /metrics endpoint.
type Registry struct {
	registry *prometheus.Registry
	Collectors
}

// NewRegistry builds a fresh Prometheus registry and registers the full set
// of Handel aggregation collectors against it.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	c := Collectors{
		ContributionsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handel",
			Name:      "contributions_received_total",
			Help:      "Level updates received, by aggregation id.",
		}, []string{"aggregation_id"}),
		ContributionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handel",
			Name:      "contributions_dropped_total",
			Help:      "Level updates dropped, by aggregation id and reason.",
		}, []string{"aggregation_id", "reason"}),
		BestContributionSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "handel",
			Name:      "best_contribution_size",
			Help:      "Number of contributors in the current best aggregate, by aggregation id and level.",
		}, []string{"aggregation_id", "level"}),
		ScoringLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "handel",
			Name:      "scoring_latency_seconds",
			Help:      "Time spent scoring one incoming level update.",
			Buckets:   prometheus.DefBuckets,
		}),
		VerifyQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "handel",
			Name:      "verify_queue_depth",
			Help:      "Pending crypto-verification queue depth, by aggregation id.",
		}, []string{"aggregation_id"}),
		LevelsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handel",
			Name:      "levels_completed_total",
			Help:      "Levels that reached a full aggregate, by aggregation id.",
		}, []string{"aggregation_id"}),
	}

	reg.MustRegister(
		c.ContributionsReceived,
		c.ContributionsDropped,
		c.BestContributionSize,
		c.ScoringLatency,
		c.VerifyQueueDepth,
		c.LevelsCompleted,
	)

	return &Registry{registry: reg, Collectors: c}
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
