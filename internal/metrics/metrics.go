// Package metrics exposes Prometheus collectors for build and cache
// activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_cache_hits_total",
			Help: "Number of dependency-stage cache hits by scope.",
		},
		[]string{"scope"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_cache_misses_total",
			Help: "Number of dependency-stage cache misses by scope.",
		},
		[]string{"scope"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_stage_duration_seconds",
			Help:    "Wall-clock duration of executed stages by kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	BuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_builds_total",
			Help: "Total number of builds run.",
		},
	)
	BuildFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_build_failures_total",
			Help: "Total number of failed builds by failure kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		CacheHitsTotal,
		CacheMissesTotal,
		StageDuration,
		BuildsTotal,
		BuildFailuresTotal,
	)
}
