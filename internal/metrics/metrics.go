// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AssignmentsTotal counts assignment requests by method and result
	// (new, existing, error).
	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abstats_assignments_total",
		Help: "Assignment requests by statistical method and result",
	}, []string{"method", "result"})

	// OutcomesTotal counts recorded outcomes; duplicates are counted as "duplicate".
	OutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abstats_outcomes_total",
		Help: "Recorded outcomes by kind",
	}, []string{"outcome"})

	SequentialDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abstats_sequential_decisions_total",
		Help: "Sequential interim checks by decision",
	}, []string{"decision"})

	BanditRewardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abstats_bandit_rewards_total",
		Help: "Bandit rewards applied by algorithm",
	}, []string{"algorithm"})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "abstats_analysis_duration_seconds",
		Help:    "Analyzer run time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"analyzer"})

	// CacheRequestsTotal counts experiment cache lookups by result (hit, miss, error)
	// and fills skipped because a write evicted during the load (stale).
	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abstats_cache_requests_total",
		Help: "Experiment config cache lookups by result",
	}, []string{"result"})
)

// ObserveSince records the elapsed time for analyzer since start
func ObserveSince(analyzer string, start time.Time) {
	AnalysisDuration.WithLabelValues(analyzer).Observe(time.Since(start).Seconds())
}
