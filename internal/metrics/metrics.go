// Package metrics exposes Prometheus counters for the job lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starq_jobs_submitted_total",
		Help: "Jobs accepted into a queue.",
	}, []string{"queue"})

	JobsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starq_jobs_skipped_total",
		Help: "Jobs skipped as dedupe duplicates.",
	}, []string{"queue"})

	JobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starq_jobs_claimed_total",
		Help: "Job deliveries to workers, including reassignments.",
	}, []string{"queue"})

	JobsReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starq_jobs_reclaimed_total",
		Help: "Stale pending entries reassigned by the claim stale leg.",
	}, []string{"queue"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starq_jobs_completed_total",
		Help: "Jobs acknowledged as completed.",
	}, []string{"queue"})

	JobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starq_jobs_retried_total",
		Help: "Failures returned to pending under the retry budget.",
	}, []string{"queue"})

	JobsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starq_jobs_dead_lettered_total",
		Help: "Terminal failures past the retry budget.",
	}, []string{"queue"})

	ReclaimerSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starq_reclaimer_sweeps_total",
		Help: "Completed reclaimer sweep iterations.",
	})
)
