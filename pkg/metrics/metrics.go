package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	ResearchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_runs_total",
			Help: "Total number of research runs by outcome",
		},
		[]string{"status"},
	)

	ResearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_run_duration_seconds",
			Help:    "Wall clock duration of a full research run",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// Branch metrics
	BranchesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_branches_started_total",
			Help: "Total number of branches scheduled",
		},
	)

	BranchesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_branches_finished_total",
			Help: "Total number of branches finished by outcome",
		},
		[]string{"outcome"}, // terminal, recursed, failed
	)

	// Collaborator metrics
	PlanningFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_planning_failures_total",
			Help: "Total number of query planning calls that failed",
		},
	)

	SynthesisDegradations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_synthesis_degradations_total",
			Help: "Total number of synthesis calls that produced no usable output",
		},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_search_duration_seconds",
			Help:    "Search service latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)
