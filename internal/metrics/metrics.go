// Package metrics declares the Prometheus collectors for exam generation,
// validation, and grading.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationCalls counts gateway calls made for question generation.
	GenerationCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examgen_generation_calls_total",
		Help: "Question generation calls by provider and result",
	}, []string{"provider", "result"})

	// GenerationFailures counts slots dropped after retries ran out.
	GenerationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examgen_generation_failures_total",
		Help: "Generation slots dropped by question type",
	}, []string{"type"})

	// GenerationDuration tracks per-slot generation latency including retries.
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "examgen_generation_duration_seconds",
		Help:    "Per-slot generation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"provider"})

	// ValidationIssues counts validator findings.
	ValidationIssues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examgen_validation_issues_total",
		Help: "Validation issues by check and severity",
	}, []string{"check", "severity"})

	// RegenerationRounds tracks how many repair rounds each build needed.
	RegenerationRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "examgen_regeneration_rounds",
		Help:    "Repair rounds per exam build",
		Buckets: []float64{0, 1, 2, 3, 5},
	})

	// Builds counts exam builds by outcome.
	Builds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examgen_builds_total",
		Help: "Exam builds by outcome",
	}, []string{"outcome"})

	// GradingCalls counts open-ended grading calls.
	GradingCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examgen_grading_calls_total",
		Help: "Open-ended grading calls by provider and result",
	}, []string{"provider", "result"})

	// ScorePercent tracks overall submission scores.
	ScorePercent = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "examgen_score_percent",
		Help:    "Submission score percent",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})
)
